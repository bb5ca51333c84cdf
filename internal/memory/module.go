// Package memory implements the three memory backends behind a uniform
// store/query/delete contract: episodic (conversation turns), structured
// (entities and contacts), and semantic (embedded knowledge chunks). Each
// module owns its backend and its own identity and dedup rules; no module
// reaches into another's storage.
package memory

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrValidation indicates a record or filter is missing required fields.
	ErrValidation = errors.New("validation failed")

	// ErrStorageUnavailable indicates the backing store could not serve the
	// operation. Callers must not treat this as an empty result.
	ErrStorageUnavailable = errors.New("storage unavailable")
)

// Kind discriminates record and filter variants across modules.
type Kind string

const (
	KindMessage   Kind = "message"
	KindEntity    Kind = "entity"
	KindContact   Kind = "contact"
	KindKnowledge Kind = "knowledge"
)

// Record is a tagged union over the record kinds the modules handle.
// Exactly one of the pointer fields matching Kind must be set.
type Record struct {
	Kind      Kind
	Message   *Message
	Entity    *Entity
	Contact   *Contact
	Knowledge *Knowledge
}

// Message is one episodic conversation turn.
type Message struct {
	ID             string
	ConversationID string
	Role           string
	Content        string
	CreatedAt      time.Time
}

// Entity is a named, typed fact. Identity is the (name, type) pair.
type Entity struct {
	ID        string
	Name      string
	Type      string
	Details   string
	CreatedAt time.Time
}

// Contact is a person or organization record. Identity is (name, email).
type Contact struct {
	ID        string
	Name      string
	Email     string
	Company   string
	Phone     string
	Notes     string
	Tags      string
	CreatedAt time.Time
}

// Knowledge is a free-text chunk stored in the similarity index.
// Score is populated on query results only.
type Knowledge struct {
	ID         string
	Text       string
	SourceID   string
	SourceType string
	Tags       string
	Score      float32
	CreatedAt  time.Time
}

// Filter selects records in Query and Delete. Kind is always required;
// the remaining fields apply per module:
//
//   - ConversationID: episodic, required.
//   - ID: structured, exact match on primary key.
//   - Name: contacts only, case-insensitive substring match.
//   - QueryText, TopK: semantic nearest-neighbor search.
type Filter struct {
	Kind           Kind
	ConversationID string
	ID             string
	Name           string
	QueryText      string
	TopK           int
}

// Module is the uniform contract every memory backend implements.
// Query with an otherwise-empty filter returns all records of that kind in
// the module's default order (entities newest first, contacts by name).
type Module interface {
	Store(ctx context.Context, rec Record) error
	Query(ctx context.Context, f Filter) ([]Record, error)
	Delete(ctx context.Context, f Filter) error
}

// storageErr wraps a backend failure so callers can match
// ErrStorageUnavailable without losing the cause.
func storageErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrStorageUnavailable, op, err)
}
