package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Entity is a named, typed fact extracted from conversation.
// Identity is the (name, type) pair; storing a duplicate identity
// updates details and refreshes created_at instead of inserting.
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
	Tags      string // JSON array stored as text
	CreatedAt time.Time
}

// Message is one episodic conversation turn. Append-only per conversation.
type Message struct {
	ID             string
	ConversationID string
	Role           string // "user" or "model"
	Content        string
	CreatedAt      time.Time
	TokenCount     int
	IsBookmarked   bool
}

// Run statuses. A run starts running and ends in exactly one terminal state.
const (
	RunStatusRunning   = "running"
	RunStatusCompleted = "completed"
	RunStatusFailed    = "failed"
)

// Run types.
const (
	RunTypeMemoryExtraction = "memory_extraction"
)

// Run is the audit record of one pipeline invocation.
type Run struct {
	ID           string
	Type         string
	Status       string
	StartTime    time.Time
	EndTime      time.Time
	DurationMs   int64
	FinalOutput  string
	ErrorMessage string
}

// RunStep is the audit record of one logical sub-operation inside a run.
// Step rows are append-only; a step write is terminal.
type RunStep struct {
	RunID         string
	StepOrder     int
	StepName      string
	Status        string
	InputPayload  string
	OutputPayload string
	ErrorMessage  string
	DurationMs    int64
}

// Job is one queued background work item.
type Job struct {
	ID          string
	Type        string
	PayloadJSON string
	Status      string // "pending", "running", "completed", "failed"
	Attempts    int
	MaxAttempts int
	RunAfter    time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
	LastError   string
}
