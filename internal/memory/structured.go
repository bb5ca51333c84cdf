package memory

import (
	"context"
	"errors"
	"fmt"

	"github.com/ataleck/sage/internal/storage"
	"github.com/google/uuid"
)

// Structured persists entities and contacts with upsert-by-identity
// semantics: entity identity is (name, type), contact identity is
// (name, email). Storing an existing identity updates the mutable fields
// and refreshes created_at instead of inserting a second row.
type Structured struct {
	store *storage.Store
}

var _ Module = (*Structured)(nil)

func NewStructured(store *storage.Store) *Structured {
	return &Structured{store: store}
}

// Store upserts an entity or contact. The two kinds share no fields beyond
// name, so required fields are validated per kind.
func (s *Structured) Store(ctx context.Context, rec Record) error {
	switch rec.Kind {
	case KindEntity:
		if rec.Entity == nil {
			return fmt.Errorf("%w: entity record is nil", ErrValidation)
		}
		return s.storeEntity(rec.Entity)
	case KindContact:
		if rec.Contact == nil {
			return fmt.Errorf("%w: contact record is nil", ErrValidation)
		}
		return s.storeContact(rec.Contact)
	default:
		return fmt.Errorf("%w: structured store requires kind %q or %q", ErrValidation, KindEntity, KindContact)
	}
}

func (s *Structured) storeEntity(e *Entity) error {
	if e.Name == "" || e.Type == "" {
		return fmt.Errorf("%w: entity requires name and type", ErrValidation)
	}
	id := e.ID
	if id == "" {
		id = uuid.NewString()
	}
	err := s.store.UpsertEntity(storage.Entity{
		ID:        id,
		Name:      e.Name,
		Type:      e.Type,
		Details:   e.Details,
		CreatedAt: e.CreatedAt,
	})
	if err != nil {
		return storageErr("upserting entity", err)
	}
	return nil
}

func (s *Structured) storeContact(c *Contact) error {
	if c.Name == "" {
		return fmt.Errorf("%w: contact requires name", ErrValidation)
	}
	id := c.ID
	if id == "" {
		id = uuid.NewString()
	}
	err := s.store.UpsertContact(storage.Contact{
		ID:        id,
		Name:      c.Name,
		Email:     c.Email,
		Company:   c.Company,
		Phone:     c.Phone,
		Notes:     c.Notes,
		Tags:      c.Tags,
		CreatedAt: c.CreatedAt,
	})
	if err != nil {
		return storageErr("upserting contact", err)
	}
	return nil
}

// Query returns entities or contacts. ID is an exact-match filter; Name
// (contacts only) is a case-insensitive substring filter; with neither,
// all records of the kind are returned in the kind's default order.
func (s *Structured) Query(ctx context.Context, f Filter) ([]Record, error) {
	switch f.Kind {
	case KindEntity:
		return s.queryEntities(f)
	case KindContact:
		return s.queryContacts(f)
	default:
		return nil, fmt.Errorf("%w: structured query requires kind %q or %q", ErrValidation, KindEntity, KindContact)
	}
}

func (s *Structured) queryEntities(f Filter) ([]Record, error) {
	if f.ID != "" {
		e, err := s.store.GetEntity(f.ID)
		if errors.Is(err, storage.ErrNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, storageErr("getting entity", err)
		}
		return []Record{entityRecord(e)}, nil
	}

	entities, err := s.store.ListEntities()
	if err != nil {
		return nil, storageErr("listing entities", err)
	}
	records := make([]Record, 0, len(entities))
	for _, e := range entities {
		records = append(records, entityRecord(e))
	}
	return records, nil
}

func (s *Structured) queryContacts(f Filter) ([]Record, error) {
	if f.ID != "" {
		c, err := s.store.GetContact(f.ID)
		if errors.Is(err, storage.ErrNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, storageErr("getting contact", err)
		}
		return []Record{contactRecord(c)}, nil
	}

	var contacts []storage.Contact
	var err error
	if f.Name != "" {
		contacts, err = s.store.SearchContactsByName(f.Name)
	} else {
		contacts, err = s.store.ListContacts()
	}
	if err != nil {
		return nil, storageErr("listing contacts", err)
	}
	records := make([]Record, 0, len(contacts))
	for _, c := range contacts {
		records = append(records, contactRecord(c))
	}
	return records, nil
}

// Delete hard-deletes by primary key. Returns storage.ErrNotFound when no
// row matched, so the caller decides whether that matters.
func (s *Structured) Delete(ctx context.Context, f Filter) error {
	if f.ID == "" {
		return fmt.Errorf("%w: delete requires id", ErrValidation)
	}

	var err error
	switch f.Kind {
	case KindEntity:
		err = s.store.DeleteEntity(f.ID)
	case KindContact:
		err = s.store.DeleteContact(f.ID)
	default:
		return fmt.Errorf("%w: structured delete requires kind %q or %q", ErrValidation, KindEntity, KindContact)
	}
	if errors.Is(err, storage.ErrNotFound) {
		return err
	}
	if err != nil {
		return storageErr("deleting record", err)
	}
	return nil
}

func entityRecord(e storage.Entity) Record {
	return Record{Kind: KindEntity, Entity: &Entity{
		ID:        e.ID,
		Name:      e.Name,
		Type:      e.Type,
		Details:   e.Details,
		CreatedAt: e.CreatedAt,
	}}
}

func contactRecord(c storage.Contact) Record {
	return Record{Kind: KindContact, Contact: &Contact{
		ID:        c.ID,
		Name:      c.Name,
		Email:     c.Email,
		Company:   c.Company,
		Phone:     c.Phone,
		Notes:     c.Notes,
		Tags:      c.Tags,
		CreatedAt: c.CreatedAt,
	}}
}
