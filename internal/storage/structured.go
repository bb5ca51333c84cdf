package storage

import (
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// --- Entities ---

// UpsertEntity inserts an entity or, when the (name, type) identity already
// exists, updates its details and refreshes created_at. The existing row
// keeps its original ID on conflict.
func (s *Store) UpsertEntity(e Entity) error {
	createdAt := e.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := s.db.Exec(`
		INSERT INTO entities (id, name, type, details, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(name, type) DO UPDATE SET details = excluded.details, created_at = excluded.created_at`,
		e.ID, e.Name, e.Type, e.Details, createdAt.Format(time.RFC3339),
	)
	return err
}

func (s *Store) GetEntity(id string) (Entity, error) {
	var e Entity
	var createdAt string
	err := s.db.QueryRow(`
		SELECT id, name, type, details, created_at FROM entities WHERE id = ?`, id,
	).Scan(&e.ID, &e.Name, &e.Type, &e.Details, &createdAt)
	if err == sql.ErrNoRows {
		return Entity{}, ErrNotFound
	}
	if err != nil {
		return Entity{}, err
	}
	t, err := time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return Entity{}, fmt.Errorf("parsing created_at: %w", err)
	}
	e.CreatedAt = t
	return e, nil
}

// ListEntities returns all entities, newest first. Name and type break ties
// so repeated reads in the same state produce identical order.
func (s *Store) ListEntities() ([]Entity, error) {
	rows, err := s.db.Query(`
		SELECT id, name, type, details, created_at
		FROM entities ORDER BY created_at DESC, name ASC, type ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Entity
	for rows.Next() {
		var e Entity
		var createdAt string
		if err := rows.Scan(&e.ID, &e.Name, &e.Type, &e.Details, &createdAt); err != nil {
			return nil, err
		}
		t, err := time.Parse(time.RFC3339, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		e.CreatedAt = t
		results = append(results, e)
	}
	return results, rows.Err()
}

func (s *Store) DeleteEntity(id string) error {
	res, err := s.db.Exec(`DELETE FROM entities WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Contacts ---

// UpsertContact inserts a contact or, when the (name, email) identity already
// exists, updates the mutable fields and refreshes created_at.
func (s *Store) UpsertContact(c Contact) error {
	createdAt := c.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	tags := c.Tags
	if tags == "" {
		tags = "[]"
	}
	_, err := s.db.Exec(`
		INSERT INTO contacts (id, name, email, company, phone, notes, tags, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(name, email) DO UPDATE SET
			company = excluded.company,
			phone = excluded.phone,
			notes = excluded.notes,
			tags = excluded.tags,
			created_at = excluded.created_at`,
		c.ID, c.Name, c.Email, c.Company, c.Phone, c.Notes, tags, createdAt.Format(time.RFC3339),
	)
	return err
}

func (s *Store) GetContact(id string) (Contact, error) {
	row := s.db.QueryRow(`
		SELECT id, name, email, company, phone, notes, tags, created_at
		FROM contacts WHERE id = ?`, id)
	c, err := scanContact(row)
	if err == sql.ErrNoRows {
		return Contact{}, ErrNotFound
	}
	return c, err
}

// ListContacts returns all contacts ordered by name ascending.
func (s *Store) ListContacts() ([]Contact, error) {
	rows, err := s.db.Query(`
		SELECT id, name, email, company, phone, notes, tags, created_at
		FROM contacts ORDER BY name ASC, email ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectContacts(rows)
}

// SearchContactsByName returns contacts whose name contains the given
// substring, case-insensitively, ordered by name ascending.
func (s *Store) SearchContactsByName(name string) ([]Contact, error) {
	rows, err := s.db.Query(`
		SELECT id, name, email, company, phone, notes, tags, created_at
		FROM contacts WHERE name LIKE '%' || ? || '%' COLLATE NOCASE
		ORDER BY name ASC, email ASC`, name)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectContacts(rows)
}

// GetContactsByIDs returns the contacts matching the given IDs, ordered by
// name ascending. Unknown IDs are silently skipped.
func (s *Store) GetContactsByIDs(ids []string) ([]Contact, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	query := `SELECT id, name, email, company, phone, notes, tags, created_at
		FROM contacts WHERE id IN (?` + strings.Repeat(",?", len(ids)-1) + `)
		ORDER BY name ASC, email ASC`
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectContacts(rows)
}

func (s *Store) DeleteContact(id string) error {
	res, err := s.db.Exec(`DELETE FROM contacts WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanContact(row rowScanner) (Contact, error) {
	var c Contact
	var createdAt string
	if err := row.Scan(&c.ID, &c.Name, &c.Email, &c.Company, &c.Phone, &c.Notes, &c.Tags, &createdAt); err != nil {
		return Contact{}, err
	}
	t, err := time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return Contact{}, fmt.Errorf("parsing created_at: %w", err)
	}
	c.CreatedAt = t
	return c, nil
}

func collectContacts(rows *sql.Rows) ([]Contact, error) {
	var results []Contact
	for rows.Next() {
		c, err := scanContact(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, c)
	}
	return results, rows.Err()
}
