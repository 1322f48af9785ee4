package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/BioHazard786/warpcall/internal/identity"
)

// ErrNotFound is returned for unknown contacts.
var ErrNotFound = errors.New("not found")

// Contact is one directory entry.
type Contact struct {
	ID          identity.ID
	DisplayName string
}

// PutContact stores or renames a contact.
func (d *DB) PutContact(ctx context.Context, c Contact) error {
	if !c.ID.Valid() {
		return fmt.Errorf("invalid identity %q", c.ID)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO contacts (identity, display_name) VALUES (?, ?)
		ON CONFLICT(identity) DO UPDATE SET display_name = excluded.display_name`,
		c.ID.String(), c.DisplayName,
	)
	return err
}

// RemoveContact deletes a contact. Removing an unknown contact returns
// ErrNotFound.
func (d *DB) RemoveContact(ctx context.Context, id identity.ID) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	res, err := d.db.ExecContext(ctx, `DELETE FROM contacts WHERE identity = ?`, id.String())
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Contacts lists every contact by display name.
func (d *DB) Contacts(ctx context.Context) ([]Contact, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	rows, err := d.db.QueryContext(ctx, `SELECT identity, display_name FROM contacts ORDER BY display_name, identity`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Contact
	for rows.Next() {
		var id, name string
		if err := rows.Scan(&id, &name); err != nil {
			return nil, err
		}
		out = append(out, Contact{ID: identity.ID(id), DisplayName: name})
	}
	return out, rows.Err()
}

// DisplayName implements identity.Directory.
func (d *DB) DisplayName(ctx context.Context, id identity.ID) (string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var name string
	err := d.db.QueryRowContext(ctx, `SELECT display_name FROM contacts WHERE identity = ?`, id.String()).Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	return name, err
}
