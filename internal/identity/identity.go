// Package identity models participant identities as they cross the
// signaling boundary.
package identity

import (
	"context"
	"strings"
)

// ID is a normalized participant identity. The zero value is invalid.
type ID string

// Normalize turns a raw transport address into an ID. Messaging transports
// append a per-connection resource ("alice@example.org/phone-3f2a"); the
// resource is dropped so that every map keyed by ID sees the same value no
// matter which device the message came from.
func Normalize(raw string) ID {
	s := strings.TrimSpace(raw)
	if i := strings.IndexByte(s, '/'); i >= 0 {
		s = s[:i]
	}
	return ID(strings.ToLower(s))
}

// String returns the identity as plain text.
func (id ID) String() string { return string(id) }

// Valid reports whether the identity is non-empty.
func (id ID) Valid() bool { return id != "" }

// Directory resolves identities to human display names.
type Directory interface {
	DisplayName(ctx context.Context, id ID) (string, error)
}

// DisplayName asks dir for a name and falls back to the raw identity when the
// directory is missing, fails, or has nothing useful.
func DisplayName(ctx context.Context, dir Directory, id ID) string {
	if dir == nil {
		return id.String()
	}
	name, err := dir.DisplayName(ctx, id)
	if err != nil || strings.TrimSpace(name) == "" {
		return id.String()
	}
	return name
}

// Strings converts a slice of IDs for the wire.
func Strings(ids []ID) []string {
	if len(ids) == 0 {
		return nil
	}
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}

// NormalizeAll normalizes a roster received from the wire, dropping empties.
func NormalizeAll(raw []string) []ID {
	out := make([]ID, 0, len(raw))
	for _, r := range raw {
		if id := Normalize(r); id.Valid() {
			out = append(out, id)
		}
	}
	return out
}
