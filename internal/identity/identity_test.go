package identity

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	assert.Equal(t, ID("alice@example.org"), Normalize("  Alice@Example.org/phone-3f2a "))
	assert.Equal(t, ID("bob"), Normalize("bob"))
	assert.Equal(t, ID(""), Normalize("/resource-only"))
	assert.False(t, Normalize("").Valid())
}

type fakeDirectory struct {
	names map[ID]string
	err   error
}

func (f fakeDirectory) DisplayName(_ context.Context, id ID) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.names[id], nil
}

func TestDisplayNameFallsBackToIdentity(t *testing.T) {
	ctx := context.Background()
	dir := fakeDirectory{names: map[ID]string{"bob": "Bob Builder"}}

	assert.Equal(t, "Bob Builder", DisplayName(ctx, dir, "bob"))
	assert.Equal(t, "carol", DisplayName(ctx, dir, "carol"))
	assert.Equal(t, "bob", DisplayName(ctx, fakeDirectory{err: errors.New("offline")}, "bob"))
	assert.Equal(t, "bob", DisplayName(ctx, nil, "bob"))
}

func TestNormalizeAll(t *testing.T) {
	got := NormalizeAll([]string{"Bob/x", "", "carol"})
	assert.Equal(t, []ID{"bob", "carol"}, got)
	assert.Equal(t, []string{"bob", "carol"}, Strings(got))
	assert.Nil(t, Strings(nil))
}
