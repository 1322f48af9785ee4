package dns

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BioHazard786/warpcall/internal/logging"
)

func newTestResolver(fn LookupFunc) *Resolver {
	r := NewResolver(logging.Discard())
	r.Servers = []string{"a", "b", "c"}
	r.RemoteTimeout = 500 * time.Millisecond
	return r.WithLookup(fn)
}

func TestLookupIPLiteral(t *testing.T) {
	r := newTestResolver(func(context.Context, string, string) ([]string, error) {
		t.Fatal("literal must not be looked up")
		return nil, nil
	})

	ip, err := r.Lookup(context.Background(), "127.0.0.1")
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1", ip)
}

func TestLookupPrefersIPv4FromSystem(t *testing.T) {
	r := newTestResolver(func(_ context.Context, _ string, server string) ([]string, error) {
		assert.Empty(t, server)
		return []string{"::1", "10.0.0.7"}, nil
	})

	ip, err := r.Lookup(context.Background(), "relay.example")
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.7", ip)
}

func TestLookupFallsBackToPublic(t *testing.T) {
	r := newTestResolver(func(_ context.Context, _ string, server string) ([]string, error) {
		switch server {
		case "":
			return nil, errors.New("servfail")
		case "b":
			return []string{"192.0.2.1"}, nil
		default:
			return nil, errors.New("refused")
		}
	})

	ip, err := r.Lookup(context.Background(), "relay.example")
	require.NoError(t, err)
	assert.Equal(t, "192.0.2.1", ip)
}

func TestLookupAllFail(t *testing.T) {
	r := newTestResolver(func(context.Context, string, string) ([]string, error) {
		return nil, errors.New("nope")
	})

	_, err := r.Lookup(context.Background(), "relay.example")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "all 3 public resolvers failed")
}

func TestTrimBrackets(t *testing.T) {
	assert.Equal(t, "2606:4700:4700::1111", trimBrackets("[2606:4700:4700::1111]"))
	assert.Equal(t, "1.1.1.1", trimBrackets("1.1.1.1"))
}
