package relay

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BioHazard786/warpcall/internal/identity"
	"github.com/BioHazard786/warpcall/internal/logging"
	"github.com/BioHazard786/warpcall/internal/signaling"
)

func startRelay(t *testing.T) *httptest.Server {
	t.Helper()

	reg := prometheus.NewRegistry()
	hub := NewHub(NewMetrics(reg), logging.Discard())
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	srv := httptest.NewServer(NewRouter(hub, reg))
	t.Cleanup(func() {
		srv.Close()
		cancel()
		<-hub.Done()
	})
	return srv
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

type inbox struct {
	mu   sync.Mutex
	msgs []string
	from []string
}

func (b *inbox) add(from string, data []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.from = append(b.from, from)
	b.msgs = append(b.msgs, string(data))
}

func (b *inbox) len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.msgs)
}

func connect(t *testing.T, srv *httptest.Server, id identity.ID) (*signaling.Client, *inbox) {
	t.Helper()
	c := signaling.NewClient(wsURL(srv), id, nil, logging.Discard())
	require.NoError(t, c.Connect(context.Background()))
	t.Cleanup(c.Close)

	box := &inbox{}
	c.Subscribe(box.add)
	return c, box
}

func metricsBody(t *testing.T, srv *httptest.Server) string {
	t.Helper()
	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(body)
}

func TestHealth(t *testing.T) {
	srv := startRelay(t)

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestWsRequiresIdentity(t *testing.T) {
	srv := startRelay(t)

	resp, err := http.Get(srv.URL + "/ws")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestDeliverBetweenIdentities(t *testing.T) {
	srv := startRelay(t)

	alice, _ := connect(t, srv, "alice@example.org")
	_, bobBox := connect(t, srv, "bob@example.org")

	require.Eventually(t, func() bool {
		return strings.Contains(metricsBody(t, srv), "warpcall_relay_connected_clients 2")
	}, 2*time.Second, 20*time.Millisecond)

	require.NoError(t, alice.Send(context.Background(), "Bob@Example.org/phone", []byte(`{"n":1}`)))
	require.NoError(t, alice.Send(context.Background(), "bob@example.org", []byte(`{"n":2}`)))

	require.Eventually(t, func() bool { return bobBox.len() == 2 }, 2*time.Second, 10*time.Millisecond)

	bobBox.mu.Lock()
	defer bobBox.mu.Unlock()
	assert.Equal(t, []string{`{"n":1}`, `{"n":2}`}, bobBox.msgs)
	assert.Equal(t, []string{"alice@example.org", "alice@example.org"}, bobBox.from)
}

func TestOfflineRecipientCounted(t *testing.T) {
	srv := startRelay(t)

	alice, _ := connect(t, srv, "alice@example.org")
	require.NoError(t, alice.Send(context.Background(), "ghost@example.org", []byte(`{}`)))

	require.Eventually(t, func() bool {
		return strings.Contains(metricsBody(t, srv), "warpcall_relay_undeliverable_total 1")
	}, 2*time.Second, 20*time.Millisecond)
}

func TestClientRejectsNonJSONPayload(t *testing.T) {
	srv := startRelay(t)

	alice, _ := connect(t, srv, "alice@example.org")
	err := alice.Send(context.Background(), "bob@example.org", []byte("not json"))
	assert.ErrorIs(t, err, signaling.ErrProtocol)
}

func TestClientSendAfterClose(t *testing.T) {
	srv := startRelay(t)

	alice, _ := connect(t, srv, "alice@example.org")
	alice.Close()
	alice.Close()

	err := alice.Send(context.Background(), "bob@example.org", []byte(`{}`))
	assert.ErrorIs(t, err, signaling.ErrClosed)
}

func TestReconnectReplacesPrevious(t *testing.T) {
	srv := startRelay(t)

	first, _ := connect(t, srv, "bob@example.org")
	require.Eventually(t, func() bool {
		return strings.Contains(metricsBody(t, srv), "warpcall_relay_connected_clients 1")
	}, 2*time.Second, 20*time.Millisecond)

	_, secondBox := connect(t, srv, "bob@example.org")
	alice, _ := connect(t, srv, "alice@example.org")

	select {
	case <-first.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("replaced connection was not closed")
	}

	require.NoError(t, alice.Send(context.Background(), "bob@example.org", []byte(`{"hi":true}`)))
	require.Eventually(t, func() bool { return secondBox.len() == 1 }, 2*time.Second, 10*time.Millisecond)
}
