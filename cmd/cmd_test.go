package cmd

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BioHazard786/warpcall/internal/call"
	"github.com/BioHazard786/warpcall/internal/config"
	"github.com/BioHazard786/warpcall/internal/feedback"
	"github.com/BioHazard786/warpcall/internal/identity"
	"github.com/BioHazard786/warpcall/internal/store"
)

func TestApplySetting(t *testing.T) {
	s := feedback.DefaultSettings()

	require.NoError(t, applySetting(&s, "ringtone", "off"))
	assert.False(t, s.RingtoneEnabled)
	require.NoError(t, applySetting(&s, "outgoing-vibration", "true"))
	assert.True(t, s.OutgoingCallVibration)
	require.NoError(t, applySetting(&s, "haptic-intensity", "strong"))
	assert.Equal(t, feedback.IntensityStrong, s.HapticIntensity)
	require.NoError(t, applySetting(&s, "ringtone-sound", "chime"))
	assert.Equal(t, "chime", s.RingtoneSound)

	assert.Error(t, applySetting(&s, "haptic-intensity", "loud"))
	assert.Error(t, applySetting(&s, "dial-tone", "maybe"))
	assert.Error(t, applySetting(&s, "volume", "11"))
	assert.Error(t, applySetting(&s, "ringtone-sound", ""))
}

func TestLoadConfigRejectsRelayWithoutTURN(t *testing.T) {
	t.Setenv("WARPCALL_DATA_DIR", t.TempDir())

	_, err := LoadConfig(config.Options{TURNServer: "none", ForceRelay: true})
	assert.Error(t, err)

	cfg, err := LoadConfig(config.Options{TURNServer: "turn:turn.example.org", ForceRelay: true})
	require.NoError(t, err)
	assert.True(t, cfg.ForceRelay)
}

func TestNewCallContextRequiresIdentity(t *testing.T) {
	t.Setenv("WARPCALL_ID", "")
	cfg, err := config.Load(config.Options{DataDir: t.TempDir(), Headless: true, TURNServer: "none"})
	require.NoError(t, err)

	_, err = NewCallContext(context.Background(), cfg)
	assert.ErrorContains(t, err, "no identity")
}

func TestPeerNames(t *testing.T) {
	assert.Equal(t, "nobody", peerNames(nil))
	assert.Equal(t, "bob, carol", peerNames([]identity.ID{"bob", "carol"}))
}

func TestContactsCommands(t *testing.T) {
	dir := t.TempDir()

	run := func(args ...string) error {
		rootCmd.SetArgs(append([]string{"--data-dir", dir, "--turn", "none"}, args...))
		return rootCmd.ExecuteContext(context.Background())
	}

	require.NoError(t, run("contacts", "add", "Bob@Example.org", "Bob", "Builder"))
	require.NoError(t, run("contacts", "list"))

	db, err := store.Open(dir)
	require.NoError(t, err)
	name, err := db.DisplayName(context.Background(), "bob@example.org")
	require.NoError(t, err)
	assert.Equal(t, "Bob Builder", name)
	require.NoError(t, db.Close())

	require.NoError(t, run("contacts", "remove", "bob@example.org"))
	assert.Error(t, run("contacts", "remove", "bob@example.org"))
}

func TestRecordWritesHistory(t *testing.T) {
	db, err := store.Open(t.TempDir())
	require.NoError(t, err)
	defer db.Close()

	c := &CallContext{Store: db}
	now := time.Now()
	c.record(call.Ended{
		CallID:    "c1",
		Reason:    call.ReasonHangup,
		Kind:      "voice",
		Direction: call.DirectionOutgoing,
		Peers:     []identity.ID{"bob"},
		StartedAt: now.Add(-time.Minute),
		EndedAt:   now,
		Duration:  time.Minute,
	})

	records, err := db.History(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "c1", records[0].ID)
	assert.Equal(t, "hangup", records[0].Reason)
	assert.Equal(t, []identity.ID{"bob"}, records[0].Peers)
}
