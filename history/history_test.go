package history

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yllada/wg-manager/common"
	"github.com/yllada/wg-manager/vpn"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func events(id string, start time.Time, kinds ...vpn.EventKind) []vpn.SessionEvent {
	out := make([]vpn.SessionEvent, len(kinds))
	for i, k := range kinds {
		out[i] = vpn.SessionEvent{
			Seq:       uint64(i + 1),
			Kind:      k,
			SessionID: id,
			Name:      "office",
			Endpoint:  "vpn.example.com:51820",
			Interface: "wgm0",
			Time:      start.Add(time.Duration(i) * time.Second),
		}
	}
	return out
}

func TestStore_CleanSession(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	start := time.Unix(1700000000, 0)

	for _, ev := range events("s1", start, vpn.EventConnecting, vpn.EventConnected, vpn.EventDisconnecting, vpn.EventDisconnected) {
		require.NoError(t, s.Apply(ctx, ev))
	}

	recs, err := s.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recs, 1)

	r := recs[0]
	assert.Equal(t, "s1", r.SessionID)
	assert.Equal(t, "office", r.Name)
	assert.Equal(t, "wgm0", r.Interface)
	assert.Equal(t, "Disconnected", r.State)
	assert.Empty(t, r.Reason)
	assert.True(t, r.StartedAt.Equal(start))
	assert.Equal(t, 2*time.Second, r.Duration())
}

func TestStore_FailedSessionKeepsReason(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	evs := events("s2", time.Unix(1700000000, 0), vpn.EventConnecting, vpn.EventFailed, vpn.EventDisconnected)
	evs[1].Reason = errors.Join(common.ErrHandshakeTimeout)
	for _, ev := range evs {
		require.NoError(t, s.Apply(ctx, ev))
	}

	recs, err := s.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "Failed", recs[0].State)
	assert.Equal(t, common.ErrHandshakeTimeout.Error(), recs[0].Reason)
	assert.Zero(t, recs[0].Duration())
	assert.False(t, recs[0].EndedAt.IsZero())
}

func TestStore_RecentOrderAndPrune(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Unix(1700000000, 0)

	for i, id := range []string{"old", "mid", "new"} {
		for _, ev := range events(id, base.Add(time.Duration(i)*time.Hour), vpn.EventConnecting, vpn.EventConnected, vpn.EventDisconnected) {
			require.NoError(t, s.Apply(ctx, ev))
		}
	}

	recs, err := s.Recent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "new", recs[0].SessionID)
	assert.Equal(t, "mid", recs[1].SessionID)

	n, err := s.Prune(ctx, base.Add(30*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	recs, err = s.Recent(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, recs, 2)
}

func TestStore_RunConsumesBus(t *testing.T) {
	s := openTestStore(t)
	bus := vpn.NewBus()
	ch, cancel := bus.Subscribe()

	done := make(chan struct{})
	go func() {
		s.Run(context.Background(), ch)
		close(done)
	}()

	for _, ev := range events("s3", time.Now(), vpn.EventConnecting, vpn.EventConnected) {
		bus.Publish(ev)
	}

	require.Eventually(t, func() bool {
		recs, err := s.Recent(context.Background(), 1)
		return err == nil && len(recs) == 1 && recs[0].State == "Connected"
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after the subscription closed")
	}
}

func TestRecord_DurationWhileConnected(t *testing.T) {
	r := Record{ConnectedAt: time.Now().Add(-time.Minute)}
	assert.GreaterOrEqual(t, r.Duration(), time.Minute)
}
