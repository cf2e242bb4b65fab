package room

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/zwl098/yusic/go/internal/events"
	"github.com/zwl098/yusic/go/internal/models"
)

var epoch = time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)

type delivery struct {
	event      *events.SyncEvent
	recipients []string
}

type recordingBroadcaster struct {
	mu         sync.Mutex
	deliveries []delivery
}

func (b *recordingBroadcaster) Deliver(_ context.Context, event *events.SyncEvent, recipients []string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.deliveries = append(b.deliveries, delivery{event: event, recipients: append([]string(nil), recipients...)})
	return nil
}

func (b *recordingBroadcaster) last(t *testing.T) delivery {
	t.Helper()
	b.mu.Lock()
	defer b.mu.Unlock()
	require.NotEmpty(t, b.deliveries)
	return b.deliveries[len(b.deliveries)-1]
}

func (b *recordingBroadcaster) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.deliveries)
}

type fixture struct {
	clock       *clockwork.FakeClock
	registry    *Registry
	broadcaster *recordingBroadcaster
	app         *App
}

func newFixture(t *testing.T, window time.Duration) *fixture {
	t.Helper()
	clock := clockwork.NewFakeClockAt(epoch)
	cfg := DefaultRegistryConfig()
	cfg.ExpiryWindow = window
	registry := NewRegistry(clock, cfg)
	t.Cleanup(registry.Close)
	b := &recordingBroadcaster{}
	return &fixture{
		clock:       clock,
		registry:    registry,
		broadcaster: b,
		app:         NewApp(registry, clock, b),
	}
}

// roomWithMembers creates a room and joins the given connections directly.
func (f *fixture) roomWithMembers(t *testing.T, members ...string) string {
	t.Helper()
	room, err := f.registry.CreateRoom("")
	require.NoError(t, err)
	require.NoError(t, f.registry.WithRoom(room.ID, func(r *models.Room) error {
		for _, m := range members {
			r.Members[m] = struct{}{}
		}
		return nil
	}))
	if len(members) > 0 {
		f.registry.CancelExpiry(room.ID)
	}
	return room.ID
}

func key(source models.Source, id string) models.TrackKey {
	return models.TrackKey{Source: source, ID: id}
}
