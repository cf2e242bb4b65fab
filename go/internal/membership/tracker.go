// Package membership tracks which room each connection belongs to and keeps
// member counts and room expiry consistent with joins and departures.
package membership

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/zwl098/yusic/go/internal/events"
	"github.com/zwl098/yusic/go/internal/models"
	"github.com/zwl098/yusic/go/internal/room"
)

const (
	joinedNotice = "A user joined the room"
	leftNotice   = "A user left the room"
)

// Tracker maps connections to rooms. A connection is in at most one room.
type Tracker struct {
	registry    *room.Registry
	broadcaster room.Broadcaster
	clock       clockwork.Clock

	mu        sync.Mutex
	connRooms map[string]string
}

// NewTracker creates a new membership tracker
func NewTracker(registry *room.Registry, broadcaster room.Broadcaster, clock clockwork.Clock) *Tracker {
	return &Tracker{
		registry:    registry,
		broadcaster: broadcaster,
		clock:       clock,
		connRooms:   make(map[string]string),
	}
}

// Create allocates a room with connID already inside it and returns the
// creator's snapshot. A connection that is in another room leaves it first.
func (t *Tracker) Create(ctx context.Context, connID string) (models.Snapshot, error) {
	if _, ok := t.RoomOf(connID); ok {
		t.Leave(ctx, connID)
	}

	created, err := t.registry.CreateRoom(connID)
	if err != nil {
		return models.Snapshot{}, err
	}

	t.mu.Lock()
	t.connRooms[connID] = created.ID
	t.mu.Unlock()

	var snap models.Snapshot
	err = t.registry.WithRoom(created.ID, func(r *models.Room) error {
		now := t.clock.Now()
		snap = r.SnapshotAt(now)
		t.deliverCount(ctx, r, now)
		return nil
	})
	if err != nil {
		return models.Snapshot{}, err
	}

	log.Info().Str("conn_id", connID).Str("room_id", created.ID).Msg("connection created room")
	return snap, nil
}

// Join adds connID to roomID and returns the snapshot the joiner should
// reconcile to. Joining the room the connection is already in is a no-op
// apart from returning a fresh snapshot; joining another room leaves the
// previous one first.
func (t *Tracker) Join(ctx context.Context, connID, roomID string) (models.Snapshot, error) {
	if current, ok := t.RoomOf(connID); ok && current != roomID {
		if _, err := t.registry.GetRoom(roomID); err != nil {
			return models.Snapshot{}, err
		}
		t.Leave(ctx, connID)
	}

	var snap models.Snapshot
	err := t.registry.WithRoom(roomID, func(r *models.Room) error {
		now := t.clock.Now()
		_, already := r.Members[connID]
		r.Members[connID] = struct{}{}
		t.registry.CancelExpiry(roomID)
		snap = r.SnapshotAt(now)

		if already {
			return nil
		}
		r.LastActivity = now
		t.deliverCount(ctx, r, now)
		t.deliver(ctx, r, now, events.EventTypeNotification, events.NotificationPayload{Text: joinedNotice}, room.Recipients(r, connID))
		return nil
	})
	if err != nil {
		return models.Snapshot{}, err
	}

	t.mu.Lock()
	t.connRooms[connID] = roomID
	t.mu.Unlock()

	log.Info().
		Str("conn_id", connID).
		Str("room_id", roomID).
		Int("members", snap.MemberCount).
		Msg("connection joined room")
	return snap, nil
}

// Leave removes connID from its room, if any. The room's expiry is armed
// once it becomes empty. Leave is safe to call more than once.
func (t *Tracker) Leave(ctx context.Context, connID string) {
	t.mu.Lock()
	roomID, ok := t.connRooms[connID]
	delete(t.connRooms, connID)
	t.mu.Unlock()
	if !ok {
		return
	}

	empty := false
	err := t.registry.WithRoom(roomID, func(r *models.Room) error {
		if _, member := r.Members[connID]; !member {
			return nil
		}
		delete(r.Members, connID)
		now := t.clock.Now()
		r.LastActivity = now

		if len(r.Members) == 0 {
			empty = true
			return nil
		}
		t.deliverCount(ctx, r, now)
		t.deliver(ctx, r, now, events.EventTypeNotification, events.NotificationPayload{Text: leftNotice}, r.MemberIDs())
		return nil
	})
	if err != nil {
		// Room already gone; nothing left to update.
		log.Debug().Err(err).Str("conn_id", connID).Str("room_id", roomID).Msg("leave for missing room")
		return
	}

	log.Info().Str("conn_id", connID).Str("room_id", roomID).Msg("connection left room")

	// Expiry takes the registry lock, so it is armed after the room lock is released.
	if empty {
		t.registry.ScheduleExpiry(roomID)
	}
}

// RoomOf returns the room connID is currently in
func (t *Tracker) RoomOf(connID string) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	roomID, ok := t.connRooms[connID]
	return roomID, ok
}

// Members returns the number of tracked connections
func (t *Tracker) Members() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.connRooms)
}

func (t *Tracker) deliverCount(ctx context.Context, r *models.Room, now time.Time) {
	t.deliver(ctx, r, now, events.EventTypeMemberCount, events.MemberCountPayload{Count: len(r.Members)}, r.MemberIDs())
}

func (t *Tracker) deliver(ctx context.Context, r *models.Room, now time.Time, eventType events.EventType, payload interface{}, recipients []string) {
	if len(recipients) == 0 {
		return
	}
	event, err := events.New(r.ID, eventType, now, payload)
	if err != nil {
		log.Error().Err(err).Str("room_id", r.ID).Msg("failed to build presence event")
		return
	}
	if err := t.broadcaster.Deliver(ctx, event, recipients); err != nil {
		log.Warn().Err(err).Str("room_id", r.ID).Str("event_type", string(eventType)).Msg("failed to deliver presence event")
	}
}
