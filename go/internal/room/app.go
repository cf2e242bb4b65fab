package room

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/zwl098/yusic/go/internal/events"
	"github.com/zwl098/yusic/go/internal/models"
	"github.com/zwl098/yusic/go/internal/timeline"
)

// Broadcaster delivers events to connections. Deliver is called while the
// room lock is held, so implementations must only enqueue: delivery order
// per room is the order of Deliver calls.
type Broadcaster interface {
	Deliver(ctx context.Context, event *events.SyncEvent, recipients []string) error
}

// Mutation is the outcome of an applied intent
type Mutation struct {
	Event    *events.SyncEvent // nil when the intent was a no-op
	Snapshot models.Snapshot
	Added    int // queue growth, only set by queue intents
}

// App implements the per-room playback state machine:
// Idle (no track) -> Paused(position) <-> Playing(anchor).
type App struct {
	registry    *Registry
	clock       clockwork.Clock
	broadcaster Broadcaster
	newEvent    func(roomID string, eventType events.EventType, at time.Time, payload interface{}) (*events.SyncEvent, error)
}

// NewApp creates a new room App
func NewApp(registry *Registry, clock clockwork.Clock, broadcaster Broadcaster) *App {
	return &App{
		registry:    registry,
		clock:       clock,
		broadcaster: broadcaster,
		newEvent:    events.New,
	}
}

// Registry returns the registry the app mutates
func (a *App) Registry() *Registry {
	return a.registry
}

// Play resumes the current track, or switches to key and starts it from 0.
// Playing the track that is already playing re-emits the current anchor.
func (a *App) Play(ctx context.Context, roomID string, key *models.TrackKey, origin string) (*Mutation, error) {
	if key != nil {
		if err := key.Validate(); err != nil {
			return nil, err
		}
	}

	return a.apply(ctx, roomID, origin, func(r *models.Room, now time.Time) (events.EventType, interface{}, error) {
		sameTrack := key == nil || (r.CurrentTrack != nil && *r.CurrentTrack == *key)

		switch pb := r.Playback.(type) {
		case models.Playing:
			if sameTrack {
				return events.EventTypePlay, playPayload(key, pb.Anchor), nil
			}
		case models.Paused:
			if sameTrack {
				if r.CurrentTrack == nil {
					return "", nil, ErrNoTrackSelected
				}
				anchor := timeline.NewAnchor(now, pb.Position)
				r.Playback = models.Playing{Anchor: anchor}
				return events.EventTypePlay, playPayload(key, anchor), nil
			}
		}

		track := *key
		r.CurrentTrack = &track
		anchor := timeline.NewAnchor(now, 0)
		r.Playback = models.Playing{Anchor: anchor}
		return events.EventTypePlay, playPayload(key, anchor), nil
	})
}

// Pause freezes the timeline at its current position
func (a *App) Pause(ctx context.Context, roomID string, origin string) (*Mutation, error) {
	return a.apply(ctx, roomID, origin, func(r *models.Room, now time.Time) (events.EventType, interface{}, error) {
		position := r.PositionAt(now)
		r.Playback = models.Paused{Position: position}
		return events.EventTypePause, events.PausePayload{Position: position}, nil
	})
}

// Seek moves the timeline to position, re-anchoring if the room is playing
func (a *App) Seek(ctx context.Context, roomID string, position float64, origin string) (*Mutation, error) {
	if position < 0 || math.IsNaN(position) || math.IsInf(position, 0) {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPosition, position)
	}

	return a.apply(ctx, roomID, origin, func(r *models.Room, now time.Time) (events.EventType, interface{}, error) {
		payload := events.SeekPayload{Position: position}
		if r.IsPlaying() {
			anchor := timeline.NewAnchor(now, position)
			r.Playback = models.Playing{Anchor: anchor}
			payload.AnchorWallTime = timeline.ToMillis(anchor.WallTime)
		} else {
			r.Playback = models.Paused{Position: position}
		}
		return events.EventTypeSeek, payload, nil
	})
}

// ChangeSong selects key and parks the room at Paused(0). Playback never
// resumes on its own; an explicit Play is required.
func (a *App) ChangeSong(ctx context.Context, roomID string, key models.TrackKey, origin string) (*Mutation, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}

	return a.apply(ctx, roomID, origin, func(r *models.Room, now time.Time) (events.EventType, interface{}, error) {
		r.CurrentTrack = &key
		r.Playback = models.Paused{Position: 0}
		return events.EventTypeSongChange, events.SongChangePayload{TrackKey: key}, nil
	})
}

// SetQueue replaces the whole queue; the last writer wins.
func (a *App) SetQueue(ctx context.Context, roomID string, queue []models.TrackKey, origin string) (*Mutation, error) {
	for _, key := range queue {
		if err := key.Validate(); err != nil {
			return nil, err
		}
	}
	next := append([]models.TrackKey{}, queue...)

	var added int
	m, err := a.apply(ctx, roomID, origin, func(r *models.Room, now time.Time) (events.EventType, interface{}, error) {
		added = len(next) - len(r.Queue)
		r.Queue = next
		return events.EventTypeQueue, events.QueuePayload{Queue: next}, nil
	})
	if m != nil && added > 0 {
		m.Added = added
	}
	return m, err
}

// Enqueue appends key to the queue. A key equal to the current tail is
// ignored and nothing is broadcast.
func (a *App) Enqueue(ctx context.Context, roomID string, key models.TrackKey, origin string) (*Mutation, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}

	var m *Mutation
	err := a.registry.WithRoom(roomID, func(r *models.Room) error {
		now := a.clock.Now()
		if n := len(r.Queue); n > 0 && r.Queue[n-1] == key {
			m = &Mutation{Snapshot: r.SnapshotAt(now)}
			return nil
		}
		next := append(append([]models.TrackKey{}, r.Queue...), key)
		event, err := a.newEvent(r.ID, events.EventTypeQueue, now, events.QueuePayload{Queue: next})
		if err != nil {
			return err
		}
		r.Queue = next
		m = a.publish(ctx, r, now, origin, event)
		m.Added = 1
		return nil
	})
	return m, err
}

// Emote relays symbol to the other members. Room state is not touched.
func (a *App) Emote(ctx context.Context, roomID, symbol, origin string) error {
	return a.registry.WithRoom(roomID, func(r *models.Room) error {
		event, err := a.newEvent(r.ID, events.EventTypeEmote, a.clock.Now(), events.EmotePayload{Symbol: symbol})
		if err != nil {
			return err
		}
		return a.broadcaster.Deliver(ctx, event, Recipients(r, origin))
	})
}

// Notify sends a notification to the room members other than origin
func (a *App) Notify(ctx context.Context, roomID, text, origin string) error {
	return a.registry.WithRoom(roomID, func(r *models.Room) error {
		event, err := a.newEvent(r.ID, events.EventTypeNotification, a.clock.Now(), events.NotificationPayload{Text: text})
		if err != nil {
			return err
		}
		return a.broadcaster.Deliver(ctx, event, Recipients(r, origin))
	})
}

// Snapshot returns the room's state with the position computed for now
func (a *App) Snapshot(roomID string) (models.Snapshot, error) {
	var snap models.Snapshot
	err := a.registry.WithRoom(roomID, func(r *models.Room) error {
		snap = r.SnapshotAt(a.clock.Now())
		return nil
	})
	return snap, err
}

type transition func(r *models.Room, now time.Time) (events.EventType, interface{}, error)

// apply runs fn under the room lock and fans the resulting event out to
// every member except origin before the lock is released. The room is
// restored if fn fails or no event can be built for it.
func (a *App) apply(ctx context.Context, roomID, origin string, fn transition) (*Mutation, error) {
	var m *Mutation
	err := a.registry.WithRoom(roomID, func(r *models.Room) error {
		now := a.clock.Now()
		before := r.Clone()
		eventType, payload, err := fn(r, now)
		if err != nil {
			*r = before
			return err
		}
		event, err := a.newEvent(r.ID, eventType, now, payload)
		if err != nil {
			*r = before
			return err
		}
		m = a.publish(ctx, r, now, origin, event)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return m, nil
}

func (a *App) publish(ctx context.Context, r *models.Room, now time.Time, origin string, event *events.SyncEvent) *Mutation {
	r.LastActivity = now

	// State is already applied; a failed delivery is corrected by the next
	// event or join snapshot, so it is logged rather than returned.
	if err := a.broadcaster.Deliver(ctx, event, Recipients(r, origin)); err != nil {
		log.Warn().
			Err(err).
			Str("room_id", r.ID).
			Str("event_type", string(event.Type)).
			Msg("failed to deliver room event")
	}

	log.Debug().
		Str("room_id", r.ID).
		Str("event_type", string(event.Type)).
		Str("origin", origin).
		Msg("room event applied")

	return &Mutation{Event: event, Snapshot: r.SnapshotAt(now)}
}

// Recipients returns the members of r except origin
func Recipients(r *models.Room, origin string) []string {
	ids := r.MemberIDs()
	out := ids[:0]
	for _, id := range ids {
		if id != origin {
			out = append(out, id)
		}
	}
	return out
}

func playPayload(key *models.TrackKey, anchor timeline.Anchor) events.PlayPayload {
	payload := events.PlayPayload{
		AnchorWallTime: timeline.ToMillis(anchor.WallTime),
		AnchorPosition: anchor.Position,
	}
	if key != nil {
		track := *key
		payload.TrackKey = &track
	}
	return payload
}
