// Package roomsync turns client intents into room operations, answers each
// with an ack and mirrors applied events to the relay.
package roomsync

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/zwl098/yusic/go/internal/membership"
	"github.com/zwl098/yusic/go/internal/models"
	"github.com/zwl098/yusic/go/internal/relay"
	"github.com/zwl098/yusic/go/internal/room"
)

// Catalog checks that a track can be streamed
type Catalog interface {
	Resolve(ctx context.Context, key models.TrackKey) error
}

// Playlists is the shared playlist collaborator
type Playlists interface {
	GetAll(ctx context.Context) ([]models.Playlist, error)
	Create(ctx context.Context, name string) (models.Playlist, error)
	AddSong(ctx context.Context, playlistID string, song models.Song) (models.Playlist, error)
	RemoveSong(ctx context.Context, playlistID, songID string) (models.Playlist, error)
	Delete(ctx context.Context, playlistID string) error
}

// Config holds timeouts for the handler's outbound calls
type Config struct {
	CatalogTimeout time.Duration
	PublishTimeout time.Duration
}

// DefaultConfig returns the default handler configuration
func DefaultConfig() Config {
	return Config{
		CatalogTimeout: 3 * time.Second,
		PublishTimeout: 2 * time.Second,
	}
}

// Handler serves room operations for both the websocket and HTTP transports
type Handler struct {
	app       *room.App
	tracker   *membership.Tracker
	publisher relay.Publisher
	catalog   Catalog   // optional
	playlists Playlists // optional
	config    Config
}

// NewHandler creates a new Handler. catalog and playlists may be nil.
func NewHandler(app *room.App, tracker *membership.Tracker, publisher relay.Publisher, catalog Catalog, playlists Playlists, config Config) *Handler {
	if publisher == nil {
		publisher = relay.NoopPublisher{}
	}
	if config.CatalogTimeout <= 0 {
		config.CatalogTimeout = DefaultConfig().CatalogTimeout
	}
	if config.PublishTimeout <= 0 {
		config.PublishTimeout = DefaultConfig().PublishTimeout
	}
	return &Handler{
		app:       app,
		tracker:   tracker,
		publisher: publisher,
		catalog:   catalog,
		playlists: playlists,
		config:    config,
	}
}

// CreateRoom creates a room. A non-empty connID is made a member as part of
// the creation, so the room never exists without its creator.
func (h *Handler) CreateRoom(ctx context.Context, connID string) (models.Snapshot, error) {
	if connID != "" {
		return h.tracker.Create(ctx, connID)
	}
	r, err := h.app.Registry().CreateRoom("")
	if err != nil {
		return models.Snapshot{}, err
	}
	return h.app.Snapshot(r.ID)
}

// JoinRoom adds connID to roomID and returns the snapshot to reconcile to
func (h *Handler) JoinRoom(ctx context.Context, connID, roomID string) (models.Snapshot, error) {
	return h.tracker.Join(ctx, connID, roomID)
}

// Leave removes connID from its room
func (h *Handler) Leave(ctx context.Context, connID string) {
	h.tracker.Leave(ctx, connID)
}

// State returns the room's snapshot
func (h *Handler) State(roomID string) (models.Snapshot, error) {
	return h.app.Snapshot(roomID)
}

// ActiveRooms returns the number of live rooms
func (h *Handler) ActiveRooms() int {
	return h.app.Registry().Len()
}

// Play starts or resumes playback. Switching to a track the catalog cannot
// resolve selects it without playing and returns a notice.
func (h *Handler) Play(ctx context.Context, connID, roomID string, key *models.TrackKey) (Result, error) {
	if key != nil {
		if err := key.Validate(); err != nil {
			return Result{}, err
		}
		snap, err := h.app.Snapshot(roomID)
		if err != nil {
			return Result{}, err
		}
		switching := snap.CurrentTrack == nil || *snap.CurrentTrack != *key
		if switching {
			if err := h.resolve(ctx, *key); err != nil {
				return h.unavailable(ctx, connID, roomID, *key, err)
			}
		}
	}

	m, err := h.app.Play(ctx, roomID, key, connID)
	if err != nil {
		return Result{}, err
	}
	h.publish(ctx, m)
	return Result{Snapshot: m.Snapshot}, nil
}

// Pause freezes the room's timeline
func (h *Handler) Pause(ctx context.Context, connID, roomID string) (Result, error) {
	m, err := h.app.Pause(ctx, roomID, connID)
	if err != nil {
		return Result{}, err
	}
	h.publish(ctx, m)
	return Result{Snapshot: m.Snapshot}, nil
}

// Seek moves the room's timeline to position seconds
func (h *Handler) Seek(ctx context.Context, connID, roomID string, position float64) (Result, error) {
	m, err := h.app.Seek(ctx, roomID, position, connID)
	if err != nil {
		return Result{}, err
	}
	h.publish(ctx, m)
	return Result{Snapshot: m.Snapshot}, nil
}

// ChangeSong selects key without playing it
func (h *Handler) ChangeSong(ctx context.Context, connID, roomID string, key models.TrackKey) (Result, error) {
	if err := key.Validate(); err != nil {
		return Result{}, err
	}
	if err := h.resolve(ctx, key); err != nil {
		return h.unavailable(ctx, connID, roomID, key, err)
	}

	m, err := h.app.ChangeSong(ctx, roomID, key, connID)
	if err != nil {
		return Result{}, err
	}
	h.publish(ctx, m)
	return Result{Snapshot: m.Snapshot}, nil
}

// SetQueue replaces the room's queue
func (h *Handler) SetQueue(ctx context.Context, connID, roomID string, queue []models.TrackKey) (Result, error) {
	m, err := h.app.SetQueue(ctx, roomID, queue, connID)
	if err != nil {
		return Result{}, err
	}
	h.publish(ctx, m)
	h.announceQueueGrowth(ctx, connID, roomID, m.Added)
	return Result{Snapshot: m.Snapshot}, nil
}

// Enqueue appends key to the room's queue
func (h *Handler) Enqueue(ctx context.Context, connID, roomID string, key models.TrackKey) (Result, error) {
	m, err := h.app.Enqueue(ctx, roomID, key, connID)
	if err != nil {
		return Result{}, err
	}
	h.publish(ctx, m)
	h.announceQueueGrowth(ctx, connID, roomID, m.Added)
	return Result{Snapshot: m.Snapshot}, nil
}

// Emote relays symbol to the other members
func (h *Handler) Emote(ctx context.Context, connID, roomID, symbol string) error {
	if symbol == "" {
		return fmt.Errorf("%w: empty emote", ErrBadRequest)
	}
	return h.app.Emote(ctx, roomID, symbol, connID)
}

func (h *Handler) resolve(ctx context.Context, key models.TrackKey) error {
	if h.catalog == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, h.config.CatalogTimeout)
	defer cancel()
	return h.catalog.Resolve(ctx, key)
}

// unavailable parks the room on key at Paused(0) and tells everyone why
// it is not playing.
func (h *Handler) unavailable(ctx context.Context, connID, roomID string, key models.TrackKey, cause error) (Result, error) {
	log.Warn().
		Err(cause).
		Str("room_id", roomID).
		Str("track_key", key.String()).
		Msg("catalog could not resolve track")

	m, err := h.app.ChangeSong(ctx, roomID, key, connID)
	if err != nil {
		return Result{}, err
	}
	h.publish(ctx, m)

	notice := fmt.Sprintf("Track %s is unavailable right now", key)
	if err := h.app.Notify(ctx, roomID, notice, connID); err != nil {
		log.Debug().Err(err).Str("room_id", roomID).Msg("failed to send unavailable notice")
	}
	return Result{Snapshot: m.Snapshot, Notice: notice}, nil
}

func (h *Handler) announceQueueGrowth(ctx context.Context, connID, roomID string, added int) {
	if added <= 0 {
		return
	}
	text := fmt.Sprintf("%d song(s) added to the queue", added)
	if err := h.app.Notify(ctx, roomID, text, connID); err != nil {
		log.Debug().Err(err).Str("room_id", roomID).Msg("failed to send queue notice")
	}
}

// publish mirrors an applied event to the relay. Failures never fail the intent.
func (h *Handler) publish(ctx context.Context, m *room.Mutation) {
	if m == nil || m.Event == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), h.config.PublishTimeout)
	defer cancel()

	if err := h.publisher.Publish(ctx, m.Event); err != nil {
		log.Warn().
			Err(err).
			Str("room_id", m.Event.RoomID).
			Str("event_id", m.Event.ID).
			Msg("failed to relay room event")
	}
}
