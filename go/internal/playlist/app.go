package playlist

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/zwl098/yusic/go/internal/events"
	"github.com/zwl098/yusic/go/internal/models"
)

// Notifier fans an event out to every connection regardless of room
type Notifier interface {
	BroadcastAll(ctx context.Context, event *events.SyncEvent) error
}

// App applies playlist changes as load-modify-save cycles and announces
// the resulting list to every client.
type App struct {
	store    Store
	notifier Notifier
	clock    clockwork.Clock

	// serializes load-modify-save so concurrent edits are not lost
	mu        sync.Mutex
	lastSaved []byte
}

// NewApp creates a new playlist App
func NewApp(store Store, notifier Notifier, clock clockwork.Clock) *App {
	return &App{
		store:    store,
		notifier: notifier,
		clock:    clock,
	}
}

// GetAll returns every playlist
func (a *App) GetAll(ctx context.Context) ([]models.Playlist, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.store.Load(ctx)
}

// Create adds an empty playlist named name
func (a *App) Create(ctx context.Context, name string) (models.Playlist, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return models.Playlist{}, ErrInvalidName
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	playlists, err := a.store.Load(ctx)
	if err != nil {
		return models.Playlist{}, err
	}
	created := models.Playlist{
		ID:        uuid.New().String(),
		Name:      name,
		CreatedAt: a.clock.Now().UnixMilli(),
		Songs:     []models.Song{},
	}
	playlists = append(playlists, created)
	if err := a.save(ctx, playlists); err != nil {
		return models.Playlist{}, err
	}

	log.Info().Str("playlist_id", created.ID).Str("name", name).Msg("playlist created")
	a.broadcastChanged(ctx, playlists, nil)
	return created, nil
}

// AddSong appends song to the playlist. A song whose id is already present
// is ignored and nothing is broadcast.
func (a *App) AddSong(ctx context.Context, playlistID string, song models.Song) (models.Playlist, error) {
	if song.ID == "" {
		return models.Playlist{}, fmt.Errorf("%w: song id is required", models.ErrInvalidTrackKey)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	playlists, idx, err := a.find(ctx, playlistID)
	if err != nil {
		return models.Playlist{}, err
	}
	p := &playlists[idx]
	for _, s := range p.Songs {
		if s.ID == song.ID {
			return *p, nil
		}
	}
	p.Songs = append(p.Songs, song)
	if err := a.save(ctx, playlists); err != nil {
		return models.Playlist{}, err
	}

	a.broadcastChanged(ctx, playlists, p)
	return *p, nil
}

// RemoveSong drops every song with songID from the playlist
func (a *App) RemoveSong(ctx context.Context, playlistID, songID string) (models.Playlist, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	playlists, idx, err := a.find(ctx, playlistID)
	if err != nil {
		return models.Playlist{}, err
	}
	p := &playlists[idx]
	kept := make([]models.Song, 0, len(p.Songs))
	for _, s := range p.Songs {
		if s.ID != songID {
			kept = append(kept, s)
		}
	}
	p.Songs = kept
	if err := a.save(ctx, playlists); err != nil {
		return models.Playlist{}, err
	}

	a.broadcastChanged(ctx, playlists, p)
	return *p, nil
}

// Delete removes the playlist. Deleting an unknown id is not an error.
func (a *App) Delete(ctx context.Context, playlistID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	playlists, err := a.store.Load(ctx)
	if err != nil {
		return err
	}
	kept := playlists[:0]
	for _, p := range playlists {
		if p.ID != playlistID {
			kept = append(kept, p)
		}
	}
	if err := a.save(ctx, kept); err != nil {
		return err
	}

	log.Info().Str("playlist_id", playlistID).Msg("playlist deleted")
	a.broadcastChanged(ctx, kept, nil)
	return nil
}

func (a *App) find(ctx context.Context, playlistID string) ([]models.Playlist, int, error) {
	playlists, err := a.store.Load(ctx)
	if err != nil {
		return nil, 0, err
	}
	for i := range playlists {
		if playlists[i].ID == playlistID {
			return playlists, i, nil
		}
	}
	return nil, 0, fmt.Errorf("%w: %s", ErrPlaylistNotFound, playlistID)
}

func (a *App) save(ctx context.Context, playlists []models.Playlist) error {
	if err := a.store.Save(ctx, playlists); err != nil {
		return fmt.Errorf("failed to save playlists: %w", err)
	}
	a.remember(playlists)
	return nil
}

// broadcastChanged sends the whole list to everyone, followed by the single
// changed playlist when there is one.
func (a *App) broadcastChanged(ctx context.Context, playlists []models.Playlist, changed *models.Playlist) {
	if a.notifier == nil {
		return
	}
	now := a.clock.Now()
	if playlists == nil {
		playlists = []models.Playlist{}
	}

	a.broadcast(ctx, events.EventTypePlaylists, now, events.PlaylistsPayload{Playlists: playlists})
	if changed != nil {
		a.broadcast(ctx, events.EventTypePlaylistUpdated, now, events.PlaylistUpdatedPayload{Playlist: *changed})
	}
}

func (a *App) broadcast(ctx context.Context, eventType events.EventType, now time.Time, payload interface{}) {
	event, err := events.New("", eventType, now, payload)
	if err != nil {
		log.Error().Err(err).Msg("failed to build playlist event")
		return
	}
	if err := a.notifier.BroadcastAll(ctx, event); err != nil {
		log.Warn().Err(err).Str("event_type", string(eventType)).Msg("failed to broadcast playlist event")
	}
}
