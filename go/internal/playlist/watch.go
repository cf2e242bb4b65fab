package playlist

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"

	"github.com/zwl098/yusic/go/internal/models"
)

// Watch reloads the file store whenever the file changes on disk and
// rebroadcasts the list, so hand edits reach connected clients. It blocks
// until ctx is done.
func (a *App) Watch(ctx context.Context, store *FileStore) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	// Watch the directory: saves replace the file by rename.
	dir := filepath.Dir(store.path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	target := filepath.Clean(store.path)

	log.Info().Str("path", target).Msg("watching playlist file")
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			a.reload(ctx)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Warn().Err(err).Msg("playlist watcher error")
		}
	}
}

// reload broadcasts the stored list if it differs from the last one sent
func (a *App) reload(ctx context.Context) {
	a.mu.Lock()
	defer a.mu.Unlock()

	playlists, err := a.store.Load(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("failed to reload playlists")
		return
	}
	if a.unchanged(playlists) {
		return
	}
	a.remember(playlists)
	log.Debug().Int("playlists", len(playlists)).Msg("playlists reloaded from disk")
	a.broadcastChanged(ctx, playlists, nil)
}

func (a *App) unchanged(playlists []models.Playlist) bool {
	data, err := json.Marshal(playlists)
	return err == nil && bytes.Equal(data, a.lastSaved)
}

func (a *App) remember(playlists []models.Playlist) {
	if data, err := json.Marshal(playlists); err == nil {
		a.lastSaved = data
	}
}
