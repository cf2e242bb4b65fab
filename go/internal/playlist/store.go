// Package playlist stores named song collections shared by every connected
// client. Stores read and write the whole list; there are no partial writes.
package playlist

import (
	"context"
	"errors"

	"github.com/zwl098/yusic/go/internal/models"
)

var (
	ErrPlaylistNotFound = errors.New("playlist not found")
	ErrInvalidName      = errors.New("playlist name is required")
)

// Store is a keyed collection of playlists with whole-list load and save
type Store interface {
	Load(ctx context.Context) ([]models.Playlist, error)
	Save(ctx context.Context, playlists []models.Playlist) error
}
