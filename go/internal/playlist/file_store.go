package playlist

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/zwl098/yusic/go/internal/models"
)

// FileStore keeps playlists in a single JSON file
type FileStore struct {
	path string
	mu   sync.Mutex
}

// NewFileStore creates a store backed by path. The file is created on first save.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Load reads every playlist. A missing file is an empty list.
func (s *FileStore) Load(ctx context.Context) ([]models.Playlist, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return []models.Playlist{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read playlists: %w", err)
	}

	var playlists []models.Playlist
	if err := json.Unmarshal(data, &playlists); err != nil {
		return nil, fmt.Errorf("decode playlists %s: %w", s.path, err)
	}
	if playlists == nil {
		playlists = []models.Playlist{}
	}
	return playlists, nil
}

// Save replaces the file atomically via a temp file and rename.
func (s *FileStore) Save(ctx context.Context, playlists []models.Playlist) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if playlists == nil {
		playlists = []models.Playlist{}
	}
	data, err := json.MarshalIndent(playlists, "", "  ")
	if err != nil {
		return fmt.Errorf("encode playlists: %w", err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".playlists-*.json")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write playlists: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("replace playlists: %w", err)
	}
	return nil
}
