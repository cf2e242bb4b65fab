package playlist

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/zwl098/yusic/go/internal/models"
)

// DefaultRedisKey is the key holding the JSON-encoded playlist list
const DefaultRedisKey = "yusic:playlists"

// RedisStore keeps the whole playlist list under a single key, so every
// save is one atomic SET.
type RedisStore struct {
	client *redis.Client
	key    string
}

// NewRedisStore creates a store on client. An empty key uses DefaultRedisKey.
func NewRedisStore(client *redis.Client, key string) *RedisStore {
	if key == "" {
		key = DefaultRedisKey
	}
	return &RedisStore{client: client, key: key}
}

func (s *RedisStore) Load(ctx context.Context) ([]models.Playlist, error) {
	data, err := s.client.Get(ctx, s.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return []models.Playlist{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", s.key, err)
	}

	var playlists []models.Playlist
	if err := json.Unmarshal(data, &playlists); err != nil {
		return nil, fmt.Errorf("decode playlists: %w", err)
	}
	if playlists == nil {
		playlists = []models.Playlist{}
	}
	return playlists, nil
}

func (s *RedisStore) Save(ctx context.Context, playlists []models.Playlist) error {
	if playlists == nil {
		playlists = []models.Playlist{}
	}
	data, err := json.Marshal(playlists)
	if err != nil {
		return fmt.Errorf("encode playlists: %w", err)
	}
	if err := s.client.Set(ctx, s.key, data, 0).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", s.key, err)
	}
	return nil
}

// Ping checks the connection
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
