package playlist

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/zwl098/yusic/go/internal/models"
	"github.com/zwl098/yusic/go/internal/playlist/db"
	"github.com/zwl098/yusic/go/internal/sqlutil"
)

// PostgresStore keeps playlists in the playlists table. Save rewrites the
// table inside one transaction.
type PostgresStore struct {
	queries *db.Queries
	db      *sql.DB
}

// NewPostgresStore creates a new Postgres-backed store
func NewPostgresStore(database *sql.DB) *PostgresStore {
	return &PostgresStore{
		queries: db.New(database),
		db:      database,
	}
}

// Migrate creates the playlists table if needed
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if err := s.queries.CreateSchema(ctx); err != nil {
		return fmt.Errorf("failed to create playlists table: %w", err)
	}
	return nil
}

func (s *PostgresStore) Load(ctx context.Context) ([]models.Playlist, error) {
	rows, err := s.queries.ListPlaylists(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list playlists: %w", err)
	}

	playlists := make([]models.Playlist, 0, len(rows))
	for _, row := range rows {
		p, err := dbPlaylistToModel(row)
		if err != nil {
			return nil, err
		}
		playlists = append(playlists, p)
	}
	return playlists, nil
}

func (s *PostgresStore) Save(ctx context.Context, playlists []models.Playlist) error {
	return sqlutil.Run(ctx, s.db, s.queries.WithTx, func(q *db.Queries) error {
		if err := q.DeleteAllPlaylists(ctx); err != nil {
			return fmt.Errorf("failed to clear playlists: %w", err)
		}
		for i, p := range playlists {
			params, err := modelToInsertParams(p, i)
			if err != nil {
				return err
			}
			if err := q.InsertPlaylist(ctx, params); err != nil {
				return fmt.Errorf("failed to insert playlist %s: %w", p.ID, err)
			}
		}
		return nil
	})
}

func dbPlaylistToModel(row db.Playlist) (models.Playlist, error) {
	p := models.Playlist{
		ID:    row.ID,
		Name:  row.Name,
		Songs: []models.Song{},
	}
	if created := sqlutil.FromSqlTime(row.CreatedAt); !created.IsZero() {
		p.CreatedAt = created.UnixMilli()
	}
	if err := sqlutil.FromNullRawMessage(row.Songs, &p.Songs); err != nil {
		return models.Playlist{}, fmt.Errorf("failed to decode songs of playlist %s: %w", row.ID, err)
	}
	return p, nil
}

func modelToInsertParams(p models.Playlist, position int) (db.InsertPlaylistParams, error) {
	songs := p.Songs
	if songs == nil {
		songs = []models.Song{}
	}
	raw, err := sqlutil.ToNullRawMessage(songs)
	if err != nil {
		return db.InsertPlaylistParams{}, fmt.Errorf("failed to encode songs of playlist %s: %w", p.ID, err)
	}

	params := db.InsertPlaylistParams{
		ID:       p.ID,
		Name:     p.Name,
		Position: int32(position),
		Songs:    raw,
	}
	if p.CreatedAt != 0 {
		params.CreatedAt = sqlutil.ToSqlTime(time.UnixMilli(p.CreatedAt))
	}
	return params, nil
}
