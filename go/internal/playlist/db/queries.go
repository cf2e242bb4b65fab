// Package db holds the playlist table queries.
package db

import (
	"context"
	"database/sql"

	"github.com/sqlc-dev/pqtype"
)

// Schema creates the playlists table. Songs are stored as a jsonb array.
const Schema = `
CREATE TABLE IF NOT EXISTS playlists (
    id         TEXT PRIMARY KEY,
    name       TEXT NOT NULL,
    position   INTEGER NOT NULL,
    created_at TIMESTAMPTZ,
    songs      JSONB
)`

type DBTX interface {
	ExecContext(context.Context, string, ...interface{}) (sql.Result, error)
	QueryContext(context.Context, string, ...interface{}) (*sql.Rows, error)
}

type Queries struct {
	db DBTX
}

func New(db DBTX) *Queries {
	return &Queries{db: db}
}

func (q *Queries) WithTx(tx *sql.Tx) *Queries {
	return &Queries{db: tx}
}

type Playlist struct {
	ID        string
	Name      string
	Position  int32
	CreatedAt sql.NullTime
	Songs     pqtype.NullRawMessage
}

func (q *Queries) CreateSchema(ctx context.Context) error {
	_, err := q.db.ExecContext(ctx, Schema)
	return err
}

const listPlaylists = `SELECT id, name, position, created_at, songs FROM playlists ORDER BY position`

func (q *Queries) ListPlaylists(ctx context.Context) ([]Playlist, error) {
	rows, err := q.db.QueryContext(ctx, listPlaylists)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []Playlist
	for rows.Next() {
		var i Playlist
		if err := rows.Scan(&i.ID, &i.Name, &i.Position, &i.CreatedAt, &i.Songs); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const deleteAllPlaylists = `DELETE FROM playlists`

func (q *Queries) DeleteAllPlaylists(ctx context.Context) error {
	_, err := q.db.ExecContext(ctx, deleteAllPlaylists)
	return err
}

const insertPlaylist = `INSERT INTO playlists (id, name, position, created_at, songs) VALUES ($1, $2, $3, $4, $5)`

type InsertPlaylistParams struct {
	ID        string
	Name      string
	Position  int32
	CreatedAt sql.NullTime
	Songs     pqtype.NullRawMessage
}

func (q *Queries) InsertPlaylist(ctx context.Context, arg InsertPlaylistParams) error {
	_, err := q.db.ExecContext(ctx, insertPlaylist,
		arg.ID,
		arg.Name,
		arg.Position,
		arg.CreatedAt,
		arg.Songs,
	)
	return err
}
