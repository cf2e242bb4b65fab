package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/zwl098/yusic/go/internal/dbconfig"
	"github.com/zwl098/yusic/go/internal/models"
	playlistdb "github.com/zwl098/yusic/go/internal/playlist/db"
)

// Copies a playlists.json file into the postgres playlist store.
func main() {
	path := flag.String("file", "playlists.json", "playlists file to import")
	flag.Parse()

	// 1) Load the JSON snapshot
	data, err := os.ReadFile(*path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "read JSON: %v\n", err)
		os.Exit(1)
	}
	var playlists []models.Playlist
	if err := json.Unmarshal(data, &playlists); err != nil {
		fmt.Fprintf(os.Stderr, "unmarshal JSON: %v\n", err)
		os.Exit(1)
	}

	// 2) Connect using shared dbconfig
	ctx := context.Background()
	cfg := dbconfig.NewConfigFromEnv()
	pool, err := pgxpool.New(ctx, cfg.DSN())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to connect: %v\n", err)
		os.Exit(1)
	}
	defer pool.Close()

	if _, err := pool.Exec(ctx, playlistdb.Schema); err != nil {
		fmt.Fprintf(os.Stderr, "create schema: %v\n", err)
		os.Exit(1)
	}

	// 3) Append after existing rows, skipping ids already present
	var next int
	if err := pool.QueryRow(ctx, `SELECT COALESCE(MAX(position) + 1, 0) FROM playlists`).Scan(&next); err != nil {
		fmt.Fprintf(os.Stderr, "read positions: %v\n", err)
		os.Exit(1)
	}

	var (
		total    = len(playlists)
		inserted int
		skipped  int
		errs     int
	)

	for _, p := range playlists {
		songs, err := json.Marshal(p.Songs)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error encoding songs of %s: %v\n", p.ID, err)
			errs++
			continue
		}
		var createdAt *time.Time
		if p.CreatedAt != 0 {
			t := time.UnixMilli(p.CreatedAt).UTC()
			createdAt = &t
		}

		cmdTag, err := pool.Exec(ctx, `
            INSERT INTO playlists (id, name, position, created_at, songs)
            VALUES ($1, $2, $3, $4, $5)
            ON CONFLICT (id) DO NOTHING
        `,
			p.ID, p.Name, next, createdAt, songs,
		)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error inserting playlist %s: %v\n", p.ID, err)
			errs++
			continue
		}
		if cmdTag.RowsAffected() == 1 {
			inserted++
			next++
		} else {
			skipped++
		}
	}

	// 4) Print summary
	fmt.Printf(
		"Playlists seed complete: %d total, %d inserted, %d skipped, %d errors\n",
		total, inserted, skipped, errs,
	)
}
