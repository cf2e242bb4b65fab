package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/cors"
	"github.com/rs/zerolog/log"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/zwl098/yusic/go/internal/models"
)

func setupServer(config *Config, services *Services) *http.Server {
	mux := http.NewServeMux()

	// Setup CORS middleware
	c := cors.New(cors.Options{
		AllowedMethods: []string{
			http.MethodHead,
			http.MethodGet,
			http.MethodPost,
		},
		AllowedOrigins: []string{"*"},
		AllowedHeaders: []string{"*"},
	})

	// Register services
	services.Gateway.RegisterRoutes(mux)

	// Add health check and info endpoints
	setupHealthCheck(mux)
	setupInfo(mux, services)

	// Wrap with CORS
	handler := c.Handler(mux)

	// Setup HTTP/2 server
	return &http.Server{
		Addr:              fmt.Sprintf(":%s", config.Server.Port),
		Handler:           h2c.NewHandler(handler, &http2.Server{}),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

func setupHealthCheck(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("OK")); err != nil {
			log.Error().Err(err).Msg("failed to write health check response")
		}
	})
}

func setupInfo(mux *http.ServeMux, services *Services) {
	mux.HandleFunc("GET /info", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		body := services.Gateway.GetStats()
		rooms := services.Registry.List()
		snapshots := make([]models.Snapshot, 0, len(rooms))
		now := time.Now()
		for i := range rooms {
			snapshots = append(snapshots, rooms[i].SnapshotAt(now))
		}
		body["rooms"] = snapshots
		if err := json.NewEncoder(w).Encode(body); err != nil {
			log.Error().Err(err).Msg("failed to write info response")
		}
	})
}
