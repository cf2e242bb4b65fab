package gateway

import (
	"context"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/zwl098/yusic/go/internal/roomsync"
)

// Service is the room gateway: websocket connections, the room API over
// plain HTTP and Connect, and the catalog proxy.
type Service struct {
	connectionManager *ConnectionManager
	wsHandler         *WebSocketHandler
	roomHandler       *RoomHandler
	catalogHandler    *CatalogHandler
	rooms             *roomsync.Handler
}

// Config holds configuration for the gateway service
type Config struct {
	ConnectionConfig ConnectionConfig
}

// DefaultConfig returns default configuration for the gateway
func DefaultConfig() Config {
	return Config{
		ConnectionConfig: DefaultConnectionConfig(),
	}
}

// NewService creates the gateway around an existing connection manager, so
// the room app can be built with it as its broadcaster. catalog may be nil.
func NewService(cm *ConnectionManager, rooms *roomsync.Handler, catalog Catalog) *Service {
	s := &Service{
		connectionManager: cm,
		wsHandler:         NewWebSocketHandler(cm, rooms, rooms.ActiveRooms),
		roomHandler:       NewRoomHandler(rooms),
		rooms:             rooms,
	}
	if catalog != nil {
		s.catalogHandler = NewCatalogHandler(catalog)
	}
	return s
}

// Start runs the broadcast loop until ctx is cancelled
func (s *Service) Start(ctx context.Context) error {
	log.Info().Msg("starting room gateway service")
	s.connectionManager.Start(ctx)
	log.Info().Msg("room gateway service stopped")
	return nil
}

// ConnectionManager returns the manager used as the room broadcaster
func (s *Service) ConnectionManager() *ConnectionManager {
	return s.connectionManager
}

// RegisterRoutes registers the websocket, room and catalog routes
func (s *Service) RegisterRoutes(mux *http.ServeMux) {
	s.wsHandler.RegisterRoutes(mux)
	s.roomHandler.RegisterRoomRoutes(mux)
	roomServicePath, roomServiceHandler := NewRoomServiceHandler(s.rooms)
	mux.Handle(roomServicePath, roomServiceHandler)
	if s.catalogHandler != nil {
		s.catalogHandler.RegisterCatalogRoutes(mux)
	}
	log.Info().Msg("room gateway routes registered")
}

// GetStats returns statistics about the gateway service
func (s *Service) GetStats() map[string]interface{} {
	stats := s.wsHandler.stats()
	return map[string]interface{}{
		"service":           "room_gateway",
		"status":            "running",
		"total_connections": stats.TotalConnections,
		"queued_broadcasts": stats.QueuedBroadcasts,
		"active_rooms":      stats.ActiveRooms,
	}
}
