package gateway

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/log"
)

// WebSocketHandler handles WebSocket upgrade requests for room connections
type WebSocketHandler struct {
	connectionManager *ConnectionManager
	dispatcher        Dispatcher
	rooms             func() int
}

// NewWebSocketHandler creates a new WebSocket handler. rooms reports the
// number of live rooms for the stats endpoint.
func NewWebSocketHandler(cm *ConnectionManager, dispatcher Dispatcher, rooms func() int) *WebSocketHandler {
	return &WebSocketHandler{
		connectionManager: cm,
		dispatcher:        dispatcher,
		rooms:             rooms,
	}
}

// HandleRoomConnection upgrades the request. The client then creates or
// joins a room with intents over the socket.
func (h *WebSocketHandler) HandleRoomConnection(w http.ResponseWriter, r *http.Request) {
	if _, err := h.connectionManager.UpgradeConnection(w, r, h.dispatcher); err != nil {
		// The upgrader has already replied to the client.
		log.Error().Err(err).Str("remote_addr", r.RemoteAddr).Msg("failed to upgrade WebSocket connection")
	}
}

// StatsResponse is the body of GET /ws/stats
type StatsResponse struct {
	ConnectionStats
	ActiveRooms int `json:"active_rooms"`
}

// HandleConnectionStats returns statistics about active connections
func (h *WebSocketHandler) HandleConnectionStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.stats())
}

func (h *WebSocketHandler) stats() StatsResponse {
	resp := StatsResponse{ConnectionStats: h.connectionManager.GetConnectionStats()}
	if h.rooms != nil {
		resp.ActiveRooms = h.rooms()
	}
	return resp
}

// RegisterRoutes registers WebSocket routes with an HTTP mux
func (h *WebSocketHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /ws/room", h.HandleRoomConnection)
	mux.HandleFunc("GET /ws/stats", h.HandleConnectionStats)
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}
