package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/zwl098/yusic/go/internal/models"
	"github.com/zwl098/yusic/go/internal/roomsync"
)

// ConnectionIDHeader names the websocket connection an HTTP request acts
// for. That connection is left out of the resulting broadcast.
const ConnectionIDHeader = "X-Connection-ID"

const maxRequestBody = 64 * 1024

// RoomHandler serves the HTTP request/ack room API
type RoomHandler struct {
	rooms *roomsync.Handler
}

// NewRoomHandler creates a new room HTTP handler
func NewRoomHandler(rooms *roomsync.Handler) *RoomHandler {
	return &RoomHandler{rooms: rooms}
}

// MutationResponse is the body returned by every room mutation
type MutationResponse struct {
	OK     bool            `json:"ok"`
	State  models.Snapshot `json:"state"`
	Notice string          `json:"notice,omitempty"`
}

// ErrorResponse carries an ack error code
type ErrorResponse struct {
	Error roomsync.ErrorCode `json:"error"`
}

// HandleCreateRoom handles POST /rooms
func (h *RoomHandler) HandleCreateRoom(w http.ResponseWriter, r *http.Request) {
	// Creating over HTTP never joins: only websocket connections are members.
	snap, err := h.rooms.CreateRoom(r.Context(), "")
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, snap)
}

// HandleGetState handles GET /rooms/{id}/state
func (h *RoomHandler) HandleGetState(w http.ResponseWriter, r *http.Request) {
	snap, err := h.rooms.State(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// HandlePlay handles POST /rooms/{id}/play with an optional track_key
func (h *RoomHandler) HandlePlay(w http.ResponseWriter, r *http.Request) {
	var body struct {
		TrackKey *models.TrackKey `json:"track_key"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, err)
		return
	}
	h.respond(w, r)(h.rooms.Play(r.Context(), originOf(r), r.PathValue("id"), body.TrackKey))
}

// HandlePause handles POST /rooms/{id}/pause
func (h *RoomHandler) HandlePause(w http.ResponseWriter, r *http.Request) {
	h.respond(w, r)(h.rooms.Pause(r.Context(), originOf(r), r.PathValue("id")))
}

// HandleSeek handles POST /rooms/{id}/seek
func (h *RoomHandler) HandleSeek(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Position *float64 `json:"position"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, err)
		return
	}
	if body.Position == nil {
		writeError(w, fmt.Errorf("%w: position is required", roomsync.ErrBadRequest))
		return
	}
	h.respond(w, r)(h.rooms.Seek(r.Context(), originOf(r), r.PathValue("id"), *body.Position))
}

// HandleChangeSong handles POST /rooms/{id}/song
func (h *RoomHandler) HandleChangeSong(w http.ResponseWriter, r *http.Request) {
	var body struct {
		TrackKey *models.TrackKey `json:"track_key"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, err)
		return
	}
	if body.TrackKey == nil {
		writeError(w, fmt.Errorf("%w: track_key is required", roomsync.ErrBadRequest))
		return
	}
	h.respond(w, r)(h.rooms.ChangeSong(r.Context(), originOf(r), r.PathValue("id"), *body.TrackKey))
}

// HandleSetQueue handles POST /rooms/{id}/queue
func (h *RoomHandler) HandleSetQueue(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Queue []models.TrackKey `json:"queue"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, err)
		return
	}
	if body.Queue == nil {
		body.Queue = []models.TrackKey{}
	}
	h.respond(w, r)(h.rooms.SetQueue(r.Context(), originOf(r), r.PathValue("id"), body.Queue))
}

func (h *RoomHandler) respond(w http.ResponseWriter, r *http.Request) func(roomsync.Result, error) {
	return func(res roomsync.Result, err error) {
		if err != nil {
			log.Debug().Err(err).Str("path", r.URL.Path).Msg("room request failed")
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, MutationResponse{OK: true, State: res.Snapshot, Notice: res.Notice})
	}
}

// RegisterRoomRoutes registers the room API routes
func (h *RoomHandler) RegisterRoomRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /rooms", h.HandleCreateRoom)
	mux.HandleFunc("GET /rooms/{id}/state", h.HandleGetState)
	mux.HandleFunc("POST /rooms/{id}/play", h.HandlePlay)
	mux.HandleFunc("POST /rooms/{id}/pause", h.HandlePause)
	mux.HandleFunc("POST /rooms/{id}/seek", h.HandleSeek)
	mux.HandleFunc("POST /rooms/{id}/song", h.HandleChangeSong)
	mux.HandleFunc("POST /rooms/{id}/queue", h.HandleSetQueue)
}

func originOf(r *http.Request) string {
	return r.Header.Get(ConnectionIDHeader)
}

// decodeBody decodes an optional JSON body into v
func decodeBody(r *http.Request, v interface{}) error {
	err := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody)).Decode(v)
	switch {
	case err == nil, errors.Is(err, io.EOF):
		return nil
	case errors.Is(err, models.ErrInvalidTrackKey):
		return err
	default:
		return fmt.Errorf("%w: %v", roomsync.ErrBadRequest, err)
	}
}

func writeError(w http.ResponseWriter, err error) {
	code := roomsync.Code(err)
	status := http.StatusBadRequest
	switch code {
	case roomsync.CodeRoomNotFound, roomsync.CodePlaylistNotFound:
		status = http.StatusNotFound
	case roomsync.CodeInternal:
		status = http.StatusInternalServerError
		log.Error().Err(err).Msg("room request failed")
	}
	writeJSON(w, status, ErrorResponse{Error: code})
}
