package roomsync

import (
	"encoding/json"
	"errors"

	"github.com/zwl098/yusic/go/internal/models"
	"github.com/zwl098/yusic/go/internal/playlist"
	"github.com/zwl098/yusic/go/internal/room"
)

// IntentType names a client -> server request
type IntentType string

const (
	IntentCreateRoom     IntentType = "create_room"
	IntentJoinRoom       IntentType = "join_room"
	IntentLeaveRoom      IntentType = "leave_room"
	IntentState          IntentType = "state"
	IntentPlay           IntentType = "play"
	IntentPause          IntentType = "pause"
	IntentSeek           IntentType = "seek"
	IntentChangeSong     IntentType = "change_song"
	IntentSetQueue       IntentType = "set_queue"
	IntentEnqueue        IntentType = "enqueue"
	IntentEmote          IntentType = "emote"
	IntentPlaylistGetAll IntentType = "playlist:get-all"
	IntentPlaylistCreate IntentType = "playlist:create"
	IntentPlaylistAdd    IntentType = "playlist:add"
	IntentPlaylistRemove IntentType = "playlist:remove"
	IntentPlaylistDelete IntentType = "playlist:delete"
)

// Intent is a client frame: {"id","type","data"}. ID correlates the ack.
type Intent struct {
	ID   string          `json:"id"`
	Type IntentType      `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// AckType is the frame type of every ack
const AckType = "ack"

// Ack answers exactly one Intent
type Ack struct {
	Type   string      `json:"type"`
	ID     string      `json:"id"`
	OK     bool        `json:"ok"`
	Error  ErrorCode   `json:"error,omitempty"`
	Notice string      `json:"notice,omitempty"`
	Data   interface{} `json:"data,omitempty"`
}

// ErrorCode is the machine-readable failure reason carried by an ack
type ErrorCode string

const (
	CodeRoomNotFound     ErrorCode = "room_not_found"
	CodeNoTrackSelected  ErrorCode = "no_track_selected"
	CodeInvalidPosition  ErrorCode = "invalid_position"
	CodeInvalidTrackKey  ErrorCode = "invalid_track_key"
	CodePlaylistNotFound ErrorCode = "playlist_not_found"
	CodeBadRequest       ErrorCode = "bad_request"
	CodeInternal         ErrorCode = "internal"
)

var (
	// ErrNotInRoom is returned for room intents from a connection that has not joined one
	ErrNotInRoom = errors.New("connection is not in a room")

	// ErrBadRequest is returned for undecodable or unknown intents
	ErrBadRequest = errors.New("bad request")
)

// Code maps err to the ack error code
func Code(err error) ErrorCode {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, room.ErrRoomNotFound), errors.Is(err, ErrNotInRoom):
		return CodeRoomNotFound
	case errors.Is(err, room.ErrNoTrackSelected):
		return CodeNoTrackSelected
	case errors.Is(err, room.ErrInvalidPosition):
		return CodeInvalidPosition
	case errors.Is(err, models.ErrInvalidTrackKey):
		return CodeInvalidTrackKey
	case errors.Is(err, playlist.ErrPlaylistNotFound):
		return CodePlaylistNotFound
	case errors.Is(err, ErrBadRequest), errors.Is(err, playlist.ErrInvalidName):
		return CodeBadRequest
	default:
		return CodeInternal
	}
}

// Result is what a room operation returns to its caller
type Result struct {
	Snapshot models.Snapshot
	Notice   string // soft, non-fatal message for the originator
}

type roomRef struct {
	RoomID string `json:"room_id,omitempty"`
}

type playData struct {
	roomRef
	TrackKey *models.TrackKey `json:"track_key,omitempty"`
}

type seekData struct {
	roomRef
	Position *float64 `json:"position"`
}

type trackData struct {
	roomRef
	TrackKey *models.TrackKey `json:"track_key"`
}

type queueData struct {
	roomRef
	Queue []models.TrackKey `json:"queue"`
}

type emoteData struct {
	roomRef
	Symbol string `json:"symbol"`
}

type playlistCreateData struct {
	Name string `json:"name"`
}

type playlistAddData struct {
	PlaylistID string      `json:"playlist_id"`
	Song       models.Song `json:"song"`
}

type playlistRemoveData struct {
	PlaylistID string `json:"playlist_id"`
	SongID     string `json:"song_id"`
}

type playlistDeleteData struct {
	PlaylistID string `json:"playlist_id"`
}
