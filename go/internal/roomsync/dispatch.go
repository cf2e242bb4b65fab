package roomsync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/zwl098/yusic/go/internal/models"
)

// Dispatch applies one websocket intent on behalf of connID and returns its
// ack. Room intents without a room_id target the connection's current room.
func (h *Handler) Dispatch(ctx context.Context, connID string, intent Intent) Ack {
	data, notice, err := h.dispatch(ctx, connID, intent)

	ack := Ack{Type: AckType, ID: intent.ID, OK: err == nil, Notice: notice}
	if err != nil {
		ack.Error = Code(err)
		logEvent := log.Debug()
		if ack.Error == CodeInternal {
			logEvent = log.Error()
		}
		logEvent.
			Err(err).
			Str("conn_id", connID).
			Str("intent", string(intent.Type)).
			Str("code", string(ack.Error)).
			Msg("intent rejected")
		return ack
	}
	ack.Data = data
	return ack
}

func (h *Handler) dispatch(ctx context.Context, connID string, intent Intent) (interface{}, string, error) {
	switch intent.Type {
	case IntentCreateRoom:
		snap, err := h.CreateRoom(ctx, connID)
		return snap, "", err

	case IntentJoinRoom:
		var d roomRef
		if err := decode(intent.Data, &d); err != nil {
			return nil, "", err
		}
		if d.RoomID == "" {
			return nil, "", fmt.Errorf("%w: room_id is required", ErrBadRequest)
		}
		snap, err := h.JoinRoom(ctx, connID, d.RoomID)
		return snap, "", err

	case IntentLeaveRoom:
		h.Leave(ctx, connID)
		return nil, "", nil

	case IntentState:
		var d roomRef
		roomID, err := h.target(connID, intent.Data, &d, &d)
		if err != nil {
			return nil, "", err
		}
		snap, err := h.State(roomID)
		return snap, "", err

	case IntentPlay:
		var d playData
		roomID, err := h.target(connID, intent.Data, &d, &d.roomRef)
		if err != nil {
			return nil, "", err
		}
		return result(h.Play(ctx, connID, roomID, d.TrackKey))

	case IntentPause:
		var d roomRef
		roomID, err := h.target(connID, intent.Data, &d, &d)
		if err != nil {
			return nil, "", err
		}
		return result(h.Pause(ctx, connID, roomID))

	case IntentSeek:
		var d seekData
		roomID, err := h.target(connID, intent.Data, &d, &d.roomRef)
		if err != nil {
			return nil, "", err
		}
		if d.Position == nil {
			return nil, "", fmt.Errorf("%w: position is required", ErrBadRequest)
		}
		return result(h.Seek(ctx, connID, roomID, *d.Position))

	case IntentChangeSong:
		var d trackData
		roomID, err := h.target(connID, intent.Data, &d, &d.roomRef)
		if err != nil {
			return nil, "", err
		}
		if d.TrackKey == nil {
			return nil, "", fmt.Errorf("%w: track_key is required", ErrBadRequest)
		}
		return result(h.ChangeSong(ctx, connID, roomID, *d.TrackKey))

	case IntentSetQueue:
		var d queueData
		roomID, err := h.target(connID, intent.Data, &d, &d.roomRef)
		if err != nil {
			return nil, "", err
		}
		if d.Queue == nil {
			d.Queue = []models.TrackKey{}
		}
		return result(h.SetQueue(ctx, connID, roomID, d.Queue))

	case IntentEnqueue:
		var d trackData
		roomID, err := h.target(connID, intent.Data, &d, &d.roomRef)
		if err != nil {
			return nil, "", err
		}
		if d.TrackKey == nil {
			return nil, "", fmt.Errorf("%w: track_key is required", ErrBadRequest)
		}
		return result(h.Enqueue(ctx, connID, roomID, *d.TrackKey))

	case IntentEmote:
		var d emoteData
		roomID, err := h.target(connID, intent.Data, &d, &d.roomRef)
		if err != nil {
			return nil, "", err
		}
		return nil, "", h.Emote(ctx, connID, roomID, d.Symbol)

	case IntentPlaylistGetAll, IntentPlaylistCreate, IntentPlaylistAdd, IntentPlaylistRemove, IntentPlaylistDelete:
		data, err := h.dispatchPlaylist(ctx, intent)
		return data, "", err
	}

	return nil, "", fmt.Errorf("%w: unknown intent %q", ErrBadRequest, intent.Type)
}

func (h *Handler) dispatchPlaylist(ctx context.Context, intent Intent) (interface{}, error) {
	if h.playlists == nil {
		return nil, fmt.Errorf("%w: playlists are not enabled", ErrBadRequest)
	}

	switch intent.Type {
	case IntentPlaylistGetAll:
		return h.playlists.GetAll(ctx)

	case IntentPlaylistCreate:
		var d playlistCreateData
		if err := decode(intent.Data, &d); err != nil {
			return nil, err
		}
		return h.playlists.Create(ctx, d.Name)

	case IntentPlaylistAdd:
		var d playlistAddData
		if err := decode(intent.Data, &d); err != nil {
			return nil, err
		}
		return h.playlists.AddSong(ctx, d.PlaylistID, d.Song)

	case IntentPlaylistRemove:
		var d playlistRemoveData
		if err := decode(intent.Data, &d); err != nil {
			return nil, err
		}
		return h.playlists.RemoveSong(ctx, d.PlaylistID, d.SongID)

	default:
		var d playlistDeleteData
		if err := decode(intent.Data, &d); err != nil {
			return nil, err
		}
		return nil, h.playlists.Delete(ctx, d.PlaylistID)
	}
}

// target decodes data into v and picks the room: ref.RoomID when given,
// otherwise the room connID has joined.
func (h *Handler) target(connID string, data json.RawMessage, v interface{}, ref *roomRef) (string, error) {
	if err := decode(data, v); err != nil {
		return "", err
	}
	if ref.RoomID != "" {
		return ref.RoomID, nil
	}
	roomID, ok := h.tracker.RoomOf(connID)
	if !ok {
		return "", ErrNotInRoom
	}
	return roomID, nil
}

func decode(data json.RawMessage, v interface{}) error {
	if len(data) == 0 || string(data) == "null" {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		if errors.Is(err, models.ErrInvalidTrackKey) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrBadRequest, err)
	}
	return nil
}

func result(r Result, err error) (interface{}, string, error) {
	if err != nil {
		return nil, "", err
	}
	return r.Snapshot, r.Notice, nil
}
