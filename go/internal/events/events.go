package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SyncEvent is the envelope for every server -> client event.
type SyncEvent struct {
	ID        string          `json:"id"`        // Event UUID
	RoomID    string          `json:"room_id"`   // Room the event belongs to, empty for global events
	Type      EventType       `json:"type"`      // Event type
	Timestamp time.Time       `json:"timestamp"` // Server time the event was applied
	Data      json.RawMessage `json:"data"`      // Event-specific payload
}

// EventType represents the type of sync event
type EventType string

const (
	EventTypePlay            EventType = "PLAY"
	EventTypePause           EventType = "PAUSE"
	EventTypeSeek            EventType = "SEEK"
	EventTypeSongChange      EventType = "SONG_CHANGE"
	EventTypeQueue           EventType = "QUEUE"
	EventTypeMemberCount     EventType = "MEMBER_COUNT"
	EventTypeEmote           EventType = "EMOTE"
	EventTypeNotification    EventType = "NOTIFICATION"
	EventTypePlaylists       EventType = "PLAYLISTS"
	EventTypePlaylistUpdated EventType = "PLAYLIST_UPDATED"
)

// Playback reports whether events of this type change the shared timeline.
// Playback events are never dropped; presence events are best-effort.
func (t EventType) Playback() bool {
	switch t {
	case EventTypePlay, EventTypePause, EventTypeSeek, EventTypeSongChange, EventTypeQueue:
		return true
	}
	return false
}

// New builds an event with a fresh id around payload.
func New(roomID string, eventType EventType, at time.Time, payload interface{}) (*SyncEvent, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	return &SyncEvent{
		ID:        uuid.New().String(),
		RoomID:    roomID,
		Type:      eventType,
		Timestamp: at,
		Data:      data,
	}, nil
}

// ParseEventPayload parses event data into the appropriate payload struct
func ParseEventPayload(event *SyncEvent) (interface{}, error) {
	var payload interface{}
	switch event.Type {
	case EventTypePlay:
		payload = &PlayPayload{}
	case EventTypePause:
		payload = &PausePayload{}
	case EventTypeSeek:
		payload = &SeekPayload{}
	case EventTypeSongChange:
		payload = &SongChangePayload{}
	case EventTypeQueue:
		payload = &QueuePayload{}
	case EventTypeMemberCount:
		payload = &MemberCountPayload{}
	case EventTypeEmote:
		payload = &EmotePayload{}
	case EventTypeNotification:
		payload = &NotificationPayload{}
	case EventTypePlaylists:
		payload = &PlaylistsPayload{}
	case EventTypePlaylistUpdated:
		payload = &PlaylistUpdatedPayload{}
	default:
		return nil, fmt.Errorf("unknown event type: %s", event.Type)
	}

	if err := json.Unmarshal(event.Data, payload); err != nil {
		return nil, fmt.Errorf("unmarshal %s payload: %w", event.Type, err)
	}
	return payload, nil
}
