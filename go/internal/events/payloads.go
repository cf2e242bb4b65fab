package events

import "github.com/zwl098/yusic/go/internal/models"

// Payloads carry absolute values only, so each event is self-contained and
// can be applied without knowledge of earlier events.

// PlayPayload is the payload for a PLAY event. TrackKey is set when the
// track switched. Receivers compute their position as
// AnchorPosition + (now - AnchorWallTime).
type PlayPayload struct {
	TrackKey       *models.TrackKey `json:"track_key,omitempty"`
	AnchorWallTime int64            `json:"anchor_wall_time"` // Unix millis
	AnchorPosition float64          `json:"anchor_position"`  // seconds
}

// PausePayload is the payload for a PAUSE event
type PausePayload struct {
	Position float64 `json:"position"`
}

// SeekPayload is the payload for a SEEK event. AnchorWallTime is set when
// the room was playing at the time of the seek.
type SeekPayload struct {
	Position       float64 `json:"position"`
	AnchorWallTime int64   `json:"anchor_wall_time,omitempty"`
}

// SongChangePayload is the payload for a SONG_CHANGE event. Playback is paused at 0.
type SongChangePayload struct {
	TrackKey models.TrackKey `json:"track_key"`
}

// QueuePayload carries the full ordered queue
type QueuePayload struct {
	Queue []models.TrackKey `json:"queue"`
}

// MemberCountPayload is the payload for a MEMBER_COUNT event
type MemberCountPayload struct {
	Count int `json:"count"`
}

// EmotePayload is the payload for an EMOTE event
type EmotePayload struct {
	Symbol string `json:"symbol"`
}

// NotificationPayload is the payload for a NOTIFICATION event
type NotificationPayload struct {
	Text string `json:"text"`
}

// PlaylistsPayload carries every stored playlist
type PlaylistsPayload struct {
	Playlists []models.Playlist `json:"playlists"`
}

// PlaylistUpdatedPayload carries a single changed playlist
type PlaylistUpdatedPayload struct {
	Playlist models.Playlist `json:"playlist"`
}
