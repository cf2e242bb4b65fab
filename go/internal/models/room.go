package models

import (
	"sort"
	"time"

	"github.com/zwl098/yusic/go/internal/timeline"
)

// Playback is either Playing or Paused, never both.
type Playback interface {
	PositionAt(now time.Time) float64
	isPlayback()
}

// Playing describes a room whose timeline advances with the wall clock.
type Playing struct {
	Anchor timeline.Anchor
}

// PositionAt derives the position from the anchor.
func (p Playing) PositionAt(now time.Time) float64 {
	return timeline.Position(p.Anchor, now)
}

func (Playing) isPlayback() {}

// Paused describes a room frozen at Position seconds.
type Paused struct {
	Position float64
}

// PositionAt ignores now; a paused timeline does not advance.
func (p Paused) PositionAt(time.Time) float64 {
	return p.Position
}

func (Paused) isPlayback() {}

// Room is the authoritative shared playback state of one listening room.
type Room struct {
	ID           string
	Members      map[string]struct{}
	CurrentTrack *TrackKey
	Playback     Playback
	Queue        []TrackKey
	CreatedAt    time.Time
	LastActivity time.Time
}

// NewRoom returns an idle room: no track, Paused at 0, empty queue, no members.
func NewRoom(id string, now time.Time) *Room {
	return &Room{
		ID:           id,
		Members:      make(map[string]struct{}),
		Playback:     Paused{Position: 0},
		Queue:        []TrackKey{},
		CreatedAt:    now,
		LastActivity: now,
	}
}

// IsPlaying reports whether the room is in the Playing state.
func (r *Room) IsPlaying() bool {
	_, ok := r.Playback.(Playing)
	return ok
}

// PositionAt is the room's playback position at now.
func (r *Room) PositionAt(now time.Time) float64 {
	if r.Playback == nil {
		return 0
	}
	return r.Playback.PositionAt(now)
}

// MemberIDs returns the member connection ids in a stable order.
func (r *Room) MemberIDs() []string {
	ids := make([]string, 0, len(r.Members))
	for id := range r.Members {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Clone returns a deep copy that can be read without holding the room lock.
func (r *Room) Clone() Room {
	c := *r
	c.Members = make(map[string]struct{}, len(r.Members))
	for id := range r.Members {
		c.Members[id] = struct{}{}
	}
	if r.CurrentTrack != nil {
		track := *r.CurrentTrack
		c.CurrentTrack = &track
	}
	c.Queue = append([]TrackKey(nil), r.Queue...)
	return c
}

// Snapshot is a point-in-time description of a room handed to a joining client.
type Snapshot struct {
	RoomID         string     `json:"room_id"`
	CurrentTrack   *TrackKey  `json:"current_track"`
	IsPlaying      bool       `json:"is_playing"`
	Position       float64    `json:"position"`
	AnchorWallTime int64      `json:"anchor_wall_time,omitempty"`
	Queue          []TrackKey `json:"queue"`
	MemberCount    int        `json:"member_count"`
	ServerTime     int64      `json:"server_time"`
}

// SnapshotAt computes a Snapshot for now.
func (r *Room) SnapshotAt(now time.Time) Snapshot {
	s := Snapshot{
		RoomID:      r.ID,
		IsPlaying:   r.IsPlaying(),
		Position:    r.PositionAt(now),
		Queue:       append([]TrackKey{}, r.Queue...),
		MemberCount: len(r.Members),
		ServerTime:  timeline.ToMillis(now),
	}
	if r.CurrentTrack != nil {
		track := *r.CurrentTrack
		s.CurrentTrack = &track
	}
	if p, ok := r.Playback.(Playing); ok {
		s.AnchorWallTime = timeline.ToMillis(p.Anchor.WallTime)
	}
	return s
}
