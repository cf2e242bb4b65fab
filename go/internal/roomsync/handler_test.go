package roomsync

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zwl098/yusic/go/internal/events"
	"github.com/zwl098/yusic/go/internal/membership"
	"github.com/zwl098/yusic/go/internal/models"
	"github.com/zwl098/yusic/go/internal/room"
)

type delivered struct {
	event      *events.SyncEvent
	recipients []string
}

type fakeBroadcaster struct {
	mu   sync.Mutex
	sent []delivered
}

func (b *fakeBroadcaster) Deliver(_ context.Context, event *events.SyncEvent, recipients []string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sent = append(b.sent, delivered{event: event, recipients: recipients})
	return nil
}

func (b *fakeBroadcaster) ofType(eventType events.EventType) []delivered {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []delivered
	for _, d := range b.sent {
		if d.event.Type == eventType {
			out = append(out, d)
		}
	}
	return out
}

type fakePublisher struct {
	mu     sync.Mutex
	events []*events.SyncEvent
}

func (p *fakePublisher) Publish(_ context.Context, event *events.SyncEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *fakePublisher) Close() error { return nil }

type fakeCatalog struct {
	unavailable map[models.TrackKey]bool
}

func (c *fakeCatalog) Resolve(_ context.Context, key models.TrackKey) error {
	if c.unavailable[key] {
		return errors.New("catalog unavailable")
	}
	return nil
}

type fakePlaylists struct {
	playlists []models.Playlist
}

func (f *fakePlaylists) GetAll(context.Context) ([]models.Playlist, error) { return f.playlists, nil }

func (f *fakePlaylists) Create(_ context.Context, name string) (models.Playlist, error) {
	p := models.Playlist{ID: "p" + name, Name: name}
	f.playlists = append(f.playlists, p)
	return p, nil
}

func (f *fakePlaylists) AddSong(context.Context, string, models.Song) (models.Playlist, error) {
	return models.Playlist{}, nil
}

func (f *fakePlaylists) RemoveSong(context.Context, string, string) (models.Playlist, error) {
	return models.Playlist{}, nil
}

func (f *fakePlaylists) Delete(context.Context, string) error { return nil }

type harness struct {
	clock       *clockwork.FakeClock
	registry    *room.Registry
	broadcaster *fakeBroadcaster
	publisher   *fakePublisher
	catalog     *fakeCatalog
	handler     *Handler
}

func newHarness(t *testing.T, playlists Playlists) *harness {
	t.Helper()
	return newHarnessWithRegistry(t, playlists, room.DefaultRegistryConfig())
}

func newHarnessWithRegistry(t *testing.T, playlists Playlists, cfg room.RegistryConfig) *harness {
	t.Helper()
	clock := clockwork.NewFakeClockAt(time.Date(2026, 10, 19, 20, 0, 0, 0, time.UTC))
	registry := room.NewRegistry(clock, cfg)
	t.Cleanup(registry.Close)
	b := &fakeBroadcaster{}
	p := &fakePublisher{}
	c := &fakeCatalog{unavailable: map[models.TrackKey]bool{}}
	app := room.NewApp(registry, clock, b)
	tracker := membership.NewTracker(registry, b, clock)
	return &harness{
		clock:       clock,
		registry:    registry,
		broadcaster: b,
		publisher:   p,
		catalog:     c,
		handler:     NewHandler(app, tracker, p, c, playlists, DefaultConfig()),
	}
}

func (h *harness) send(t *testing.T, connID string, intentType IntentType, data string) Ack {
	t.Helper()
	intent := Intent{ID: "req-1", Type: intentType}
	if data != "" {
		intent.Data = json.RawMessage(data)
	}
	ack := h.handler.Dispatch(context.Background(), connID, intent)
	assert.Equal(t, AckType, ack.Type)
	assert.Equal(t, "req-1", ack.ID)
	return ack
}

func snapshotOf(t *testing.T, ack Ack) models.Snapshot {
	t.Helper()
	require.True(t, ack.OK, "ack failed: %s", ack.Error)
	snap, ok := ack.Data.(models.Snapshot)
	require.True(t, ok, "ack data is %T", ack.Data)
	return snap
}

func TestDispatch_CreateRoomJoinsCreator(t *testing.T) {
	h := newHarness(t, nil)

	snap := snapshotOf(t, h.send(t, "alice", IntentCreateRoom, ""))
	assert.Len(t, snap.RoomID, 6)
	assert.Equal(t, 1, snap.MemberCount)
	assert.False(t, snap.IsPlaying)
	assert.Nil(t, snap.CurrentTrack)
}

func TestDispatch_CreateRoomWithoutGracePeriod(t *testing.T) {
	cfg := room.DefaultRegistryConfig()
	cfg.ExpiryWindow = 0
	h := newHarnessWithRegistry(t, nil, cfg)

	snap := snapshotOf(t, h.send(t, "alice", IntentCreateRoom, ""))
	assert.Equal(t, 1, snap.MemberCount)

	joined := snapshotOf(t, h.send(t, "bob", IntentJoinRoom, `{"room_id":"`+snap.RoomID+`"}`))
	assert.Equal(t, 2, joined.MemberCount)

	require.True(t, h.send(t, "alice", IntentLeaveRoom, "").OK)
	_, err := h.registry.GetRoom(snap.RoomID)
	require.NoError(t, err)

	require.True(t, h.send(t, "bob", IntentLeaveRoom, "").OK)
	_, err = h.registry.GetRoom(snap.RoomID)
	assert.ErrorIs(t, err, room.ErrRoomNotFound)
	assert.Equal(t, 0, h.handler.ActiveRooms())
}

func TestDispatch_JoinUnknownRoom(t *testing.T) {
	h := newHarness(t, nil)

	ack := h.send(t, "bob", IntentJoinRoom, `{"room_id":"zzzzzz"}`)
	assert.False(t, ack.OK)
	assert.Equal(t, CodeRoomNotFound, ack.Error)
}

func TestDispatch_JoinRequiresRoomID(t *testing.T) {
	h := newHarness(t, nil)

	ack := h.send(t, "bob", IntentJoinRoom, `{}`)
	assert.Equal(t, CodeBadRequest, ack.Error)
}

func TestDispatch_RoomIntentOutsideRoom(t *testing.T) {
	h := newHarness(t, nil)

	ack := h.send(t, "bob", IntentPause, "")
	assert.False(t, ack.OK)
	assert.Equal(t, CodeRoomNotFound, ack.Error)
}

// A plays netease:123 at T; B joins at T+5000ms and lands at position 5.
func TestDispatch_JoinDuringPlayback(t *testing.T) {
	h := newHarness(t, nil)
	created := snapshotOf(t, h.send(t, "alice", IntentCreateRoom, ""))

	played := snapshotOf(t, h.send(t, "alice", IntentPlay, `{"track_key":"netease:123"}`))
	assert.True(t, played.IsPlaying)

	h.clock.Advance(5000 * time.Millisecond)
	joined := snapshotOf(t, h.send(t, "bob", IntentJoinRoom, `{"room_id":"`+created.RoomID+`"}`))

	assert.True(t, joined.IsPlaying)
	assert.InDelta(t, 5.0, joined.Position, 1e-9)
	assert.Equal(t, models.TrackKey{Source: models.SourceNetease, ID: "123"}, *joined.CurrentTrack)
	assert.Equal(t, 2, joined.MemberCount)
}

func TestDispatch_OriginatorExcludedFromEvent(t *testing.T) {
	h := newHarness(t, nil)
	created := snapshotOf(t, h.send(t, "alice", IntentCreateRoom, ""))
	snapshotOf(t, h.send(t, "bob", IntentJoinRoom, `{"room_id":"`+created.RoomID+`"}`))

	snapshotOf(t, h.send(t, "bob", IntentSeek, `{"position":30}`))

	seeks := h.broadcaster.ofType(events.EventTypeSeek)
	require.Len(t, seeks, 1)
	assert.Equal(t, []string{"alice"}, seeks[0].recipients)

	h.publisher.mu.Lock()
	defer h.publisher.mu.Unlock()
	require.Len(t, h.publisher.events, 1)
	assert.Equal(t, events.EventTypeSeek, h.publisher.events[0].Type)
}

func TestDispatch_PlayUnavailableTrack(t *testing.T) {
	h := newHarness(t, nil)
	created := snapshotOf(t, h.send(t, "alice", IntentCreateRoom, ""))
	snapshotOf(t, h.send(t, "bob", IntentJoinRoom, `{"room_id":"`+created.RoomID+`"}`))
	missing := models.TrackKey{Source: models.SourceQQ, ID: "gone"}
	h.catalog.unavailable[missing] = true

	ack := h.send(t, "alice", IntentPlay, `{"track_key":{"source":"qq","id":"gone"}}`)
	snap := snapshotOf(t, ack)

	assert.NotEmpty(t, ack.Notice)
	assert.False(t, snap.IsPlaying)
	assert.Equal(t, 0.0, snap.Position)
	assert.Equal(t, missing, *snap.CurrentTrack)

	require.Len(t, h.broadcaster.ofType(events.EventTypeSongChange), 1)
	assert.Empty(t, h.broadcaster.ofType(events.EventTypePlay))

	notes := h.broadcaster.ofType(events.EventTypeNotification)
	require.NotEmpty(t, notes)
	assert.Equal(t, []string{"bob"}, notes[len(notes)-1].recipients)
}

func TestDispatch_ResumeSkipsCatalog(t *testing.T) {
	h := newHarness(t, nil)
	snapshotOf(t, h.send(t, "alice", IntentCreateRoom, ""))
	snapshotOf(t, h.send(t, "alice", IntentPlay, `{"track_key":"kuwo:1"}`))
	h.clock.Advance(3 * time.Second)
	snapshotOf(t, h.send(t, "alice", IntentPause, ""))

	// The catalog going away must not reset a resume of the selected track.
	h.catalog.unavailable[models.TrackKey{Source: models.SourceKuwo, ID: "1"}] = true
	ack := h.send(t, "alice", IntentPlay, `{"track_key":"kuwo:1"}`)
	snap := snapshotOf(t, ack)

	assert.Empty(t, ack.Notice)
	assert.True(t, snap.IsPlaying)
	assert.InDelta(t, 3.0, snap.Position, 1e-9)
}

func TestDispatch_SetQueueAnnouncesGrowth(t *testing.T) {
	h := newHarness(t, nil)
	created := snapshotOf(t, h.send(t, "alice", IntentCreateRoom, ""))
	snapshotOf(t, h.send(t, "bob", IntentJoinRoom, `{"room_id":"`+created.RoomID+`"}`))

	snap := snapshotOf(t, h.send(t, "alice", IntentSetQueue, `{"queue":["netease:1",{"source":"qq","id":"2"}]}`))
	assert.Len(t, snap.Queue, 2)

	notes := h.broadcaster.ofType(events.EventTypeNotification)
	last := notes[len(notes)-1]
	payload, err := events.ParseEventPayload(last.event)
	require.NoError(t, err)
	assert.Equal(t, "2 song(s) added to the queue", payload.(*events.NotificationPayload).Text)
	assert.Equal(t, []string{"bob"}, last.recipients)

	// Shrinking the queue is silent.
	before := len(h.broadcaster.ofType(events.EventTypeNotification))
	snapshotOf(t, h.send(t, "alice", IntentSetQueue, `{"queue":[]}`))
	assert.Len(t, h.broadcaster.ofType(events.EventTypeNotification), before)
}

func TestDispatch_Errors(t *testing.T) {
	h := newHarness(t, nil)
	snapshotOf(t, h.send(t, "alice", IntentCreateRoom, ""))

	tests := []struct {
		name   string
		intent IntentType
		data   string
		want   ErrorCode
	}{
		{"resume idle room", IntentPlay, "", CodeNoTrackSelected},
		{"negative seek", IntentSeek, `{"position":-1}`, CodeInvalidPosition},
		{"seek without position", IntentSeek, `{}`, CodeBadRequest},
		{"unknown source", IntentChangeSong, `{"track_key":"spotify:1"}`, CodeInvalidTrackKey},
		{"missing track key", IntentChangeSong, `{}`, CodeBadRequest},
		{"malformed data", IntentSetQueue, `{"queue":5}`, CodeBadRequest},
		{"empty emote", IntentEmote, `{}`, CodeBadRequest},
		{"unknown intent", IntentType("dance"), "", CodeBadRequest},
		{"playlists disabled", IntentPlaylistGetAll, "", CodeBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ack := h.send(t, "alice", tt.intent, tt.data)
			assert.False(t, ack.OK)
			assert.Equal(t, tt.want, ack.Error)
			assert.Nil(t, ack.Data)
		})
	}
}

func TestDispatch_LeaveThenIntentFails(t *testing.T) {
	h := newHarness(t, nil)
	snapshotOf(t, h.send(t, "alice", IntentCreateRoom, ""))

	ack := h.send(t, "alice", IntentLeaveRoom, "")
	assert.True(t, ack.OK)

	ack = h.send(t, "alice", IntentPause, "")
	assert.Equal(t, CodeRoomNotFound, ack.Error)
}

func TestDispatch_Playlists(t *testing.T) {
	h := newHarness(t, &fakePlaylists{})

	ack := h.send(t, "alice", IntentPlaylistCreate, `{"name":"chill"}`)
	require.True(t, ack.OK)
	assert.Equal(t, "chill", ack.Data.(models.Playlist).Name)

	ack = h.send(t, "alice", IntentPlaylistGetAll, "")
	require.True(t, ack.OK)
	assert.Len(t, ack.Data.([]models.Playlist), 1)
}

func TestAck_JSON(t *testing.T) {
	data, err := json.Marshal(Ack{Type: AckType, ID: "7", OK: false, Error: CodeRoomNotFound})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"ack","id":"7","ok":false,"error":"room_not_found"}`, string(data))
}
