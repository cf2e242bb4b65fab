package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zwl098/yusic/go/clients"
	"github.com/zwl098/yusic/go/internal/events"
	"github.com/zwl098/yusic/go/internal/membership"
	"github.com/zwl098/yusic/go/internal/models"
	"github.com/zwl098/yusic/go/internal/room"
	"github.com/zwl098/yusic/go/internal/roomsync"
)

var epoch = time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)

type stack struct {
	clock  *clockwork.FakeClock
	cm     *ConnectionManager
	server *httptest.Server
}

func newStack(t *testing.T, catalog Catalog) *stack {
	t.Helper()
	clock := clockwork.NewFakeClockAt(epoch)
	cm := NewConnectionManager(DefaultConnectionConfig(), clock)

	registry := room.NewRegistry(clock, room.DefaultRegistryConfig())
	t.Cleanup(registry.Close)
	app := room.NewApp(registry, clock, cm)
	tracker := membership.NewTracker(registry, cm, clock)
	rooms := roomsync.NewHandler(app, tracker, nil, nil, nil, roomsync.DefaultConfig())

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	service := NewService(cm, rooms, catalog)
	go service.Start(ctx)

	mux := http.NewServeMux()
	service.RegisterRoutes(mux)
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	return &stack{clock: clock, cm: cm, server: server}
}

type wsClient struct {
	t    *testing.T
	conn *websocket.Conn
	seq  int
}

func (s *stack) dial(t *testing.T) *wsClient {
	t.Helper()
	url := "ws" + strings.TrimPrefix(s.server.URL, "http") + "/ws/room"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return &wsClient{t: t, conn: conn}
}

type frame struct {
	Type   string          `json:"type"`
	ID     string          `json:"id"`
	OK     bool            `json:"ok"`
	Error  string          `json:"error"`
	Notice string          `json:"notice"`
	RoomID string          `json:"room_id"`
	Data   json.RawMessage `json:"data"`
}

func (c *wsClient) read() frame {
	c.t.Helper()
	require.NoError(c.t, c.conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, msg, err := c.conn.ReadMessage()
	require.NoError(c.t, err)
	var f frame
	require.NoError(c.t, json.Unmarshal(msg, &f))
	return f
}

// until reads frames until one of frameType arrives
func (c *wsClient) until(frameType string) frame {
	c.t.Helper()
	for {
		if f := c.read(); f.Type == frameType {
			return f
		}
	}
}

// send writes an intent and returns its ack, skipping interleaved events
func (c *wsClient) send(intentType roomsync.IntentType, data interface{}) frame {
	c.t.Helper()
	c.seq++
	intent := map[string]interface{}{"id": string(rune('a' + c.seq)), "type": intentType}
	if data != nil {
		intent["data"] = data
	}
	require.NoError(c.t, c.conn.WriteJSON(intent))
	for {
		f := c.read()
		if f.Type == roomsync.AckType {
			require.Equal(c.t, intent["id"], f.ID)
			return f
		}
	}
}

func snapshotOf(t *testing.T, raw json.RawMessage) models.Snapshot {
	t.Helper()
	var snap models.Snapshot
	require.NoError(t, json.Unmarshal(raw, &snap))
	return snap
}

func TestWebSocketCreateAndJoin(t *testing.T) {
	s := newStack(t, nil)
	alice := s.dial(t)
	bob := s.dial(t)

	created := alice.send(roomsync.IntentCreateRoom, nil)
	require.True(t, created.OK)
	snap := snapshotOf(t, created.Data)
	assert.Len(t, snap.RoomID, 6)
	assert.Equal(t, 1, snap.MemberCount)

	joined := bob.send(roomsync.IntentJoinRoom, map[string]string{"room_id": snap.RoomID})
	require.True(t, joined.OK)
	assert.Equal(t, 2, snapshotOf(t, joined.Data).MemberCount)

	// The creator's own join also produced a count of 1.
	for {
		count := alice.until(string(events.EventTypeMemberCount))
		var payload events.MemberCountPayload
		require.NoError(t, json.Unmarshal(count.Data, &payload))
		assert.Equal(t, snap.RoomID, count.RoomID)
		if payload.Count == 2 {
			break
		}
	}
}

func TestWebSocketPlayReachesOtherMembers(t *testing.T) {
	s := newStack(t, nil)
	alice := s.dial(t)
	bob := s.dial(t)

	roomID := snapshotOf(t, alice.send(roomsync.IntentCreateRoom, nil).Data).RoomID
	require.True(t, bob.send(roomsync.IntentJoinRoom, map[string]string{"room_id": roomID}).OK)

	ack := alice.send(roomsync.IntentPlay, map[string]string{"track_key": "netease:123"})
	require.True(t, ack.OK)
	assert.True(t, snapshotOf(t, ack.Data).IsPlaying)

	play := bob.until(string(events.EventTypePlay))
	var payload events.PlayPayload
	require.NoError(t, json.Unmarshal(play.Data, &payload))
	require.NotNil(t, payload.TrackKey)
	assert.Equal(t, "netease:123", payload.TrackKey.String())
	assert.Equal(t, epoch.UnixMilli(), payload.AnchorWallTime)
}

func TestWebSocketErrors(t *testing.T) {
	s := newStack(t, nil)
	c := s.dial(t)

	ack := c.send(roomsync.IntentJoinRoom, map[string]string{"room_id": "zzzzzz"})
	assert.False(t, ack.OK)
	assert.Equal(t, string(roomsync.CodeRoomNotFound), ack.Error)

	ack = c.send(roomsync.IntentPause, nil)
	assert.Equal(t, string(roomsync.CodeRoomNotFound), ack.Error)

	require.NoError(t, c.conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
	f := c.until(roomsync.AckType)
	assert.False(t, f.OK)
	assert.Equal(t, string(roomsync.CodeBadRequest), f.Error)
}

func TestDisconnectLeavesRoom(t *testing.T) {
	s := newStack(t, nil)
	alice := s.dial(t)
	bob := s.dial(t)

	roomID := snapshotOf(t, alice.send(roomsync.IntentCreateRoom, nil).Data).RoomID
	require.True(t, bob.send(roomsync.IntentJoinRoom, map[string]string{"room_id": roomID}).OK)
	require.NoError(t, bob.conn.Close())

	require.Eventually(t, func() bool {
		resp, err := http.Get(s.server.URL + "/rooms/" + roomID + "/state")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		var snap models.Snapshot
		if json.NewDecoder(resp.Body).Decode(&snap) != nil {
			return false
		}
		return snap.MemberCount == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func post(t *testing.T, url string, body string) (*http.Response, map[string]interface{}) {
	t.Helper()
	resp, err := http.Post(url, "application/json", bytes.NewBufferString(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	var out map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp, out
}

func TestHTTPRoomAPI(t *testing.T) {
	s := newStack(t, nil)

	resp, created := post(t, s.server.URL+"/rooms", "")
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	roomID := created["room_id"].(string)
	assert.EqualValues(t, 0, created["member_count"])

	resp, body := post(t, s.server.URL+"/rooms/"+roomID+"/play", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, string(roomsync.CodeNoTrackSelected), body["error"])

	resp, body = post(t, s.server.URL+"/rooms/"+roomID+"/play", `{"track_key":"qq:42"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["ok"])
	state := body["state"].(map[string]interface{})
	assert.Equal(t, true, state["is_playing"])

	s.clock.Advance(3 * time.Second)
	resp, body = post(t, s.server.URL+"/rooms/"+roomID+"/pause", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.InDelta(t, 3.0, body["state"].(map[string]interface{})["position"], 0.001)

	resp, body = post(t, s.server.URL+"/rooms/"+roomID+"/seek", `{}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, string(roomsync.CodeBadRequest), body["error"])

	resp, body = post(t, s.server.URL+"/rooms/"+roomID+"/seek", `{"position":-2}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, string(roomsync.CodeInvalidPosition), body["error"])

	resp, body = post(t, s.server.URL+"/rooms/"+roomID+"/song", `{"track_key":"spotify:1"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, string(roomsync.CodeInvalidTrackKey), body["error"])

	resp, body = post(t, s.server.URL+"/rooms/"+roomID+"/queue", `{"queue":["kuwo:1","kuwo:2"]}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, body["state"].(map[string]interface{})["queue"], 2)

	resp, body = post(t, s.server.URL+"/rooms/zzzzzz/pause", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, string(roomsync.CodeRoomNotFound), body["error"])
}

func TestHTTPPlayReachesWebSocketMembers(t *testing.T) {
	s := newStack(t, nil)
	alice := s.dial(t)
	roomID := snapshotOf(t, alice.send(roomsync.IntentCreateRoom, nil).Data).RoomID

	resp, _ := post(t, s.server.URL+"/rooms/"+roomID+"/play", `{"track_key":"netease:7"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	play := alice.until(string(events.EventTypePlay))
	assert.Equal(t, roomID, play.RoomID)
}

func TestStatsEndpoint(t *testing.T) {
	s := newStack(t, nil)
	alice := s.dial(t)
	require.True(t, alice.send(roomsync.IntentCreateRoom, nil).OK)

	resp, err := http.Get(s.server.URL + "/ws/stats")
	require.NoError(t, err)
	defer resp.Body.Close()
	var stats StatsResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&stats))
	assert.Equal(t, 1, stats.TotalConnections)
	assert.Equal(t, 1, stats.ActiveRooms)
}

func TestDeliverPolicy(t *testing.T) {
	config := DefaultConnectionConfig()
	config.BroadcastBuffer = 1
	cm := NewConnectionManager(config, clockwork.NewFakeClockAt(epoch))

	emote, err := events.New("r1", events.EventTypeEmote, epoch, events.EmotePayload{Symbol: "🎉"})
	require.NoError(t, err)
	seek, err := events.New("r1", events.EventTypeSeek, epoch, events.SeekPayload{Position: 1})
	require.NoError(t, err)

	assert.NoError(t, cm.Deliver(context.Background(), emote, nil))
	assert.NoError(t, cm.Deliver(context.Background(), emote, []string{"c1"}))
	assert.ErrorIs(t, cm.Deliver(context.Background(), emote, []string{"c1"}), ErrBroadcastQueueFull)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, cm.Deliver(ctx, seek, []string{"c1"}), context.DeadlineExceeded)
}

type fakeCatalog struct {
	err error
}

func (c *fakeCatalog) Search(_ context.Context, source models.Source, keyword string, _, _ int) (*clients.CatalogResponse, error) {
	if c.err != nil {
		return nil, c.err
	}
	data, _ := json.Marshal([]map[string]string{{"id": "1", "name": keyword, "source": string(source)}})
	return &clients.CatalogResponse{Code: 200, Data: data}, nil
}

func (c *fakeCatalog) SongURL(_ context.Context, key models.TrackKey) (*clients.CatalogResponse, error) {
	if c.err != nil {
		return nil, c.err
	}
	return &clients.CatalogResponse{Code: 200, URL: "https://cdn.example/" + key.ID + ".mp3"}, nil
}

func (c *fakeCatalog) SongInfo(_ context.Context, key models.TrackKey) (*clients.CatalogResponse, error) {
	return c.SongURL(context.Background(), key)
}

func TestCatalogProxy(t *testing.T) {
	s := newStack(t, &fakeCatalog{})

	resp, err := http.Get(s.server.URL + "/api/music/search?keyword=hello&source=qq")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var search clients.CatalogResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&search))
	assert.Contains(t, string(search.Data), `"name":"hello"`)
	assert.Contains(t, string(search.Data), `"source":"qq"`)

	resp, err = http.Get(s.server.URL + "/api/music/url?id=9")
	require.NoError(t, err)
	defer resp.Body.Close()
	var songURL clients.CatalogResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&songURL))
	assert.Equal(t, "https://cdn.example/9.mp3", songURL.URL)

	resp, err = http.Get(s.server.URL + "/api/music/search")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err = http.Get(s.server.URL + "/api/music/url?source=spotify&id=9")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCatalogProxyUnavailable(t *testing.T) {
	s := newStack(t, &fakeCatalog{err: errors.New("upstream down")})

	resp, err := http.Get(s.server.URL + "/api/music/url?source=netease&id=1")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "catalog_unavailable", body["error"])
}
