package clients

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/zwl098/yusic/go/internal/events"
	"github.com/zwl098/yusic/go/internal/models"
	"github.com/zwl098/yusic/go/internal/roomsync"
	"github.com/zwl098/yusic/go/internal/timeline"
)

var (
	// ErrConnectionTimeout is returned when joining does not complete in time
	ErrConnectionTimeout = errors.New("connection timeout")

	// ErrClientClosed is returned for requests on a closed client
	ErrClientClosed = errors.New("room client closed")
)

// AckError is a request the server rejected
type AckError struct {
	Code roomsync.ErrorCode
}

func (e *AckError) Error() string {
	return "request rejected: " + string(e.Code)
}

// RoomClientConfig holds configuration for a RoomClient
type RoomClientConfig struct {
	URL                string        // e.g. ws://localhost:3000/ws/room
	JoinTimeout        time.Duration // bound on JoinRoom
	RequestTimeout     time.Duration // bound on other requests without a deadline
	ReconcileTolerance float64       // seconds of drift tolerated before a corrective seek

	// OnEvent, if set, observes every event after it was applied
	OnEvent func(*events.SyncEvent)
}

// DefaultRoomClientConfig returns the default client configuration
func DefaultRoomClientConfig(url string) RoomClientConfig {
	return RoomClientConfig{
		URL:                url,
		JoinTimeout:        5 * time.Second,
		RequestTimeout:     5 * time.Second,
		ReconcileTolerance: 0.5,
	}
}

// RoomClient keeps a local Player in line with a room on the server.
// Local intents are applied to the player first and then sent; remote
// events only cause a corrective seek when the drift exceeds the tolerance.
type RoomClient struct {
	conn   *websocket.Conn
	player Player
	clock  clockwork.Clock
	config RoomClientConfig

	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[string]chan roomsync.Ack
	nextID  uint64
	roomID  string
	track   *models.TrackKey
	playing bool
	queue   []models.TrackKey
	members int

	done    chan struct{}
	readErr error
}

// DialRoom connects to the gateway
func DialRoom(ctx context.Context, config RoomClientConfig, player Player, clock clockwork.Clock) (*RoomClient, error) {
	if config.ReconcileTolerance <= 0 {
		config.ReconcileTolerance = DefaultRoomClientConfig("").ReconcileTolerance
	}
	if config.JoinTimeout <= 0 {
		config.JoinTimeout = DefaultRoomClientConfig("").JoinTimeout
	}
	if config.RequestTimeout <= 0 {
		config.RequestTimeout = DefaultRoomClientConfig("").RequestTimeout
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, config.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", config.URL, err)
	}

	c := &RoomClient{
		conn:    conn,
		player:  player,
		clock:   clock,
		config:  config,
		pending: make(map[string]chan roomsync.Ack),
		done:    make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// Close closes the connection
func (c *RoomClient) Close() error {
	c.writeMu.Lock()
	c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.writeMu.Unlock()
	err := c.conn.Close()
	<-c.done
	return err
}

// Done is closed when the connection is gone
func (c *RoomClient) Done() <-chan struct{} {
	return c.done
}

// RoomID returns the joined room, empty before a join
func (c *RoomClient) RoomID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.roomID
}

// Queue returns the last known queue
func (c *RoomClient) Queue() []models.TrackKey {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]models.TrackKey(nil), c.queue...)
}

// Members returns the last known member count
func (c *RoomClient) Members() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.members
}

// CreateRoom creates a room, joins it and returns its snapshot
func (c *RoomClient) CreateRoom(ctx context.Context) (models.Snapshot, error) {
	snap, err := c.requestSnapshot(ctx, roomsync.IntentCreateRoom, nil)
	if err != nil {
		return models.Snapshot{}, err
	}
	c.reconcileSnapshot(snap)
	return snap, nil
}

// JoinRoom joins roomID and performs a single corrective load and seek
// from the returned snapshot.
func (c *RoomClient) JoinRoom(ctx context.Context, roomID string) (models.Snapshot, error) {
	joinCtx, cancel := context.WithTimeout(ctx, c.config.JoinTimeout)
	defer cancel()

	snap, err := c.requestSnapshot(joinCtx, roomsync.IntentJoinRoom, map[string]string{"room_id": roomID})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return models.Snapshot{}, fmt.Errorf("%w: join %s", ErrConnectionTimeout, roomID)
		}
		return models.Snapshot{}, err
	}
	c.reconcileSnapshot(snap)
	return snap, nil
}

// Leave leaves the current room
func (c *RoomClient) Leave(ctx context.Context) error {
	_, err := c.request(ctx, roomsync.IntentLeaveRoom, nil)
	if err == nil {
		c.mu.Lock()
		c.roomID = ""
		c.mu.Unlock()
	}
	return err
}

// Play starts key, or resumes the current track when key is nil
func (c *RoomClient) Play(ctx context.Context, key *models.TrackKey) (models.Snapshot, error) {
	if key != nil && !c.isCurrent(*key) {
		c.load(*key)
	}
	c.logErr(c.player.Play(), "play")
	c.setPlaying(true)

	data := map[string]interface{}{}
	if key != nil {
		data["track_key"] = key
	}
	return c.requestSnapshot(ctx, roomsync.IntentPlay, data)
}

// Pause pauses locally and in the room
func (c *RoomClient) Pause(ctx context.Context) (models.Snapshot, error) {
	c.logErr(c.player.Pause(), "pause")
	c.setPlaying(false)
	return c.requestSnapshot(ctx, roomsync.IntentPause, nil)
}

// Seek moves local playback and the room to position seconds
func (c *RoomClient) Seek(ctx context.Context, position float64) (models.Snapshot, error) {
	c.logErr(c.player.Seek(position), "seek")
	return c.requestSnapshot(ctx, roomsync.IntentSeek, map[string]float64{"position": position})
}

// ChangeSong selects key without playing it
func (c *RoomClient) ChangeSong(ctx context.Context, key models.TrackKey) (models.Snapshot, error) {
	c.load(key)
	c.setPlaying(false)
	return c.requestSnapshot(ctx, roomsync.IntentChangeSong, map[string]interface{}{"track_key": key})
}

// SetQueue replaces the room's queue
func (c *RoomClient) SetQueue(ctx context.Context, queue []models.TrackKey) (models.Snapshot, error) {
	c.mu.Lock()
	c.queue = append([]models.TrackKey(nil), queue...)
	c.mu.Unlock()
	return c.requestSnapshot(ctx, roomsync.IntentSetQueue, map[string]interface{}{"queue": queue})
}

// Enqueue appends key to the room's queue
func (c *RoomClient) Enqueue(ctx context.Context, key models.TrackKey) (models.Snapshot, error) {
	return c.requestSnapshot(ctx, roomsync.IntentEnqueue, map[string]interface{}{"track_key": key})
}

// Emote sends symbol to the other members
func (c *RoomClient) Emote(ctx context.Context, symbol string) error {
	_, err := c.request(ctx, roomsync.IntentEmote, map[string]string{"symbol": symbol})
	return err
}

func (c *RoomClient) requestSnapshot(ctx context.Context, intentType roomsync.IntentType, data interface{}) (models.Snapshot, error) {
	ack, err := c.request(ctx, intentType, data)
	if err != nil {
		return models.Snapshot{}, err
	}
	raw, err := json.Marshal(ack.Data)
	if err != nil {
		return models.Snapshot{}, err
	}
	var snap models.Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return models.Snapshot{}, fmt.Errorf("decode snapshot: %w", err)
	}

	c.mu.Lock()
	if snap.RoomID != "" {
		c.roomID = snap.RoomID
	}
	c.queue = snap.Queue
	c.members = snap.MemberCount
	c.mu.Unlock()

	if ack.Notice != "" {
		log.Info().Str("notice", ack.Notice).Msg("server notice")
	}
	return snap, nil
}

// request sends one intent and waits for its ack
func (c *RoomClient) request(ctx context.Context, intentType roomsync.IntentType, data interface{}) (roomsync.Ack, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.config.RequestTimeout)
		defer cancel()
	}

	intent := roomsync.Intent{Type: intentType}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return roomsync.Ack{}, fmt.Errorf("encode %s: %w", intentType, err)
		}
		intent.Data = raw
	}

	ch := make(chan roomsync.Ack, 1)
	c.mu.Lock()
	c.nextID++
	intent.ID = strconv.FormatUint(c.nextID, 10)
	c.pending[intent.ID] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, intent.ID)
		c.mu.Unlock()
	}()

	c.writeMu.Lock()
	err := c.conn.WriteJSON(intent)
	c.writeMu.Unlock()
	if err != nil {
		return roomsync.Ack{}, fmt.Errorf("send %s: %w", intentType, err)
	}

	select {
	case ack := <-ch:
		if !ack.OK {
			return ack, &AckError{Code: ack.Error}
		}
		return ack, nil
	case <-ctx.Done():
		return roomsync.Ack{}, ctx.Err()
	case <-c.done:
		return roomsync.Ack{}, ErrClientClosed
	}
}

func (c *RoomClient) readLoop() {
	defer close(c.done)

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Warn().Err(err).Msg("room connection closed")
			}
			c.mu.Lock()
			c.readErr = err
			c.mu.Unlock()
			return
		}

		var frame struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(message, &frame); err != nil {
			log.Warn().Err(err).Msg("undecodable frame")
			continue
		}

		if frame.Type == roomsync.AckType {
			var ack roomsync.Ack
			if err := json.Unmarshal(message, &ack); err != nil {
				log.Warn().Err(err).Msg("undecodable ack")
				continue
			}
			c.mu.Lock()
			ch, ok := c.pending[ack.ID]
			c.mu.Unlock()
			if ok {
				ch <- ack
			}
			continue
		}

		var event events.SyncEvent
		if err := json.Unmarshal(message, &event); err != nil {
			log.Warn().Err(err).Msg("undecodable event")
			continue
		}
		c.apply(&event)
	}
}

// apply brings the player in line with a remote event. Events carry
// absolute values, so each one is applied without looking at earlier ones.
func (c *RoomClient) apply(event *events.SyncEvent) {
	payload, err := events.ParseEventPayload(event)
	if err != nil {
		log.Warn().Err(err).Str("event_type", string(event.Type)).Msg("failed to parse event")
		return
	}

	switch p := payload.(type) {
	case *events.PlayPayload:
		if p.TrackKey != nil && !c.isCurrent(*p.TrackKey) {
			c.load(*p.TrackKey)
		}
		target := c.target(p.AnchorWallTime, p.AnchorPosition)
		c.reconcile(target)
		c.logErr(c.player.Play(), "play")
		c.setPlaying(true)

	case *events.PausePayload:
		c.logErr(c.player.Pause(), "pause")
		c.setPlaying(false)
		c.reconcile(p.Position)

	case *events.SeekPayload:
		target := p.Position
		if p.AnchorWallTime != 0 {
			target = c.target(p.AnchorWallTime, p.Position)
		}
		c.reconcile(target)

	case *events.SongChangePayload:
		c.load(p.TrackKey)
		c.logErr(c.player.Pause(), "pause")
		c.setPlaying(false)

	case *events.QueuePayload:
		c.mu.Lock()
		c.queue = p.Queue
		c.mu.Unlock()

	case *events.MemberCountPayload:
		c.mu.Lock()
		c.members = p.Count
		c.mu.Unlock()
	}

	if c.config.OnEvent != nil {
		c.config.OnEvent(event)
	}
}

// reconcileSnapshot performs the single corrective load + seek (+ play) of a join
func (c *RoomClient) reconcileSnapshot(snap models.Snapshot) {
	c.mu.Lock()
	c.roomID = snap.RoomID
	c.queue = snap.Queue
	c.members = snap.MemberCount
	c.mu.Unlock()

	if snap.CurrentTrack == nil {
		return
	}
	if !c.isCurrent(*snap.CurrentTrack) {
		c.load(*snap.CurrentTrack)
	}

	target := snap.Position
	if snap.IsPlaying && snap.AnchorWallTime != 0 {
		// The snapshot position was true at ServerTime; carry it forward.
		anchorPosition := snap.Position - float64(snap.ServerTime-snap.AnchorWallTime)/1000
		target = c.target(snap.AnchorWallTime, anchorPosition)
	}
	c.logErr(c.player.Seek(target), "seek")

	if snap.IsPlaying {
		c.logErr(c.player.Play(), "play")
	} else {
		c.logErr(c.player.Pause(), "pause")
	}
	c.setPlaying(snap.IsPlaying)
}

// target is the position an anchor describes on the local clock. A local
// clock behind the anchor is clamped to the anchor position.
func (c *RoomClient) target(anchorWallTime int64, anchorPosition float64) float64 {
	anchor := timeline.Anchor{WallTime: timeline.FromMillis(anchorWallTime), Position: anchorPosition}
	pos, ok := timeline.PositionChecked(anchor, c.clock.Now())
	if !ok {
		log.Debug().Int64("anchor_wall_time", anchorWallTime).Msg("local clock behind anchor, clamping")
	}
	return pos
}

// reconcile seeks only when the local drift exceeds the tolerance
func (c *RoomClient) reconcile(target float64) bool {
	if timeline.Drift(c.player.Position(), target) <= c.config.ReconcileTolerance {
		return false
	}
	c.logErr(c.player.Seek(target), "seek")
	return true
}

func (c *RoomClient) isCurrent(key models.TrackKey) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.track != nil && *c.track == key
}

func (c *RoomClient) load(key models.TrackKey) {
	c.logErr(c.player.Load(key), "load")
	c.mu.Lock()
	c.track = &key
	c.mu.Unlock()
}

func (c *RoomClient) setPlaying(playing bool) {
	c.mu.Lock()
	c.playing = playing
	c.mu.Unlock()
}

func (c *RoomClient) logErr(err error, op string) {
	if err != nil {
		log.Warn().Err(err).Str("op", op).Msg("player operation failed")
	}
}
