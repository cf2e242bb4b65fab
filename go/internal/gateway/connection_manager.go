package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/zwl098/yusic/go/internal/events"
	"github.com/zwl098/yusic/go/internal/roomsync"
)

// ErrBroadcastQueueFull is returned when a best-effort event was dropped
var ErrBroadcastQueueFull = errors.New("broadcast queue full")

// Dispatcher answers intents read from a connection
type Dispatcher interface {
	Dispatch(ctx context.Context, connID string, intent roomsync.Intent) roomsync.Ack
	Leave(ctx context.Context, connID string)
}

// ConnectionManager manages WebSocket connections and fans room events out
// to them. All broadcasts go through one goroutine so each connection sees
// events in the order they were delivered.
type ConnectionManager struct {
	connections map[string]*Connection
	mu          sync.RWMutex

	upgrader websocket.Upgrader
	config   ConnectionConfig
	clock    clockwork.Clock

	broadcastCh chan broadcastMessage
}

// Connection represents a WebSocket connection to a client
type Connection struct {
	ID      string
	Conn    *websocket.Conn
	Send    chan []byte
	Manager *ConnectionManager

	ConnectedAt time.Time
	LastPing    time.Time

	// guards Send against writes after close
	sendMu sync.Mutex
	closed bool
}

// ConnectionConfig holds configuration for WebSocket connections
type ConnectionConfig struct {
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	PingInterval    time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	SendBufferSize  int
	BroadcastBuffer int
	CheckOrigin     func(r *http.Request) bool
}

// broadcastMessage targets recipients, or every connection when nil.
// Acks carry their encoded frame in raw and no event.
type broadcastMessage struct {
	event      *events.SyncEvent
	raw        []byte
	recipients []string
}

// DefaultConnectionConfig returns default WebSocket configuration
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		MaxMessageSize:  64 * 1024, // queues and playlists travel in one frame
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		SendBufferSize:  256,
		BroadcastBuffer: 1000,
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}
}

// NewConnectionManager creates a new WebSocket connection manager
func NewConnectionManager(config ConnectionConfig, clock clockwork.Clock) *ConnectionManager {
	return &ConnectionManager{
		connections: make(map[string]*Connection),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		config:      config,
		clock:       clock,
		broadcastCh: make(chan broadcastMessage, config.BroadcastBuffer),
	}
}

// Start processes broadcasts until ctx is done
func (cm *ConnectionManager) Start(ctx context.Context) {
	log.Info().Msg("connection manager started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("connection manager shutting down")
			cm.closeAll()
			return
		case message := <-cm.broadcastCh:
			cm.handleBroadcast(message)
		}
	}
}

// UpgradeConnection upgrades an HTTP connection to WebSocket and serves it
// with dispatcher until the client goes away.
func (cm *ConnectionManager) UpgradeConnection(w http.ResponseWriter, r *http.Request, dispatcher Dispatcher) (*Connection, error) {
	conn, err := cm.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to upgrade connection: %w", err)
	}

	now := cm.clock.Now()
	connection := &Connection{
		ID:          uuid.New().String(),
		Conn:        conn,
		Send:        make(chan []byte, cm.config.SendBufferSize),
		Manager:     cm,
		ConnectedAt: now,
		LastPing:    now,
	}

	cm.registerConnection(connection)

	go connection.writePump()
	go connection.readPump(dispatcher)

	log.Info().
		Str("connection_id", connection.ID).
		Str("remote_addr", r.RemoteAddr).
		Msg("WebSocket connection established")

	return connection, nil
}

func (cm *ConnectionManager) registerConnection(conn *Connection) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	cm.connections[conn.ID] = conn

	log.Debug().
		Str("connection_id", conn.ID).
		Int("total_connections", len(cm.connections)).
		Msg("connection registered")
}

// unregisterConnection removes a connection and closes its send channel.
// Safe to call more than once.
func (cm *ConnectionManager) unregisterConnection(conn *Connection) {
	cm.mu.Lock()
	_, exists := cm.connections[conn.ID]
	delete(cm.connections, conn.ID)
	cm.mu.Unlock()

	conn.sendMu.Lock()
	if !conn.closed {
		conn.closed = true
		close(conn.Send)
	}
	conn.sendMu.Unlock()

	if exists {
		log.Info().Str("connection_id", conn.ID).Msg("connection unregistered")
	}
}

// Deliver queues event for recipients. Playback events wait for room in
// the queue, bounded by ctx; presence and emote events are dropped when the
// queue is full. Deliver never writes to a socket itself.
func (cm *ConnectionManager) Deliver(ctx context.Context, event *events.SyncEvent, recipients []string) error {
	if len(recipients) == 0 {
		return nil
	}
	return cm.enqueue(ctx, broadcastMessage{event: event, recipients: recipients})
}

// BroadcastAll queues event for every connection regardless of room
func (cm *ConnectionManager) BroadcastAll(ctx context.Context, event *events.SyncEvent) error {
	return cm.enqueue(ctx, broadcastMessage{event: event})
}

// sendAck queues an encoded ack for one connection behind every event
// already queued, so a client never sees an ack before the events the
// server applied ahead of it.
func (cm *ConnectionManager) sendAck(ctx context.Context, connID string, data []byte) error {
	return cm.enqueue(ctx, broadcastMessage{raw: data, recipients: []string{connID}})
}

func (cm *ConnectionManager) enqueue(ctx context.Context, message broadcastMessage) error {
	if message.event != nil && !mustDeliver(message.event.Type) {
		select {
		case cm.broadcastCh <- message:
			return nil
		default:
			log.Warn().
				Str("room_id", message.event.RoomID).
				Str("event_type", string(message.event.Type)).
				Msg("broadcast channel full, dropping message")
			return ErrBroadcastQueueFull
		}
	}

	select {
	case cm.broadcastCh <- message:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("queue %s: %w", message.kind(), ctx.Err())
	}
}

func (m broadcastMessage) kind() string {
	if m.event == nil {
		return "ack"
	}
	return string(m.event.Type)
}

func mustDeliver(t events.EventType) bool {
	return t.Playback() || t == events.EventTypePlaylists || t == events.EventTypePlaylistUpdated
}

func (cm *ConnectionManager) handleBroadcast(message broadcastMessage) {
	cm.mu.RLock()
	var targets []*Connection
	if message.recipients == nil {
		targets = make([]*Connection, 0, len(cm.connections))
		for _, conn := range cm.connections {
			targets = append(targets, conn)
		}
	} else {
		targets = make([]*Connection, 0, len(message.recipients))
		for _, id := range message.recipients {
			if conn, ok := cm.connections[id]; ok {
				targets = append(targets, conn)
			}
		}
	}
	cm.mu.RUnlock()

	data := message.raw
	if data == nil {
		var err error
		data, err = json.Marshal(message.event)
		if err != nil {
			log.Error().Err(err).Msg("failed to marshal event for broadcast")
			return
		}
	}

	for _, conn := range targets {
		if !conn.trySend(data) {
			// A client that cannot keep up is disconnected; it resyncs
			// from the join snapshot when it reconnects.
			log.Warn().
				Str("connection_id", conn.ID).
				Msg("connection send buffer full, closing connection")
			cm.unregisterConnection(conn)
			conn.Conn.Close()
		}
	}

	if message.event == nil {
		return
	}
	log.Debug().
		Str("event_type", string(message.event.Type)).
		Str("room_id", message.event.RoomID).
		Int("connections", len(targets)).
		Msg("event broadcasted")
}

// ConnectionStats describes the live connections
type ConnectionStats struct {
	TotalConnections int `json:"total_connections"`
	QueuedBroadcasts int `json:"queued_broadcasts"`
}

// GetConnectionStats returns statistics about active connections
func (cm *ConnectionManager) GetConnectionStats() ConnectionStats {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	return ConnectionStats{
		TotalConnections: len(cm.connections),
		QueuedBroadcasts: len(cm.broadcastCh),
	}
}

func (cm *ConnectionManager) closeAll() {
	cm.mu.RLock()
	conns := make([]*Connection, 0, len(cm.connections))
	for _, conn := range cm.connections {
		conns = append(conns, conn)
	}
	cm.mu.RUnlock()

	for _, conn := range conns {
		cm.unregisterConnection(conn)
	}
}

// trySend queues data without blocking. It reports false when the buffer
// is full; sends after close are discarded.
func (c *Connection) trySend(data []byte) bool {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.closed {
		return true
	}
	select {
	case c.Send <- data:
		return true
	default:
		return false
	}
}

// writePump handles sending messages to the WebSocket connection
func (c *Connection) writePump() {
	ticker := time.NewTicker(c.Manager.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("failed to write message to WebSocket")
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Debug().
					Err(err).
					Str("connection_id", c.ID).
					Msg("failed to send ping")
				return
			}
		}
	}
}

// readPump decodes intents and answers each with an ack. When the client
// goes away the connection leaves its room.
func (c *Connection) readPump(dispatcher Dispatcher) {
	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		dispatcher.Leave(context.Background(), c.ID)
		c.Manager.unregisterConnection(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(c.Manager.config.MaxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
		c.sendMu.Lock()
		c.LastPing = c.Manager.clock.Now()
		c.sendMu.Unlock()
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("unexpected WebSocket close error")
			}
			return
		}

		c.handleClientMessage(ctx, dispatcher, message)
		c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	}
}

// handleClientMessage processes one frame received from the client
func (c *Connection) handleClientMessage(ctx context.Context, dispatcher Dispatcher, message []byte) {
	var intent roomsync.Intent
	var ack roomsync.Ack
	if err := json.Unmarshal(message, &intent); err != nil {
		ack = roomsync.Ack{Type: roomsync.AckType, Error: roomsync.CodeBadRequest}
	} else {
		log.Debug().
			Str("connection_id", c.ID).
			Str("intent", string(intent.Type)).
			Msg("received client intent")
		ack = dispatcher.Dispatch(ctx, c.ID, intent)
	}

	data, err := json.Marshal(ack)
	if err != nil {
		log.Error().Err(err).Str("connection_id", c.ID).Msg("failed to marshal ack")
		return
	}
	sendCtx, cancel := context.WithTimeout(ctx, c.Manager.config.WriteTimeout)
	defer cancel()
	if err := c.Manager.sendAck(sendCtx, c.ID, data); err != nil {
		log.Warn().Err(err).Str("connection_id", c.ID).Msg("broadcast queue stalled, dropping ack")
	}
}
