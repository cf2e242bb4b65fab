package relay

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zwl098/yusic/go/internal/events"
)

func TestNewMsg(t *testing.T) {
	cfg := DefaultJetStreamConfig()
	event, err := events.New("abc123", events.EventTypePause, time.Unix(10, 0), events.PausePayload{Position: 3.5})
	require.NoError(t, err)

	msg, err := newMsg(cfg.Subject(event.RoomID), event)
	require.NoError(t, err)

	assert.Equal(t, "rooms.events.abc123", msg.Subject)
	assert.Equal(t, "PAUSE", msg.Header.Get("Event-Type"))
	assert.Equal(t, "abc123", msg.Header.Get("Room-ID"))
	assert.Equal(t, event.ID, msg.Header.Get("Event-ID"))

	decoded, err := decodeMsg(msg.Data)
	require.NoError(t, err)
	assert.Equal(t, event.ID, decoded.ID)
	assert.Equal(t, events.EventTypePause, decoded.Type)

	payload, err := events.ParseEventPayload(decoded)
	require.NoError(t, err)
	assert.Equal(t, 3.5, payload.(*events.PausePayload).Position)
}

func TestDecodeMsg_Invalid(t *testing.T) {
	_, err := decodeMsg([]byte("nope"))
	assert.Error(t, err)

	_, err = decodeMsg([]byte(`{"id":"x"}`))
	assert.Error(t, err)
}

func TestNoopPublisher(t *testing.T) {
	var p Publisher = NoopPublisher{}
	assert.NoError(t, p.Publish(context.Background(), &events.SyncEvent{}))
	assert.NoError(t, p.Close())
}
