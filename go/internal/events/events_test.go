package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zwl098/yusic/go/internal/models"
)

func TestNewAndParse(t *testing.T) {
	key := models.TrackKey{Source: models.SourceNetease, ID: "123"}
	at := time.UnixMilli(1_700_000_000_000)

	event, err := New("room1", EventTypePlay, at, PlayPayload{TrackKey: &key, AnchorWallTime: at.UnixMilli()})
	require.NoError(t, err)
	assert.NotEmpty(t, event.ID)
	assert.Equal(t, "room1", event.RoomID)

	payload, err := ParseEventPayload(event)
	require.NoError(t, err)
	play, ok := payload.(*PlayPayload)
	require.True(t, ok)
	assert.Equal(t, key, *play.TrackKey)
	assert.Equal(t, at.UnixMilli(), play.AnchorWallTime)
}

func TestParseUnknownType(t *testing.T) {
	_, err := ParseEventPayload(&SyncEvent{Type: "BOGUS", Data: []byte(`{}`)})
	assert.Error(t, err)
}

func TestEventTypePlayback(t *testing.T) {
	assert.True(t, EventTypePause.Playback())
	assert.True(t, EventTypeQueue.Playback())
	assert.False(t, EventTypeEmote.Playback())
	assert.False(t, EventTypeMemberCount.Playback())
}
