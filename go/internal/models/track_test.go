package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTrackKey(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    TrackKey
		wantErr bool
	}{
		{name: "netease", input: "netease:123", want: TrackKey{Source: SourceNetease, ID: "123"}},
		{name: "id containing separator", input: "qq:abc:def", want: TrackKey{Source: SourceQQ, ID: "abc:def"}},
		{name: "missing separator", input: "netease123", wantErr: true},
		{name: "unknown source", input: "spotify:1", wantErr: true},
		{name: "empty id", input: "kuwo:", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseTrackKey(tt.input)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidTrackKey)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.input, got.String())
		})
	}
}

func TestTrackKeyUnmarshalJSON(t *testing.T) {
	var fromObject, fromString TrackKey

	require.NoError(t, json.Unmarshal([]byte(`{"source":"kuwo","id":"9"}`), &fromObject))
	require.NoError(t, json.Unmarshal([]byte(`"kuwo:9"`), &fromString))
	assert.Equal(t, fromObject, fromString)

	var bad TrackKey
	assert.ErrorIs(t, json.Unmarshal([]byte(`{"source":"","id":"9"}`), &bad), ErrInvalidTrackKey)
}
