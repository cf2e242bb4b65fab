package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidTrackKey is returned when a track key cannot be parsed or names an unknown source.
var ErrInvalidTrackKey = errors.New("invalid track key")

// Source identifies the catalog a track id belongs to.
type Source string

const (
	SourceNetease Source = "netease"
	SourceQQ      Source = "qq"
	SourceKuwo    Source = "kuwo"
)

// Valid reports whether s is a known catalog source.
func (s Source) Valid() bool {
	switch s {
	case SourceNetease, SourceQQ, SourceKuwo:
		return true
	}
	return false
}

// TrackKey is the composite key of a track in the external catalog.
// Rooms only ever hold keys, never catalog metadata.
type TrackKey struct {
	Source Source `json:"source"`
	ID     string `json:"id"`
}

// ParseTrackKey parses the legacy "source:id" form. Only the first colon
// separates, so ids may themselves contain colons.
func ParseTrackKey(s string) (TrackKey, error) {
	source, id, ok := strings.Cut(s, ":")
	if !ok {
		return TrackKey{}, fmt.Errorf("%w: %q", ErrInvalidTrackKey, s)
	}
	key := TrackKey{Source: Source(source), ID: id}
	if err := key.Validate(); err != nil {
		return TrackKey{}, err
	}
	return key, nil
}

// Validate checks the source and id.
func (k TrackKey) Validate() error {
	if !k.Source.Valid() {
		return fmt.Errorf("%w: unknown source %q", ErrInvalidTrackKey, k.Source)
	}
	if k.ID == "" {
		return fmt.Errorf("%w: empty id", ErrInvalidTrackKey)
	}
	return nil
}

func (k TrackKey) String() string {
	return string(k.Source) + ":" + k.ID
}

// UnmarshalJSON accepts both {"source","id"} objects and "source:id" strings.
func (k *TrackKey) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		key, err := ParseTrackKey(s)
		if err != nil {
			return err
		}
		*k = key
		return nil
	}

	type plain TrackKey
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidTrackKey, err)
	}
	*k = TrackKey(p)
	return k.Validate()
}
