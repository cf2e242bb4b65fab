package room

import "errors"

var (
	// ErrRoomNotFound is returned when a room id is absent from the registry
	// (deleted, expired, or never created).
	ErrRoomNotFound = errors.New("room not found")

	// ErrNoTrackSelected is returned when resuming a room that has no current track
	ErrNoTrackSelected = errors.New("no track selected")

	// ErrInvalidPosition is returned for negative or non-finite seek targets
	ErrInvalidPosition = errors.New("invalid position")

	// ErrIDExhausted is returned when no free room id was found
	ErrIDExhausted = errors.New("could not allocate a room id")
)
