package core

import "errors"

// Error codes used to tag rejected commands in logs.
const (
	ErrCodeCapacityExceeded = "capacity_exceeded"
	ErrCodeRoomFull         = "room_full"
	ErrCodeNotInRoom        = "not_in_room"
)

var (
	// ErrServerFull means the client ceiling was reached.
	ErrServerFull = errors.New("server full")
	// ErrRoomLimit means the room ceiling was reached.
	ErrRoomLimit = errors.New("room limit reached")
	// ErrRoomFull means the per-room member ceiling was reached.
	ErrRoomFull = errors.New("room full")
	// ErrNotInRoom means the command requires an active room membership.
	ErrNotInRoom = errors.New("not in room")
)
