package domain

import "errors"

var (
	ErrRoomNotFound          = errors.New("room not found")
	ErrRoomExists            = errors.New("room already exists")
	ErrRoomNotLive           = errors.New("room not started")
	ErrRoomEnded             = errors.New("room has ended")
	ErrRoomAtCapacity        = errors.New("room at capacity")
	ErrParticipantNotFound   = errors.New("participant not found")
	ErrCredentialUnavailable = errors.New("credential service unavailable")
	ErrNotConnected          = errors.New("not connected")
	ErrAlreadyConnected      = errors.New("already connected")
	ErrConnectionLost        = errors.New("connection lost")
	ErrDeviceUnavailable     = errors.New("device unavailable")
	ErrNotHost               = errors.New("only the host may perform this action")
)
