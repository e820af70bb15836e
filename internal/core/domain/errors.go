package domain

import "errors"

var (
	ErrStreamNotFound      = errors.New("stream not found")
	ErrRoomNotFound        = errors.New("room not found")
	ErrParticipantNotFound = errors.New("participant not found")
	ErrWorkerNotFound      = errors.New("worker not found")
)
