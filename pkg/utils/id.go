package utils

import (
	"fmt"

	"github.com/google/uuid"
)

// NewConnectionID generates a unique signaling connection id.
func NewConnectionID() string {
	return fmt.Sprintf("conn_%s", uuid.NewString())
}

// NewRoomID generates a unique room id.
func NewRoomID() string {
	return fmt.Sprintf("room_%s", uuid.NewString())
}

// NewTransportID generates a unique transport id.
func NewTransportID() string {
	return fmt.Sprintf("transport_%s", uuid.NewString())
}

// NewProducerID generates a unique producer id.
func NewProducerID() string {
	return fmt.Sprintf("producer_%s", uuid.NewString())
}

// NewConsumerID generates a unique consumer id.
func NewConsumerID() string {
	return fmt.Sprintf("consumer_%s", uuid.NewString())
}

// NewWorkerID generates a unique worker id.
func NewWorkerID() string {
	return fmt.Sprintf("worker_%s", uuid.NewString())
}

// NewTipID generates a unique tip id.
func NewTipID() string {
	return fmt.Sprintf("tip_%s", uuid.NewString())
}

// NewRequestID generates a unique HTTP request id.
func NewRequestID() string {
	return fmt.Sprintf("req_%s", uuid.NewString())
}
