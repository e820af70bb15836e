package utils

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIDPrefixes(t *testing.T) {
	assert.True(t, strings.HasPrefix(NewConnectionID(), "conn_"))
	assert.True(t, strings.HasPrefix(NewRoomID(), "room_"))
	assert.True(t, strings.HasPrefix(NewTransportID(), "transport_"))
	assert.True(t, strings.HasPrefix(NewProducerID(), "producer_"))
	assert.True(t, strings.HasPrefix(NewConsumerID(), "consumer_"))
	assert.True(t, strings.HasPrefix(NewWorkerID(), "worker_"))
	assert.True(t, strings.HasPrefix(NewTipID(), "tip_"))
	assert.True(t, strings.HasPrefix(NewRequestID(), "req_"))
}

func TestIDsAreUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := NewConnectionID()
		assert.False(t, seen[id])
		seen[id] = true
	}
}
