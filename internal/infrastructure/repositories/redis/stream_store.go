package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"tipcast/internal/core/domain"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "tipcast:"

// StreamStore reads stream records written by the catalog service and
// pushes tip, chat and viewer-count events back out through Redis.
//
// Layout:
//
//	tipcast:stream:<id>          JSON StreamInfo
//	tipcast:stream:<id>:viewers  integer viewer count
//	tipcast:events:tips          list of JSON tips, consumed by the ledger
//	tipcast:events:chat          list of JSON chat messages
type StreamStore struct {
	client *redis.Client
}

func NewStreamStore(client *redis.Client) *StreamStore {
	return &StreamStore{client: client}
}

func streamKey(id domain.StreamID) string {
	return keyPrefix + "stream:" + string(id)
}

func viewersKey(id domain.StreamID) string {
	return streamKey(id) + ":viewers"
}

func (s *StreamStore) GetStream(ctx context.Context, id domain.StreamID) (*domain.StreamInfo, error) {
	data, err := s.client.Get(ctx, streamKey(id)).Result()
	if err == redis.Nil {
		return nil, domain.ErrStreamNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get stream from Redis: %w", err)
	}

	var info domain.StreamInfo
	if err := json.Unmarshal([]byte(data), &info); err != nil {
		return nil, fmt.Errorf("failed to unmarshal stream: %w", err)
	}
	return &info, nil
}

// PutStream writes a stream record. The catalog service owns these records
// in production; this exists for development mode and tests.
func (s *StreamStore) PutStream(ctx context.Context, info *domain.StreamInfo) error {
	data, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("failed to marshal stream: %w", err)
	}
	if err := s.client.Set(ctx, streamKey(info.ID), data, 0).Err(); err != nil {
		return fmt.Errorf("failed to set stream in Redis: %w", err)
	}
	return nil
}

func (s *StreamStore) ApplyViewerDelta(ctx context.Context, id domain.StreamID, delta int) error {
	if err := s.client.IncrBy(ctx, viewersKey(id), int64(delta)).Err(); err != nil {
		return fmt.Errorf("failed to apply viewer delta: %w", err)
	}
	return nil
}

// ViewerCount reads the current persisted viewer count for a stream.
func (s *StreamStore) ViewerCount(ctx context.Context, id domain.StreamID) (int, error) {
	n, err := s.client.Get(ctx, viewersKey(id)).Int()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get viewer count: %w", err)
	}
	return n, nil
}

func (s *StreamStore) RecordTip(ctx context.Context, tip domain.Tip) error {
	data, err := json.Marshal(tip)
	if err != nil {
		return fmt.Errorf("failed to marshal tip: %w", err)
	}
	if err := s.client.LPush(ctx, keyPrefix+"events:tips", data).Err(); err != nil {
		return fmt.Errorf("failed to push tip event: %w", err)
	}
	return nil
}

func (s *StreamStore) RecordChat(ctx context.Context, msg domain.ChatMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal chat message: %w", err)
	}
	if err := s.client.LPush(ctx, keyPrefix+"events:chat", data).Err(); err != nil {
		return fmt.Errorf("failed to push chat event: %w", err)
	}
	return nil
}
