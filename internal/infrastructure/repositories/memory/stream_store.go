package memory

import (
	"context"
	"sync"

	"tipcast/internal/core/domain"
)

// StreamStore is an in-memory stand-in for the Redis-backed store, used in
// development mode and tests. It satisfies the same three ports: stream
// lookups, viewer-count deltas, and tip/chat event recording.
type StreamStore struct {
	mu      sync.RWMutex
	streams map[domain.StreamID]*domain.StreamInfo
	viewers map[domain.StreamID]int
	tips    []domain.Tip
	chats   []domain.ChatMessage
}

func NewStreamStore() *StreamStore {
	return &StreamStore{
		streams: make(map[domain.StreamID]*domain.StreamInfo),
		viewers: make(map[domain.StreamID]int),
	}
}

func (s *StreamStore) GetStream(ctx context.Context, id domain.StreamID) (*domain.StreamInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	info, ok := s.streams[id]
	if !ok {
		return nil, domain.ErrStreamNotFound
	}
	cp := *info
	return &cp, nil
}

func (s *StreamStore) PutStream(ctx context.Context, info *domain.StreamInfo) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *info
	s.streams[info.ID] = &cp
	return nil
}

func (s *StreamStore) ApplyViewerDelta(ctx context.Context, id domain.StreamID, delta int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.viewers[id] += delta
	return nil
}

func (s *StreamStore) ViewerCount(ctx context.Context, id domain.StreamID) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.viewers[id], nil
}

func (s *StreamStore) RecordTip(ctx context.Context, tip domain.Tip) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.tips = append(s.tips, tip)
	return nil
}

func (s *StreamStore) RecordChat(ctx context.Context, msg domain.ChatMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.chats = append(s.chats, msg)
	return nil
}

// Tips returns a copy of the recorded tips.
func (s *StreamStore) Tips() []domain.Tip {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Tip, len(s.tips))
	copy(out, s.tips)
	return out
}
