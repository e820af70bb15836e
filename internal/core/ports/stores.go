package ports

import (
	"context"

	"tipcast/internal/core/domain"
)

// StreamStore is the persistence collaborator queried before admitting a
// performer join.
type StreamStore interface {
	GetStream(ctx context.Context, id domain.StreamID) (*domain.StreamInfo, error)
}

// ViewerCountSink receives the batched net viewer-count deltas, one write per
// stream per flush interval.
type ViewerCountSink interface {
	ApplyViewerDelta(ctx context.Context, id domain.StreamID, delta int) error
}

// EventSink triggers tip and chat persistence in external services. The
// control plane fires and rebroadcasts; it owns neither ledger nor history.
type EventSink interface {
	RecordTip(ctx context.Context, tip domain.Tip) error
	RecordChat(ctx context.Context, msg domain.ChatMessage) error
}
