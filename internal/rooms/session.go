package rooms

import (
	"sync"
	"time"

	"tipcast/internal/core/domain"
	"tipcast/internal/core/ports"
)

// Session is the per-connection state of one participant: its role, at most
// one transport per direction, and the producers and consumers it owns.
type Session struct {
	connID   domain.ConnID
	userID   domain.UserID
	role     domain.Role
	joinedAt time.Time

	// opMu serializes media operations for this participant. Operations
	// across different participants interleave freely.
	opMu sync.Mutex

	// mu guards the maps below and the gone flag.
	mu         sync.Mutex
	gone       bool
	transports map[domain.TransportDirection]ports.Transport
	producers  map[domain.ProducerID]ports.Producer
	consumers  map[domain.ConsumerID]ports.Consumer
}

func newSession(connID domain.ConnID, userID domain.UserID, role domain.Role, joinedAt time.Time) *Session {
	return &Session{
		connID:     connID,
		userID:     userID,
		role:       role,
		joinedAt:   joinedAt,
		transports: make(map[domain.TransportDirection]ports.Transport),
		producers:  make(map[domain.ProducerID]ports.Producer),
		consumers:  make(map[domain.ConsumerID]ports.Consumer),
	}
}

// ConnID returns the connection id.
func (s *Session) ConnID() domain.ConnID { return s.connID }

// UserID returns the user id.
func (s *Session) UserID() domain.UserID { return s.userID }

// Role returns the participant role.
func (s *Session) Role() domain.Role { return s.role }

// JoinedAt returns the join time.
func (s *Session) JoinedAt() time.Time { return s.joinedAt }

// isGone reports whether the session has been torn down. An engine call that
// completes after its session is gone must self-close its result.
func (s *Session) isGone() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gone
}

// transport returns the transport for a direction, or nil.
func (s *Session) transport(dir domain.TransportDirection) ports.Transport {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transports[dir]
}

// ProducerIDs returns the ids of all producers owned by this session.
func (s *Session) ProducerIDs() []domain.ProducerID {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]domain.ProducerID, 0, len(s.producers))
	for id := range s.producers {
		ids = append(ids, id)
	}
	return ids
}

// Producers returns the live producers owned by this session.
func (s *Session) Producers() []ports.Producer {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ports.Producer, 0, len(s.producers))
	for _, p := range s.producers {
		out = append(out, p)
	}
	return out
}

// ConsumerIDs returns the ids of all consumers owned by this session.
func (s *Session) ConsumerIDs() []domain.ConsumerID {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]domain.ConsumerID, 0, len(s.consumers))
	for id := range s.consumers {
		ids = append(ids, id)
	}
	return ids
}

// MediaStats counts live media objects for health reporting.
func (s *Session) MediaStats() (transports, producers, consumers int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.transports), len(s.producers), len(s.consumers)
}

// detachProducer removes a producer entry without closing it. Returns true
// if the producer was present.
func (s *Session) detachProducer(id domain.ProducerID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.producers[id]; !ok {
		return false
	}
	delete(s.producers, id)
	return true
}

// detachConsumer removes a consumer entry without closing it. Returns true
// if the consumer was present.
func (s *Session) detachConsumer(id domain.ConsumerID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.consumers[id]; !ok {
		return false
	}
	delete(s.consumers, id)
	return true
}

// detachTransport removes the transport for a direction without closing it
// and returns the producers or consumers that rode on it, which the caller
// must close. Send transports carry producers, recv transports carry
// consumers.
func (s *Session) detachTransport(dir domain.TransportDirection) (ports.Transport, []ports.Producer, []ports.Consumer) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.transports[dir]
	if !ok {
		return nil, nil, nil
	}
	delete(s.transports, dir)

	var producers []ports.Producer
	var consumers []ports.Consumer
	switch dir {
	case domain.DirectionSend:
		for id, p := range s.producers {
			producers = append(producers, p)
			delete(s.producers, id)
		}
	case domain.DirectionRecv:
		for id, c := range s.consumers {
			consumers = append(consumers, c)
			delete(s.consumers, id)
		}
	}
	return t, producers, consumers
}

// teardown marks the session gone and drains all owned media objects for the
// caller to close. Safe to call more than once.
func (s *Session) teardown() (transports []ports.Transport, producers []ports.Producer, consumers []ports.Consumer) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.gone {
		return nil, nil, nil
	}
	s.gone = true

	for dir, t := range s.transports {
		transports = append(transports, t)
		delete(s.transports, dir)
	}
	for id, p := range s.producers {
		producers = append(producers, p)
		delete(s.producers, id)
	}
	for id, c := range s.consumers {
		consumers = append(consumers, c)
		delete(s.consumers, id)
	}
	return transports, producers, consumers
}
