package conn

import (
	"sync"

	"pairlink/internal/protocol"
)

// StoredMessage is a chat message as kept by the local store.
type StoredMessage struct {
	ID        string
	Text      string
	Sender    string
	Timestamp int64
	Status    protocol.DeliveryStatus
	IsRead    bool
}

// MessageStore is the local chat persistence consulted for idempotent
// merges. The message id is the idempotency key: Put returns false and
// leaves the store unchanged when the id is already present. Status
// transitions are forward-only.
type MessageStore interface {
	Has(id string) bool
	Put(msg StoredMessage) bool
	UpdateStatus(id string, status protocol.DeliveryStatus) bool
	Messages() []StoredMessage
}

// MemoryStore is the in-process MessageStore used when no external store
// is supplied.
type MemoryStore struct {
	mu    sync.Mutex
	byID  map[string]*StoredMessage
	order []string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byID: make(map[string]*StoredMessage)}
}

func (s *MemoryStore) Has(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.byID[id]
	return ok
}

func (s *MemoryStore) Put(msg StoredMessage) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[msg.ID]; ok {
		return false
	}
	if msg.Status == "" {
		msg.Status = protocol.StatusSent
	}
	m := msg
	s.byID[msg.ID] = &m
	s.order = append(s.order, msg.ID)
	return true
}

func (s *MemoryStore) UpdateStatus(id string, status protocol.DeliveryStatus) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.byID[id]
	if !ok || !status.Supersedes(m.Status) {
		return false
	}
	m.Status = status
	if status == protocol.StatusRead {
		m.IsRead = true
	}
	return true
}

func (s *MemoryStore) Messages() []StoredMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]StoredMessage, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, *s.byID[id])
	}
	return out
}
