package credential

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// MemoryBackend is in-process storage that several MemoryStores can share,
// each one standing in for a separate execution context.
type MemoryBackend struct {
	mu     sync.Mutex
	value  *Credential
	stores map[string]*MemoryStore
}

// NewMemoryBackend creates empty shared storage.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{stores: make(map[string]*MemoryStore)}
}

// MemoryStore keeps the credential in memory. It is used by tests and for
// ephemeral CLI runs.
type MemoryStore struct {
	backend   *MemoryBackend
	origin    string
	listeners listenerSet

	mu     sync.Mutex
	closed bool
}

// NewMemoryStore attaches a new store to backend. A nil backend gives the
// store private storage.
func NewMemoryStore(backend *MemoryBackend) *MemoryStore {
	if backend == nil {
		backend = NewMemoryBackend()
	}
	s := &MemoryStore{
		backend: backend,
		origin:  uuid.NewString(),
	}

	backend.mu.Lock()
	backend.stores[s.origin] = s
	backend.mu.Unlock()

	return s
}

// Origin implements Store.
func (s *MemoryStore) Origin() string { return s.origin }

// Get implements Store.
func (s *MemoryStore) Get(ctx context.Context) (*Credential, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	s.backend.mu.Lock()
	defer s.backend.mu.Unlock()
	return s.backend.value.Clone(), nil
}

// Set implements Store.
func (s *MemoryStore) Set(ctx context.Context, c Credential) error {
	if err := c.Validate(); err != nil {
		return err
	}
	if err := s.checkOpen(); err != nil {
		return err
	}

	s.backend.mu.Lock()
	s.backend.value = c.Clone()
	peers := s.backend.peersOf(s.origin)
	s.backend.mu.Unlock()

	for _, peer := range peers {
		peer.listeners.notify(Change{Origin: s.origin, Credential: &c})
	}
	return nil
}

// Clear implements Store.
func (s *MemoryStore) Clear(ctx context.Context) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	s.backend.mu.Lock()
	had := s.backend.value != nil
	s.backend.value = nil
	peers := s.backend.peersOf(s.origin)
	s.backend.mu.Unlock()

	if !had {
		return nil
	}
	for _, peer := range peers {
		peer.listeners.notify(Change{Origin: s.origin, Cleared: true})
	}
	return nil
}

// OnExternalChange implements Store.
func (s *MemoryStore) OnExternalChange(listener ChangeListener) func() {
	return s.listeners.add(listener)
}

// Close detaches the store from its backend.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	s.backend.mu.Lock()
	delete(s.backend.stores, s.origin)
	s.backend.mu.Unlock()
	return nil
}

func (s *MemoryStore) checkOpen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	return nil
}

// peersOf returns every attached store except origin. Caller holds b.mu.
func (b *MemoryBackend) peersOf(origin string) []*MemoryStore {
	peers := make([]*MemoryStore, 0, len(b.stores))
	for id, st := range b.stores {
		if id != origin {
			peers = append(peers, st)
		}
	}
	return peers
}
