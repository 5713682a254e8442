// Package store keeps in-memory conversation histories. Conversations
// live for the process lifetime; there is no delete or expiry.
package store

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"bitnetgo/internal/models"
)

// ErrNotFound is returned for ids that were never created.
var ErrNotFound = errors.New("conversation not found")

type conversation struct {
	// opMu serializes whole chat operations (read, generate, append)
	// on one conversation. mu guards the slice itself so Get and
	// Append stay safe for callers that do not hold opMu.
	opMu sync.Mutex
	mu   sync.RWMutex

	messages  []models.Message
	createdAt time.Time
}

// Store maps conversation ids to append-only message histories.
// Operations on different ids never block each other.
type Store struct {
	mu            sync.RWMutex
	conversations map[string]*conversation
}

func New() *Store {
	return &Store{conversations: make(map[string]*conversation)}
}

// Create registers an empty conversation and returns its id. Ids are
// uuid-based, so concurrent calls never collide.
func (s *Store) Create() string {
	id := "conv_" + uuid.NewString()
	conv := &conversation{
		messages:  make([]models.Message, 0, 8),
		createdAt: time.Now(),
	}
	s.mu.Lock()
	s.conversations[id] = conv
	s.mu.Unlock()
	return id
}

// Get returns a snapshot of the history. Later appends never mutate a
// returned slice.
func (s *Store) Get(id string) ([]models.Message, error) {
	conv, err := s.lookup(id)
	if err != nil {
		return nil, err
	}
	conv.mu.RLock()
	defer conv.mu.RUnlock()
	snapshot := make([]models.Message, len(conv.messages))
	copy(snapshot, conv.messages)
	return snapshot, nil
}

// Append adds msg to the end of the history. The append is atomic with
// respect to concurrent Get and Append calls on the same id.
func (s *Store) Append(id string, msg models.Message) error {
	conv, err := s.lookup(id)
	if err != nil {
		return err
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	conv.mu.Lock()
	conv.messages = append(conv.messages, msg)
	conv.mu.Unlock()
	return nil
}

// CreatedAt reports when the conversation was registered.
func (s *Store) CreatedAt(id string) (time.Time, error) {
	conv, err := s.lookup(id)
	if err != nil {
		return time.Time{}, err
	}
	return conv.createdAt, nil
}

// Acquire takes the per-conversation operation lock so a whole
// read-generate-append cycle observes and produces an uninterleaved
// history. The returned func releases the lock.
func (s *Store) Acquire(id string) (func(), error) {
	conv, err := s.lookup(id)
	if err != nil {
		return nil, err
	}
	conv.opMu.Lock()
	return conv.opMu.Unlock, nil
}

func (s *Store) lookup(id string) (*conversation, error) {
	s.mu.RLock()
	conv, ok := s.conversations[id]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return conv, nil
}
