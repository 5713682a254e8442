package store

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bitnetgo/internal/models"
)

func TestCreateUniqueIDs(t *testing.T) {
	s := New()
	const n = 200
	ids := make(chan string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ids <- s.Create()
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[string]struct{}, n)
	for id := range ids {
		_, dup := seen[id]
		require.False(t, dup, "duplicate conversation id %s", id)
		seen[id] = struct{}{}
	}
	assert.Len(t, seen, n)
}

func TestAppendOrdering(t *testing.T) {
	s := New()
	id := s.Create()
	m1 := models.Message{Role: models.RoleUser, Content: "first"}
	m2 := models.Message{Role: models.RoleAssistant, Content: "second"}
	require.NoError(t, s.Append(id, m1))
	require.NoError(t, s.Append(id, m2))

	history, err := s.Get(id)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "first", history[0].Content)
	assert.Equal(t, "second", history[1].Content)
}

func TestConversationIsolation(t *testing.T) {
	s := New()
	a := s.Create()
	b := s.Create()
	require.NoError(t, s.Append(a, models.Message{Role: models.RoleUser, Content: "only in a"}))

	historyB, err := s.Get(b)
	require.NoError(t, err)
	assert.Empty(t, historyB)
}

func TestUnknownID(t *testing.T) {
	s := New()
	_, err := s.Get("nonexistent-id")
	assert.ErrorIs(t, err, ErrNotFound)

	err = s.Append("nonexistent-id", models.Message{Role: models.RoleUser, Content: "x"})
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.Acquire("nonexistent-id")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetReturnsSnapshot(t *testing.T) {
	s := New()
	id := s.Create()
	require.NoError(t, s.Append(id, models.Message{Role: models.RoleUser, Content: "one"}))

	before, err := s.Get(id)
	require.NoError(t, err)
	require.NoError(t, s.Append(id, models.Message{Role: models.RoleAssistant, Content: "two"}))

	assert.Len(t, before, 1, "earlier snapshot must not grow")
	after, err := s.Get(id)
	require.NoError(t, err)
	assert.Len(t, after, 2)
}

func TestConcurrentAppendsSameID(t *testing.T) {
	s := New()
	id := s.Create()
	const n = 100
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = s.Append(id, models.Message{
				Role:    models.RoleUser,
				Content: fmt.Sprintf("msg-%d", i),
			})
		}(i)
	}
	wg.Wait()

	history, err := s.Get(id)
	require.NoError(t, err)
	assert.Len(t, history, n, "no append may be lost")
}

func TestAcquireSerializesOperations(t *testing.T) {
	s := New()
	id := s.Create()

	release, err := s.Acquire(id)
	require.NoError(t, err)

	entered := make(chan struct{})
	go func() {
		r2, err := s.Acquire(id)
		if err == nil {
			close(entered)
			r2()
		}
	}()

	select {
	case <-entered:
		t.Fatal("second Acquire proceeded while first held the lock")
	default:
	}
	release()
	<-entered
}

func TestAcquireDifferentIDsIndependent(t *testing.T) {
	s := New()
	a := s.Create()
	b := s.Create()

	releaseA, err := s.Acquire(a)
	require.NoError(t, err)
	defer releaseA()

	// Must not block even though a is held.
	releaseB, err := s.Acquire(b)
	require.NoError(t, err)
	releaseB()
}
