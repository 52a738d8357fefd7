package jobs

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu   sync.Mutex
	seen []uuid.UUID
}

func (r *recorder) handle(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen = append(r.seen, id)
	return nil
}

func (r *recorder) ids() []uuid.UUID {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]uuid.UUID(nil), r.seen...)
}

func TestMemoryQueueDrainsOnClose(t *testing.T) {
	rec := &recorder{}
	q := NewMemoryQueue(rec.handle, 3, 16, nil)

	done := make(chan error, 1)
	go func() { done <- q.Start(context.Background()) }()

	var want []uuid.UUID
	for i := 0; i < 10; i++ {
		id := uuid.New()
		want = append(want, id)
		handle, err := q.Submit(context.Background(), id)
		require.NoError(t, err)
		assert.NotEmpty(t, handle)
	}
	q.Close()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("queue did not drain")
	}
	assert.ElementsMatch(t, want, rec.ids())
}

func TestMemoryQueueSurvivesPanicsAndErrors(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	handler := func(_ context.Context, id uuid.UUID) error {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		switch n {
		case 1:
			panic("boom")
		case 2:
			return errors.New("database unavailable")
		}
		return nil
	}
	q := NewMemoryQueue(handler, 1, 4, nil)
	done := make(chan error, 1)
	go func() { done <- q.Start(context.Background()) }()

	for i := 0; i < 3; i++ {
		_, err := q.Submit(context.Background(), uuid.New())
		require.NoError(t, err)
	}
	q.Close()
	require.NoError(t, <-done)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 3, calls)
}

func TestMemoryQueueRejectsAfterClose(t *testing.T) {
	q := NewMemoryQueue(func(context.Context, uuid.UUID) error { return nil }, 1, 1, nil)
	q.Close()
	q.Close()

	_, err := q.Submit(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrQueueClosed)
}

func TestMemoryQueueStopsOnCancel(t *testing.T) {
	q := NewMemoryQueue(func(context.Context, uuid.UUID) error { return nil }, 2, 1, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- q.Start(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("workers did not stop")
	}
}

type jobStore struct {
	mu      sync.Mutex
	handles map[uuid.UUID]string
}

func (s *jobStore) AttachJob(_ context.Context, id uuid.UUID, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handles[id] = jobID
	return nil
}

func TestDispatcherRecordsHandle(t *testing.T) {
	store := &jobStore{handles: map[uuid.UUID]string{}}
	q := NewMemoryQueue(func(context.Context, uuid.UUID) error { return nil }, 1, 1, nil)
	d := NewDispatcher(q, store, nil)
	id := uuid.New()

	handle, err := d.Submit(context.Background(), id)

	require.NoError(t, err)
	assert.Equal(t, handle, store.handles[id])
}
