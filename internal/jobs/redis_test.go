package jobs

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobEnvelopeRoundTrip(t *testing.T) {
	job := newJob(uuid.New())

	raw, err := encodeJob(job)
	require.NoError(t, err)
	decoded, err := decodeJob(string(raw))
	require.NoError(t, err)

	assert.Equal(t, job.ID, decoded.ID)
	assert.Equal(t, job.FileID, decoded.FileID)
	assert.True(t, job.SubmittedAt.Equal(decoded.SubmittedAt))
}

func TestDecodeJobRejectsGarbage(t *testing.T) {
	_, err := decodeJob("not json")
	assert.Error(t, err)
	_, err = decodeJob(`{"id":"x"}`)
	assert.Error(t, err)
}

// Runs against a live server when CASEFEED_TEST_REDIS_ADDR is set.
func TestRedisQueueRoundTrip(t *testing.T) {
	addr := os.Getenv("CASEFEED_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("CASEFEED_TEST_REDIS_ADDR not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	rdb, err := NewRedisClient(ctx, addr)
	require.NoError(t, err)
	defer rdb.Close()

	key := "casefeed:test:" + uuid.NewString()
	defer rdb.Del(context.Background(), key)

	got := make(chan uuid.UUID, 1)
	q := NewRedisQueue(rdb, key, func(_ context.Context, id uuid.UUID) error {
		got <- id
		return nil
	}, 1, nil)

	id := uuid.New()
	_, err = q.Submit(ctx, id)
	require.NoError(t, err)

	workerCtx, stop := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- q.Start(workerCtx) }()

	select {
	case received := <-got:
		assert.Equal(t, id, received)
	case <-ctx.Done():
		t.Fatal("job not delivered")
	}
	stop()
	require.NoError(t, <-done)
}
