package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/rpattn/casefeed/internal/platform/logger"
)

const redisPollTimeout = 5 * time.Second

// RedisQueue keeps jobs on a Redis list so several processes can share the
// work: producers LPUSH, workers BRPOP.
type RedisQueue struct {
	rdb     *goredis.Client
	key     string
	handler Handler
	workers int
	log     *logger.Logger
}

// NewRedisClient connects to addr and verifies the connection.
func NewRedisClient(ctx context.Context, addr string) (*goredis.Client, error) {
	if addr == "" {
		return nil, fmt.Errorf("missing redis address")
	}
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return rdb, nil
}

func NewRedisQueue(rdb *goredis.Client, key string, handler Handler, workers int, log *logger.Logger) *RedisQueue {
	if key == "" {
		key = "casefeed:ingest"
	}
	if workers < 1 {
		workers = 1
	}
	if log == nil {
		log = logger.Nop()
	}
	return &RedisQueue{
		rdb:     rdb,
		key:     key,
		handler: handler,
		workers: workers,
		log:     log.With("component", "RedisQueue", "key", key),
	}
}

func encodeJob(job Job) ([]byte, error) {
	return json.Marshal(job)
}

func decodeJob(raw string) (Job, error) {
	var job Job
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		return Job{}, fmt.Errorf("bad job payload: %w", err)
	}
	if job.FileID == uuid.Nil {
		return Job{}, fmt.Errorf("bad job payload: missing file id")
	}
	return job, nil
}

func (q *RedisQueue) Submit(ctx context.Context, fileID uuid.UUID) (string, error) {
	if q == nil || q.rdb == nil {
		return "", fmt.Errorf("redis queue not initialized")
	}
	job := newJob(fileID)
	raw, err := encodeJob(job)
	if err != nil {
		return "", err
	}
	if err := q.rdb.LPush(ctx, q.key, raw).Err(); err != nil {
		return "", fmt.Errorf("redis lpush: %w", err)
	}
	return job.ID, nil
}

func (q *RedisQueue) Start(ctx context.Context) error {
	if q == nil || q.rdb == nil {
		return fmt.Errorf("redis queue not initialized")
	}
	q.log.Info("Starting job worker pool", "concurrency", q.workers)

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < q.workers; i++ {
		workerID := i + 1
		g.Go(func() error {
			for {
				if ctx.Err() != nil {
					return nil
				}
				result, err := q.rdb.BRPop(ctx, redisPollTimeout, q.key).Result()
				if errors.Is(err, goredis.Nil) {
					continue
				}
				if err != nil {
					if ctx.Err() != nil {
						return nil
					}
					q.log.Warn("redis brpop failed", "worker_id", workerID, "error", err)
					select {
					case <-ctx.Done():
						return nil
					case <-time.After(time.Second):
					}
					continue
				}
				// BRPOP returns the key followed by the value.
				job, err := decodeJob(result[len(result)-1])
				if err != nil {
					q.log.Warn("dropping job", "worker_id", workerID, "error", err)
					continue
				}
				_ = run(ctx, q.log, q.handler, workerID, job)
			}
		})
	}
	err := g.Wait()
	q.log.Info("Job worker pool stopped")
	return err
}
