package queue

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/redis/go-redis/v9"

	"quantflow/internal/domain"
)

// seqSpan separates priority bands inside a sorted-set score. With
// domain.MaxPriority the largest score stays below 2^53, so every score is
// an exact float64.
const seqSpan = 1e12

// Redis keeps refs in a sorted set so several processes can share one queue.
// Score is priority*seqSpan + a per-queue sequence, so BZPOPMIN yields the
// lowest priority value first and FIFO inside a priority.
type Redis struct {
	client *redis.Client
	key    string
}

func NewRedis(client *redis.Client, key string) *Redis {
	if key == "" {
		key = "quantflow:queue"
	}
	return &Redis{client: client, key: key}
}

func (r *Redis) Enqueue(ctx context.Context, ref Ref) error {
	if ref.Priority < domain.MinPriority || ref.Priority > domain.MaxPriority {
		return fmt.Errorf("%w: priority %d outside %d..%d", domain.ErrInvalidParams, ref.Priority, domain.MinPriority, domain.MaxPriority)
	}
	seq, err := r.client.Incr(ctx, r.key+":seq").Result()
	if err != nil {
		return fmt.Errorf("queue seq: %w", err)
	}
	score := float64(ref.Priority)*seqSpan + float64(seq%int64(seqSpan))
	if err := r.client.ZAdd(ctx, r.key, redis.Z{Score: score, Member: ref.TaskID}).Err(); err != nil {
		return fmt.Errorf("queue push: %w", err)
	}
	return nil
}

// Dequeue blocks in whole seconds: Redis rounds sub-second timeouts down to
// zero, which means forever, so wait is rounded up to at least one second.
func (r *Redis) Dequeue(ctx context.Context, wait time.Duration) (Ref, error) {
	secs := time.Duration(math.Ceil(wait.Seconds())) * time.Second
	if secs < time.Second {
		secs = time.Second
	}
	res, err := r.client.BZPopMin(ctx, secs, r.key).Result()
	if errors.Is(err, redis.Nil) {
		return Ref{}, ErrEmpty
	}
	if err != nil {
		if ctx.Err() != nil {
			return Ref{}, ctx.Err()
		}
		return Ref{}, fmt.Errorf("queue pop: %w", err)
	}
	id, ok := res.Member.(string)
	if !ok {
		return Ref{}, fmt.Errorf("queue pop: unexpected member %T", res.Member)
	}
	return Ref{TaskID: id, Priority: int(math.Floor(res.Score / seqSpan))}, nil
}

func (r *Redis) Len(ctx context.Context) (int, error) {
	n, err := r.client.ZCard(ctx, r.key).Result()
	return int(n), err
}

func (r *Redis) Close() error { return r.client.Close() }
