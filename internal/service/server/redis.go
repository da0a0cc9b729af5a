package server

import (
	"context"
	"fmt"

	redisSvc "github.com/santiagosayshey/OMesh/internal/service/redis"
)

// RedisForwardQueue is the store-and-forward buffer for configured
// neighbours that are temporarily down: narrowed chat copies pile up in a
// per-peer list and are flushed when the peer reconnects.
type RedisForwardQueue struct {
	redis *redisSvc.RedisService
}

func NewRedisForwardQueue(redis *redisSvc.RedisService) *RedisForwardQueue {
	return &RedisForwardQueue{redis: redis}
}

func queueKey(addr string) string {
	return fmt.Sprintf("forward: %s", addr)
}

func (q *RedisForwardQueue) Enqueue(ctx context.Context, addr string, raw []byte) error {
	return q.redis.RPush(ctx, queueKey(addr), raw)
}

func (q *RedisForwardQueue) Drain(ctx context.Context, addr string) ([][]byte, error) {
	key := queueKey(addr)
	vals, err := q.redis.LRange(ctx, key)
	if err != nil {
		return nil, err
	}
	if err := q.redis.Del(ctx, key); err != nil {
		return nil, err
	}

	out := make([][]byte, 0, len(vals))
	for _, v := range vals {
		out = append(out, []byte(v))
	}
	return out, nil
}

func (q *RedisForwardQueue) Pending(ctx context.Context, addr string) (int64, error) {
	return q.redis.LLen(ctx, queueKey(addr))
}
