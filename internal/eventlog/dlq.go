package eventlog

import (
	"context"

	"github.com/redis/go-redis/v9"
)

// RedisDeadLetter parks serialized events in a Redis list. A list survives
// process restarts, which is the whole point of the sink.
type RedisDeadLetter struct {
	rdb *redis.Client
	key string
}

func NewRedisDeadLetter(rdb *redis.Client, key string) *RedisDeadLetter {
	if key == "" {
		key = "tracktg:events:dlq"
	}
	return &RedisDeadLetter{rdb: rdb, key: key}
}

func (d *RedisDeadLetter) Push(ctx context.Context, payload []byte) error {
	return d.rdb.LPush(ctx, d.key, payload).Err()
}

func (d *RedisDeadLetter) Pop(ctx context.Context) ([]byte, error) {
	b, err := d.rdb.RPop(ctx, d.key).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return b, nil
}
