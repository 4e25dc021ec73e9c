package kvtable

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisTable stores one hash as a Redis hash keyed by name.
type RedisTable struct {
	client redis.Cmdable
	name   string
}

func NewRedis(client redis.Cmdable, name string) *RedisTable {
	return &RedisTable{client: client, name: name}
}

func (t *RedisTable) Name() string { return t.name }

func (t *RedisTable) Set(ctx context.Context, field, value string) error {
	if err := t.client.HSet(ctx, t.name, field, value).Err(); err != nil {
		return fmt.Errorf("redis hset: %w", err)
	}
	return nil
}

func (t *RedisTable) Delete(ctx context.Context, field string) error {
	if err := t.client.HDel(ctx, t.name, field).Err(); err != nil {
		return fmt.Errorf("redis hdel: %w", err)
	}
	return nil
}

func (t *RedisTable) DeleteAll(ctx context.Context) error {
	if err := t.client.Del(ctx, t.name).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

func (t *RedisTable) GetAll(ctx context.Context) (map[string]string, error) {
	m, err := t.client.HGetAll(ctx, t.name).Result()
	if err != nil {
		return nil, fmt.Errorf("redis hgetall: %w", err)
	}
	if m == nil {
		m = map[string]string{}
	}
	return m, nil
}

func (t *RedisTable) BatchGet(ctx context.Context, fields ...string) ([]string, []bool, error) {
	values := make([]string, len(fields))
	found := make([]bool, len(fields))
	if len(fields) == 0 {
		return values, found, nil
	}

	res, err := t.client.HMGet(ctx, t.name, fields...).Result()
	if err != nil {
		return nil, nil, fmt.Errorf("redis hmget: %w", err)
	}
	for i, v := range res {
		if i >= len(fields) {
			break
		}
		if s, ok := v.(string); ok {
			values[i], found[i] = s, true
		}
	}
	return values, found, nil
}
