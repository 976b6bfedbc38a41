package policy

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/Miguel4950/g4-prestamos-backend/internal/redisx"
)

// RedisStore reads policy knobs from redis under policy:{key}.
type RedisStore struct {
	RDB *redis.Client
}

func (s *RedisStore) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := s.RDB.Get(ctx, fmt.Sprintf(redisx.KeyPolicy, key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}
