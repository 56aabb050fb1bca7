package bypass

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "pitchcheck:bypass:"

// RedisStore はRedisを使った単回使用ストア。
// 複数インスタンスで同じマーカーを共有できる。
type RedisStore struct {
	client redis.UniversalClient
}

// NewRedisStore はRedisStoreを生成する。
func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

// Register はjtiをSET NX EXで登録する。
func (s *RedisStore) Register(ctx context.Context, jti string, ttl time.Duration) error {
	ok, err := s.client.SetNX(ctx, redisKeyPrefix+jti, "1", ttl).Result()
	if err != nil {
		return fmt.Errorf("redis setnx: %w", err)
	}
	if !ok {
		return fmt.Errorf("bypass marker id collision: %s", jti)
	}
	return nil
}

// Consume はDELの削除件数で消費の成否を判定する。
// DELは原子的なので、同時に消費しても成功するのは1件だけである。
func (s *RedisStore) Consume(ctx context.Context, jti string) (bool, error) {
	n, err := s.client.Del(ctx, redisKeyPrefix+jti).Result()
	if err != nil {
		return false, fmt.Errorf("redis del: %w", err)
	}
	return n > 0, nil
}

var _ Store = (*RedisStore)(nil)
