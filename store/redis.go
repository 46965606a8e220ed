package store

import (
	"context"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisStore implements Store on top of go-redis/v8, grounded in the
// teacher's core/redis_client.go (namespaced client, pooled connection
// settings) and core/redis_registry.go (TxPipeline for atomic multi-step
// writes).
type RedisStore struct {
	client    *redis.Client
	namespace string
}

// NewRedisStore dials redisURL and verifies connectivity; callers generally
// go through Connect (factory.go) which falls back to MemStore on failure
// instead of propagating this error.
func NewRedisStore(redisURL, namespace string) (*RedisStore, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	opt.PoolSize = 10
	opt.MinIdleConns = 2
	opt.MaxRetries = 3
	opt.DialTimeout = 5 * time.Second
	opt.ReadTimeout = 5 * time.Second
	opt.WriteTimeout = 5 * time.Second

	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}

	return &RedisStore{client: client, namespace: namespace}, nil
}

func (r *RedisStore) key(k string) string { return r.namespace + ":" + k }

func (r *RedisStore) Degraded() bool { return false }
func (r *RedisStore) Close() error   { return r.client.Close() }

func (r *RedisStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return r.client.Set(ctx, r.key(key), value, ttl).Err()
}

func (r *RedisStore) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := r.client.Get(ctx, r.key(key)).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (r *RedisStore) Delete(ctx context.Context, key string) error {
	return r.client.Del(ctx, r.key(key)).Err()
}

func (r *RedisStore) LPush(ctx context.Context, key string, values ...string) error {
	args := make([]interface{}, len(values))
	for i, v := range values {
		args[i] = v
	}
	return r.client.LPush(ctx, r.key(key), args...).Err()
}

func (r *RedisStore) RPush(ctx context.Context, key string, values ...string) error {
	args := make([]interface{}, len(values))
	for i, v := range values {
		args[i] = v
	}
	return r.client.RPush(ctx, r.key(key), args...).Err()
}

func (r *RedisStore) LPop(ctx context.Context, key string) (string, bool, error) {
	v, err := r.client.LPop(ctx, r.key(key)).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (r *RedisStore) RPop(ctx context.Context, key string) (string, bool, error) {
	v, err := r.client.RPop(ctx, r.key(key)).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (r *RedisStore) LRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	return r.client.LRange(ctx, r.key(key), start, stop).Result()
}

func (r *RedisStore) LRem(ctx context.Context, key string, count int64, value string) error {
	return r.client.LRem(ctx, r.key(key), count, value).Err()
}

func (r *RedisStore) LLen(ctx context.Context, key string) (int64, error) {
	return r.client.LLen(ctx, r.key(key)).Result()
}

func (r *RedisStore) ZAdd(ctx context.Context, key, member string, score float64) error {
	return r.client.ZAdd(ctx, r.key(key), &redis.Z{Score: score, Member: member}).Err()
}

func (r *RedisStore) ZRangeByRank(ctx context.Context, key string, start, stop int64) ([]ScoredMember, error) {
	res, err := r.client.ZRangeWithScores(ctx, r.key(key), start, stop).Result()
	if err != nil {
		return nil, err
	}
	out := make([]ScoredMember, len(res))
	for i, z := range res {
		out[i] = ScoredMember{Member: z.Member.(string), Score: z.Score}
	}
	return out, nil
}

func (r *RedisStore) ZPopMin(ctx context.Context, key string) (ScoredMember, bool, error) {
	res, err := r.client.ZPopMin(ctx, r.key(key), 1).Result()
	if err != nil {
		return ScoredMember{}, false, err
	}
	if len(res) == 0 {
		return ScoredMember{}, false, nil
	}
	return ScoredMember{Member: res[0].Member.(string), Score: res[0].Score}, true, nil
}

func (r *RedisStore) ZRem(ctx context.Context, key, member string) error {
	return r.client.ZRem(ctx, r.key(key), member).Err()
}

func (r *RedisStore) ZRank(ctx context.Context, key, member string) (int64, bool, error) {
	rank, err := r.client.ZRank(ctx, r.key(key), member).Result()
	if err == redis.Nil {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return rank, true, nil
}

func (r *RedisStore) ZCard(ctx context.Context, key string) (int64, error) {
	return r.client.ZCard(ctx, r.key(key)).Result()
}

func (r *RedisStore) SAdd(ctx context.Context, key string, members ...string) error {
	args := make([]interface{}, len(members))
	for i, v := range members {
		args[i] = v
	}
	return r.client.SAdd(ctx, r.key(key), args...).Err()
}

func (r *RedisStore) SRem(ctx context.Context, key string, members ...string) error {
	args := make([]interface{}, len(members))
	for i, v := range members {
		args[i] = v
	}
	return r.client.SRem(ctx, r.key(key), args...).Err()
}

func (r *RedisStore) SIsMember(ctx context.Context, key, member string) (bool, error) {
	return r.client.SIsMember(ctx, r.key(key), member).Result()
}

func (r *RedisStore) SCard(ctx context.Context, key string) (int64, error) {
	return r.client.SCard(ctx, r.key(key)).Result()
}

func (r *RedisStore) SMembers(ctx context.Context, key string) ([]string, error) {
	return r.client.SMembers(ctx, r.key(key)).Result()
}

func (r *RedisStore) ScanPrefix(ctx context.Context, prefix string) ([]string, error) {
	var out []string
	iter := r.client.Scan(ctx, 0, r.key(prefix)+"*", 0).Iterator()
	for iter.Next(ctx) {
		out = append(out, strings.TrimPrefix(iter.Val(), r.namespace+":"))
	}
	return out, iter.Err()
}

func (r *RedisStore) SInter(ctx context.Context, keys ...string) ([]string, error) {
	namespaced := make([]string, len(keys))
	for i, k := range keys {
		namespaced[i] = r.key(k)
	}
	return r.client.SInter(ctx, namespaced...).Result()
}

func (r *RedisStore) Incr(ctx context.Context, key string, delta int64, ttl time.Duration) (int64, error) {
	pipe := r.client.TxPipeline()
	incr := pipe.IncrBy(ctx, r.key(key), delta)
	if ttl > 0 {
		pipe.Expire(ctx, r.key(key), ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return incr.Val(), nil
}
