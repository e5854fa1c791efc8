package consent

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nerrad567/iot-console-core/internal/infrastructure/config"
)

// DefaultKeyPrefix namespaces consent keys when no prefix is configured.
const DefaultKeyPrefix = "iotconsole"

// scanBatch is the COUNT hint for SCAN.
const scanBatch = 100

// pingTimeout bounds the connectivity check in DialRedis.
const pingTimeout = 5 * time.Second

// DialRedis connects to the configured server and verifies it with PING.
// The caller owns the returned client and must Close it.
func DialRedis(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close() //nolint:errcheck // Best-effort cleanup after failed ping
		return nil, fmt.Errorf("connecting to redis at %s: %w", cfg.Addr, err)
	}
	return rdb, nil
}

// RedisStore keeps values in Redis under {prefix}:consent:{subject}:{name},
// with the key's TTL standing in for cookie expiry.
type RedisStore struct {
	rdb    redis.Cmdable
	prefix string
}

// NewRedisStore creates a store over rdb. An empty prefix uses DefaultKeyPrefix.
func NewRedisStore(rdb redis.Cmdable, prefix string) *RedisStore {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &RedisStore{rdb: rdb, prefix: strings.TrimSuffix(prefix, ":")}
}

func (r *RedisStore) subjectPrefix(subject string) string {
	return r.prefix + ":consent:" + subject + ":"
}

func (r *RedisStore) key(subject, name string) string {
	return r.subjectPrefix(subject) + name
}

// Get returns the value of name, mapping redis.Nil to ErrNotFound.
func (r *RedisStore) Get(ctx context.Context, subject, name string) ([]byte, error) {
	value, err := r.rdb.Get(ctx, r.key(subject, name)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", name, err)
	}
	return value, nil
}

// Set writes value with ttl; zero or less means no expiry.
func (r *RedisStore) Set(ctx context.Context, subject, name string, value []byte, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	if err := r.rdb.Set(ctx, r.key(subject, name), value, ttl).Err(); err != nil {
		return fmt.Errorf("writing %s: %w", name, err)
	}
	return nil
}

// Delete removes names in a single DEL.
func (r *RedisStore) Delete(ctx context.Context, subject string, names ...string) error {
	if len(names) == 0 {
		return nil
	}
	keys := make([]string, len(names))
	for i, name := range names {
		keys[i] = r.key(subject, name)
	}
	if err := r.rdb.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("deleting consent keys: %w", err)
	}
	return nil
}

// Keys scans the subject's keyspace. Subjects are restricted by
// ValidSubject, so the MATCH pattern contains no glob characters
// besides the trailing '*'.
func (r *RedisStore) Keys(ctx context.Context, subject string) ([]string, error) {
	prefix := r.subjectPrefix(subject)
	keys := []string{}

	iter := r.rdb.Scan(ctx, 0, prefix+"*", scanBatch).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, strings.TrimPrefix(iter.Val(), prefix))
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scanning consent keys: %w", err)
	}
	sort.Strings(keys)
	return keys, nil
}
