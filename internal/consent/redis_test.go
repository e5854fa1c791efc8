package consent

import (
	"context"
	"errors"
	"os"
	"slices"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func TestRedisStore_KeyLayout(t *testing.T) {
	tests := []struct {
		prefix string
		want   string
	}{
		{"", "iotconsole:consent:client-1:theme"},
		{"staging", "staging:consent:client-1:theme"},
		{"staging:", "staging:consent:client-1:theme"},
	}
	for _, tt := range tests {
		r := NewRedisStore(nil, tt.prefix)
		if got := r.key("client-1", KeyTheme); got != tt.want {
			t.Errorf("prefix %q: key = %q, want %q", tt.prefix, got, tt.want)
		}
	}
}

// skipIfNoRedis skips tests that need a live server. Set
// IOTCONSOLE_TEST_REDIS_ADDR (e.g. localhost:6379) to run them.
func skipIfNoRedis(t *testing.T) *redis.Client {
	t.Helper()
	addr := os.Getenv("IOTCONSOLE_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("IOTCONSOLE_TEST_REDIS_ADDR not set")
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	ctx, cancel := context.WithTimeout(t.Context(), 2*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close() //nolint:errcheck // Test cleanup
		t.Skipf("redis not reachable at %s: %v", addr, err)
	}
	t.Cleanup(func() { rdb.Close() }) //nolint:errcheck // Test cleanup
	return rdb
}

func TestRedisStore_Live(t *testing.T) {
	rdb := skipIfNoRedis(t)
	s := NewRedisStore(rdb, "iotconsole-test")
	ctx := t.Context()
	subject := "redis-test-" + time.Now().Format("150405.000000")
	t.Cleanup(func() { _ = s.Delete(context.Background(), subject, "a", "b") })

	if _, err := s.Get(ctx, subject, "a"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get(missing) error = %v, want ErrNotFound", err)
	}
	if err := s.Set(ctx, subject, "a", []byte("1"), time.Minute); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if err := s.Set(ctx, subject, "b", []byte("2"), 0); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if v, err := s.Get(ctx, subject, "a"); err != nil || string(v) != "1" {
		t.Errorf("Get(a) = %q, %v", v, err)
	}
	if ttl := rdb.TTL(ctx, s.key(subject, "a")).Val(); ttl <= 0 || ttl > time.Minute {
		t.Errorf("TTL(a) = %v", ttl)
	}

	got, err := s.Keys(ctx, subject)
	if err != nil || !slices.Equal(got, []string{"a", "b"}) {
		t.Errorf("Keys() = %v, %v", got, err)
	}
	if err := s.Delete(ctx, subject, "a"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if got, _ := s.Keys(ctx, subject); !slices.Equal(got, []string{"b"}) {
		t.Errorf("Keys() after Delete = %v", got)
	}
}
