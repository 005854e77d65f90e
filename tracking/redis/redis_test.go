package redis

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/gomodule/redigo/redis"

	"github.com/eventmosaic/gdelt/tracking/trackingcheck"
)

// redisPool returns a pool against the instance named by
// TEST_COLLECTOR_REDIS_ADDR, skipping the test when unset. The gdelt
// keyspace is cleared so suites start empty.
func redisPool(t *testing.T) *redis.Pool {
	t.Helper()

	addr := os.Getenv("TEST_COLLECTOR_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_COLLECTOR_REDIS_ADDR not set, skipping live redis tests")
	}

	pool := &redis.Pool{
		Dial: func() (redis.Conn, error) {
			return redis.Dial("tcp", addr)
		},
		MaxIdle:     2,
		IdleTimeout: time.Minute,
	}
	t.Cleanup(func() { pool.Close() })

	conn := pool.Get()
	defer conn.Close()

	for _, prefix := range []string{hashKeyPrefix, statusKeyPrefix} {
		keys, err := redis.Strings(conn.Do("KEYS", prefix+"*"))
		if err != nil {
			t.Fatalf("clearing keyspace %s: %v", prefix, err)
		}
		for _, key := range keys {
			if _, err := conn.Do("DEL", key); err != nil {
				t.Fatalf("deleting %s: %v", key, err)
			}
		}
	}

	return pool
}

func TestRedisHashStore(t *testing.T) {
	pool := redisPool(t)
	trackingcheck.CheckHashStore(context.Background(), t, NewHashStore(pool, 7*24*time.Hour))
}

func TestRedisStatusStore(t *testing.T) {
	pool := redisPool(t)
	trackingcheck.CheckStatusStore(context.Background(), t, NewStatusStore(pool, time.Hour))
}
