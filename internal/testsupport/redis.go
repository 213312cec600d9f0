package testsupport

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"stockpulse/internal/adapters/config"
)

// NewRedisClient connects to the integration Redis and hands the test an
// empty database. It refuses to run against DB 0 so a mistyped config can
// never flush a developer's live task records.
func NewRedisClient(t *testing.T, cfg config.RedisConfig) *redis.Client {
	t.Helper()

	if cfg.DB == 0 {
		t.Fatal("integration tests must use a dedicated redis DB, not DB 0")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	t.Cleanup(func() { _ = client.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("redis not reachable at %s: %v", cfg.Addr(), err)
	}

	if err := client.FlushDB(context.Background()).Err(); err != nil {
		t.Fatalf("flush redis DB %d: %v", cfg.DB, err)
	}
	t.Cleanup(func() { _ = client.FlushDB(context.Background()).Err() })

	return client
}
