package storage

import (
	"context"
	"errors"
	"net"
	"os"
	"strconv"
	"testing"

	"waverchat/internal/config"
	"waverchat/internal/redis"
)

func openMemoryStore(t *testing.T, driver string) *SQLStore {
	t.Helper()
	cfg := config.Default()
	cfg.Databases[driver] = config.DatabaseConfig{DSN: ":memory:"}
	db, err := Open(driver, cfg)
	if err != nil {
		t.Fatalf("open %s: %v", driver, err)
	}
	t.Cleanup(func() { db.Close() })
	if err := Migrate(db, driver); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return NewSQLStore(db, driver)
}

func exerciseKV(t *testing.T, kv KV) {
	t.Helper()
	ctx := context.Background()
	if _, err := kv.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := kv.Set(ctx, KeyHistory, "[]"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := kv.Set(ctx, KeyHistory, `[{"userMessage":"hi"}]`); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	got, err := kv.Get(ctx, KeyHistory)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != `[{"userMessage":"hi"}]` {
		t.Fatalf("unexpected value %q", got)
	}
	if err := kv.Delete(ctx, KeyHistory); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := kv.Get(ctx, KeyHistory); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestSQLStoreSqlite3(t *testing.T) {
	exerciseKV(t, openMemoryStore(t, "sqlite3"))
}

func TestSQLStoreModernSqlite(t *testing.T) {
	exerciseKV(t, openMemoryStore(t, "sqlite"))
}

func TestMemoryStore(t *testing.T) {
	exerciseKV(t, NewMemoryStore())
}

func TestRedisStore(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		t.Fatalf("invalid TEST_REDIS_ADDR: %v", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatalf("invalid redis port: %v", err)
	}
	cfg := config.Default()
	cfg.Redis.Host = host
	cfg.Redis.Port = port
	cfg.Redis.KeyPrefix = "waverchat-test:"
	client, err := redis.NewRedisClient(cfg)
	if err != nil {
		t.Fatalf("redis client: %v", err)
	}
	defer client.Close()
	exerciseKV(t, NewRedisStore(client))
}

func TestOpenUnknownDriver(t *testing.T) {
	cfg := config.Default()
	if _, err := Open("postgres", cfg); err == nil {
		t.Fatalf("expected error for missing driver config")
	}
}

func TestFlagDefaultsOnCorruptValue(t *testing.T) {
	ctx := context.Background()
	kv := NewMemoryStore()
	flag := NewFlag(kv, KeySidebarOpen, true)
	if !flag.Get(ctx) {
		t.Fatalf("missing flag should use default")
	}
	if err := flag.Set(ctx, false); err != nil {
		t.Fatalf("set flag: %v", err)
	}
	if flag.Get(ctx) {
		t.Fatalf("expected stored false")
	}
	_ = kv.Set(ctx, KeySidebarOpen, "maybe")
	if !flag.Get(ctx) {
		t.Fatalf("corrupt flag should use default")
	}
}
