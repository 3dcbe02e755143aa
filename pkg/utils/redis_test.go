package utils

import (
	"context"
	"testing"
	"time"
)

func TestSlotScriptsInitialized(t *testing.T) {
	if slotAcquireScript == nil || slotReleaseScript == nil || slotRefreshScript == nil {
		t.Fatalf("expected scripts to be initialized")
	}
}

func TestSlotHelpers_ValidateArguments(t *testing.T) {
	ctx := context.Background()
	if _, err := AcquireSlot(ctx, nil, "k", 1, time.Second); err == nil {
		t.Fatalf("expected error for nil client")
	}
	if _, err := ReleaseSlot(ctx, nil, "k"); err == nil {
		t.Fatalf("expected error for nil client")
	}
	if _, err := RefreshSlot(ctx, nil, "", time.Second); err == nil {
		t.Fatalf("expected error for nil client")
	}
}

func TestRedisOptions(t *testing.T) {
	if _, err := redisOptions(RedisConfig{}); err == nil {
		t.Fatalf("expected error for empty addr")
	}

	opts, err := redisOptions(RedisConfig{Addr: "localhost:6379"})
	if err != nil {
		t.Fatalf("host:port: %v", err)
	}
	if opts.Addr != "localhost:6379" || opts.PoolSize != 20 || opts.DialTimeout != 3*time.Second {
		t.Fatalf("unexpected options %+v", opts)
	}

	opts, err = redisOptions(RedisConfig{Addr: "redis://:secret@cache:6380/2", PoolSize: 5})
	if err != nil {
		t.Fatalf("url: %v", err)
	}
	if opts.Addr != "cache:6380" || opts.DB != 2 || opts.Password != "secret" || opts.PoolSize != 5 {
		t.Fatalf("unexpected options from url %+v", opts)
	}
}
