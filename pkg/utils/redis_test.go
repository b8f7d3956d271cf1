package utils

import (
	"context"
	"testing"
	"time"
)

func TestOwnedLockScriptsCompile(t *testing.T) {
	// Compile-time smoke test: scripts should be initialized.
	if ownedLockAcquireScript == nil || ownedLockReleaseScript == nil {
		t.Fatalf("expected scripts to be initialized")
	}
}

func TestAcquireOwnedLock_ValidatesArguments(t *testing.T) {
	ctx := context.Background()
	if _, err := AcquireOwnedLock(ctx, nil, "k", "o", time.Second); err == nil {
		t.Fatalf("expected error for nil client")
	}
}

func TestRedisConfig_Defaults(t *testing.T) {
	cfg := RedisConfig{Addr: "localhost:6379"}.withDefaults()
	if cfg.PoolSize <= 0 || cfg.DialTimeout <= 0 || cfg.PingTimeout <= 0 {
		t.Fatalf("expected defaults to be applied, got %+v", cfg)
	}
}
