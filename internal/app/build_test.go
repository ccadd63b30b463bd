package app

import (
	"context"
	"fmt"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/shaobai0824/model-api/internal/config"
)

var buildSeq atomic.Int64

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg := config.Defaults()
	cfg.MetricsNamespace = fmt.Sprintf("app_test_%d", buildSeq.Add(1))
	cfg.MemoryDataDir = filepath.Join(t.TempDir(), "memory")
	cfg.LogLevel = "error"
	return cfg
}

func TestBuildFileBackendEndToEnd(t *testing.T) {
	cfg := testConfig(t)
	ctx := context.Background()

	res, err := Build(ctx, cfg)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if res.Scheduler == nil {
		t.Fatal("expected scheduler for default sweep schedule")
	}

	turn, err := res.Pipeline.HandleText(ctx, "u1", "hello")
	if err != nil {
		t.Fatalf("HandleText() error = %v", err)
	}
	if turn.Reply == "" {
		t.Fatal("empty reply")
	}
	if err := res.Cleanup(); err != nil {
		t.Fatalf("Cleanup() error = %v", err)
	}

	// A second build over the same directory sees the persisted turn.
	cfg.MetricsNamespace += "_again"
	again, err := Build(ctx, cfg)
	if err != nil {
		t.Fatalf("second Build() error = %v", err)
	}
	defer again.Cleanup()

	st, err := again.Service.GetStats(ctx, "u1")
	if err != nil {
		t.Fatalf("GetStats() error = %v", err)
	}
	if st.TotalMessages != 2 {
		t.Fatalf("total = %d, want 2", st.TotalMessages)
	}
}

func TestBuildWithoutSweepSchedule(t *testing.T) {
	cfg := testConfig(t)
	cfg.MemoryBackend = "inmemory"
	cfg.SweepSchedule = ""

	res, err := Build(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	defer res.Cleanup()

	if res.Scheduler != nil {
		t.Fatal("scheduler should be nil when the schedule is empty")
	}
	n, err := res.Service.CleanupExpired(context.Background())
	if err != nil || n != 0 {
		t.Fatalf("CleanupExpired() = %d, %v; want 0, nil", n, err)
	}
}

func TestBuildRejectsUnknownBackend(t *testing.T) {
	cfg := testConfig(t)
	cfg.MemoryBackend = "redis"
	if _, err := Build(context.Background(), cfg); err == nil {
		t.Fatal("expected error for unknown backend")
	}
}
