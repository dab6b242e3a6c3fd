package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"papersnap/internal/config"
	"papersnap/internal/task"
)

type runnerFunc func(ctx context.Context, job task.Job) (task.Result, error)

func (f runnerFunc) Run(ctx context.Context, job task.Job) (task.Result, error) { return f(ctx, job) }

func TestSetupLogging(t *testing.T) {
	defer zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if err := setupLogging("DEBUG"); err != nil || zerolog.GlobalLevel() != zerolog.DebugLevel {
		t.Fatalf("expected debug level, got %s err=%v", zerolog.GlobalLevel(), err)
	}
	if err := setupLogging("loud"); err == nil {
		t.Fatalf("expected error for unknown level")
	}
}

func TestLoadConfigWritesTemplateAndReportsMissingKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config", "config.json")
	_, err := loadConfig(path)
	if err == nil || !strings.Contains(err.Error(), "library_id") || !strings.Contains(err.Error(), "api_key") {
		t.Fatalf("expected missing key error, got %v", err)
	}
	if _, err := loadConfig(path); err == nil {
		t.Fatalf("template must still be rejected on second load")
	}
}

func TestCaptureManagerLeavesServerTasksAlone(t *testing.T) {
	cfg := config.Default()
	cfg.DataDir = t.TempDir()
	statusPath := filepath.Join(cfg.DataDir, "tasks", "server-task", "status.json")
	if err := os.MkdirAll(filepath.Dir(statusPath), 0o750); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	const pending = `{"id":"server-task","reference":"arxiv:2504.12345","status":"running","stage":3}`
	if err := os.WriteFile(statusPath, []byte(pending), 0o600); err != nil {
		t.Fatalf("write status: %v", err)
	}

	tm, cleanup, err := buildCaptureManager(runnerFunc(func(context.Context, task.Job) (task.Result, error) {
		return task.Result{FilePath: "out.html"}, nil
	}))
	if err != nil {
		t.Fatalf("build capture manager: %v", err)
	}
	submitted, err := tm.Submit("arxiv:2504.12345", "", "")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if !tm.WaitAll(ctx) {
		t.Fatalf("capture task did not finish")
	}
	if got, _ := tm.Get(submitted.ID); got.Status != task.StatusSucceeded || len(tm.List()) != 1 {
		t.Fatalf("capture manager must only hold its own task, got %+v", tm.List())
	}
	cleanup()

	b, err := os.ReadFile(statusPath)
	if err != nil || string(b) != pending {
		t.Fatalf("server task status must be untouched, got %q err=%v", b, err)
	}
	entries, err := os.ReadDir(filepath.Join(cfg.DataDir, "tasks"))
	if err != nil || len(entries) != 1 {
		t.Fatalf("capture task must not be persisted under data_dir, got %d entries err=%v", len(entries), err)
	}
}
