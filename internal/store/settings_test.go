package store

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/chartdesk/chartdesk/internal/config"
)

func TestSettingsRoundTrip(t *testing.T) {
	s := newTestStore(t)
	st := s.Settings()
	ctx := context.Background()

	tests := []struct {
		key   string
		value any
	}{
		{"worker.max_concurrent", 4},
		{"worker.paused", true},
		{"extraction.model", "model-a"},
		{"selection.threshold", 1.5},
	}
	for _, tt := range tests {
		if err := st.Set(ctx, tt.key, tt.value, "test entry"); err != nil {
			t.Fatalf("Set(%s): %v", tt.key, err)
		}
	}

	entry, err := st.Get(ctx, "worker.max_concurrent")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if entry == nil {
		t.Fatal("Get returned nil for an existing key")
	}
	if got := entry.IntOr(0); got != 4 {
		t.Errorf("IntOr = %d, want 4", got)
	}

	entry, err = st.Get(ctx, "worker.paused")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !entry.BoolOr(false) {
		t.Error("BoolOr = false, want true")
	}

	entry, err = st.Get(ctx, "extraction.model")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got := entry.StringOr(""); got != "model-a" {
		t.Errorf("StringOr = %q, want model-a", got)
	}

	entry, err = st.Get(ctx, "no.such.key")
	if err != nil {
		t.Fatalf("Get(absent): %v", err)
	}
	if entry != nil {
		t.Errorf("Get(absent) = %+v, want nil", entry)
	}
}

func TestSettingsOverwriteAndDelete(t *testing.T) {
	s := newTestStore(t)
	st := s.Settings()
	ctx := context.Background()

	if err := st.Set(ctx, "extraction.model", "model-a", "d1"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := st.Set(ctx, "extraction.model", "model-b", "d2"); err != nil {
		t.Fatalf("Set overwrite: %v", err)
	}

	entry, err := st.Get(ctx, "extraction.model")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got := entry.StringOr(""); got != "model-b" {
		t.Errorf("value after overwrite = %q, want model-b", got)
	}
	if entry.Description != "d2" {
		t.Errorf("description after overwrite = %q, want d2", entry.Description)
	}

	if err := st.Delete(ctx, "extraction.model"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	entry, err = st.Get(ctx, "extraction.model")
	if err != nil {
		t.Fatalf("Get after delete: %v", err)
	}
	if entry != nil {
		t.Error("entry survived Delete")
	}
}

func TestSettingsGetByPrefix(t *testing.T) {
	s := newTestStore(t)
	st := s.Settings()
	ctx := context.Background()

	seed := map[string]any{
		"worker.max_concurrent": 2,
		"worker.poll_seconds":   15,
		"export.auto":           true,
	}
	for k, v := range seed {
		if err := st.Set(ctx, k, v, ""); err != nil {
			t.Fatalf("Set(%s): %v", k, err)
		}
	}

	got, err := st.GetByPrefix(ctx, "worker.")
	if err != nil {
		t.Fatalf("GetByPrefix: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d entries, want 2", len(got))
	}
	if _, ok := got["export.auto"]; ok {
		t.Error("prefix query leaked an unrelated key")
	}
	if entry := got["worker.poll_seconds"]; entry.IntOr(0) != 15 {
		t.Errorf("worker.poll_seconds = %d, want 15", entry.IntOr(0))
	}
}

func TestSeedDefaultsAgainstSQLite(t *testing.T) {
	s := newTestStore(t)
	st := s.Settings()
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	if err := config.SeedDefaults(ctx, st, logger); err != nil {
		t.Fatalf("SeedDefaults: %v", err)
	}

	all, err := st.GetAll(ctx)
	if err != nil {
		t.Fatalf("GetAll: %v", err)
	}
	if len(all) != len(config.DefaultEntries()) {
		t.Errorf("seeded %d entries, want %d", len(all), len(config.DefaultEntries()))
	}

	entry, err := st.Get(ctx, config.KeyWorkerMaxConcurrent)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if entry == nil {
		t.Fatal("seeding did not create the concurrency setting")
	}

	// A user override must survive a reseed.
	if err := st.Set(ctx, config.KeyWorkerMaxConcurrent, 9, entry.Description); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := config.SeedDefaults(ctx, st, logger); err != nil {
		t.Fatalf("SeedDefaults again: %v", err)
	}
	entry, err = st.Get(ctx, config.KeyWorkerMaxConcurrent)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got := entry.IntOr(0); got != 9 {
		t.Errorf("value after reseed = %d, want the preserved override 9", got)
	}
}
