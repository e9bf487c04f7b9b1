package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// Runtime setting keys.
const (
	KeyExtractionModel         = "extraction.model"
	KeyExtractionFallbackModel = "extraction.fallback_model"
	KeyWorkerMaxConcurrent     = "worker.max_concurrent"
	KeyWorkerPollSeconds       = "worker.poll_interval_seconds"
	KeyWorkerPaused            = "worker.paused"
	KeyExportAuto              = "export.auto"
	KeySelectionMaxScanPages   = "selection.max_scan_pages"
	KeySelectionCandidates     = "selection.candidate_limit"
)

// ErrNoDefault is returned when no default value exists for a config key.
var ErrNoDefault = errors.New("no default exists")

// DefaultEntries returns the default runtime settings.
// These are seeded into the settings store on first run.
func DefaultEntries() []Entry {
	return []Entry{
		// ===================
		// Extraction
		// ===================
		{
			Key:         KeyExtractionModel,
			Value:       "google/gemini-2.5-flash",
			Description: "Primary vision model for chart extraction",
		},
		{
			Key:         KeyExtractionFallbackModel,
			Value:       "anthropic/claude-sonnet-4",
			Description: "High-effort model tried when rank gaps persist after targeted retries",
		},

		// ===================
		// Worker
		// ===================
		{
			Key:         KeyWorkerMaxConcurrent,
			Value:       2,
			Description: "Maximum jobs processing at once",
		},
		{
			Key:         KeyWorkerPollSeconds,
			Value:       15,
			Description: "Seconds between worker poll ticks",
		},
		{
			Key:         KeyWorkerPaused,
			Value:       false,
			Description: "When true, the worker stops claiming new jobs (running jobs finish)",
		},

		// ===================
		// Export
		// ===================
		{
			Key:         KeyExportAuto,
			Value:       true,
			Description: "Regenerate the CSV export automatically after each completed job",
		},

		// ===================
		// Page selection
		// ===================
		{
			Key:         KeySelectionMaxScanPages,
			Value:       12,
			Description: "Maximum PDF pages scanned when looking for the chart page",
		},
		{
			Key:         KeySelectionCandidates,
			Value:       3,
			Description: "Candidate pages surfaced for human review",
		},
	}
}

// SeedDefaults seeds default settings into the store.
// This is idempotent - existing entries are not overwritten.
func SeedDefaults(ctx context.Context, store Store, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}

	defaults := DefaultEntries()
	seeded := 0
	skipped := 0

	for _, entry := range defaults {
		// Check if key already exists
		existing, err := store.Get(ctx, entry.Key)
		if err != nil {
			return fmt.Errorf("failed to check key %q: %w", entry.Key, err)
		}

		if existing != nil {
			skipped++
			continue
		}

		// Create the entry
		if err := store.Set(ctx, entry.Key, entry.Value, entry.Description); err != nil {
			return fmt.Errorf("failed to seed key %q: %w", entry.Key, err)
		}
		seeded++
	}

	if seeded > 0 {
		logger.Info("seeded default settings", "seeded", seeded, "skipped", skipped)
	}
	return nil
}

// GetDefault returns the default value for a config key.
// Returns nil if no default exists for the key.
func GetDefault(key string) *Entry {
	for _, entry := range DefaultEntries() {
		if entry.Key == key {
			return &entry
		}
	}
	return nil
}

// ResetToDefault resets a config key to its default value.
// Returns ErrNoDefault if no default exists for the key.
func ResetToDefault(ctx context.Context, store Store, key string) error {
	def := GetDefault(key)
	if def == nil {
		return fmt.Errorf("%w for key %q", ErrNoDefault, key)
	}
	return store.Set(ctx, key, def.Value, def.Description)
}
