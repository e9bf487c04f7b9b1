package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/chartdesk/chartdesk/internal/config"
)

// Settings is the SQLite-backed implementation of config.Store. Values
// are stored as JSON so numbers, booleans, and strings round-trip.
type Settings struct {
	db *sql.DB
}

// Settings returns the runtime settings view of the store.
func (s *Store) Settings() *Settings {
	return &Settings{db: s.db}
}

var _ config.Store = (*Settings)(nil)

// Get returns a single config entry by key, or nil if absent.
func (st *Settings) Get(ctx context.Context, key string) (*config.Entry, error) {
	if err := config.ValidateKey(key); err != nil {
		return nil, err
	}
	row := st.db.QueryRowContext(ctx,
		`SELECT key, value, description FROM settings WHERE key = ?`, key)
	entry, err := scanEntry(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get setting: %w", err)
	}
	return entry, nil
}

// Set creates or updates a config entry.
func (st *Settings) Set(ctx context.Context, key string, value any, description string) error {
	if err := config.ValidateKey(key); err != nil {
		return err
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal setting value: %w", err)
	}
	_, err = st.db.ExecContext(ctx,
		`INSERT INTO settings (key, value, description) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, description = excluded.description`,
		key, string(raw), description)
	if err != nil {
		return fmt.Errorf("set setting: %w", err)
	}
	return nil
}

// GetAll returns all config entries keyed by name.
func (st *Settings) GetAll(ctx context.Context) (map[string]config.Entry, error) {
	return st.query(ctx, `SELECT key, value, description FROM settings`)
}

// GetByPrefix returns config entries whose keys start with prefix.
func (st *Settings) GetByPrefix(ctx context.Context, prefix string) (map[string]config.Entry, error) {
	pattern := strings.ReplaceAll(strings.ReplaceAll(prefix, `\`, `\\`), "%", `\%`)
	pattern = strings.ReplaceAll(pattern, "_", `\_`) + "%"
	return st.query(ctx,
		`SELECT key, value, description FROM settings WHERE key LIKE ? ESCAPE '\'`, pattern)
}

// Delete removes a config entry.
func (st *Settings) Delete(ctx context.Context, key string) error {
	if err := config.ValidateKey(key); err != nil {
		return err
	}
	_, err := st.db.ExecContext(ctx, `DELETE FROM settings WHERE key = ?`, key)
	if err != nil {
		return fmt.Errorf("delete setting: %w", err)
	}
	return nil
}

func (st *Settings) query(ctx context.Context, q string, args ...any) (map[string]config.Entry, error) {
	rows, err := st.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query settings: %w", err)
	}
	defer rows.Close()

	entries := make(map[string]config.Entry)
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan setting: %w", err)
		}
		entries[entry.Key] = *entry
	}
	return entries, rows.Err()
}

func scanEntry(row rowScanner) (*config.Entry, error) {
	var entry config.Entry
	var raw string
	if err := row.Scan(&entry.Key, &raw, &entry.Description); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(raw), &entry.Value); err != nil {
		// A malformed value reads as the raw string rather than failing.
		entry.Value = raw
	}
	return &entry, nil
}
