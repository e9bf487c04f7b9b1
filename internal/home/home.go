package home

import (
	"fmt"
	"os"
	"path/filepath"
)

const (
	// DefaultDirName is the default name for the chartdesk home directory.
	DefaultDirName = ".chartdesk"

	// InboxDirName holds newly scanned or uploaded chart files awaiting
	// processing.
	InboxDirName = "inbox"

	// CompletedDirName is the terminal storage for processed files.
	CompletedDirName = "completed"

	// ExportsDirName holds generated CSV/XLSX exports.
	ExportsDirName = "exports"

	// ConfigFileName is the default config file name.
	ConfigFileName = "config.yaml"

	// DBFileName is the SQLite database file name.
	DBFileName = "chartdesk.db"

	// CSVExportName is the rolling all-charts CSV export file name.
	CSVExportName = "charts.csv"

	// XLSXExportName is the rolling all-charts workbook file name.
	XLSXExportName = "charts.xlsx"
)

// Dir represents the chartdesk home directory structure.
type Dir struct {
	path string
}

// New creates a new Dir with the given path.
// If path is empty, uses the default (~/.chartdesk).
func New(path string) (*Dir, error) {
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get user home directory: %w", err)
		}
		path = filepath.Join(home, DefaultDirName)
	}

	return &Dir{path: path}, nil
}

// Path returns the root path of the home directory.
func (d *Dir) Path() string {
	return d.path
}

// InboxPath returns the inbox directory, or a file within it when name is
// given.
func (d *Dir) InboxPath(name ...string) string {
	return filepath.Join(append([]string{d.path, InboxDirName}, name...)...)
}

// CompletedPath returns the completed directory, or a file within it when
// name is given.
func (d *Dir) CompletedPath(name ...string) string {
	return filepath.Join(append([]string{d.path, CompletedDirName}, name...)...)
}

// ExportsPath returns the exports directory, or a file within it when name
// is given.
func (d *Dir) ExportsPath(name ...string) string {
	return filepath.Join(append([]string{d.path, ExportsDirName}, name...)...)
}

// ConfigPath returns the path to the default config file.
func (d *Dir) ConfigPath() string {
	return filepath.Join(d.path, ConfigFileName)
}

// DBPath returns the path to the SQLite database file.
func (d *Dir) DBPath() string {
	return filepath.Join(d.path, DBFileName)
}

// CSVExportPath returns the path of the rolling CSV export.
func (d *Dir) CSVExportPath() string {
	return d.ExportsPath(CSVExportName)
}

// XLSXExportPath returns the path of the rolling XLSX export.
func (d *Dir) XLSXExportPath() string {
	return d.ExportsPath(XLSXExportName)
}

// EnsureExists creates the home directory and subdirectories if they don't
// exist.
func (d *Dir) EnsureExists() error {
	for _, dir := range []string{d.InboxPath(), d.CompletedPath(), d.ExportsPath()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}

// Exists returns true if the home directory exists.
func (d *Dir) Exists() bool {
	_, err := os.Stat(d.path)
	return err == nil
}

// ConfigExists returns true if the config file exists in the home directory.
func (d *Dir) ConfigExists() bool {
	_, err := os.Stat(d.ConfigPath())
	return err == nil
}
