package scan

import (
	"context"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/chartdesk/chartdesk/internal/pdfdoc"
)

const defaultDebounce = 500 * time.Millisecond

// Watcher watches the inbox directory and runs an inbox scan after new
// files settle. Scans are debounced so a burst of copied files triggers
// one sweep.
type Watcher struct {
	intake   *Intake
	debounce time.Duration
	logger   *slog.Logger

	// OnChange runs after a sweep that registered at least one file.
	OnChange func([]Result)
}

// NewWatcher creates a Watcher over the intake's inbox directory.
func NewWatcher(intake *Intake, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		intake:   intake,
		debounce: defaultDebounce,
		logger:   logger,
	}
}

// Run watches until ctx is cancelled. The caller usually runs this in
// its own goroutine.
func (w *Watcher) Run(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fsw.Close()

	dir := w.intake.home.InboxPath()
	if err := fsw.Add(dir); err != nil {
		return err
	}
	w.logger.Info("watching inbox", "dir", dir)

	var sweep <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if !w.relevant(event) {
				continue
			}
			w.logger.Debug("inbox event", "op", event.Op.String(), "file", event.Name)
			sweep = time.After(w.debounce)

		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("inbox watcher error", "error", err)

		case <-sweep:
			sweep = nil
			results, err := w.intake.ScanInbox(ctx)
			if err != nil {
				w.logger.Warn("inbox sweep failed", "error", err)
				continue
			}
			if len(results) > 0 && w.OnChange != nil {
				w.OnChange(results)
			}
		}
	}
}

// relevant filters events down to supported files appearing or changing.
func (w *Watcher) relevant(event fsnotify.Event) bool {
	if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
		return false
	}
	if strings.HasPrefix(filepath.Base(event.Name), ".") {
		return false
	}
	return pdfdoc.IsSupported(event.Name)
}
