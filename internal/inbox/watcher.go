package inbox

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"artvault/internal/layout"
	"artvault/internal/logger"
	"artvault/internal/models"
)

// Ingester takes ownership of a file dropped into the inbox.
type Ingester interface {
	IngestFile(ctx context.Context, path string) (*models.Record, error)
}

// Watcher ingests image files dropped into a directory. A file is picked up
// once no event has been seen for it during the quiet period, so copies in
// progress are not read half-written.
type Watcher struct {
	dir      string
	ingester Ingester
	log      *logger.Logger
	quiet    time.Duration
	tick     time.Duration

	pending map[string]time.Time
}

func NewWatcher(dir string, ingester Ingester, log *logger.Logger) *Watcher {
	return &Watcher{
		dir:      dir,
		ingester: ingester,
		log:      log.Component("inbox"),
		quiet:    500 * time.Millisecond,
		tick:     100 * time.Millisecond,
		pending:  make(map[string]time.Time),
	}
}

// Run watches until ctx is cancelled. Files already in the directory when
// Run starts are queued as if they had just arrived.
func (w *Watcher) Run(ctx context.Context) error {
	const op = "inbox.Run"

	if err := os.MkdirAll(w.dir, 0755); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer fw.Close()

	if err := fw.Add(w.dir); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	w.log.Info("watching inbox", "dir", w.dir)

	if err := w.scan(); err != nil {
		w.log.Warn("initial inbox scan failed", "error", err)
	}

	ticker := time.NewTicker(w.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			w.handleEvent(event)

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.log.Error("inbox watcher error", "error", err)

		case now := <-ticker.C:
			w.flush(ctx, now)
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if !wanted(event.Name) {
		return
	}
	switch {
	case event.Op&(fsnotify.Create|fsnotify.Write) != 0:
		w.pending[event.Name] = time.Now()
	case event.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
		// moved away or deleted before it settled
		delete(w.pending, event.Name)
	}
}

func (w *Watcher) scan() error {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return err
	}
	now := time.Now()
	for _, e := range entries {
		path := filepath.Join(w.dir, e.Name())
		if e.Type().IsRegular() && wanted(path) {
			w.pending[path] = now
		}
	}
	return nil
}

// flush ingests every pending file that has been quiet long enough.
func (w *Watcher) flush(ctx context.Context, now time.Time) {
	for path, seen := range w.pending {
		if now.Sub(seen) < w.quiet {
			continue
		}
		delete(w.pending, path)

		rec, err := w.ingester.IngestFile(ctx, path)
		if err != nil {
			w.log.Error("inbox ingest failed", "file", filepath.Base(path), "error", err)
			continue
		}
		w.log.Info("ingested from inbox", "file", filepath.Base(path), "slug", rec.Slug, "sku", rec.SKU)
	}
}

func wanted(path string) bool {
	name := filepath.Base(path)
	return !strings.HasPrefix(name, ".") && layout.IsImageName(name)
}
