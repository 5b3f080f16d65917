package tlsident

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads an Identity when its files change on disk, so
// certificate rotation does not need a restart.
type Watcher struct {
	id     *Identity
	logger *slog.Logger
	done   chan struct{}
	once   sync.Once

	// debounce absorbs the event bursts file replacement produces.
	debounce   time.Duration
	reloadMu   sync.Mutex
	lastReload time.Time
}

// NewWatcher creates a watcher for id.
func NewWatcher(id *Identity, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		id:       id,
		logger:   logger,
		done:     make(chan struct{}),
		debounce: 500 * time.Millisecond,
	}
}

// Start watches until Stop is called. It blocks; run it in its own
// goroutine. The directories are watched rather than the files so
// rename-into-place rotation (the way most issuance tooling writes) is
// caught.
func (w *Watcher) Start() error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("tlsident: create watcher: %w", err)
	}
	defer fw.Close()

	certDir := filepath.Dir(w.id.certFile)
	if err := fw.Add(certDir); err != nil {
		return fmt.Errorf("tlsident: watch %s: %w", certDir, err)
	}
	if keyDir := filepath.Dir(w.id.keyFile); keyDir != certDir {
		if err := fw.Add(keyDir); err != nil {
			return fmt.Errorf("tlsident: watch %s: %w", keyDir, err)
		}
	}

	w.logger.Info("certificate watcher started",
		"cert_file", w.id.certFile, "key_file", w.id.keyFile)

	certBase := filepath.Base(w.id.certFile)
	keyBase := filepath.Base(w.id.keyFile)

	for {
		select {
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			base := filepath.Base(ev.Name)
			if base != certBase && base != keyBase {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			if err := w.reload(); err != nil {
				w.logger.Error("certificate reload failed", "error", err)
			}
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("certificate watcher error", "error", err)
		case <-w.done:
			return nil
		}
	}
}

// Stop ends the watch. Safe to call more than once.
func (w *Watcher) Stop() {
	w.once.Do(func() { close(w.done) })
}

func (w *Watcher) reload() error {
	w.reloadMu.Lock()
	defer w.reloadMu.Unlock()

	now := time.Now()
	if now.Sub(w.lastReload) < w.debounce {
		return nil
	}
	w.lastReload = now

	// Give the writer a moment to finish the second file of the pair.
	time.Sleep(100 * time.Millisecond)

	if err := w.id.Reload(); err != nil {
		return err
	}
	w.logger.Info("certificate reloaded", "cert_file", w.id.certFile)
	return nil
}
