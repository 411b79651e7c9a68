// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package security

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// expectWindow is how long an announced write stays exempt from tamper
// detection. Atomic saves land as a temp-file write plus a rename, so a
// single announcement must cover a short burst of events.
const expectWindow = 2 * time.Second

// =============================================================================
// TAMPER WATCHER
// =============================================================================

// TamperWatcher observes the data directory and audit-logs any
// modification of a state file that the application did not perform
// itself. Components announce their own writes with Expect before saving;
// everything else touching a watched file is treated as external
// tampering. Detection is best-effort: the watcher reports, it does not
// block or repair.
type TamperWatcher struct {
	dir     string
	audit   *AuditLogger
	watcher *fsnotify.Watcher

	cancel context.CancelFunc
	done   chan struct{}

	mu       sync.Mutex
	expected map[string]time.Time
}

// NewTamperWatcher starts watching dir. Only regular state files are
// reported; temp files from atomic writes are ignored by prefix.
func NewTamperWatcher(dir string, audit *AuditLogger) (*TamperWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())

	w := &TamperWatcher{
		dir:      dir,
		audit:    audit,
		watcher:  watcher,
		cancel:   cancel,
		done:     make(chan struct{}),
		expected: make(map[string]time.Time),
	}

	go w.processEvents(ctx)

	return w, nil
}

// Expect announces an imminent application write to path. Events for the
// path within the expect window are not reported as tampering.
func (w *TamperWatcher) Expect(path string) {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	w.mu.Lock()
	w.expected[abs] = time.Now()
	w.mu.Unlock()
}

// processEvents consumes watcher events until cancellation.
func (w *TamperWatcher) processEvents(ctx context.Context) {
	defer close(w.done)

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0 {
				w.handleEvent(event)
			}

		case _, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			// Watch errors are non-fatal; detection degrades, the
			// application keeps running.
		}
	}
}

// handleEvent reports one filesystem event unless it was announced or
// concerns a file the application never persists.
func (w *TamperWatcher) handleEvent(event fsnotify.Event) {
	name := filepath.Base(event.Name)

	// Atomic writes go through temp files; their create/write/rename
	// churn is application-internal.
	if strings.HasPrefix(name, ".tmp-") {
		return
	}

	abs, err := filepath.Abs(event.Name)
	if err != nil {
		abs = event.Name
	}

	w.mu.Lock()
	announced, ok := w.expected[abs]
	if ok && time.Since(announced) > expectWindow {
		delete(w.expected, abs)
		ok = false
	}
	w.mu.Unlock()

	if ok {
		return
	}

	w.audit.LogEvent(EventTamper, "",
		"Unexpected "+event.Op.String()+" on "+name, false)
}

// Close stops the watcher and waits for the event loop to exit.
func (w *TamperWatcher) Close() error {
	w.cancel()
	err := w.watcher.Close()
	<-w.done
	return err
}
