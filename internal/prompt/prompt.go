// Package prompt loads and hot-reloads role system-prompt templates
// (G2) and performs the `{{SESSION_ID}}`/`{{MEMBER_ID}}` substitution
// spec.md §6 defines for them.
package prompt

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/agentmux/agentmux/internal/fsys"
)

// DefaultDebounce coalesces bursts of filesystem events (editors that
// save via a temp-file-then-rename) into a single reload, mirroring the
// teacher's config-watcher debounce.
const DefaultDebounce = 200 * time.Millisecond

// Store loads template files by path and keeps an
// in-memory cache, refreshed on write via fsnotify when Watch is
// called.
type Store struct {
	fs fsys.FS

	mu    sync.RWMutex
	cache map[string]string // path -> raw template text

	watcher  *fsnotify.Watcher
	stderr   io.Writer
	debounce time.Duration
}

// New returns a Store backed by fs (pass [fsys.OSFS]{} in production).
func New(fs fsys.FS) *Store {
	return &Store{
		fs:       fs,
		cache:    make(map[string]string),
		stderr:   os.Stderr,
		debounce: DefaultDebounce,
	}
}

// Load reads and caches the template at path, overwriting any cached
// copy. Callers normally rely on Render, which loads-on-miss; Load is
// exposed for pre-warming and for the fsnotify reload path.
func (s *Store) Load(path string) (string, error) {
	data, err := s.fs.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("prompt: reading %s: %w", path, err)
	}
	text := string(data)
	s.mu.Lock()
	s.cache[path] = text
	s.mu.Unlock()
	return text, nil
}

// Render loads the template at systemPromptPath (from cache if present)
// and substitutes `{{SESSION_ID}}` and `{{MEMBER_ID}}`. No other
// template syntax is recognised; an unmatched `{{...}}` is left as-is.
func (s *Store) Render(systemPromptPath, sessionName, memberID string) (string, error) {
	s.mu.RLock()
	text, ok := s.cache[systemPromptPath]
	s.mu.RUnlock()
	if !ok {
		var err error
		text, err = s.Load(systemPromptPath)
		if err != nil {
			return "", err
		}
	}
	return Substitute(text, sessionName, memberID), nil
}

// Substitute replaces the two recognised template names. Any other
// `{{...}}` sequence in text is preserved verbatim (spec.md §6).
func Substitute(text, sessionName, memberID string) string {
	text = strings.ReplaceAll(text, "{{SESSION_ID}}", sessionName)
	text = strings.ReplaceAll(text, "{{MEMBER_ID}}", memberID)
	return text
}

// Watch starts an fsnotify watcher on dir, reloading any cached
// template under dir whose file changes, debounced by s.debounce. If
// the watcher cannot be created, Watch logs to stderr and degrades to
// load-on-miss only — a missing watcher is never fatal, matching the
// teacher's own config watcher ("reload on tick only" fallback).
// Returns a cleanup function.
func (s *Store) Watch(dir string) func() {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		fmt.Fprintf(s.stderr, "prompt: starting watcher: %v (hot-reload disabled)\n", err) //nolint:errcheck
		return func() {}
	}
	if err := watcher.Add(dir); err != nil {
		fmt.Fprintf(s.stderr, "prompt: watching %s: %v (hot-reload disabled)\n", dir, err) //nolint:errcheck
		watcher.Close() //nolint:errcheck
		return func() {}
	}
	s.watcher = watcher

	go func() {
		pending := make(map[string]*time.Timer)
		for {
			select {
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				// fsnotify reports ev.Name joined against dir as given
				// to watcher.Add, which may be absolute even when
				// callers cache by a relative path like
				// "prompts/developer.md". Rejoin against the exact dir
				// string Watch received so the reload hits the same
				// cache key Render/Load use.
				path := filepath.Join(dir, filepath.Base(ev.Name))
				if t, exists := pending[path]; exists {
					t.Stop()
				}
				pending[path] = time.AfterFunc(s.debounce, func() {
					if _, err := s.Load(path); err != nil {
						fmt.Fprintf(s.stderr, "prompt: reloading %s: %v\n", path, err) //nolint:errcheck
					}
				})
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				fmt.Fprintf(s.stderr, "prompt: watcher error: %v\n", err) //nolint:errcheck
			}
		}
	}()

	return func() { watcher.Close() } //nolint:errcheck
}
