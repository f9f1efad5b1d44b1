// Package prompt supplies the system prompt the relay injects into every
// conversation, either as fixed text or read from a file that is reloaded
// when it changes.
package prompt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is how long Watch waits after the last change to the
// prompt file before reloading it.
const DefaultDebounce = 100 * time.Millisecond

// Source holds the current system prompt. It is safe for concurrent use.
type Source struct {
	path     string
	debounce time.Duration
	logger   *slog.Logger

	mu      sync.RWMutex
	current string
}

// Option configures a file Source.
type Option func(*Source)

// WithLogger sets the logger reloads are reported on.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Source) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithDebounce sets the quiet period Watch waits for before reloading.
func WithDebounce(d time.Duration) Option {
	return func(s *Source) {
		if d > 0 {
			s.debounce = d
		}
	}
}

// NewStatic returns a Source that always supplies text.
func NewStatic(text string) *Source {
	return &Source{
		debounce: DefaultDebounce,
		logger:   slog.New(slog.DiscardHandler),
		current:  text,
	}
}

// NewFileSource returns a Source backed by the file at path, which must be
// readable now. Surrounding whitespace is trimmed; an empty file means no
// system prompt.
func NewFileSource(path string, opts ...Option) (*Source, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolving system prompt path: %w", err)
	}

	s := NewStatic("")
	s.path = abs
	for _, opt := range opts {
		opt(s)
	}

	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Current returns the prompt as of the last successful load.
func (s *Source) Current() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Path returns the absolute path of the prompt file, or "" for static text.
func (s *Source) Path() string {
	return s.path
}

// Reload re-reads the prompt file. On failure the previous prompt is kept.
func (s *Source) Reload() error {
	if s.path == "" {
		return nil
	}

	b, err := os.ReadFile(s.path)
	if err != nil {
		return fmt.Errorf("reading system prompt: %w", err)
	}
	text := strings.TrimSpace(string(b))

	s.mu.Lock()
	changed := text != s.current
	s.current = text
	s.mu.Unlock()

	if changed {
		s.logger.Info("system prompt loaded", "path", s.path, "bytes", len(text))
	}
	return nil
}

// Watch reloads the prompt whenever its file is written, created or renamed
// over, until ctx is done. Bursts of events within the debounce period
// cause a single reload. For static text Watch only waits for ctx.
func (s *Source) Watch(ctx context.Context) error {
	if s.path == "" {
		<-ctx.Done()
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating prompt watcher: %w", err)
	}
	defer watcher.Close()

	// Watch the directory: editors that save by renaming a temp file over
	// the original drop any watch on the file itself.
	if err := watcher.Add(filepath.Dir(s.path)); err != nil {
		return fmt.Errorf("watching %s: %w", filepath.Dir(s.path), err)
	}
	s.logger.Debug("watching system prompt", "path", s.path, "debounce", s.debounce)

	reload := make(chan struct{}, 1)
	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return errors.New("prompt watcher closed")
			}
			if filepath.Clean(event.Name) != s.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}

			if timer == nil {
				timer = time.AfterFunc(s.debounce, func() {
					select {
					case reload <- struct{}{}:
					default:
					}
				})
			} else {
				timer.Reset(s.debounce)
			}

		case <-reload:
			if err := s.Reload(); err != nil {
				s.logger.Warn("keeping previous system prompt", "error", err)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return errors.New("prompt watcher closed")
			}
			s.logger.Error("prompt watcher error", "error", err)
		}
	}
}
