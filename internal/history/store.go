// Package history keeps a bounded, most-recent-first log of visited items.
package history

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/spf13/afero"

	"postgarden/internal/domain"
	"postgarden/internal/storage/fsutil"
)

const DefaultLimit = 100

type Config struct {
	Path  string
	Limit int
}

// Store persists visits as a JSON array. Every call reads the file, so the
// file stays the source of truth across processes.
type Store struct {
	fs     afero.Fs
	path   string
	limit  int
	logger *slog.Logger
	now    func() time.Time

	mu sync.Mutex
}

func New(fs afero.Fs, cfg Config, logger *slog.Logger) *Store {
	limit := cfg.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &Store{
		fs:     fs,
		path:   cfg.Path,
		limit:  limit,
		logger: logger.With("component", "history"),
		now:    time.Now,
	}
}

// Record moves url to the front of the log, dropping the oldest entries
// beyond the limit.
func (s *Store) Record(title, url string) error {
	if url == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.read()
	next := make([]domain.HistoryEntry, 0, len(entries)+1)
	next = append(next, domain.HistoryEntry{Title: title, URL: url, VisitedAt: s.now()})
	for _, e := range entries {
		if e.URL == url {
			continue
		}
		next = append(next, e)
	}
	if len(next) > s.limit {
		next = next[:s.limit]
	}

	if err := fsutil.WriteJSON(s.fs, s.path, next); err != nil {
		return fmt.Errorf("%w: save history: %w", domain.ErrLocalStorage, err)
	}
	return nil
}

// List returns the log, most recent first.
func (s *Store) List() []domain.HistoryEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read()
}

// Clear deletes the log.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.fs.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: clear history: %w", domain.ErrLocalStorage, err)
	}
	s.logger.Info("history cleared")
	return nil
}

func (s *Store) read() []domain.HistoryEntry {
	var entries []domain.HistoryEntry
	if _, err := fsutil.ReadJSON(s.fs, s.path, &entries); err != nil {
		s.logger.Warn("history unreadable, treating as empty", "error", err)
		return nil
	}
	return entries
}
