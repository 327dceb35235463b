// Package favorites persists saved items together with private copies of
// their media assets.
package favorites

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/spf13/afero"

	"postgarden/internal/domain"
	"postgarden/internal/storage/fsutil"
)

const maxNameAttempts = 100

// ErrNoIdentity is returned for items without a source URL.
var ErrNoIdentity = errors.New("item has no source url")

// Config holds favorites store configuration.
type Config struct {
	Path      string
	AssetsDir string
}

// Store is a deduplicated favorites collection. Once loaded, the in-memory
// list is authoritative; only this store writes the backing file.
type Store struct {
	fs        afero.Fs
	path      string
	assetsDir string
	logger    *slog.Logger
	now       func() time.Time

	mu      sync.Mutex
	entries []domain.FavoriteEntry
	loaded  bool
}

func New(fs afero.Fs, cfg Config, logger *slog.Logger) (*Store, error) {
	assets, err := filepath.Abs(cfg.AssetsDir)
	if err != nil {
		return nil, fmt.Errorf("resolve assets dir: %w", err)
	}
	if err := fs.MkdirAll(assets, 0o755); err != nil {
		return nil, fmt.Errorf("%w: create assets dir: %w", domain.ErrLocalStorage, err)
	}
	return &Store{
		fs:        fs,
		path:      cfg.Path,
		assetsDir: assets,
		logger:    logger.With("component", "favorites"),
		now:       time.Now,
	}, nil
}

// List returns the favorites, most recently added first.
func (s *Store) List() []domain.FavoriteEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.load()
	out := make([]domain.FavoriteEntry, len(s.entries))
	copy(out, s.entries)
	return out
}

// IsFavorite reports whether an entry with the given source URL exists.
func (s *Store) IsFavorite(url string) bool {
	if url == "" {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.load()
	return s.indexOf(url) >= 0
}

// Add saves item unless an entry with the same source URL exists. A local
// media file is copied into the assets directory first.
func (s *Store) Add(item domain.ContentItem) (bool, error) {
	if item.SourceURL == "" {
		return false, ErrNoIdentity
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.load()
	return s.add(item)
}

// Remove deletes the entry matching item's source URL along with its owned
// media copy.
func (s *Store) Remove(item domain.ContentItem) (bool, error) {
	if item.SourceURL == "" {
		return false, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.load()
	return s.remove(item.SourceURL)
}

// Toggle adds item when absent and removes it otherwise, reporting whether
// it is a favorite afterwards.
func (s *Store) Toggle(item domain.ContentItem) (bool, error) {
	if item.SourceURL == "" {
		return false, ErrNoIdentity
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.load()
	if s.indexOf(item.SourceURL) >= 0 {
		if _, err := s.remove(item.SourceURL); err != nil {
			return true, err
		}
		return false, nil
	}
	if _, err := s.add(item); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) add(item domain.ContentItem) (bool, error) {
	if s.indexOf(item.SourceURL) >= 0 {
		return false, nil
	}

	now := s.now()
	entry := domain.FavoriteEntry{ContentItem: item, SavedAt: now}
	if item.Image != "" && !item.HasRemoteImage() {
		local, err := s.copyAsset(item, now)
		if err != nil {
			s.logger.Warn("failed to copy favorite image", "url", item.SourceURL, "error", err)
		}
		entry.LocalImagePath = local
	}

	next := append([]domain.FavoriteEntry{entry}, s.entries...)
	if err := s.save(next); err != nil {
		s.deleteAsset(entry.LocalImagePath)
		return false, err
	}
	s.entries = next
	s.logger.Info("favorite added", "url", item.SourceURL, "count", len(next))
	return true, nil
}

func (s *Store) remove(url string) (bool, error) {
	i := s.indexOf(url)
	if i < 0 {
		return false, nil
	}

	removed := s.entries[i]
	next := make([]domain.FavoriteEntry, 0, len(s.entries)-1)
	next = append(next, s.entries[:i]...)
	next = append(next, s.entries[i+1:]...)
	if err := s.save(next); err != nil {
		return false, err
	}
	s.entries = next
	s.deleteAsset(removed.LocalImagePath)
	s.logger.Info("favorite removed", "url", url, "count", len(next))
	return true, nil
}

func (s *Store) indexOf(url string) int {
	for i, e := range s.entries {
		if e.SourceURL == url {
			return i
		}
	}
	return -1
}

// load fills the in-memory list on first use. A corrupt file starts an
// empty collection.
func (s *Store) load() {
	if s.loaded {
		return
	}
	s.loaded = true

	var entries []domain.FavoriteEntry
	if _, err := fsutil.ReadJSON(s.fs, s.path, &entries); err != nil {
		s.logger.Warn("favorites unreadable, starting empty", "error", err)
		entries = nil
	}
	s.entries = entries
}

func (s *Store) save(entries []domain.FavoriteEntry) error {
	if entries == nil {
		entries = []domain.FavoriteEntry{}
	}
	if err := fsutil.WriteJSON(s.fs, s.path, entries); err != nil {
		return fmt.Errorf("%w: save favorites: %w", domain.ErrLocalStorage, err)
	}
	return nil
}

func (s *Store) copyAsset(item domain.ContentItem, now time.Time) (string, error) {
	src, err := s.fs.Open(item.Image)
	if err != nil {
		return "", err
	}
	defer src.Close()

	if info, err := src.Stat(); err != nil || info.IsDir() {
		return "", fmt.Errorf("not a regular file: %s", item.Image)
	}

	ext := strings.TrimPrefix(filepath.Ext(item.Image), ".")
	if ext == "" {
		ext = "jpg"
	}
	out, dest, err := s.createAsset(fmt.Sprintf("fav_%d_%d", now.UnixMilli(), item.Rank), ext)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(out, src); err != nil {
		_ = out.Close()
		_ = s.fs.Remove(dest)
		return "", err
	}
	if err := out.Close(); err != nil {
		_ = s.fs.Remove(dest)
		return "", err
	}
	return dest, nil
}

// createAsset creates a new file named base.ext in the assets directory,
// adding a numeric suffix when the name is taken.
func (s *Store) createAsset(base, ext string) (afero.File, string, error) {
	for i := 0; i < maxNameAttempts; i++ {
		name := base
		if i > 0 {
			name = fmt.Sprintf("%s_%d", base, i)
		}
		dest := filepath.Join(s.assetsDir, name+"."+ext)
		out, err := s.fs.OpenFile(dest, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			return out, dest, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return nil, "", err
		}
	}
	return nil, "", fmt.Errorf("no free asset name for %s.%s", base, ext)
}

// deleteAsset removes path only when it lies inside the assets directory.
func (s *Store) deleteAsset(path string) {
	if path == "" {
		return
	}
	rel, err := filepath.Rel(s.assetsDir, path)
	if err != nil || !filepath.IsLocal(rel) {
		return
	}
	if err := s.fs.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		s.logger.Warn("failed to delete favorite image", "path", path, "error", err)
	}
}
