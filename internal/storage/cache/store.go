// Package cache owns the on-disk channel snapshots and the local manifest.
//
// Layout under the cache root:
//
//	manifest.json           last committed manifest
//	extracted/<channel>/    live snapshot, plus version.txt marker
//	archives/<identifier>   downloaded archives, purged by age
//	staging/                extraction scratch, never read
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/spf13/afero"

	"postgarden/internal/archive"
	"postgarden/internal/domain"
	"postgarden/internal/storage/fsutil"
)

const (
	manifestFile = "manifest.json"
	markerFile   = "version.txt"
	extractedDir = "extracted"
	archivesDir  = "archives"
	stagingDir   = "staging"

	preferredPrefix = "polished_"

	// DefaultStagingTTL is how old a staging entry must be before another
	// process opening the cache treats it as abandoned.
	DefaultStagingTTL = time.Hour
)

// Enricher rewrites a freshly extracted report before it becomes visible.
type Enricher interface {
	Enrich(ctx context.Context, report *domain.Report) (bool, error)
}

// Config holds cache store configuration.
type Config struct {
	Root            string
	Retention       time.Duration
	MaxExtractBytes int64
	StagingTTL      time.Duration
}

// Store is the channel cache. Installs for different channels may run
// concurrently; a single writer per channel is assumed.
type Store struct {
	fs        afero.Fs
	root      string
	codec     *archive.Codec
	retention  time.Duration
	stagingTTL time.Duration
	enricher   Enricher
	logger    *slog.Logger

	mu    sync.Mutex
	locks map[domain.Channel]*sync.RWMutex
}

// Option customizes a Store.
type Option func(*Store)

// WithEnricher installs an enricher applied to every new snapshot.
func WithEnricher(e Enricher) Option {
	return func(s *Store) { s.enricher = e }
}

// New opens the cache rooted at cfg.Root, discarding staging leftovers older
// than cfg.StagingTTL. Younger entries may belong to an install running in
// another process and are left alone.
func New(fs afero.Fs, cfg Config, logger *slog.Logger, opts ...Option) (*Store, error) {
	root, err := filepath.Abs(cfg.Root)
	if err != nil {
		return nil, fmt.Errorf("resolve cache root: %w", err)
	}

	s := &Store{
		fs:        fs,
		root:      root,
		codec:     archive.New(fs, cfg.MaxExtractBytes),
		retention:  cfg.Retention,
		stagingTTL: cfg.StagingTTL,
		logger:     logger.With("component", "cache"),
		locks:      make(map[domain.Channel]*sync.RWMutex),
	}
	if s.stagingTTL <= 0 {
		s.stagingTTL = DefaultStagingTTL
	}
	for _, opt := range opts {
		opt(s)
	}

	s.clearStaging(time.Now())
	for _, dir := range []string{extractedDir, archivesDir, stagingDir} {
		if err := fs.MkdirAll(s.path(dir), 0o755); err != nil {
			return nil, fmt.Errorf("%w: create %s: %w", domain.ErrLocalStorage, dir, err)
		}
	}

	return s, nil
}

// Root returns the absolute cache root.
func (s *Store) Root() string {
	return s.root
}

// clearStaging removes abandoned staging entries last modified before
// now minus the staging TTL.
func (s *Store) clearStaging(now time.Time) {
	entries, err := afero.ReadDir(s.fs, s.path(stagingDir))
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			s.logger.Warn("failed to list staging area", "error", err)
		}
		return
	}
	cutoff := now.Add(-s.stagingTTL)
	for _, e := range entries {
		if !e.ModTime().Before(cutoff) {
			continue
		}
		path := s.path(stagingDir, e.Name())
		if err := s.fs.RemoveAll(path); err != nil {
			s.logger.Warn("failed to remove abandoned staging entry", "path", path, "error", err)
			continue
		}
		s.logger.Debug("removed abandoned staging entry", "path", path)
	}
}

// ChannelDir returns the live snapshot directory of c.
func (s *Store) ChannelDir(c domain.Channel) string {
	return s.path(extractedDir, string(c))
}

func (s *Store) path(elem ...string) string {
	return filepath.Join(append([]string{s.root}, elem...)...)
}

func (s *Store) lock(c domain.Channel) *sync.RWMutex {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.locks[c]
	if !ok {
		l = &sync.RWMutex{}
		s.locks[c] = l
	}
	return l
}

// Read returns the current snapshot of c. A missing or unreadable snapshot
// yields an empty result.
func (s *Store) Read(c domain.Channel) domain.Snapshot {
	l := s.lock(c)
	l.RLock()
	defer l.RUnlock()

	dir := s.ChannelDir(c)
	snap := domain.Snapshot{Channel: c}

	dataPath, err := findDataFile(s.fs, dir)
	if err != nil {
		s.logger.Debug("no cached snapshot", "channel", c, "reason", err)
		return snap
	}

	report, err := readReport(s.fs, dataPath)
	if err != nil {
		s.logger.Warn("unreadable snapshot", "channel", c, "error", err)
		return snap
	}

	if marker, err := afero.ReadFile(s.fs, filepath.Join(dir, markerFile)); err == nil {
		snap.Identifier = strings.TrimSpace(string(marker))
	}
	if report.Timestamp != nil {
		snap.Timestamp = *report.Timestamp
	}

	snap.Items = make([]domain.ContentItem, 0, len(report.News))
	for _, item := range report.News {
		item.Image = resolveImage(dir, item.Image)
		snap.Items = append(snap.Items, item)
	}
	return snap
}

// Install replaces the snapshot of c with the content of archive. The new
// snapshot becomes visible only after it has been fully extracted; on failure
// the previous snapshot stays in place.
func (s *Store) Install(ctx context.Context, c domain.Channel, data []byte, identifier string) error {
	log := s.logger.With("channel", c, "identifier", identifier)

	if err := s.saveArchive(identifier, data); err != nil {
		log.Warn("failed to keep downloaded archive", "error", err)
	}

	staging, err := afero.TempDir(s.fs, s.path(stagingDir), string(c)+"-")
	if err != nil {
		return fmt.Errorf("%w: create staging dir: %w", domain.ErrLocalStorage, err)
	}
	defer func() { _ = s.fs.RemoveAll(staging) }()

	stats, err := s.codec.Extract(data, staging)
	if err != nil {
		return fmt.Errorf("extract %s: %w", identifier, err)
	}

	if s.enricher != nil {
		s.enrich(ctx, staging, log)
	}

	if err := afero.WriteFile(s.fs, filepath.Join(staging, markerFile), []byte(identifier), 0o644); err != nil {
		return fmt.Errorf("%w: write marker: %w", domain.ErrLocalStorage, err)
	}

	if err := s.promote(c, staging); err != nil {
		return err
	}

	log.Info("installed snapshot", "files", stats.Files, "bytes", stats.Bytes)
	return nil
}

// promote swaps staging in as the live directory of c under the channel's
// write lock.
func (s *Store) promote(c domain.Channel, staging string) error {
	live := s.ChannelDir(c)
	retired := staging + ".old"

	l := s.lock(c)
	l.Lock()
	defer l.Unlock()

	hadLive, err := afero.DirExists(s.fs, live)
	if err != nil {
		return fmt.Errorf("%w: stat live dir: %w", domain.ErrLocalStorage, err)
	}
	if hadLive {
		if err := s.fs.Rename(live, retired); err != nil {
			return fmt.Errorf("%w: retire old snapshot: %w", domain.ErrLocalStorage, err)
		}
	}
	if err := s.fs.Rename(staging, live); err != nil {
		if hadLive {
			if rerr := s.fs.Rename(retired, live); rerr != nil {
				s.logger.Error("failed to restore previous snapshot", "channel", c, "error", rerr)
			}
		}
		return fmt.Errorf("%w: promote snapshot: %w", domain.ErrLocalStorage, err)
	}
	if hadLive {
		if err := s.fs.RemoveAll(retired); err != nil {
			s.logger.Warn("failed to remove old snapshot", "channel", c, "error", err)
		}
	}
	return nil
}

func (s *Store) enrich(ctx context.Context, dir string, log *slog.Logger) {
	dataPath, err := findDataFile(s.fs, dir)
	if err != nil {
		return
	}
	report, err := readReport(s.fs, dataPath)
	if err != nil {
		return
	}
	changed, err := s.enricher.Enrich(ctx, &report)
	if err != nil {
		log.Warn("enrichment failed", "error", err)
	}
	if !changed {
		return
	}
	if err := fsutil.WriteJSON(s.fs, dataPath, report); err != nil {
		log.Warn("failed to write enriched report", "error", err)
	}
}

// ReadManifest returns the committed manifest, or nil when none exists.
func (s *Store) ReadManifest() (domain.Manifest, error) {
	var m domain.Manifest
	found, err := fsutil.ReadJSON(s.fs, s.path(manifestFile), &m)
	if err != nil {
		if found {
			return nil, fmt.Errorf("%w: %w", domain.ErrParse, err)
		}
		return nil, fmt.Errorf("%w: %w", domain.ErrLocalStorage, err)
	}
	if !found {
		return nil, nil
	}
	if m == nil {
		m = domain.Manifest{}
	}
	return m, nil
}

// WriteManifest replaces the committed manifest.
func (s *Store) WriteManifest(m domain.Manifest) error {
	if err := fsutil.WriteJSON(s.fs, s.path(manifestFile), m); err != nil {
		return fmt.Errorf("%w: write manifest: %w", domain.ErrLocalStorage, err)
	}
	return nil
}

func (s *Store) saveArchive(identifier string, data []byte) error {
	if !filepath.IsLocal(identifier) || strings.ContainsRune(identifier, filepath.Separator) {
		return fmt.Errorf("%w: %q", domain.ErrUnsafePath, identifier)
	}
	return afero.WriteFile(s.fs, s.path(archivesDir, identifier), data, 0o644)
}

// ArchiveInfo describes a kept archive.
type ArchiveInfo struct {
	Name    string
	Path    string
	Size    int64
	ModTime time.Time
}

// ListArchives returns kept archives, newest first.
func (s *Store) ListArchives() ([]ArchiveInfo, error) {
	entries, err := afero.ReadDir(s.fs, s.path(archivesDir))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: list archives: %w", domain.ErrLocalStorage, err)
	}

	var out []ArchiveInfo
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		out = append(out, ArchiveInfo{
			Name:    e.Name(),
			Path:    s.path(archivesDir, e.Name()),
			Size:    e.Size(),
			ModTime: e.ModTime(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ModTime.After(out[j].ModTime) })
	return out, nil
}

// Purge deletes kept archives older than the retention threshold and returns
// how many were removed. Individual failures are logged and skipped.
func (s *Store) Purge(now time.Time) int {
	if s.retention <= 0 {
		return 0
	}
	archives, err := s.ListArchives()
	if err != nil {
		s.logger.Warn("purge skipped", "error", err)
		return 0
	}

	removed := 0
	for _, a := range archives {
		if now.Sub(a.ModTime) <= s.retention {
			continue
		}
		if err := s.fs.Remove(a.Path); err != nil {
			s.logger.Warn("failed to purge archive", "archive", a.Name, "error", err)
			continue
		}
		removed++
	}
	if removed > 0 {
		s.logger.Info("purged old archives", "count", removed)
	}
	return removed
}

// findDataFile picks the report document of a snapshot tree, preferring
// polished_ files, then lexical order.
func findDataFile(fs afero.Fs, dir string) (string, error) {
	var candidates []string
	err := afero.Walk(fs, dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() || info.Name() == markerFile || !strings.HasSuffix(info.Name(), ".json") {
			return nil
		}
		candidates = append(candidates, path)
		return nil
	})
	if err != nil {
		return "", err
	}
	if len(candidates) == 0 {
		return "", errors.New("no data file")
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		pi := strings.HasPrefix(filepath.Base(candidates[i]), preferredPrefix)
		pj := strings.HasPrefix(filepath.Base(candidates[j]), preferredPrefix)
		if pi != pj {
			return pi
		}
		return candidates[i] < candidates[j]
	})
	return candidates[0], nil
}

func readReport(fs afero.Fs, path string) (domain.Report, error) {
	var report domain.Report
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return report, err
	}
	if err := json.Unmarshal(data, &report); err != nil {
		return report, fmt.Errorf("%w: %w", domain.ErrParse, err)
	}
	return report, nil
}

// resolveImage maps a relative media reference onto the channel directory.
// References escaping that directory are dropped.
func resolveImage(dir, ref string) string {
	if ref == "" || domain.IsRemoteRef(ref) {
		return ref
	}
	rel := filepath.FromSlash(strings.TrimPrefix(ref, "/"))
	if !filepath.IsLocal(rel) {
		return ""
	}
	return filepath.Join(dir, rel)
}
