// Package archive unpacks channel archives into a directory.
package archive

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zip"
	"github.com/spf13/afero"

	"postgarden/internal/domain"
)

// DefaultMaxBytes caps the total uncompressed size written by one extraction.
const DefaultMaxBytes = 512 << 20

// Codec extracts zip archives onto a filesystem.
type Codec struct {
	fs       afero.Fs
	maxBytes int64
}

// New creates a Codec writing to fs. A non-positive maxBytes selects DefaultMaxBytes.
func New(fs afero.Fs, maxBytes int64) *Codec {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	return &Codec{fs: fs, maxBytes: maxBytes}
}

// Stats describes a finished extraction.
type Stats struct {
	Files int
	Dirs  int
	Bytes int64
}

// Extract writes every entry of the archive in data under targetDir, in
// archive order. Parent directories are created on demand. Entries that would
// resolve outside targetDir are rejected. On error targetDir holds a partial
// tree and must be discarded by the caller.
func (c *Codec) Extract(data []byte, targetDir string) (Stats, error) {
	var stats Stats

	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return stats, fmt.Errorf("%w: open: %w", domain.ErrCorruptArchive, err)
	}

	if err := c.fs.MkdirAll(targetDir, 0o755); err != nil {
		return stats, fmt.Errorf("%w: create target: %w", domain.ErrLocalStorage, err)
	}

	budget := c.maxBytes
	for _, f := range zr.File {
		dest, err := resolve(targetDir, f.Name)
		if err != nil {
			return stats, err
		}

		if f.FileInfo().IsDir() || strings.HasSuffix(f.Name, "/") {
			if err := c.fs.MkdirAll(dest, 0o755); err != nil {
				return stats, fmt.Errorf("%w: mkdir %s: %w", domain.ErrLocalStorage, f.Name, err)
			}
			stats.Dirs++
			continue
		}

		if f.Mode()&os.ModeSymlink != 0 {
			return stats, fmt.Errorf("%w: %w: symlink %s", domain.ErrCorruptArchive, domain.ErrUnsafePath, f.Name)
		}

		n, err := c.writeEntry(f, dest, budget)
		if err != nil {
			return stats, err
		}
		budget -= n
		stats.Bytes += n
		stats.Files++
	}

	return stats, nil
}

func (c *Codec) writeEntry(f *zip.File, dest string, budget int64) (int64, error) {
	if err := c.fs.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return 0, fmt.Errorf("%w: mkdir parent of %s: %w", domain.ErrLocalStorage, f.Name, err)
	}

	rc, err := f.Open()
	if err != nil {
		return 0, fmt.Errorf("%w: open entry %s: %w", domain.ErrCorruptArchive, f.Name, err)
	}
	defer rc.Close()

	out, err := c.fs.OpenFile(dest, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return 0, fmt.Errorf("%w: create %s: %w", domain.ErrLocalStorage, f.Name, err)
	}

	n, err := io.Copy(out, io.LimitReader(rc, budget+1))
	closeErr := out.Close()
	if err != nil {
		var pathErr *os.PathError
		if errors.As(err, &pathErr) {
			return n, fmt.Errorf("%w: write %s: %w", domain.ErrLocalStorage, f.Name, err)
		}
		return n, fmt.Errorf("%w: read entry %s: %w", domain.ErrCorruptArchive, f.Name, err)
	}
	if n > budget {
		return n, fmt.Errorf("%w: archive exceeds %d bytes", domain.ErrCorruptArchive, budget)
	}
	if closeErr != nil {
		return n, fmt.Errorf("%w: close %s: %w", domain.ErrLocalStorage, f.Name, closeErr)
	}
	return n, nil
}

// resolve joins name onto root, rejecting names that escape it.
func resolve(root, name string) (string, error) {
	cleaned := strings.TrimSuffix(strings.ReplaceAll(name, "\\", "/"), "/")
	if cleaned == "" || !filepath.IsLocal(filepath.FromSlash(cleaned)) {
		return "", fmt.Errorf("%w: %w: %q", domain.ErrCorruptArchive, domain.ErrUnsafePath, name)
	}
	return filepath.Join(root, filepath.FromSlash(cleaned)), nil
}
