// Package testutil builds fixtures shared by package tests.
package testutil

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"testing"

	"github.com/klauspost/compress/zip"

	"postgarden/internal/domain"
)

// Entry is one file of a fixture archive. A name ending in "/" is a directory.
type Entry struct {
	Name string
	Body []byte
}

// Zip builds an archive from entries in order.
func Zip(t testing.TB, entries ...Entry) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, e := range entries {
		w, err := zw.Create(e.Name)
		if err != nil {
			t.Fatalf("zip create %s: %v", e.Name, err)
		}
		if len(e.Body) > 0 {
			if _, err := w.Write(e.Body); err != nil {
				t.Fatalf("zip write %s: %v", e.Name, err)
			}
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("zip close: %v", err)
	}
	return buf.Bytes()
}

// ReportArchive builds a channel archive holding <channel>/polished_<channel>.json
// and one file per local image reference. References are relative to the
// archive root.
func ReportArchive(t testing.TB, channel, timestamp string, items ...domain.ContentItem) []byte {
	t.Helper()
	report := domain.Report{Timestamp: &timestamp, News: items}
	body, err := json.Marshal(report)
	if err != nil {
		t.Fatalf("marshal report: %v", err)
	}
	entries := []Entry{{Name: channel + "/"}}
	for _, it := range items {
		if it.Image != "" && !domain.IsRemoteRef(it.Image) {
			entries = append(entries, Entry{Name: it.Image, Body: []byte("img:" + it.Image)})
		}
	}
	entries = append(entries, Entry{Name: channel + "/polished_" + channel + ".json", Body: body})
	return Zip(t, entries...)
}

// Item returns a content item with predictable fields.
func Item(rank int, title string) domain.ContentItem {
	return domain.ContentItem{
		Rank:           rank,
		Title:          title,
		Content:        "body of " + title,
		SourcePlatform: "Wire",
		SourceURL:      "https://news.example.org/" + title,
	}
}

// Logger discards everything.
func Logger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
