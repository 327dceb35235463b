package domain

import (
	"strings"
	"time"
)

// ContentItem is one entry of a channel report. Rank 0 is the optional
// headline entry; ranks >= 1 define display order.
type ContentItem struct {
	Rank           int    `json:"rank"`
	Title          string `json:"title"`
	OriginalTitle  string `json:"original_title,omitempty"`
	Content        string `json:"content"`
	SourcePlatform string `json:"source_platform"`
	SourceURL      string `json:"source_url"`
	Image          string `json:"image"`
	Summary        string `json:"summary,omitempty"`
}

// IsHeadline reports whether the item is the rank 0 summary entry.
func (i ContentItem) IsHeadline() bool {
	return i.Rank == 0
}

// HasRemoteImage reports whether the media reference points at a remote URL.
func (i ContentItem) HasRemoteImage() bool {
	return IsRemoteRef(i.Image)
}

// IsRemoteRef reports whether ref is an http(s) URL.
func IsRemoteRef(ref string) bool {
	return strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://")
}

// Report is the on-disk shape of a snapshot data file.
type Report struct {
	Timestamp *string       `json:"timestamp,omitempty"`
	News      []ContentItem `json:"news"`
}

// Snapshot is the readable state of one channel.
type Snapshot struct {
	Channel    Channel
	Identifier string
	Timestamp  string
	Items      []ContentItem
}

// IsEmpty reports whether nothing is cached for the channel.
func (s Snapshot) IsEmpty() bool {
	return len(s.Items) == 0
}

// FavoriteEntry is a saved item together with the path of its owned media copy.
type FavoriteEntry struct {
	ContentItem
	LocalImagePath string    `json:"local_image_path,omitempty"`
	SavedAt        time.Time `json:"saved_at"`
}

// HistoryEntry is one visited item.
type HistoryEntry struct {
	Title     string    `json:"title"`
	URL       string    `json:"url"`
	VisitedAt time.Time `json:"timestamp"`
}
