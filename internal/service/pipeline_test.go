package service

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"postgarden/internal/domain"
	"postgarden/internal/source/origin"
	"postgarden/internal/storage/cache"
	"postgarden/internal/testutil"
)

// fakeOrigin serves a manifest and archives from memory.
type fakeOrigin struct {
	mu       sync.Mutex
	manifest string
	archives map[string][]byte
}

func (f *fakeOrigin) set(manifest string, archives map[string][]byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.manifest = manifest
	f.archives = archives
}

func (f *fakeOrigin) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	name := strings.TrimPrefix(r.URL.Path, "/")
	if name == "latest_versions.json" {
		_, _ = w.Write([]byte(f.manifest))
		return
	}
	body, ok := f.archives[name]
	if !ok {
		http.NotFound(w, r)
		return
	}
	_, _ = w.Write(body)
}

type pipeline struct {
	origin  *fakeOrigin
	cache   *cache.Store
	service *SyncService
	root    string
}

func newPipeline(t *testing.T) *pipeline {
	t.Helper()
	fo := &fakeOrigin{}
	srv := httptest.NewServer(fo)
	t.Cleanup(srv.Close)

	logger := testutil.Logger()
	root := t.TempDir()
	store, err := cache.New(afero.NewOsFs(), cache.Config{Root: root, Retention: time.Hour}, logger)
	require.NoError(t, err)

	client := origin.New(origin.Config{
		BaseURL:      srv.URL,
		ManifestPath: "latest_versions.json",
		Timeout:      time.Second,
		MaxAttempts:  1,
	}, domain.DefaultChannels, nil, logger)

	return &pipeline{
		origin:  fo,
		cache:   store,
		service: NewSyncService(client, store, nil, nil, logger, Config{Channels: domain.DefaultChannels}),
		root:    root,
	}
}

// tree records every path under root with its size and modification time.
func tree(t *testing.T, root string) map[string]string {
	t.Helper()
	out := map[string]string{}
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		out[path] = fmt.Sprintf("%s %s %d", info.ModTime(), info.Mode(), info.Size())
		return nil
	})
	require.NoError(t, err)
	return out
}

func channelArchive(t *testing.T, c domain.Channel, title string) []byte {
	return testutil.ReportArchive(t, string(c), title, testutil.Item(1, title))
}

func TestPipeline_SecondPassIsNoOp(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()

	p.origin.set(`{"home":"Home_1.zip","world":"World_1.zip","entertainment":null}`, map[string][]byte{
		"Home_1.zip":  channelArchive(t, domain.ChannelHome, "h1"),
		"World_1.zip": channelArchive(t, domain.ChannelWorld, "w1"),
	})

	stats, err := p.service.Sync(ctx)
	require.NoError(t, err)
	assert.True(t, stats.Changed)
	assert.True(t, stats.Committed)
	assert.Equal(t, "h1", p.cache.Read(domain.ChannelHome).Items[0].Title)
	assert.True(t, p.cache.Read(domain.ChannelEntertainment).IsEmpty())

	before := tree(t, p.root)

	stats, err = p.service.Sync(ctx)
	require.NoError(t, err)
	assert.False(t, stats.Changed)
	assert.Empty(t, stats.Stale)

	assert.Equal(t, before, tree(t, p.root))
}

func TestPipeline_FailedChannelBlocksManifestCommit(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()

	p.origin.set(`{"home":"Home_1.zip","world":"World_1.zip","entertainment":"Ent_1.zip"}`, map[string][]byte{
		"Home_1.zip":  channelArchive(t, domain.ChannelHome, "h1"),
		"World_1.zip": channelArchive(t, domain.ChannelWorld, "w1"),
		"Ent_1.zip":   channelArchive(t, domain.ChannelEntertainment, "e1"),
	})
	_, err := p.service.Sync(ctx)
	require.NoError(t, err)

	committed, err := p.cache.ReadManifest()
	require.NoError(t, err)

	p.origin.set(`{"home":"Home_2.zip","world":"World_2.zip","entertainment":"Ent_2.zip"}`, map[string][]byte{
		"Home_2.zip":  channelArchive(t, domain.ChannelHome, "h2"),
		"World_2.zip": []byte("truncated garbage"),
		"Ent_2.zip":   channelArchive(t, domain.ChannelEntertainment, "e2"),
	})

	stats, err := p.service.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Installed)
	assert.Equal(t, 1, stats.Failed)
	assert.False(t, stats.Committed)

	// new content is live for the channels that installed
	assert.Equal(t, "h2", p.cache.Read(domain.ChannelHome).Items[0].Title)
	assert.Equal(t, "e2", p.cache.Read(domain.ChannelEntertainment).Items[0].Title)
	// the failed channel keeps serving its previous snapshot
	assert.Equal(t, "w1", p.cache.Read(domain.ChannelWorld).Items[0].Title)

	after, err := p.cache.ReadManifest()
	require.NoError(t, err)
	assert.Equal(t, committed, after)

	// the next healthy pass retries every channel still behind
	p.origin.set(`{"home":"Home_2.zip","world":"World_3.zip","entertainment":"Ent_2.zip"}`, map[string][]byte{
		"Home_2.zip":  channelArchive(t, domain.ChannelHome, "h2"),
		"World_3.zip": channelArchive(t, domain.ChannelWorld, "w3"),
		"Ent_2.zip":   channelArchive(t, domain.ChannelEntertainment, "e2"),
	})
	stats, err = p.service.Sync(ctx)
	require.NoError(t, err)
	assert.True(t, stats.Committed)
	assert.Len(t, stats.Stale, 3)

	final, err := p.cache.ReadManifest()
	require.NoError(t, err)
	id, _ := final.Get(domain.ChannelWorld)
	assert.Equal(t, "World_3.zip", id)
}

func TestPipeline_UnparsableRemoteManifestIsNoOp(t *testing.T) {
	p := newPipeline(t)
	p.origin.set(`<html>oops</html>`, nil)

	before := tree(t, p.root)
	stats, err := p.service.Sync(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrNoManifest)
	assert.False(t, stats.Changed)
	assert.Equal(t, before, tree(t, p.root))
}
