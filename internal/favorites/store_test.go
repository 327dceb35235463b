package favorites

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/suite"

	"postgarden/internal/domain"
	"postgarden/internal/testutil"
)

const (
	favPath   = "/data/app_favorites.json"
	assetsDir = "/data/app_favorites_images"
)

type StoreTestSuite struct {
	suite.Suite
	fs    afero.Fs
	store *Store
	now   time.Time
}

func (s *StoreTestSuite) SetupTest() {
	s.fs = afero.NewMemMapFs()
	s.now = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	s.store = s.newStore()
}

func (s *StoreTestSuite) newStore() *Store {
	store, err := New(s.fs, Config{Path: favPath, AssetsDir: assetsDir}, testutil.Logger())
	s.Require().NoError(err)
	store.now = func() time.Time { return s.now }
	return store
}

func TestStoreTestSuite(t *testing.T) {
	suite.Run(t, new(StoreTestSuite))
}

func (s *StoreTestSuite) cachedItem(rank int, title, image string) domain.ContentItem {
	item := testutil.Item(rank, title)
	item.Image = image
	s.Require().NoError(afero.WriteFile(s.fs, image, []byte("pixels:"+title), 0o644))
	return item
}

func (s *StoreTestSuite) TestAdd_CopiesLocalImage() {
	item := s.cachedItem(2, "a", "/cache/extracted/home/home/images/2.png")

	added, err := s.store.Add(item)
	s.Require().NoError(err)
	s.True(added)

	list := s.store.List()
	s.Require().Len(list, 1)
	want := filepath.Join(assetsDir, "fav_1714564800000_2.png")
	s.Equal(want, list[0].LocalImagePath)
	s.Equal(item.Image, list[0].Image)
	s.Equal(s.now, list[0].SavedAt)

	body, err := afero.ReadFile(s.fs, want)
	s.Require().NoError(err)
	s.Equal("pixels:a", string(body))

	// the copy survives the cache dropping its own file
	s.Require().NoError(s.fs.Remove(item.Image))
	_, err = s.fs.Stat(want)
	s.NoError(err)
}

func (s *StoreTestSuite) TestAdd_DuplicateIsNoOp() {
	item := testutil.Item(1, "a")

	added, err := s.store.Add(item)
	s.Require().NoError(err)
	s.True(added)

	item.Title = "changed"
	added, err = s.store.Add(item)
	s.Require().NoError(err)
	s.False(added)

	list := s.store.List()
	s.Require().Len(list, 1)
	s.Equal("a", list[0].Title)
}

func (s *StoreTestSuite) TestAdd_NewestFirst() {
	for _, title := range []string{"a", "b", "c"} {
		_, err := s.store.Add(testutil.Item(1, title))
		s.Require().NoError(err)
	}
	list := s.store.List()
	s.Require().Len(list, 3)
	s.Equal("c", list[0].Title)
	s.Equal("a", list[2].Title)
}

func (s *StoreTestSuite) TestAdd_RemoteImageIsNotCopied() {
	item := testutil.Item(1, "a")
	item.Image = "https://cdn.example.org/a.jpg"

	_, err := s.store.Add(item)
	s.Require().NoError(err)

	list := s.store.List()
	s.Empty(list[0].LocalImagePath)
	s.Equal(item.Image, list[0].Image)

	files, err := afero.ReadDir(s.fs, assetsDir)
	s.Require().NoError(err)
	s.Empty(files)
}

func (s *StoreTestSuite) TestAdd_MissingImageStillSaves() {
	item := testutil.Item(1, "a")
	item.Image = "/cache/gone.jpg"

	added, err := s.store.Add(item)
	s.Require().NoError(err)
	s.True(added)
	s.Empty(s.store.List()[0].LocalImagePath)
}

func (s *StoreTestSuite) TestAdd_DefaultExtension() {
	item := s.cachedItem(4, "a", "/cache/images/blob")

	_, err := s.store.Add(item)
	s.Require().NoError(err)
	s.Equal(".jpg", filepath.Ext(s.store.List()[0].LocalImagePath))
}

func (s *StoreTestSuite) TestAdd_RequiresSourceURL() {
	item := testutil.Item(1, "a")
	item.SourceURL = ""

	_, err := s.store.Add(item)
	s.ErrorIs(err, ErrNoIdentity)
	s.False(s.store.IsFavorite(""))
}

func (s *StoreTestSuite) TestRemove_DeletesOwnedCopy() {
	item := s.cachedItem(1, "a", "/cache/a.jpg")
	_, err := s.store.Add(item)
	s.Require().NoError(err)
	local := s.store.List()[0].LocalImagePath

	removed, err := s.store.Remove(item)
	s.Require().NoError(err)
	s.True(removed)
	s.Empty(s.store.List())
	s.False(s.store.IsFavorite(item.SourceURL))

	_, err = s.fs.Stat(local)
	s.Error(err)
	// the cache's file is not ours to delete
	_, err = s.fs.Stat(item.Image)
	s.NoError(err)

	removed, err = s.store.Remove(item)
	s.Require().NoError(err)
	s.False(removed)
}

func (s *StoreTestSuite) TestRemove_IgnoresPathsOutsideAssets() {
	outside := "/elsewhere/keep.jpg"
	s.Require().NoError(afero.WriteFile(s.fs, outside, []byte("x"), 0o644))
	s.Require().NoError(afero.WriteFile(s.fs, favPath, []byte(`[
		{"rank":1,"title":"a","source_url":"https://x/a","local_image_path":"/elsewhere/keep.jpg"},
		{"rank":1,"title":"b","source_url":"https://x/b","local_image_path":"/data/app_favorites_images/../../elsewhere/keep.jpg"}
	]`), 0o644))

	store := s.newStore()
	for _, url := range []string{"https://x/a", "https://x/b"} {
		removed, err := store.Remove(domain.ContentItem{SourceURL: url})
		s.Require().NoError(err)
		s.True(removed)
	}

	_, err := s.fs.Stat(outside)
	s.NoError(err)
}

func (s *StoreTestSuite) TestPersistsAcrossInstances() {
	_, err := s.store.Add(testutil.Item(1, "a"))
	s.Require().NoError(err)
	_, err = s.store.Add(testutil.Item(2, "b"))
	s.Require().NoError(err)

	reopened := s.newStore()
	list := reopened.List()
	s.Require().Len(list, 2)
	s.Equal("b", list[0].Title)
	s.True(reopened.IsFavorite(testutil.Item(1, "a").SourceURL))
}

func (s *StoreTestSuite) TestCorruptFileStartsEmpty() {
	s.Require().NoError(afero.WriteFile(s.fs, favPath, []byte("{oops"), 0o644))

	store := s.newStore()
	s.Empty(store.List())

	added, err := store.Add(testutil.Item(1, "a"))
	s.Require().NoError(err)
	s.True(added)
	s.Len(s.newStore().List(), 1)
}

func (s *StoreTestSuite) TestToggle() {
	item := testutil.Item(1, "a")

	on, err := s.store.Toggle(item)
	s.Require().NoError(err)
	s.True(on)
	s.True(s.store.IsFavorite(item.SourceURL))

	on, err = s.store.Toggle(item)
	s.Require().NoError(err)
	s.False(on)
	s.False(s.store.IsFavorite(item.SourceURL))
}

func (s *StoreTestSuite) TestAdd_WriteFailureLeavesStateUnchanged() {
	item := s.cachedItem(1, "a", "/cache/a.jpg")
	store := s.newStore()
	store.fs = afero.NewReadOnlyFs(s.fs)

	added, err := store.Add(item)
	s.ErrorIs(err, domain.ErrLocalStorage)
	s.False(added)
	s.Empty(store.List())
}

func (s *StoreTestSuite) TestAdd_SameRankSameInstantGetDistinctCopies() {
	home := s.cachedItem(1, "home-top", "/cache/extracted/home/images/1.jpg")
	world := s.cachedItem(1, "world-top", "/cache/extracted/world/images/1.jpg")

	_, err := s.store.Add(home)
	s.Require().NoError(err)
	_, err = s.store.Add(world)
	s.Require().NoError(err)

	list := s.store.List()
	s.Require().Len(list, 2)
	s.NotEqual(list[0].LocalImagePath, list[1].LocalImagePath)
	s.Equal(filepath.Join(assetsDir, "fav_1714564800000_1_1.jpg"), list[0].LocalImagePath)

	removed, err := s.store.Remove(world)
	s.Require().NoError(err)
	s.True(removed)

	body, err := afero.ReadFile(s.fs, s.store.List()[0].LocalImagePath)
	s.Require().NoError(err)
	s.Equal("pixels:home-top", string(body))
}
