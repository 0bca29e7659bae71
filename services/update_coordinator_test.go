package services

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/fenilmodi00/giftlist-backend/config"
	"github.com/fenilmodi00/giftlist-backend/models"
	"github.com/fenilmodi00/giftlist-backend/shared"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeFetcher struct {
	mutex   sync.Mutex
	files   map[string]string
	offline bool
	fetched []string
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{files: map[string]string{
		"/":              "<html>home</html>",
		"/index.html":    "<html>home</html>",
		"/manifest.json": "{}",
		"/style.css":     "body{}",
		"/script.js":     "console.log(1)",
	}}
}

func (f *fakeFetcher) Fetch(ctx context.Context, resourcePath string) (*models.CachedResource, error) {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	p := NormalizeResourcePath(resourcePath)
	f.fetched = append(f.fetched, p)
	if f.offline {
		return nil, errors.New("network down")
	}
	body, ok := f.files[p]
	if !ok {
		return &models.CachedResource{Path: p, StatusCode: http.StatusNotFound}, nil
	}
	return &models.CachedResource{Path: p, StatusCode: http.StatusOK, ContentType: "text/plain", Body: []byte(body)}, nil
}

func (f *fakeFetcher) setOffline(offline bool) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.offline = offline
}

type recordingBroadcaster struct {
	mutex    sync.Mutex
	messages []models.SessionMessage
}

func (b *recordingBroadcaster) Broadcast(msg models.SessionMessage) {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	b.messages = append(b.messages, msg)
}

func (b *recordingBroadcaster) updates(version string) int {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	n := 0
	for _, m := range b.messages {
		if m.Type == models.MessageUpdated && m.Version == version {
			n++
		}
	}
	return n
}

func testCoordinator(autoSkip bool) (*UpdateCoordinator, *MemoryResourceStore, *fakeFetcher, *recordingBroadcaster) {
	store := NewMemoryResourceStore()
	fetcher := newFakeFetcher()
	broadcaster := &recordingBroadcaster{}
	cfg := config.DefaultCoordinatorConfig()
	cfg.AutoSkipWaiting = autoSkip
	fixed := time.Date(2024, 12, 1, 10, 0, 0, 0, time.UTC)
	coordinator := NewUpdateCoordinator(store, fetcher, broadcaster, cfg, WithCoordinatorClock(func() time.Time { return fixed }))
	return coordinator, store, fetcher, broadcaster
}

var defaultResources = config.DefaultCoordinatorConfig().Resources

func TestUpgradeWithSkipWaitingLeavesOneCache(t *testing.T) {
	coordinator, store, _, broadcaster := testCoordinator(false)
	ctx := context.Background()

	gen, err := coordinator.Install(ctx, GenerationSpec{Version: "v1", Resources: defaultResources})
	require.NoError(t, err)
	assert.Equal(t, models.GenerationWaiting, gen.State)
	require.NoError(t, coordinator.SkipWaiting(ctx))

	gen, err = coordinator.Install(ctx, GenerationSpec{Version: "v2", Resources: defaultResources})
	require.NoError(t, err)
	assert.Equal(t, models.GenerationWaiting, gen.State)
	keys, _ := store.Keys(ctx)
	assert.ElementsMatch(t, []string{models.CacheName("v1"), models.CacheName("v2")}, keys)

	reply, err := coordinator.HandleMessage(ctx, models.SessionMessage{Type: models.MessageSkipWaiting})
	require.NoError(t, err)
	assert.Nil(t, reply)

	keys, _ = store.Keys(ctx)
	assert.Equal(t, []string{models.CacheName("v2")}, keys)
	assert.Equal(t, 1, broadcaster.updates("v2"))

	status, err := coordinator.Status(ctx)
	require.NoError(t, err)
	require.NotNil(t, status.Active)
	assert.Equal(t, "v2", status.Active.Version)
	assert.Equal(t, models.GenerationActive, status.Active.State)
	assert.Nil(t, status.Waiting)
	require.Len(t, status.History, 1)
	assert.Equal(t, "v1", status.History[0].Version)
	assert.Equal(t, models.GenerationRedundant, status.History[0].State)
}

func TestAutoSkipWaitingActivatesImmediately(t *testing.T) {
	coordinator, _, _, broadcaster := testCoordinator(true)

	gen, err := coordinator.Install(context.Background(), GenerationSpec{Version: "v1.0", Resources: defaultResources})
	require.NoError(t, err)
	assert.Equal(t, models.GenerationActive, gen.State)
	assert.Equal(t, "vanocni-darky-v1.0", gen.CacheID)
	assert.Equal(t, 1, broadcaster.updates("v1.0"))
}

func TestFailedInstallIsRedundantAndLeavesNoCache(t *testing.T) {
	coordinator, store, _, broadcaster := testCoordinator(true)
	ctx := context.Background()
	_, err := coordinator.Install(ctx, GenerationSpec{Version: "v1", Resources: defaultResources})
	require.NoError(t, err)

	gen, err := coordinator.Install(ctx, GenerationSpec{Version: "v2", Resources: append(defaultResources, "./missing.png")})
	require.Error(t, err)
	assert.True(t, shared.IsCategory(err, shared.ErrorCategoryLifecycle))
	assert.Equal(t, models.GenerationRedundant, gen.State)

	keys, _ := store.Keys(ctx)
	assert.Equal(t, []string{models.CacheName("v1")}, keys)
	assert.Zero(t, broadcaster.updates("v2"))

	status, _ := coordinator.Status(ctx)
	assert.Equal(t, "v1", status.Active.Version)
}

func TestInstallRejectsActiveVersionAndEmptyVersion(t *testing.T) {
	coordinator, _, _, _ := testCoordinator(true)
	ctx := context.Background()
	_, err := coordinator.Install(ctx, GenerationSpec{Version: "v1", Resources: defaultResources})
	require.NoError(t, err)

	_, err = coordinator.Install(ctx, GenerationSpec{Version: "v1", Resources: defaultResources})
	assert.True(t, shared.IsCategory(err, shared.ErrorCategoryLifecycle))

	_, err = coordinator.Install(ctx, GenerationSpec{Version: " "})
	assert.True(t, shared.IsCategory(err, shared.ErrorCategoryValidation))
}

func TestSkipWaitingWithNothingWaiting(t *testing.T) {
	coordinator, _, _, broadcaster := testCoordinator(false)

	err := coordinator.SkipWaiting(context.Background())
	assert.True(t, shared.IsCategory(err, shared.ErrorCategoryLifecycle))
	assert.Empty(t, broadcaster.messages)
}

func TestHandleMessageReplies(t *testing.T) {
	coordinator, _, _, _ := testCoordinator(false)
	ctx := context.Background()

	reply, err := coordinator.HandleMessage(ctx, models.SessionMessage{Type: models.MessageGetVersion, RequestID: "r1"})
	require.NoError(t, err)
	assert.Equal(t, models.MessageError, reply.Type)
	assert.Equal(t, "r1", reply.RequestID)

	_, err = coordinator.Install(ctx, GenerationSpec{Version: "v1", Resources: defaultResources})
	require.NoError(t, err)
	require.NoError(t, coordinator.SkipWaiting(ctx))
	_, err = coordinator.Install(ctx, GenerationSpec{Version: "v2", Resources: defaultResources})
	require.NoError(t, err)

	reply, err = coordinator.HandleMessage(ctx, models.SessionMessage{Type: models.MessageGetVersion, RequestID: "r2"})
	require.NoError(t, err)
	assert.Equal(t, models.SessionMessage{Type: models.MessageVersionInfo, RequestID: "r2", Version: "v1", CacheID: models.CacheName("v1")}, *reply)

	reply, err = coordinator.HandleMessage(ctx, models.SessionMessage{Type: models.MessageGetCacheInfo, RequestID: "r3"})
	require.NoError(t, err)
	assert.Equal(t, models.MessageCacheInfo, reply.Type)
	assert.Equal(t, models.CacheName("v1"), reply.ActiveID)
	assert.Equal(t, "v2", reply.WaitingVersion)
	assert.Len(t, reply.Caches, 2)

	reply, err = coordinator.HandleMessage(ctx, models.SessionMessage{Type: "PING", RequestID: "r4"})
	require.NoError(t, err)
	assert.Equal(t, models.MessageError, reply.Type)
	assert.Contains(t, reply.Error, "PING")
}

func TestClearCachesReinstallsActiveGeneration(t *testing.T) {
	coordinator, store, _, broadcaster := testCoordinator(true)
	ctx := context.Background()
	_, err := coordinator.Install(ctx, GenerationSpec{Version: "v3", Resources: defaultResources})
	require.NoError(t, err)
	require.NoError(t, store.Put(ctx, models.CachedResource{CacheID: "stray", Path: "/x", StatusCode: 200}))

	reply, err := coordinator.HandleMessage(ctx, models.SessionMessage{Type: models.MessageClearCaches})
	require.NoError(t, err)
	assert.Nil(t, reply)

	keys, _ := store.Keys(ctx)
	assert.Equal(t, []string{models.CacheName("v3")}, keys)
	assert.Equal(t, 2, broadcaster.updates("v3"))
	entries, _ := store.Entries(ctx, models.CacheName("v3"))
	assert.Len(t, entries, len(defaultResources))
}

func TestClearCachesReportsFailedReinstall(t *testing.T) {
	coordinator, _, fetcher, _ := testCoordinator(true)
	ctx := context.Background()
	_, err := coordinator.Install(ctx, GenerationSpec{Version: "v1", Resources: defaultResources})
	require.NoError(t, err)

	fetcher.setOffline(true)
	reply, err := coordinator.HandleMessage(ctx, models.SessionMessage{Type: models.MessageClearCaches, RequestID: "c1"})
	require.NoError(t, err)
	require.NotNil(t, reply)
	assert.Equal(t, models.MessageError, reply.Type)
	assert.Equal(t, "c1", reply.RequestID)
}

func TestServe(t *testing.T) {
	coordinator, store, fetcher, _ := testCoordinator(true)
	ctx := context.Background()
	_, err := coordinator.Install(ctx, GenerationSpec{Version: "v1", Resources: defaultResources})
	require.NoError(t, err)

	t.Run("cache hit", func(t *testing.T) {
		result, err := coordinator.Serve(ctx, ResourceRequest{Path: "/style.css", Method: http.MethodGet})
		require.NoError(t, err)
		assert.Equal(t, SourceCache, result.Source)
		assert.Equal(t, "body{}", string(result.Resource.Body))
	})

	t.Run("miss goes live and is cached", func(t *testing.T) {
		fetcher.mutex.Lock()
		fetcher.files["/icon.png"] = "png"
		fetcher.mutex.Unlock()

		result, err := coordinator.Serve(ctx, ResourceRequest{Path: "/icon.png"})
		require.NoError(t, err)
		assert.Equal(t, SourceNetwork, result.Source)

		cached, err := store.MatchIn(ctx, models.CacheName("v1"), "/icon.png")
		require.NoError(t, err)
		require.NotNil(t, cached)
	})

	t.Run("live 404 is returned but not cached", func(t *testing.T) {
		result, err := coordinator.Serve(ctx, ResourceRequest{Path: "/nope.js"})
		require.NoError(t, err)
		assert.Equal(t, http.StatusNotFound, result.Resource.StatusCode)
		cached, _ := store.Match(ctx, "/nope.js")
		assert.Nil(t, cached)
	})

	t.Run("offline navigation falls back to the entry document", func(t *testing.T) {
		fetcher.setOffline(true)
		defer fetcher.setOffline(false)

		result, err := coordinator.Serve(ctx, ResourceRequest{Path: "/gifts/ann", Navigate: true})
		require.NoError(t, err)
		assert.Equal(t, SourceFallback, result.Source)
		assert.Equal(t, "/index.html", result.Resource.Path)

		_, err = coordinator.Serve(ctx, ResourceRequest{Path: "/data.json"})
		require.Error(t, err)
		assert.True(t, shared.IsCategory(err, shared.ErrorCategoryNetwork))
	})

	t.Run("non-GET is not handled", func(t *testing.T) {
		result, err := coordinator.Serve(ctx, ResourceRequest{Path: "/style.css", Method: http.MethodPost})
		require.NoError(t, err)
		assert.False(t, result.Handled)
	})
}

func TestPruneCachesKeepsActiveAndWaiting(t *testing.T) {
	coordinator, store, _, _ := testCoordinator(false)
	ctx := context.Background()
	_, err := coordinator.Install(ctx, GenerationSpec{Version: "v1", Resources: defaultResources})
	require.NoError(t, err)
	require.NoError(t, coordinator.SkipWaiting(ctx))
	_, err = coordinator.Install(ctx, GenerationSpec{Version: "v2", Resources: defaultResources})
	require.NoError(t, err)
	require.NoError(t, store.Open(ctx, "orphan"))

	removed, err := coordinator.PruneCaches(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	keys, _ := store.Keys(ctx)
	assert.ElementsMatch(t, []string{models.CacheName("v1"), models.CacheName("v2")}, keys)
}

func TestDiscoverResources(t *testing.T) {
	html := []byte(`<!doctype html><html><head>
		<link rel="manifest" href="manifest.json">
		<link rel="stylesheet" href="./style.css?v=2">
		<link rel="stylesheet" href="https://fonts.example.com/font.css">
		<link rel="icon" href="icons/icon-192.png">
		<script src="script.js"></script>
		<script src="//cdn.example.com/lib.js"></script>
		</head><body><img src="data:image/png;base64,AAAA"><img src="/img/tree.svg"></body></html>`)

	resources, err := DiscoverResources(html, []string{"./", "./index.html", "./style.css"})
	require.NoError(t, err)
	assert.Equal(t, []string{
		"./", "./index.html", "./style.css",
		"./manifest.json", "./icons/icon-192.png", "./script.js", "./img/tree.svg",
	}, resources)
}

func TestNormalizeResourcePath(t *testing.T) {
	tests := map[string]string{
		"./":                "/",
		"":                  "/",
		"./index.html":      "/index.html",
		"index.html":        "/index.html",
		"/a/../style.css":   "/style.css",
		"script.js?v=3#x":   "/script.js",
		"  ./manifest.json": "/manifest.json",
	}
	for in, want := range tests {
		assert.Equal(t, want, NormalizeResourcePath(in), in)
	}
}
