package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"mime"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/fenilmodi00/giftlist-backend/models"
	"github.com/fenilmodi00/giftlist-backend/shared"
)

// ResourceFetcher performs a live fetch of one resource. An error means the
// fetch itself failed; a 404 is a response, not an error.
type ResourceFetcher interface {
	Fetch(ctx context.Context, resourcePath string) (*models.CachedResource, error)
}

// DirResourceFetcher serves resources from a local directory
type DirResourceFetcher struct {
	Root string
}

// NewDirResourceFetcher creates a fetcher rooted at dir
func NewDirResourceFetcher(dir string) *DirResourceFetcher {
	return &DirResourceFetcher{Root: dir}
}

// Fetch reads the file behind resourcePath; "/" is index.html
func (f *DirResourceFetcher) Fetch(ctx context.Context, resourcePath string) (*models.CachedResource, error) {
	if err := ctx.Err(); err != nil {
		return nil, shared.NewNetworkError("DirResourceFetcher", "Fetch", err)
	}

	p := NormalizeResourcePath(resourcePath)
	file := p
	if strings.HasSuffix(file, "/") {
		file += "index.html"
	}

	full := filepath.Join(f.Root, filepath.FromSlash(strings.TrimPrefix(file, "/")))
	if info, err := os.Stat(full); err == nil && info.IsDir() {
		full = filepath.Join(full, "index.html")
		file = path.Join(file, "index.html")
	}

	body, err := os.ReadFile(full)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return &models.CachedResource{
				Path:        p,
				StatusCode:  http.StatusNotFound,
				ContentType: "text/plain; charset=utf-8",
				Body:        []byte("Not Found"),
				StoredAt:    time.Now(),
			}, nil
		}
		return nil, shared.NewNetworkError("DirResourceFetcher", "Fetch", err)
	}

	return &models.CachedResource{
		Path:        p,
		StatusCode:  http.StatusOK,
		ContentType: contentTypeFor(file, body),
		Body:        body,
		StoredAt:    time.Now(),
	}, nil
}

func contentTypeFor(name string, body []byte) string {
	if ct := mime.TypeByExtension(path.Ext(name)); ct != "" {
		return ct
	}
	return http.DetectContentType(body)
}

// HTTPResourceFetcher fetches resources from an origin server
type HTTPResourceFetcher struct {
	Origin string
	client *http.Client
}

// NewHTTPResourceFetcher creates a fetcher for origin using a pooled client
func NewHTTPResourceFetcher(origin string, factory *shared.HTTPClientFactory, timeout time.Duration) *HTTPResourceFetcher {
	return &HTTPResourceFetcher{
		Origin: strings.TrimSuffix(origin, "/"),
		client: factory.Client(timeout),
	}
}

// Fetch GETs origin + resourcePath. Any HTTP status is returned as a response.
func (f *HTTPResourceFetcher) Fetch(ctx context.Context, resourcePath string) (*models.CachedResource, error) {
	p := NormalizeResourcePath(resourcePath)
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, f.Origin+p, nil)
	if err != nil {
		return nil, shared.WrapError(err, shared.ErrorCategoryConfiguration, "BAD_ORIGIN", "HTTPResourceFetcher", "Fetch", false)
	}

	response, err := f.client.Do(request)
	if err != nil {
		return nil, shared.NewNetworkError("HTTPResourceFetcher", "Fetch", err)
	}
	defer response.Body.Close()

	body, err := io.ReadAll(response.Body)
	if err != nil {
		return nil, shared.NewNetworkError("HTTPResourceFetcher", "Fetch", fmt.Errorf("reading %s: %w", p, err))
	}

	return &models.CachedResource{
		Path:        p,
		StatusCode:  response.StatusCode,
		ContentType: response.Header.Get("Content-Type"),
		Body:        body,
		StoredAt:    time.Now(),
	}, nil
}
