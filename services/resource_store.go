package services

import (
	"context"
	"database/sql"
	"errors"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fenilmodi00/giftlist-backend/models"
	"github.com/fenilmodi00/giftlist-backend/shared"
	"github.com/sirupsen/logrus"
)

// ResourceStore holds named caches of resources, one per generation.
// A miss is reported as (nil, nil).
type ResourceStore interface {
	Open(ctx context.Context, cacheID string) error
	Put(ctx context.Context, resource models.CachedResource) error
	Match(ctx context.Context, resourcePath string) (*models.CachedResource, error)
	MatchIn(ctx context.Context, cacheID, resourcePath string) (*models.CachedResource, error)
	Keys(ctx context.Context) ([]string, error)
	Delete(ctx context.Context, cacheID string) (bool, error)
	Entries(ctx context.Context, cacheID string) ([]string, error)
}

// NormalizeResourcePath maps "./", "index.html" and "/index.html" style
// paths to one rooted form
func NormalizeResourcePath(p string) string {
	p = strings.TrimSpace(p)
	if i := strings.IndexAny(p, "?#"); i >= 0 {
		p = p[:i]
	}
	p = strings.TrimPrefix(p, ".")
	return path.Clean("/" + p)
}

type memoryCache struct {
	createdAt time.Time
	entries   map[string]*models.CachedResource
}

// MemoryResourceStore keeps caches in process memory
type MemoryResourceStore struct {
	caches map[string]*memoryCache
	mutex  sync.RWMutex
	now    func() time.Time
}

// NewMemoryResourceStore creates an empty store
func NewMemoryResourceStore() *MemoryResourceStore {
	return &MemoryResourceStore{
		caches: make(map[string]*memoryCache),
		now:    time.Now,
	}
}

// Open creates the cache if it does not exist
func (s *MemoryResourceStore) Open(ctx context.Context, cacheID string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.openLocked(cacheID)
	return nil
}

func (s *MemoryResourceStore) openLocked(cacheID string) *memoryCache {
	c, exists := s.caches[cacheID]
	if !exists {
		c = &memoryCache{
			createdAt: s.now(),
			entries:   make(map[string]*models.CachedResource),
		}
		s.caches[cacheID] = c
	}
	return c
}

// Put stores a copy of the resource, opening its cache when needed
func (s *MemoryResourceStore) Put(ctx context.Context, resource models.CachedResource) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	stored := resource
	stored.Path = NormalizeResourcePath(resource.Path)
	stored.Body = append([]byte(nil), resource.Body...)
	if stored.StoredAt.IsZero() {
		stored.StoredAt = s.now()
	}
	s.openLocked(resource.CacheID).entries[stored.Path] = &stored
	return nil
}

// Match searches every cache, oldest first
func (s *MemoryResourceStore) Match(ctx context.Context, resourcePath string) (*models.CachedResource, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	p := NormalizeResourcePath(resourcePath)
	for _, id := range s.keysLocked() {
		if r, ok := s.caches[id].entries[p]; ok {
			return copyResource(r), nil
		}
	}
	return nil, nil
}

// MatchIn searches one cache
func (s *MemoryResourceStore) MatchIn(ctx context.Context, cacheID, resourcePath string) (*models.CachedResource, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	c, exists := s.caches[cacheID]
	if !exists {
		return nil, nil
	}
	if r, ok := c.entries[NormalizeResourcePath(resourcePath)]; ok {
		return copyResource(r), nil
	}
	return nil, nil
}

// Keys lists cache ids, oldest first
func (s *MemoryResourceStore) Keys(ctx context.Context) ([]string, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.keysLocked(), nil
}

func (s *MemoryResourceStore) keysLocked() []string {
	keys := make([]string, 0, len(s.caches))
	for id := range s.caches {
		keys = append(keys, id)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, b := s.caches[keys[i]], s.caches[keys[j]]
		if a.createdAt.Equal(b.createdAt) {
			return keys[i] < keys[j]
		}
		return a.createdAt.Before(b.createdAt)
	})
	return keys
}

// Delete removes a cache and reports whether it existed
func (s *MemoryResourceStore) Delete(ctx context.Context, cacheID string) (bool, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	_, exists := s.caches[cacheID]
	delete(s.caches, cacheID)
	return exists, nil
}

// Entries lists the paths stored in a cache
func (s *MemoryResourceStore) Entries(ctx context.Context, cacheID string) ([]string, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	c, exists := s.caches[cacheID]
	if !exists {
		return nil, nil
	}
	paths := make([]string, 0, len(c.entries))
	for p := range c.entries {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths, nil
}

func copyResource(r *models.CachedResource) *models.CachedResource {
	out := *r
	out.Body = append([]byte(nil), r.Body...)
	return &out
}

// PostgresResourceStore persists caches in cache_generations and cache_resources
type PostgresResourceStore struct {
	DB *sql.DB
}

// NewPostgresResourceStore creates a store over an open database
func NewPostgresResourceStore(db *sql.DB) *PostgresResourceStore {
	return &PostgresResourceStore{DB: db}
}

// Open creates the cache if it does not exist
func (s *PostgresResourceStore) Open(ctx context.Context, cacheID string) error {
	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO cache_generations (cache_id) VALUES ($1) ON CONFLICT (cache_id) DO NOTHING`, cacheID)
	return s.wrap(err, "Open")
}

// Put stores the resource, opening its cache when needed
func (s *PostgresResourceStore) Put(ctx context.Context, resource models.CachedResource) error {
	if err := s.Open(ctx, resource.CacheID); err != nil {
		return err
	}

	storedAt := resource.StoredAt
	if storedAt.IsZero() {
		storedAt = time.Now()
	}
	body := resource.Body
	if body == nil {
		body = []byte{}
	}

	query := `
		INSERT INTO cache_resources (cache_id, path, status_code, content_type, body, stored_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (cache_id, path) DO UPDATE SET
			status_code = EXCLUDED.status_code,
			content_type = EXCLUDED.content_type,
			body = EXCLUDED.body,
			stored_at = EXCLUDED.stored_at`

	_, err := s.DB.ExecContext(ctx, query,
		resource.CacheID, NormalizeResourcePath(resource.Path), resource.StatusCode,
		resource.ContentType, body, storedAt,
	)
	return s.wrap(err, "Put")
}

// Match searches every cache, oldest first
func (s *PostgresResourceStore) Match(ctx context.Context, resourcePath string) (*models.CachedResource, error) {
	query := `
		SELECT r.cache_id, r.path, r.status_code, r.content_type, r.body, r.stored_at
		FROM cache_resources r
		JOIN cache_generations g ON g.cache_id = r.cache_id
		WHERE r.path = $1
		ORDER BY g.created_at ASC, g.cache_id ASC
		LIMIT 1`
	return s.scanOne(s.DB.QueryRowContext(ctx, query, NormalizeResourcePath(resourcePath)), "Match")
}

// MatchIn searches one cache
func (s *PostgresResourceStore) MatchIn(ctx context.Context, cacheID, resourcePath string) (*models.CachedResource, error) {
	query := `
		SELECT cache_id, path, status_code, content_type, body, stored_at
		FROM cache_resources
		WHERE cache_id = $1 AND path = $2`
	return s.scanOne(s.DB.QueryRowContext(ctx, query, cacheID, NormalizeResourcePath(resourcePath)), "MatchIn")
}

func (s *PostgresResourceStore) scanOne(row *sql.Row, operation string) (*models.CachedResource, error) {
	var r models.CachedResource
	err := row.Scan(&r.CacheID, &r.Path, &r.StatusCode, &r.ContentType, &r.Body, &r.StoredAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, s.wrap(err, operation)
	}
	return &r, nil
}

// Keys lists cache ids, oldest first
func (s *PostgresResourceStore) Keys(ctx context.Context) ([]string, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT cache_id FROM cache_generations ORDER BY created_at ASC, cache_id ASC`)
	if err != nil {
		return nil, s.wrap(err, "Keys")
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, s.wrap(err, "Keys")
		}
		keys = append(keys, id)
	}
	return keys, s.wrap(rows.Err(), "Keys")
}

// Delete removes a cache and its resources in one transaction
func (s *PostgresResourceStore) Delete(ctx context.Context, cacheID string) (bool, error) {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return false, s.wrap(err, "Delete")
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM cache_resources WHERE cache_id = $1`, cacheID); err != nil {
		return false, s.wrap(err, "Delete")
	}
	result, err := tx.ExecContext(ctx, `DELETE FROM cache_generations WHERE cache_id = $1`, cacheID)
	if err != nil {
		return false, s.wrap(err, "Delete")
	}
	if err := tx.Commit(); err != nil {
		return false, s.wrap(err, "Delete")
	}

	affected, _ := result.RowsAffected()
	logrus.WithFields(logrus.Fields{
		"component": "PostgresResourceStore",
		"cache_id":  cacheID,
		"deleted":   affected > 0,
	}).Debug("Cache deleted")
	return affected > 0, nil
}

// Entries lists the paths stored in a cache
func (s *PostgresResourceStore) Entries(ctx context.Context, cacheID string) ([]string, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT path FROM cache_resources WHERE cache_id = $1 ORDER BY path`, cacheID)
	if err != nil {
		return nil, s.wrap(err, "Entries")
	}
	defer rows.Close()

	var paths []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, s.wrap(err, "Entries")
		}
		paths = append(paths, p)
	}
	return paths, s.wrap(rows.Err(), "Entries")
}

func (s *PostgresResourceStore) wrap(err error, operation string) error {
	if err == nil {
		return nil
	}
	return shared.WrapError(err, shared.ErrorCategoryDatabase, "RESOURCE_STORE_FAILED", "PostgresResourceStore", operation, true)
}
