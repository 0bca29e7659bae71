package services

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/fenilmodi00/giftlist-backend/config"
	"github.com/fenilmodi00/giftlist-backend/models"
	"github.com/fenilmodi00/giftlist-backend/shared"
	"github.com/sirupsen/logrus"
)

const coordinatorService = "UpdateCoordinator"

// Broadcaster delivers a message to every open session
type Broadcaster interface {
	Broadcast(msg models.SessionMessage)
}

// GenerationSpec describes a generation to install
type GenerationSpec struct {
	Version   string   `json:"version" yaml:"version"`
	Resources []string `json:"resources" yaml:"resources"`
}

// NewGenerationSpec builds the spec of the configured generation
func NewGenerationSpec(cfg *config.CoordinatorConfig) GenerationSpec {
	return GenerationSpec{Version: cfg.Version, Resources: append([]string(nil), cfg.Resources...)}
}

// ResourceRequest is a read request routed through the coordinator
type ResourceRequest struct {
	Path     string
	Method   string
	Navigate bool
}

// Serve sources
const (
	SourceCache    = "cache"
	SourceNetwork  = "network"
	SourceFallback = "fallback"
)

// ServeResult is the answer to a ResourceRequest. Handled is false for
// requests the coordinator does not intercept.
type ServeResult struct {
	Handled  bool
	Source   string
	Resource *models.CachedResource
}

// CoordinatorStatus is a snapshot of every known generation
type CoordinatorStatus struct {
	Active  *models.Generation  `json:"active"`
	Waiting *models.Generation  `json:"waiting"`
	History []models.Generation `json:"history"`
	Caches  []string            `json:"caches"`
}

// CoordinatorOption customizes an UpdateCoordinator
type CoordinatorOption func(*UpdateCoordinator)

// WithCoordinatorClock replaces time.Now
func WithCoordinatorClock(now func() time.Time) CoordinatorOption {
	return func(c *UpdateCoordinator) {
		c.now = now
	}
}

// UpdateCoordinator owns the offline cache generations. Lifecycle events are
// processed one at a time; reads only take the state lock.
type UpdateCoordinator struct {
	store       ResourceStore
	fetcher     ResourceFetcher
	broadcaster Broadcaster
	config      *config.CoordinatorConfig
	now         func() time.Time

	lifecycle sync.Mutex
	state     sync.RWMutex
	active    *models.Generation
	waiting   *models.Generation
	history   []models.Generation
}

// NewUpdateCoordinator creates a coordinator with no generations
func NewUpdateCoordinator(store ResourceStore, fetcher ResourceFetcher, broadcaster Broadcaster, cfg *config.CoordinatorConfig, opts ...CoordinatorOption) *UpdateCoordinator {
	if cfg == nil {
		cfg = config.DefaultCoordinatorConfig()
	}
	c := &UpdateCoordinator{
		store:       store,
		fetcher:     fetcher,
		broadcaster: broadcaster,
		config:      cfg,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Install fetches and stores every resource of a new generation. On success
// the generation waits, or activates at once when AutoSkipWaiting is set.
// Any failed resource deletes the cache and makes the generation redundant.
func (c *UpdateCoordinator) Install(ctx context.Context, spec GenerationSpec) (models.Generation, error) {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()

	c.state.RLock()
	activeVersion := ""
	if c.active != nil {
		activeVersion = c.active.Version
	}
	c.state.RUnlock()

	if strings.TrimSpace(spec.Version) == "" {
		return models.Generation{}, shared.NewValidationError(coordinatorService, "Install", "version")
	}
	if spec.Version == activeVersion {
		return models.Generation{}, shared.NewServiceError(shared.ErrorCategoryLifecycle, "ALREADY_ACTIVE",
			fmt.Sprintf("generation %s is already active", spec.Version), coordinatorService, "Install", false, nil)
	}

	gen, err := c.installLocked(ctx, spec)
	if err != nil {
		return gen, err
	}
	if c.config.AutoSkipWaiting {
		if err := c.activateLocked(ctx); err != nil {
			return gen, err
		}
		gen = c.snapshot(c.activeGeneration())
	}
	return gen, nil
}

func (c *UpdateCoordinator) installLocked(ctx context.Context, spec GenerationSpec) (models.Generation, error) {
	gen := &models.Generation{
		Version:   spec.Version,
		CacheID:   models.CacheName(spec.Version),
		Resources: uniqueResources(spec.Resources),
		State:     models.GenerationInstalling,
	}
	logger := logrus.WithFields(logrus.Fields{
		"component": coordinatorService,
		"version":   gen.Version,
		"cache_id":  gen.CacheID,
		"resources": len(gen.Resources),
	})
	logger.Info("Installing generation")

	// a newer install replaces whatever was waiting
	c.state.Lock()
	if c.waiting != nil {
		c.retireLocked(c.waiting)
		c.waiting = nil
	}
	c.state.Unlock()

	if err := c.store.Open(ctx, gen.CacheID); err != nil {
		return c.failInstall(ctx, gen, err)
	}
	for _, resourcePath := range gen.Resources {
		resource, err := c.fetcher.Fetch(ctx, resourcePath)
		if err != nil {
			return c.failInstall(ctx, gen, fmt.Errorf("fetching %s: %w", resourcePath, err))
		}
		if resource.StatusCode != http.StatusOK {
			return c.failInstall(ctx, gen, fmt.Errorf("fetching %s: HTTP %d", resourcePath, resource.StatusCode))
		}
		resource.CacheID = gen.CacheID
		resource.Path = resourcePath
		if err := c.store.Put(ctx, *resource); err != nil {
			return c.failInstall(ctx, gen, err)
		}
	}

	state, err := models.NextGenerationState(gen.State, models.EventInstalled)
	if err != nil {
		return c.failInstall(ctx, gen, err)
	}
	gen.State = state
	gen.InstalledAt = c.now()

	c.state.Lock()
	c.waiting = gen
	c.state.Unlock()

	logger.Info("Generation installed and waiting")
	return *gen, nil
}

func (c *UpdateCoordinator) failInstall(ctx context.Context, gen *models.Generation, cause error) (models.Generation, error) {
	if _, err := c.store.Delete(ctx, gen.CacheID); err != nil {
		logrus.WithError(err).WithField("cache_id", gen.CacheID).Warn("Failed to delete cache of failed install")
	}
	gen.State, _ = models.NextGenerationState(gen.State, models.EventInstallFailed)

	c.state.Lock()
	c.history = append(c.history, *gen)
	c.state.Unlock()

	serviceErr := shared.NewServiceError(shared.ErrorCategoryLifecycle, "INSTALL_FAILED",
		fmt.Sprintf("install of %s failed: %v", gen.Version, cause), coordinatorService, "Install", true, cause)
	serviceErr.LogError()
	return *gen, serviceErr
}

// SkipWaiting forces the waiting generation to take control
func (c *UpdateCoordinator) SkipWaiting(ctx context.Context) error {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()
	return c.activateLocked(ctx)
}

// activateLocked moves the waiting generation to active, deletes every other
// cache, retires the previous active generation and broadcasts SW_UPDATED
func (c *UpdateCoordinator) activateLocked(ctx context.Context) error {
	c.state.RLock()
	gen := c.waiting
	c.state.RUnlock()
	if gen == nil {
		return shared.NewServiceError(shared.ErrorCategoryLifecycle, "NOTHING_WAITING",
			"no generation is waiting", coordinatorService, "SkipWaiting", false, nil)
	}

	state, err := models.NextGenerationState(gen.State, models.EventSkipWaiting)
	if err != nil {
		return shared.WrapError(err, shared.ErrorCategoryLifecycle, "BAD_TRANSITION", coordinatorService, "SkipWaiting", false)
	}

	keys, err := c.store.Keys(ctx)
	if err != nil {
		return err
	}
	for _, key := range keys {
		if key == gen.CacheID {
			continue
		}
		if _, err := c.store.Delete(ctx, key); err != nil {
			return err
		}
		logrus.WithFields(logrus.Fields{
			"component": coordinatorService,
			"cache_id":  key,
		}).Info("Deleted old cache")
	}

	activatedAt := c.now()
	c.state.Lock()
	if c.active != nil && c.active.CacheID != gen.CacheID {
		c.retireLocked(c.active)
	}
	gen.State = state
	gen.ActivatedAt = activatedAt
	c.active = gen
	c.waiting = nil
	c.state.Unlock()

	logrus.WithFields(logrus.Fields{
		"component": coordinatorService,
		"version":   gen.Version,
		"cache_id":  gen.CacheID,
	}).Info("Generation activated")

	if c.broadcaster != nil {
		c.broadcaster.Broadcast(models.SessionMessage{
			Type:      models.MessageUpdated,
			Version:   gen.Version,
			CacheID:   gen.CacheID,
			Timestamp: &activatedAt,
		})
	}
	return nil
}

// retireLocked marks a generation redundant and keeps it in the history
func (c *UpdateCoordinator) retireLocked(gen *models.Generation) {
	if state, err := models.NextGenerationState(gen.State, models.EventSuperseded); err == nil {
		gen.State = state
	}
	c.history = append(c.history, *gen)
}

// ClearCaches drops every cache and reinstalls and activates the current
// generation. It is the manual recovery path.
func (c *UpdateCoordinator) ClearCaches(ctx context.Context) (models.Generation, error) {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()

	keys, err := c.store.Keys(ctx)
	if err != nil {
		return models.Generation{}, err
	}
	for _, key := range keys {
		if _, err := c.store.Delete(ctx, key); err != nil {
			return models.Generation{}, err
		}
	}

	c.state.Lock()
	spec := NewGenerationSpec(c.config)
	if c.active != nil {
		spec = GenerationSpec{Version: c.active.Version, Resources: c.active.Resources}
	}
	c.active = nil
	c.waiting = nil
	c.state.Unlock()

	logrus.WithFields(logrus.Fields{
		"component":      coordinatorService,
		"deleted_caches": len(keys),
		"version":        spec.Version,
	}).Warn("All caches cleared, reinstalling")

	if _, err := c.installLocked(ctx, spec); err != nil {
		return models.Generation{}, err
	}
	if err := c.activateLocked(ctx); err != nil {
		return models.Generation{}, err
	}
	return c.snapshot(c.activeGeneration()), nil
}

// HandleMessage answers one session message. SKIP_WAITING and a successful
// CLEAR_CACHES have no reply; their outcome is the SW_UPDATED broadcast.
func (c *UpdateCoordinator) HandleMessage(ctx context.Context, msg models.SessionMessage) (*models.SessionMessage, error) {
	logger := logrus.WithFields(logrus.Fields{
		"component":  coordinatorService,
		"type":       msg.Type,
		"request_id": msg.RequestID,
	})

	switch msg.Type {
	case models.MessageGetVersion:
		active := c.activeGeneration()
		if active == nil {
			return errorReply(msg, "no active generation"), nil
		}
		return &models.SessionMessage{
			Type:      models.MessageVersionInfo,
			RequestID: msg.RequestID,
			Version:   active.Version,
			CacheID:   active.CacheID,
		}, nil

	case models.MessageSkipWaiting:
		if err := c.SkipWaiting(ctx); err != nil {
			logger.WithError(err).Debug("Skip waiting ignored")
		}
		return nil, nil

	case models.MessageGetCacheInfo:
		keys, err := c.store.Keys(ctx)
		if err != nil {
			return nil, err
		}
		reply := &models.SessionMessage{
			Type:      models.MessageCacheInfo,
			RequestID: msg.RequestID,
			Caches:    keys,
		}
		c.state.RLock()
		if c.active != nil {
			reply.ActiveID = c.active.CacheID
			reply.Version = c.active.Version
		}
		if c.waiting != nil {
			reply.WaitingVersion = c.waiting.Version
		}
		c.state.RUnlock()
		return reply, nil

	case models.MessageClearCaches:
		if _, err := c.ClearCaches(ctx); err != nil {
			return errorReply(msg, err.Error()), nil
		}
		return nil, nil

	default:
		logger.Warn("Unknown session message")
		return errorReply(msg, fmt.Sprintf("unknown message type %q", msg.Type)), nil
	}
}

func errorReply(msg models.SessionMessage, text string) *models.SessionMessage {
	return &models.SessionMessage{
		Type:      models.MessageError,
		RequestID: msg.RequestID,
		Error:     text,
	}
}

// Serve answers a read request from the caches, then the network. When the
// network fails a navigation gets the entry document.
func (c *UpdateCoordinator) Serve(ctx context.Context, req ResourceRequest) (ServeResult, error) {
	if req.Method != "" && req.Method != http.MethodGet {
		return ServeResult{}, nil
	}

	cached, err := c.store.Match(ctx, req.Path)
	if err != nil {
		logrus.WithError(err).WithField("path", req.Path).Warn("Cache lookup failed")
	} else if cached != nil {
		return ServeResult{Handled: true, Source: SourceCache, Resource: cached}, nil
	}

	live, fetchErr := c.fetcher.Fetch(ctx, req.Path)
	if fetchErr == nil {
		if live.StatusCode == http.StatusOK {
			if active := c.activeGeneration(); active != nil {
				stored := *live
				stored.CacheID = active.CacheID
				if err := c.store.Put(ctx, stored); err != nil {
					logrus.WithError(err).WithField("path", req.Path).Warn("Failed to cache live response")
				}
			}
		}
		return ServeResult{Handled: true, Source: SourceNetwork, Resource: live}, nil
	}

	if req.Navigate {
		entry, err := c.store.Match(ctx, c.config.EntryDocument)
		if err == nil && entry != nil {
			logrus.WithFields(logrus.Fields{
				"component": coordinatorService,
				"path":      req.Path,
			}).Debug("Serving entry document offline")
			return ServeResult{Handled: true, Source: SourceFallback, Resource: entry}, nil
		}
	}

	return ServeResult{Handled: true}, shared.WrapError(fetchErr, shared.ErrorCategoryNetwork, "NETWORK_ERROR", coordinatorService, "Serve", true)
}

// PruneCaches deletes caches owned by neither the active nor the waiting generation
func (c *UpdateCoordinator) PruneCaches(ctx context.Context) (int, error) {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()

	keep := map[string]bool{}
	c.state.RLock()
	if c.active != nil {
		keep[c.active.CacheID] = true
	}
	if c.waiting != nil {
		keep[c.waiting.CacheID] = true
	}
	c.state.RUnlock()

	keys, err := c.store.Keys(ctx)
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, key := range keys {
		if keep[key] {
			continue
		}
		deleted, err := c.store.Delete(ctx, key)
		if err != nil {
			return removed, err
		}
		if deleted {
			removed++
		}
	}
	return removed, nil
}

// Status returns copies of the known generations and the stored cache ids
func (c *UpdateCoordinator) Status(ctx context.Context) (CoordinatorStatus, error) {
	keys, err := c.store.Keys(ctx)
	if err != nil {
		return CoordinatorStatus{}, err
	}

	c.state.RLock()
	defer c.state.RUnlock()

	status := CoordinatorStatus{
		History: append([]models.Generation{}, c.history...),
		Caches:  keys,
	}
	if c.active != nil {
		g := c.snapshot(c.active)
		status.Active = &g
	}
	if c.waiting != nil {
		g := c.snapshot(c.waiting)
		status.Waiting = &g
	}
	return status, nil
}

func (c *UpdateCoordinator) activeGeneration() *models.Generation {
	c.state.RLock()
	defer c.state.RUnlock()
	return c.active
}

func (c *UpdateCoordinator) snapshot(gen *models.Generation) models.Generation {
	if gen == nil {
		return models.Generation{}
	}
	out := *gen
	out.Resources = append([]string(nil), gen.Resources...)
	return out
}

func uniqueResources(resources []string) []string {
	seen := make(map[string]bool, len(resources))
	out := make([]string, 0, len(resources))
	for _, r := range resources {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		key := NormalizeResourcePath(r)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, r)
	}
	return out
}

// DiscoverResources adds the same-origin scripts, stylesheets, icons and
// images referenced by the entry document to base
func DiscoverResources(entryHTML []byte, base []string) ([]string, error) {
	document, err := goquery.NewDocumentFromReader(bytes.NewReader(entryHTML))
	if err != nil {
		return nil, shared.NewParseError(coordinatorService, "DiscoverResources", err)
	}

	found := append([]string(nil), base...)
	collect := func(selector, attr string) {
		document.Find(selector).Each(func(_ int, s *goquery.Selection) {
			ref, ok := s.Attr(attr)
			if !ok || !isLocalReference(ref) {
				return
			}
			found = append(found, "./"+strings.TrimPrefix(NormalizeResourcePath(ref), "/"))
		})
	}
	collect("script[src]", "src")
	collect("link[href]", "href")
	collect("img[src]", "src")

	return uniqueResources(found), nil
}

func isLocalReference(ref string) bool {
	ref = strings.TrimSpace(ref)
	if ref == "" || strings.HasPrefix(ref, "#") || strings.HasPrefix(ref, "//") {
		return false
	}
	u, err := url.Parse(ref)
	if err != nil {
		return false
	}
	return u.Scheme == "" && u.Host == ""
}
