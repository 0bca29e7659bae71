package jobs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fenilmodi00/giftlist-backend/models"
	"github.com/fenilmodi00/giftlist-backend/services"
	"github.com/fenilmodi00/giftlist-backend/shared"
	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// GenerationInstaller installs a generation described by a manifest
type GenerationInstaller interface {
	Install(ctx context.Context, spec services.GenerationSpec) (models.Generation, error)
}

// LoadManifest reads a generation manifest. Unknown keys are rejected.
func LoadManifest(path string) (services.GenerationSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return services.GenerationSpec{}, fmt.Errorf("failed to read manifest %s: %w", path, err)
	}

	var spec services.GenerationSpec
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&spec); err != nil {
		return services.GenerationSpec{}, shared.NewParseError("ManifestWatcher", "LoadManifest", err)
	}
	spec.Version = strings.TrimSpace(spec.Version)
	if spec.Version == "" {
		return services.GenerationSpec{}, shared.NewValidationError("ManifestWatcher", "LoadManifest", "version")
	}
	return spec, nil
}

// ManifestWatcher installs a new generation whenever the manifest file's
// version changes. The parent directory is watched so that editors which
// replace the file are seen too.
type ManifestWatcher struct {
	path             string
	installer        GenerationInstaller
	defaultResources []string
	debounce         time.Duration

	watcher *fsnotify.Watcher
	done    chan struct{}
	wg      sync.WaitGroup

	mu          sync.Mutex
	running     bool
	lastVersion string
}

// NewManifestWatcher creates a watcher. defaultResources fill in a manifest without resources.
func NewManifestWatcher(path string, installer GenerationInstaller, defaultResources []string) (*ManifestWatcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve manifest path %s: %w", path, err)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	return &ManifestWatcher{
		path:             abs,
		installer:        installer,
		defaultResources: append([]string(nil), defaultResources...),
		debounce:         200 * time.Millisecond,
		watcher:          watcher,
		done:             make(chan struct{}),
	}, nil
}

// Start applies the current manifest, if any, then watches for changes
func (w *ManifestWatcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("manifest watcher already running")
	}
	if err := w.watcher.Add(filepath.Dir(w.path)); err != nil {
		w.mu.Unlock()
		return fmt.Errorf("failed to watch manifest directory %s: %w", filepath.Dir(w.path), err)
	}
	w.running = true
	w.mu.Unlock()

	if _, err := os.Stat(w.path); err == nil {
		if _, err := w.Apply(ctx); err != nil {
			logrus.WithError(err).WithField("manifest", w.path).Warn("Initial manifest not applied")
		}
	}

	w.wg.Add(1)
	go w.processEvents(ctx)

	logrus.WithFields(logrus.Fields{
		"component": "ManifestWatcher",
		"manifest":  w.path,
	}).Info("Watching generation manifest")
	return nil
}

// Stop ends the watch and waits for the event loop to exit
func (w *ManifestWatcher) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return w.watcher.Close()
	}
	w.running = false
	w.mu.Unlock()

	close(w.done)
	err := w.watcher.Close()
	w.wg.Wait()
	if err != nil {
		return fmt.Errorf("failed to close watcher: %w", err)
	}
	return nil
}

// Apply loads the manifest and installs it when its version is new.
// It reports whether an install happened.
func (w *ManifestWatcher) Apply(ctx context.Context) (bool, error) {
	spec, err := LoadManifest(w.path)
	if err != nil {
		return false, err
	}
	if len(spec.Resources) == 0 {
		spec.Resources = append([]string(nil), w.defaultResources...)
	}

	w.mu.Lock()
	seen := spec.Version == w.lastVersion
	w.mu.Unlock()
	if seen {
		return false, nil
	}

	logger := logrus.WithFields(logrus.Fields{
		"component": "ManifestWatcher",
		"version":   spec.Version,
	})

	if _, err := w.installer.Install(ctx, spec); err != nil {
		var serviceErr *shared.ServiceError
		if errors.As(err, &serviceErr) && serviceErr.Code == "ALREADY_ACTIVE" {
			logger.Debug("Manifest version already active")
			w.setLastVersion(spec.Version)
			return false, nil
		}
		return false, err
	}

	w.setLastVersion(spec.Version)
	logger.Info("Installed generation from manifest")
	return true, nil
}

func (w *ManifestWatcher) setLastVersion(version string) {
	w.mu.Lock()
	w.lastVersion = version
	w.mu.Unlock()
}

func (w *ManifestWatcher) processEvents(ctx context.Context) {
	defer w.wg.Done()

	var settle <-chan time.Time
	for {
		select {
		case <-w.done:
			return
		case <-ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			// editors write in bursts; wait for the last one
			settle = time.After(w.debounce)

		case <-settle:
			settle = nil
			if _, err := w.Apply(ctx); err != nil {
				logrus.WithError(err).WithField("manifest", w.path).Warn("Manifest change not applied")
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logrus.WithError(err).WithField("component", "ManifestWatcher").Warn("Watcher error")
		}
	}
}
