package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/fenilmodi00/giftlist-backend/config"
	"github.com/fenilmodi00/giftlist-backend/models"
	"github.com/fenilmodi00/giftlist-backend/shared"
	"github.com/sirupsen/logrus"
)

const (
	syncEngineService = "SyncEngine"

	// Version suffix allows changing the canonical form later
	snapshotDomain = "giftlist/records/v1"
)

// ViewSink receives everything the sync engine wants displayed.
// Calls may come from background goroutines.
type ViewSink interface {
	Render(view ViewModel)
	Loading(active bool)
	Error(err error)
	Notice(message string)
	ExternalChange()
}

// SyncEngineOption customizes a SyncEngine
type SyncEngineOption func(*SyncEngine)

// WithAfterFunc replaces time.AfterFunc for the delayed refresh after an add
func WithAfterFunc(afterFunc func(time.Duration, func())) SyncEngineOption {
	return func(e *SyncEngine) {
		e.afterFunc = afterFunc
	}
}

// SyncEngine owns the local gift list. It refreshes it from the store,
// applies optimistic status edits and reports external changes.
type SyncEngine struct {
	store    RecordStore
	taxonomy *StatusTaxonomy
	sink     ViewSink
	config   *config.SyncConfig

	mutex      sync.Mutex
	records    []models.Gift
	lastHash   string
	filter     string
	fetchSeq   uint64
	appliedSeq uint64
	viewSeq    uint64
	visible    bool
	runCtx     context.Context
	stopTicker chan struct{}
	tickerDone chan struct{}
	background sync.WaitGroup
	afterFunc  func(time.Duration, func())

	// renderMu orders sink renders by viewSeq
	renderMu    sync.Mutex
	renderedSeq uint64
}

// NewSyncEngine creates an engine with an empty gift list and the "all" filter
func NewSyncEngine(store RecordStore, taxonomy *StatusTaxonomy, sink ViewSink, cfg *config.SyncConfig, opts ...SyncEngineOption) *SyncEngine {
	if cfg == nil {
		cfg = config.DefaultSyncConfig()
	}
	if taxonomy == nil {
		taxonomy = DefaultStatusTaxonomy()
	}

	engine := &SyncEngine{
		store:    store,
		taxonomy: taxonomy,
		sink:     sink,
		config:   cfg,
		records:  []models.Gift{},
		filter:   FilterAll,
		afterFunc: func(d time.Duration, f func()) {
			time.AfterFunc(d, f)
		},
	}
	for _, opt := range opts {
		opt(engine)
	}
	return engine
}

// Refresh replaces the gift list with the store's. A silent refresh shows no
// loading state or errors and is the only kind that reports external changes.
func (e *SyncEngine) Refresh(ctx context.Context, silent bool) error {
	logger := logrus.WithFields(logrus.Fields{
		"component": syncEngineService,
		"method":    "Refresh",
		"silent":    silent,
	})

	e.mutex.Lock()
	e.fetchSeq++
	seq := e.fetchSeq
	e.mutex.Unlock()

	if !silent {
		e.sink.Loading(true)
		defer e.sink.Loading(false)
	}

	gifts, err := e.store.FetchAll(ctx)
	if err != nil {
		if silent {
			logger.WithError(err).Debug("Background refresh failed")
			return err
		}
		logger.WithError(err).Warn("Refresh failed")
		e.sink.Error(err)
		return err
	}

	hash, err := snapshotHash(gifts)
	if err != nil {
		return shared.WrapError(err, shared.ErrorCategoryParse, "SNAPSHOT_HASH", syncEngineService, "Refresh", false)
	}

	e.mutex.Lock()
	if seq < e.appliedSeq {
		e.mutex.Unlock()
		logger.WithField("seq", seq).Debug("Dropping superseded refresh result")
		return nil
	}
	changed := silent && e.lastHash != "" && e.lastHash != hash
	e.appliedSeq = seq
	e.records = gifts
	e.lastHash = hash
	view, viewSeq := e.nextViewLocked()
	e.mutex.Unlock()

	e.publish(view, viewSeq)
	if changed {
		logger.Info("Gift list changed externally")
		e.sink.ExternalChange()
	}
	return nil
}

// ApplyOptimisticStatusChange sets the status locally, renders, then saves in
// the background. A transport failure of that save triggers a full refresh.
func (e *SyncEngine) ApplyOptimisticStatusChange(ctx context.Context, who, item, newStatus string) error {
	e.mutex.Lock()
	idx := e.indexLocked(who, item)
	if idx < 0 {
		e.mutex.Unlock()
		err := shared.NewNotFoundError(syncEngineService, "ApplyOptimisticStatusChange", who, item)
		e.sink.Error(err)
		return err
	}
	e.records[idx].Status = newStatus
	gift := e.records[idx]
	// the edit is ours; once saved it must not read as an external change
	if hash, err := snapshotHash(e.records); err == nil {
		e.lastHash = hash
	}
	view, viewSeq := e.nextViewLocked()
	e.mutex.Unlock()

	e.publish(view, viewSeq)

	e.goBackground(ctx, func(bg context.Context) {
		ack := e.store.Save(bg, gift)
		switch {
		case ack.TransportFailed():
			logrus.WithFields(logrus.Fields{
				"component": syncEngineService,
				"who":       gift.Who,
				"item":      gift.Item,
			}).WithError(ack.Err).Warn("Status save failed, reconciling")
			e.Refresh(bg, false)
		case ack.Outcome == SaveFailed:
			e.sink.Error(fmt.Errorf("status change rejected: %s", ack.Detail))
		default:
			e.sink.Notice(fmt.Sprintf("Status of %s changed to %s", gift.Item, displayStatus(newStatus)))
		}
	})
	return nil
}

// AdvanceStatus moves a gift to the next status of the taxonomy cycle
func (e *SyncEngine) AdvanceStatus(ctx context.Context, who, item string) (string, error) {
	e.mutex.Lock()
	idx := e.indexLocked(who, item)
	current := ""
	if idx >= 0 {
		current = e.records[idx].Status
	}
	e.mutex.Unlock()

	if idx < 0 {
		err := shared.NewNotFoundError(syncEngineService, "AdvanceStatus", who, item)
		e.sink.Error(err)
		return "", err
	}

	next, ok := e.taxonomy.NextStatus(current)
	if !ok {
		err := shared.NewServiceError(shared.ErrorCategoryConfiguration, "NO_STATUS_CYCLE",
			"status taxonomy defines no cycle", syncEngineService, "AdvanceStatus", false, nil)
		e.sink.Error(err)
		return "", err
	}
	return next, e.ApplyOptimisticStatusChange(ctx, who, item, next)
}

// AddRecord saves a new gift and re-displays the list after the settle delay.
// New gifts are never shown optimistically.
func (e *SyncEngine) AddRecord(ctx context.Context, candidate models.Gift) error {
	gift := candidate.Normalized()
	for _, field := range []struct{ name, value string }{
		{"kdo", gift.Who},
		{"co", gift.Item},
		{"status", gift.Status},
	} {
		if field.value == "" {
			err := shared.NewValidationError(syncEngineService, "AddRecord", field.name)
			e.sink.Error(err)
			return err
		}
	}

	e.goBackground(ctx, func(bg context.Context) {
		ack := e.store.Save(bg, gift)
		if ack.Outcome == SaveFailed {
			e.sink.Error(fmt.Errorf("adding %s failed: %w", gift.Item, saveAckError(ack)))
		} else {
			e.sink.Notice(fmt.Sprintf("Gift %s added", gift.Item))
		}

		e.background.Add(1)
		e.afterFunc(e.config.AddSettleDelay, func() {
			defer e.background.Done()
			e.Refresh(bg, false)
		})
	})
	return nil
}

// SetFilter selects a requester (FilterAll for everyone) and re-renders
func (e *SyncEngine) SetFilter(filter string) ViewModel {
	e.mutex.Lock()
	e.filter = normalizeFilter(filter)
	view, viewSeq := e.nextViewLocked()
	e.mutex.Unlock()

	e.publish(view, viewSeq)
	return view
}

// View renders the current list without notifying the sink
func (e *SyncEngine) View() ViewModel {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	return e.renderLocked()
}

// Records returns a copy of the current gift list
func (e *SyncEngine) Records() []models.Gift {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	out := make([]models.Gift, len(e.records))
	copy(out, e.records)
	return out
}

// Start loads the list and starts the periodic silent refresh.
// A failed initial load is reported and the timer still starts.
func (e *SyncEngine) Start(ctx context.Context) error {
	e.mutex.Lock()
	e.runCtx = ctx
	e.visible = true
	e.mutex.Unlock()

	err := e.Refresh(ctx, false)
	e.startTicker()
	return err
}

// Stop halts the periodic refresh. Background saves keep running; use Wait.
func (e *SyncEngine) Stop() {
	e.stopTickerAndWait()
	e.mutex.Lock()
	e.visible = false
	e.mutex.Unlock()
}

// SetVisible pauses the timer while hidden. Becoming visible refreshes
// once immediately and restarts the timer.
func (e *SyncEngine) SetVisible(visible bool) {
	e.mutex.Lock()
	was := e.visible
	e.visible = visible
	ctx := e.runCtx
	e.mutex.Unlock()

	if visible == was {
		return
	}
	if !visible {
		e.stopTickerAndWait()
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	e.goBackground(ctx, func(bg context.Context) {
		e.Refresh(bg, true)
	})
	e.startTicker()
}

// Wait blocks until background saves and scheduled refreshes finish
func (e *SyncEngine) Wait() {
	e.background.Wait()
}

func (e *SyncEngine) startTicker() {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	if e.stopTicker != nil || e.config.RefreshInterval <= 0 {
		return
	}
	ctx := e.runCtx
	if ctx == nil {
		ctx = context.Background()
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	e.stopTicker = stop
	e.tickerDone = done

	go func() {
		defer close(done)
		ticker := time.NewTicker(e.config.RefreshInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				e.Refresh(ctx, true)
			}
		}
	}()

	logrus.WithFields(logrus.Fields{
		"component": syncEngineService,
		"interval":  e.config.RefreshInterval,
	}).Debug("Auto refresh started")
}

func (e *SyncEngine) stopTickerAndWait() {
	e.mutex.Lock()
	stop, done := e.stopTicker, e.tickerDone
	e.stopTicker, e.tickerDone = nil, nil
	e.mutex.Unlock()

	if stop == nil {
		return
	}
	close(stop)
	<-done
	logrus.WithField("component", syncEngineService).Debug("Auto refresh stopped")
}

func (e *SyncEngine) goBackground(ctx context.Context, work func(context.Context)) {
	bg := context.WithoutCancel(ctx)
	e.background.Add(1)
	go func() {
		defer e.background.Done()
		work(bg)
	}()
}

func (e *SyncEngine) indexLocked(who, item string) int {
	who, item = strings.TrimSpace(who), strings.TrimSpace(item)
	for i, r := range e.records {
		if strings.TrimSpace(r.Who) == who && strings.TrimSpace(r.Item) == item {
			return i
		}
	}
	return -1
}

func (e *SyncEngine) renderLocked() ViewModel {
	return Render(e.records, e.filter, e.taxonomy)
}

// nextViewLocked renders the state and numbers the view for publish
func (e *SyncEngine) nextViewLocked() (ViewModel, uint64) {
	e.viewSeq++
	return e.renderLocked(), e.viewSeq
}

// publish hands a view to the sink unless a newer one was already shown
func (e *SyncEngine) publish(view ViewModel, seq uint64) bool {
	e.renderMu.Lock()
	defer e.renderMu.Unlock()
	if seq <= e.renderedSeq {
		return false
	}
	e.renderedSeq = seq
	e.sink.Render(view)
	return true
}

func saveAckError(ack SaveAck) error {
	if ack.Err != nil {
		return ack.Err
	}
	return fmt.Errorf("%s", ack.Detail)
}

func displayStatus(status string) string {
	if strings.TrimSpace(status) == "" {
		return `""`
	}
	return status
}

// snapshotHash is SHA256(domain + 0x00 + canonical JSON of the list)
func snapshotHash(gifts []models.Gift) (string, error) {
	canonical, err := json.Marshal(gifts)
	if err != nil {
		return "", fmt.Errorf("snapshotHash: failed to marshal: %w", err)
	}
	h := sha256.New()
	h.Write([]byte(snapshotDomain))
	h.Write([]byte{0x00})
	h.Write(canonical)
	return hex.EncodeToString(h.Sum(nil)), nil
}
