package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/fenilmodi00/giftlist-backend/models"
	"github.com/fenilmodi00/giftlist-backend/shared"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const storeClientService = "StoreClient"

// StoreClientConfiguration holds settings for talking to the record store RPC
type StoreClientConfiguration struct {
	BaseURL          string        // Record store endpoint, e.g. http://host/exec
	FetchTimeout     time.Duration // Hard bound on the JSONP load
	RequestRateLimit time.Duration // Minimum delay between consecutive requests
	MaxRetryAttempts int           // Retries for fetch only; saves are never retried
	Opaque           bool          // Send saves without reading the response
}

// NewDefaultStoreClientConfiguration returns the configuration the page uses
func NewDefaultStoreClientConfiguration() *StoreClientConfiguration {
	unified := shared.NewDefaultUnifiedConfiguration()
	return &StoreClientConfiguration{
		BaseURL:          unified.Service.BaseURL,
		FetchTimeout:     unified.Service.HTTPRequestTimeout,
		RequestRateLimit: unified.Service.RequestRateLimit,
		MaxRetryAttempts: unified.Service.MaxRetryAttempts,
		Opaque:           true,
	}
}

// SaveOutcome is the weak acknowledgment of a save
type SaveOutcome string

const (
	SaveSent      SaveOutcome = "sent"      // request left, result unobservable
	SaveConfirmed SaveOutcome = "confirmed" // store answered SUCCESS
	SaveFailed    SaveOutcome = "failed"
)

// SaveAck reports what is known about a save.
// Transport is true when the failure happened before the store could answer.
type SaveAck struct {
	Outcome   SaveOutcome
	Transport bool
	Detail    string
	Err       error
}

// TransportFailed reports a failure the caller should reconcile by refreshing
func (a SaveAck) TransportFailed() bool {
	return a.Outcome == SaveFailed && a.Transport
}

// RecordStore is what the sync engine needs from the remote store
type RecordStore interface {
	FetchAll(ctx context.Context) ([]models.Gift, error)
	Save(ctx context.Context, gift models.Gift) SaveAck
}

// StoreClient calls the record store over its GET based RPC
type StoreClient struct {
	configuration      *StoreClientConfiguration
	httpClient         *http.Client
	clientFactory      *shared.HTTPClientFactory
	requestRateLimiter *shared.HTTPRequestRateLimiter
	metrics            *shared.ServiceMetrics
}

// NewStoreClient creates a record store client, applying defaults for unset values
func NewStoreClient(config *StoreClientConfiguration) *StoreClient {
	defaults := NewDefaultStoreClientConfiguration()
	if config == nil {
		config = defaults
	} else {
		if config.BaseURL == "" {
			config.BaseURL = defaults.BaseURL
		}
		if config.FetchTimeout <= 0 {
			config.FetchTimeout = defaults.FetchTimeout
		}
		if config.RequestRateLimit < 0 {
			config.RequestRateLimit = defaults.RequestRateLimit
		}
		if config.MaxRetryAttempts < 0 {
			config.MaxRetryAttempts = 0
		}
	}

	factory := shared.NewHTTPClientFactory(config.FetchTimeout)
	return &StoreClient{
		configuration:      config,
		httpClient:         factory.Client(config.FetchTimeout),
		clientFactory:      factory,
		requestRateLimiter: shared.NewHTTPRequestRateLimiter(config.RequestRateLimit),
		metrics:            shared.NewServiceMetrics(storeClientService),
	}
}

// FetchAll loads every valid gift. Rows missing who or item are dropped.
func (c *StoreClient) FetchAll(ctx context.Context) ([]models.Gift, error) {
	start := time.Now()
	gifts, err := c.fetchAll(ctx)
	c.metrics.RecordRequest(err == nil, time.Since(start))
	return gifts, err
}

func (c *StoreClient) fetchAll(ctx context.Context) ([]models.Gift, error) {
	logger := logrus.WithFields(logrus.Fields{
		"component": storeClientService,
		"method":    "FetchAll",
	})

	fetchCtx, cancel := context.WithTimeout(ctx, c.configuration.FetchTimeout)
	defer cancel()

	if err := c.requestRateLimiter.Wait(fetchCtx); err != nil {
		return nil, c.classifyTransportError("FetchAll", fetchCtx, err)
	}

	callback := jsonpCallbackName()
	requestURL, err := c.buildURL(url.Values{"action": {"fetch"}, "callback": {callback}})
	if err != nil {
		return nil, shared.WrapError(err, shared.ErrorCategoryConfiguration, "BAD_STORE_URL", storeClientService, "FetchAll", false)
	}

	request, err := http.NewRequestWithContext(fetchCtx, http.MethodGet, requestURL, nil)
	if err != nil {
		return nil, shared.WrapError(err, shared.ErrorCategoryConfiguration, "BAD_REQUEST", storeClientService, "FetchAll", false)
	}
	request.Header.Set("Accept", "application/javascript, application/json, */*")

	response, err := shared.ExecuteHTTPRequestWithRetry(fetchCtx, c.httpClient, request, c.configuration.MaxRetryAttempts)
	if err != nil {
		return nil, c.classifyTransportError("FetchAll", fetchCtx, err)
	}
	defer response.Body.Close()

	body, err := io.ReadAll(response.Body)
	if err != nil {
		return nil, c.classifyTransportError("FetchAll", fetchCtx, err)
	}

	payload, err := unwrapJSONP(body, callback)
	if err != nil {
		return nil, shared.NewParseError(storeClientService, "FetchAll", err)
	}

	gifts, err := parseGiftList(payload)
	if err != nil {
		return nil, shared.NewParseError(storeClientService, "FetchAll", err)
	}

	logger.WithField("gift_count", len(gifts)).Debug("Fetched gift list")
	return gifts, nil
}

// Save sends one gift. In opaque mode the response body is never read, so
// success can only be reported as sent.
func (c *StoreClient) Save(ctx context.Context, gift models.Gift) SaveAck {
	start := time.Now()
	ack := c.save(ctx, gift)
	c.metrics.RecordRequest(ack.Outcome != SaveFailed, time.Since(start))
	c.metrics.IncrementCounter("save_" + string(ack.Outcome))

	logrus.WithFields(logrus.Fields{
		"component": storeClientService,
		"method":    "Save",
		"who":       gift.Who,
		"item":      gift.Item,
		"outcome":   ack.Outcome,
		"transport": ack.Transport,
	}).Debug("Save finished")

	return ack
}

func (c *StoreClient) save(ctx context.Context, gift models.Gift) SaveAck {
	if err := c.requestRateLimiter.Wait(ctx); err != nil {
		return SaveAck{Outcome: SaveFailed, Transport: true, Err: shared.NewNetworkError(storeClientService, "Save", err)}
	}

	requestURL, err := c.buildURL(url.Values{
		"action": {"save"},
		"kdo":    {gift.Who},
		"odKoho": {gift.FromWhom},
		"co":     {gift.Item},
		"odkaz":  {gift.Link},
		"status": {gift.Status},
	})
	if err != nil {
		return SaveAck{Outcome: SaveFailed, Transport: true, Err: err}
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		return SaveAck{Outcome: SaveFailed, Transport: true, Err: err}
	}

	response, err := c.httpClient.Do(request)
	if err != nil {
		return SaveAck{Outcome: SaveFailed, Transport: true, Err: shared.NewNetworkError(storeClientService, "Save", err)}
	}
	defer response.Body.Close()

	if c.configuration.Opaque {
		_, _ = io.Copy(io.Discard, response.Body)
		return SaveAck{Outcome: SaveSent}
	}

	if response.StatusCode != http.StatusOK {
		cause := fmt.Errorf("HTTP %d: %s", response.StatusCode, http.StatusText(response.StatusCode))
		return SaveAck{Outcome: SaveFailed, Transport: true, Err: shared.NewNetworkError(storeClientService, "Save", cause)}
	}

	body, err := io.ReadAll(response.Body)
	if err != nil {
		return SaveAck{Outcome: SaveFailed, Transport: true, Err: shared.NewNetworkError(storeClientService, "Save", err)}
	}
	text := strings.TrimSpace(string(body))

	switch {
	case strings.HasPrefix(text, "SUCCESS:"):
		return SaveAck{Outcome: SaveConfirmed, Detail: text}
	case strings.HasPrefix(text, "ERROR:"):
		return SaveAck{Outcome: SaveFailed, Detail: text, Err: errors.New(text)}
	default:
		return SaveAck{Outcome: SaveSent, Detail: text}
	}
}

// Metrics returns a snapshot of request counters
func (c *StoreClient) Metrics() shared.MetricsSnapshot {
	return c.metrics.GetSnapshot()
}

// Close releases pooled connections
func (c *StoreClient) Close() {
	c.clientFactory.CleanupAllClients()
}

func (c *StoreClient) buildURL(params url.Values) (string, error) {
	base, err := url.Parse(c.configuration.BaseURL)
	if err != nil {
		return "", fmt.Errorf("invalid store URL %q: %w", c.configuration.BaseURL, err)
	}
	query := base.Query()
	for key, values := range params {
		query[key] = values
	}
	base.RawQuery = query.Encode()
	return base.String(), nil
}

func (c *StoreClient) classifyTransportError(operation string, ctx context.Context, err error) error {
	var netErr net.Error
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) ||
		(errors.As(err, &netErr) && netErr.Timeout()) {
		return shared.NewTimeoutError(storeClientService, operation, c.configuration.FetchTimeout, err)
	}
	return shared.NewNetworkError(storeClientService, operation, err)
}

func jsonpCallbackName() string {
	return "giftlist_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

// unwrapJSONP strips NAME( ... ) around the payload. A bare JSON body is
// accepted as is; a different callback name is rejected.
func unwrapJSONP(body []byte, callback string) ([]byte, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, errors.New("empty response body")
	}
	if trimmed[0] == '[' || trimmed[0] == '{' || trimmed[0] == '"' {
		return trimmed, nil
	}

	open := bytes.IndexByte(trimmed, '(')
	if open <= 0 {
		return trimmed, nil
	}
	name := string(bytes.TrimSpace(trimmed[:open]))
	if name != callback {
		return nil, fmt.Errorf("unexpected callback %q", name)
	}

	rest := bytes.TrimSuffix(trimmed[open+1:], []byte(";"))
	rest = bytes.TrimSpace(rest)
	if !bytes.HasSuffix(rest, []byte(")")) {
		return nil, errors.New("unterminated callback invocation")
	}
	return bytes.TrimSpace(rest[:len(rest)-1]), nil
}

// parseGiftList decodes a JSON payload into valid gifts. A well-formed
// payload that is not a list yields an empty list.
func parseGiftList(payload []byte) ([]models.Gift, error) {
	if !json.Valid(payload) {
		return nil, errors.New("payload is not valid JSON")
	}

	var rows []json.RawMessage
	if err := json.Unmarshal(payload, &rows); err != nil {
		return []models.Gift{}, nil
	}

	gifts := make([]models.Gift, 0, len(rows))
	for _, raw := range rows {
		var fields map[string]interface{}
		if err := json.Unmarshal(raw, &fields); err != nil || fields == nil {
			continue
		}
		gift := models.Gift{
			Who:      stringField(fields, "kdo"),
			FromWhom: stringField(fields, "odKoho"),
			Item:     stringField(fields, "co"),
			Link:     stringField(fields, "odkaz"),
			Status:   stringField(fields, "status"),
		}
		if gift.IsValid() {
			gifts = append(gifts, gift)
		}
	}
	return gifts, nil
}

// stringField reads a cell; spreadsheet cells may come back as numbers or booleans
func stringField(fields map[string]interface{}, key string) string {
	switch v := fields[key].(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return fmt.Sprint(v)
	}
}
