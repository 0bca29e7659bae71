package services

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/fenilmodi00/giftlist-backend/models"
	"github.com/fenilmodi00/giftlist-backend/shared"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const giftServiceName = "GiftService"

// GiftBackend is the server side of the record store RPC.
// Rows are numbered as in a sheet: row 1 is the header, gifts start at row 2.
type GiftBackend interface {
	FetchAll(ctx context.Context) ([]models.Gift, error)
	Save(ctx context.Context, gift models.Gift) (models.SaveResult, error)
}

// RetryConfig holds retry configuration for database operations
type RetryConfig struct {
	MaxRetries    int
	BaseDelay     time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
}

// GiftService stores gifts in Postgres, one row per (who, item)
type GiftService struct {
	DB             *sql.DB
	retryConfig    *RetryConfig
	serviceMetrics *shared.ServiceMetrics
}

// NewGiftService creates a Postgres backed gift store
func NewGiftService(db *sql.DB) *GiftService {
	return &GiftService{
		DB: db,
		retryConfig: &RetryConfig{
			MaxRetries:    3,
			BaseDelay:     100 * time.Millisecond,
			MaxDelay:      2 * time.Second,
			BackoffFactor: 2.0,
		},
		serviceMetrics: shared.NewServiceMetrics(giftServiceName),
	}
}

// FetchAll returns every valid gift, newest first
func (s *GiftService) FetchAll(ctx context.Context) ([]models.Gift, error) {
	start := time.Now()
	query := `
		SELECT who, from_whom, item, link, status
		FROM gifts
		ORDER BY seq DESC`

	var gifts []models.Gift
	err := s.executeWithRetry(ctx, func() error {
		rows, err := s.DB.QueryContext(ctx, query)
		if err != nil {
			return err
		}
		defer rows.Close()

		gifts = gifts[:0]
		for rows.Next() {
			var g models.Gift
			if err := rows.Scan(&g.Who, &g.FromWhom, &g.Item, &g.Link, &g.Status); err != nil {
				return err
			}
			if g.IsValid() {
				gifts = append(gifts, g)
			}
		}
		return rows.Err()
	})
	s.serviceMetrics.RecordRequest(err == nil, time.Since(start))
	if err != nil {
		return nil, shared.WrapError(err, shared.ErrorCategoryDatabase, "FETCH_FAILED", giftServiceName, "FetchAll", true)
	}
	if gifts == nil {
		gifts = []models.Gift{}
	}
	return gifts, nil
}

// Save inserts the gift or overwrites the row with the same (who, item)
func (s *GiftService) Save(ctx context.Context, gift models.Gift) (models.SaveResult, error) {
	start := time.Now()
	query := `
		INSERT INTO gifts (id, who, from_whom, item, link, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (who, item) DO UPDATE SET
			from_whom = EXCLUDED.from_whom,
			link = EXCLUDED.link,
			status = EXCLUDED.status,
			updated_at = CURRENT_TIMESTAMP
		RETURNING seq, (xmax = 0) AS created`

	var (
		seq    int64
		result models.SaveResult
	)
	err := s.executeWithRetry(ctx, func() error {
		err := s.DB.QueryRowContext(ctx, query,
			uuid.New(), gift.Who, gift.FromWhom, gift.Item, gift.Link, gift.Status,
		).Scan(&seq, &result.Created)
		if err != nil {
			return err
		}
		return s.DB.QueryRowContext(ctx,
			`SELECT COUNT(*) + 1 FROM gifts WHERE seq <= $1`, seq,
		).Scan(&result.Row)
	})
	s.serviceMetrics.RecordRequest(err == nil, time.Since(start))
	if err != nil {
		return models.SaveResult{}, shared.WrapError(err, shared.ErrorCategoryDatabase, "SAVE_FAILED", giftServiceName, "Save", true)
	}

	logrus.WithFields(logrus.Fields{
		"component": giftServiceName,
		"who":       gift.Who,
		"item":      gift.Item,
		"status":    gift.Status,
		"row":       result.Row,
		"created":   result.Created,
	}).Info("Gift saved")

	return result, nil
}

// GetServiceMetrics returns the service metrics
func (s *GiftService) GetServiceMetrics() *shared.ServiceMetrics {
	return s.serviceMetrics
}

// executeWithRetry retries transient database failures with exponential backoff
func (s *GiftService) executeWithRetry(ctx context.Context, operation func() error) error {
	var lastErr error

	for attempt := 0; attempt <= s.retryConfig.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := time.Duration(float64(s.retryConfig.BaseDelay) *
				math.Pow(s.retryConfig.BackoffFactor, float64(attempt-1)))
			if delay > s.retryConfig.MaxDelay {
				delay = s.retryConfig.MaxDelay
			}

			logrus.WithFields(logrus.Fields{
				"component": giftServiceName,
				"attempt":   attempt,
				"delay":     delay,
				"error":     lastErr,
			}).Warn("Retrying database operation")

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		err := operation()
		if err == nil {
			return nil
		}
		lastErr = err

		if !isRetryableDatabaseError(err) {
			return err
		}
	}

	return fmt.Errorf("database operation failed after %d retries: %w", s.retryConfig.MaxRetries, lastErr)
}

func isRetryableDatabaseError(err error) bool {
	errStr := strings.ToLower(err.Error())
	for _, pattern := range []string{
		"connection refused",
		"connection reset",
		"timeout",
		"temporary failure",
		"deadlock",
		"connection lost",
		"server shutdown",
	} {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}
	return false
}

// MemoryGiftStore is an in-process GiftBackend used when no database is configured
type MemoryGiftStore struct {
	mutex sync.RWMutex
	rows  []models.GiftRow
	seq   int64
}

// NewMemoryGiftStore creates an empty in-memory store
func NewMemoryGiftStore() *MemoryGiftStore {
	return &MemoryGiftStore{}
}

// FetchAll returns every valid gift, newest first
func (m *MemoryGiftStore) FetchAll(ctx context.Context) ([]models.Gift, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	gifts := make([]models.Gift, 0, len(m.rows))
	for i := len(m.rows) - 1; i >= 0; i-- {
		if m.rows[i].Gift.IsValid() {
			gifts = append(gifts, m.rows[i].Gift)
		}
	}
	return gifts, nil
}

// Save inserts the gift or overwrites the row with the same (who, item)
func (m *MemoryGiftStore) Save(ctx context.Context, gift models.Gift) (models.SaveResult, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	now := time.Now()
	for i := range m.rows {
		if m.rows[i].Gift.Key() == gift.Key() {
			m.rows[i].Gift = gift
			m.rows[i].UpdatedAt = now
			return models.SaveResult{Row: int64(i) + 2, Created: false}, nil
		}
	}

	m.seq++
	m.rows = append(m.rows, models.GiftRow{
		ID:        uuid.New(),
		Seq:       m.seq,
		Gift:      gift,
		UpdatedAt: now,
	})
	return models.SaveResult{Row: int64(len(m.rows)) + 1, Created: true}, nil
}
