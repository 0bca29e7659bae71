package handlers

import (
	"context"
	"database/sql"
	"time"

	"github.com/fenilmodi00/giftlist-backend/services"
	"github.com/fenilmodi00/giftlist-backend/shared"
	"github.com/gofiber/fiber/v2"
)

type PerformanceHandler struct {
	DB      *sql.DB
	Backend services.GiftBackend
	Metrics []*shared.ServiceMetrics
}

// NewPerformanceHandler creates the handler. db may be nil when records live in memory.
func NewPerformanceHandler(db *sql.DB, backend services.GiftBackend, metrics ...*shared.ServiceMetrics) *PerformanceHandler {
	return &PerformanceHandler{
		DB:      db,
		Backend: backend,
		Metrics: metrics,
	}
}

// GetPerformanceMetrics times a full fetch and reports service counters
func (h *PerformanceHandler) GetPerformanceMetrics(c *fiber.Ctx) error {
	ctx := c.Context()
	metrics := make(map[string]interface{})

	start := time.Now()
	gifts, err := h.Backend.FetchAll(ctx)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"success": false,
			"error":   "Failed to test FetchAll: " + err.Error(),
		})
	}
	metrics["fetch_all"] = map[string]interface{}{
		"duration_ms": time.Since(start).Milliseconds(),
		"count":       len(gifts),
	}

	snapshots := make([]shared.MetricsSnapshot, 0, len(h.Metrics))
	for _, m := range h.Metrics {
		if m != nil {
			snapshots = append(snapshots, m.GetSnapshot())
		}
	}
	metrics["services"] = snapshots

	if h.DB != nil {
		dbStats := h.DB.Stats()
		metrics["database_stats"] = map[string]interface{}{
			"open_connections":     dbStats.OpenConnections,
			"in_use":               dbStats.InUse,
			"idle":                 dbStats.Idle,
			"wait_count":           dbStats.WaitCount,
			"wait_duration_ms":     dbStats.WaitDuration.Milliseconds(),
			"max_idle_closed":      dbStats.MaxIdleClosed,
			"max_idle_time_closed": dbStats.MaxIdleTimeClosed,
			"max_lifetime_closed":  dbStats.MaxLifetimeClosed,
		}

		indexStats, err := h.getIndexUsageStats(ctx)
		if err != nil {
			metrics["index_stats_error"] = err.Error()
		} else {
			metrics["index_stats"] = indexStats
		}
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data":    metrics,
	})
}

// getIndexUsageStats retrieves index usage for the gift and cache tables
func (h *PerformanceHandler) getIndexUsageStats(ctx context.Context) ([]map[string]interface{}, error) {
	query := `
		SELECT
			relname as table_name,
			indexrelname as index_name,
			idx_scan as scans,
			idx_tup_read as tuples_read
		FROM pg_stat_user_indexes
		WHERE relname IN ('gifts', 'cache_resources', 'cache_generations')
		ORDER BY relname, idx_scan DESC
	`

	rows, err := h.DB.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stats []map[string]interface{}
	for rows.Next() {
		var table, index string
		var scans, tuplesRead int64

		if err := rows.Scan(&table, &index, &scans, &tuplesRead); err != nil {
			return nil, err
		}

		stats = append(stats, map[string]interface{}{
			"table":       table,
			"index":       index,
			"scans":       scans,
			"tuples_read": tuplesRead,
		})
	}

	return stats, rows.Err()
}
