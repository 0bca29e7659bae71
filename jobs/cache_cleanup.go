package jobs

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// CachePruner removes caches that no generation owns
type CachePruner interface {
	PruneCaches(ctx context.Context) (int, error)
}

// CacheCleanupJob removes orphaned caches, such as those left behind when the
// process stopped mid-install
type CacheCleanupJob struct {
	Pruner   CachePruner
	Interval time.Duration
}

func NewCacheCleanupJob(pruner CachePruner, interval time.Duration) *CacheCleanupJob {
	if interval <= 0 {
		interval = 12 * time.Hour
	}
	return &CacheCleanupJob{Pruner: pruner, Interval: interval}
}

// Start runs the job now and then on every interval until ctx is done
func (j *CacheCleanupJob) Start(ctx context.Context) {
	logrus.Infof("Starting Cache Cleanup Job (runs every %v)...", j.Interval)
	ticker := time.NewTicker(j.Interval)

	go func() {
		defer ticker.Stop()
		j.Run(ctx)

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				j.Run(ctx)
			}
		}
	}()
}

// Run prunes once and returns how many caches were removed
func (j *CacheCleanupJob) Run(ctx context.Context) int {
	startTime := time.Now()
	runCtx, cancel := context.WithTimeout(ctx, 10*time.Minute)
	defer cancel()

	removed, err := j.Pruner.PruneCaches(runCtx)
	if err != nil {
		logrus.Errorf("Cache Cleanup Job failed after removing %d caches: %v", removed, err)
		return removed
	}

	logrus.Infof("Cache Cleanup Job completed: removed %d orphaned caches (took %v)", removed, time.Since(startTime))
	return removed
}
