package cache

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sourcegraph/conc/panics"
	"github.com/sourcegraph/conc/pool"
)

const (
	// DefaultWarmBatchSize bounds how many fetches run at once while warming.
	DefaultWarmBatchSize = 5
	// DefaultWarmBatchDelay separates consecutive warming batches.
	DefaultWarmBatchDelay = 100 * time.Millisecond
)

// WarmFunc populates the cache for one identifier, typically by calling the
// fetch orchestrator.
type WarmFunc func(ctx context.Context, id string) error

// WarmOptions 控制预热的批大小与批间延迟。
type WarmOptions struct {
	BatchSize int
	Delay     time.Duration
}

// WarmFailure records one identifier that could not be warmed.
type WarmFailure struct {
	ID    string `json:"id"`
	Error string `json:"error"`
}

// WarmResult 汇总一次预热。Skipped 为 ctx 取消后未尝试的 ID 数量。
type WarmResult struct {
	Total     int           `json:"total"`
	Succeeded int           `json:"succeeded"`
	Failed    []WarmFailure `json:"failed,omitempty"`
	Skipped   int           `json:"skipped,omitempty"`
	Duration  time.Duration `json:"duration"`
}

// Warm 以固定大小的批次驱动 fetch：批内并发、批间串行并间隔 Delay。
// 单个 ID 的错误或 panic 只会被记录，不会中断本批或后续批次。
func (c *Cache) Warm(ctx context.Context, ids []string, fetch WarmFunc, opts WarmOptions) WarmResult {
	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultWarmBatchSize
	}
	delay := opts.Delay
	if delay < 0 {
		delay = 0
	}

	started := time.Now()
	result := WarmResult{Total: len(ids)}
	var mu sync.Mutex

	c.logger.WithFields(logrus.Fields{
		"action":    "warm",
		"total":     len(ids),
		"batchSize": batchSize,
	}).Info("warm_started")

	for start := 0; start < len(ids); start += batchSize {
		if ctx.Err() != nil {
			result.Skipped = len(ids) - start
			break
		}

		end := min(start+batchSize, len(ids))
		p := pool.New().WithMaxGoroutines(batchSize)
		for _, id := range ids[start:end] {
			p.Go(func() {
				err := warmOne(ctx, id, fetch)

				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					result.Failed = append(result.Failed, WarmFailure{ID: id, Error: err.Error()})
					c.metrics.warmed(false)
					c.logger.WithError(err).WithFields(logrus.Fields{
						"action": "warm",
						"id":     id,
					}).Warn("warm_item_failed")
					return
				}
				result.Succeeded++
				c.metrics.warmed(true)
			})
		}
		p.Wait()

		if end < len(ids) && delay > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
			case <-timer.C:
			}
		}
	}

	result.Duration = time.Since(started)
	c.logger.WithFields(logrus.Fields{
		"action":    "warm",
		"total":     result.Total,
		"succeeded": result.Succeeded,
		"failed":    len(result.Failed),
		"skipped":   result.Skipped,
		"duration":  result.Duration.String(),
	}).Info("warm_complete")
	return result
}

func warmOne(ctx context.Context, id string, fetch WarmFunc) (err error) {
	var catcher panics.Catcher
	catcher.Try(func() {
		err = fetch(ctx, id)
	})
	if recovered := catcher.Recovered(); recovered != nil {
		return recovered.AsError()
	}
	return err
}
