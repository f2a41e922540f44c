package loader

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/spellcache/spellcache/pkg/types"
	"github.com/spellcache/spellcache/pkg/utils"
)

// WarmResult summarizes a warm-up run
type WarmResult struct {
	Loaded int
	Failed int
}

// Warm loads keys into cache with at most concurrency loads in flight. Every key is attempted;
// failures are logged and the first one is returned.
func Warm(ctx context.Context, load types.LoadPartitionFn, cache types.PartitionCache, keys []types.PartitionKey, concurrency int, logger *utils.StructuredLogger) (WarmResult, error) {
	if concurrency <= 0 {
		concurrency = 4
	}
	if logger == nil {
		logger = utils.NewStructuredLogger(nil)
	}
	logger = logger.WithComponent("warm")

	var loaded, failed atomic.Int64
	var g errgroup.Group
	g.SetLimit(concurrency)

	for _, key := range keys {
		if cache.Has(key) {
			continue
		}
		g.Go(func() error {
			words, err := load(ctx, key)
			if err != nil {
				failed.Add(1)
				logger.Warn("Warm-up load failed", map[string]interface{}{
					"key":   key,
					"error": err,
				})
				return err
			}
			cache.Set(key, words)
			loaded.Add(1)
			return nil
		})
	}

	err := g.Wait()
	result := WarmResult{Loaded: int(loaded.Load()), Failed: int(failed.Load())}
	logger.Info("Cache warm-up finished", map[string]interface{}{
		"requested": len(keys),
		"loaded":    result.Loaded,
		"failed":    result.Failed,
	})
	return result, err
}
