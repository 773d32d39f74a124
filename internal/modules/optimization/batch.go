package optimization

import (
	"context"
	"fmt"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// ComputeBatch runs ComputePortfolio for every snapshot on at most workers
// goroutines. Results line up with snapshots. The first structural error
// stops the batch and is returned together with the index of the snapshot.
func (a *Allocator) ComputeBatch(ctx context.Context, snapshots []MarketSnapshot, workers int) ([]PortfolioAllocation, error) {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	results := make([]PortfolioAllocation, len(snapshots))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for i := range snapshots {
		if gctx.Err() != nil {
			break
		}
		i := i
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			portfolio, err := a.ComputePortfolio(snapshots[i])
			if err != nil {
				return fmt.Errorf("snapshot %d: %w", i, err)
			}
			results[i] = portfolio
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return results, nil
}
