package downloader

import (
	"context"

	"github.com/airbusgeo/cdse-dl/common"
	"github.com/airbusgeo/cdse-dl/service/log"
	"golang.org/x/sync/errgroup"
)

// DownloadAll downloads the products concurrently (see WithWorkers) and returns one Result per product, in the same order.
// The failure of one product does not stop the others.
func (d *Downloader) DownloadAll(ctx context.Context, products []common.Product, dir string, opts ...DownloadOption) []Result {
	results := make([]Result, len(products))
	var g errgroup.Group
	g.SetLimit(d.workers)
	for i := range products {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				results[i] = Result{Product: products[i], Status: common.StatusFAILED, Err: err}
				return nil
			}
			results[i], _ = d.Download(ctx, products[i], dir, opts...)
			return nil
		})
	}
	_ = g.Wait()

	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
			log.Logger(ctx).Sugar().Errorf("%s: %v", r.Product.Name, r.Err)
		}
	}
	log.Logger(ctx).Sugar().Infof("%d/%d products downloaded", len(products)-failed, len(products))
	return results
}
