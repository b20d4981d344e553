package downloader

import (
	"context"
	"fmt"

	"github.com/airbusgeo/cdse-dl/common"
)

// DownloadFromID finds the product with this id in the collection and downloads it
func (d *Downloader) DownloadFromID(ctx context.Context, collection, id, dir string, opts ...DownloadOption) (Result, error) {
	return d.downloadFrom(ctx, collection, "", id, dir, opts...)
}

// DownloadFromName finds the product with this name and downloads it.
// If collection is empty, it is inferred from the name.
func (d *Downloader) DownloadFromName(ctx context.Context, collection, name, dir string, opts ...DownloadOption) (Result, error) {
	if collection == "" {
		var err error
		if collection, err = common.CollectionFromProductName(name); err != nil {
			return Result{Status: common.StatusFAILED, Err: err}, fmt.Errorf("DownloadFromName: %w", err)
		}
	}
	return d.downloadFrom(ctx, collection, name, "", dir, opts...)
}

func (d *Downloader) downloadFrom(ctx context.Context, collection, name, id, dir string, opts ...DownloadOption) (Result, error) {
	if d.resolver == nil {
		err := fmt.Errorf("no catalogue configured")
		return Result{Status: common.StatusFAILED, Err: err}, err
	}
	product, err := d.resolver.Product(ctx, collection, name, id)
	if err != nil {
		err = fmt.Errorf("downloadFrom.%w", err)
		return Result{Status: common.StatusFAILED, Err: err}, err
	}
	return d.Download(ctx, product, dir, opts...)
}
