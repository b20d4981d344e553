package main

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/airbusgeo/cdse-dl/common"
	"github.com/airbusgeo/cdse-dl/downloader"
	"github.com/airbusgeo/cdse-dl/interface/catalog/odata"
	"github.com/airbusgeo/cdse-dl/service"
	"github.com/airbusgeo/cdse-dl/service/log"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

type downloadConfig struct {
	Products   []string
	File       string
	Collection string
	OutDir     string
	Workers    int
	NoVerify   bool
	Unzip      bool
	Retries    int
	RetrySleep time.Duration
	Quicklook  bool
	Report     string
	Layout     string
}

func newDownloadCmd() *cobra.Command {
	var cfg downloadConfig
	cmd := &cobra.Command{
		Use:   "download [id|name]...",
		Short: "Download products",
		Long: `Download products by id or by name, or all the products of a json file written by "search".
Partial files are resumed and complete files are skipped.
The checksum published by the catalogue is verified (BLAKE3, SHA3-256 or MD5).`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg.Products = args
			if len(cfg.Products) == 0 && cfg.File == "" {
				return &service.ConfigError{Msg: "at least one product or --file must be provided"}
			}
			return runDownload(cmd.Context(), cfg)
		},
	}
	f := cmd.Flags()
	f.StringVarP(&cfg.File, "file", "f", "", "json file of products (output of search)")
	f.StringVarP(&cfg.Collection, "collection", "c", "", "collection of the products (default: inferred from the names)")
	f.StringVarP(&cfg.OutDir, "out-dir", "d", ".", "destination directory")
	f.IntVarP(&cfg.Workers, "workers", "w", 4, "number of concurrent downloads")
	f.BoolVar(&cfg.NoVerify, "no-verify", false, "do not verify the checksums")
	f.BoolVar(&cfg.Unzip, "unzip", false, "extract the downloaded archives")
	f.IntVar(&cfg.Retries, "retries", 3, "number of retries of the downloads failing with a temporary error")
	f.DurationVar(&cfg.RetrySleep, "retry-sleep", 5*time.Second, "delay before the first retry (doubled at each retry)")
	f.BoolVar(&cfg.Quicklook, "quicklook", false, "download the quicklooks as well")
	f.StringVar(&cfg.Report, "report", "", "json file to write the results to")
	f.StringVar(&cfg.Layout, "layout", "", `subdirectory of each product in out-dir, e.g. "{MISSION_ID}/{YEAR}/{MONTH}/{DAY}".
Keys: SCENE, MISSION_ID, PRODUCT_LEVEL, PRODUCT_TYPE, DATE (YEAR, MONTH, DAY), TIME (HOUR, MINUTE, SECOND), ORBIT, TILE...`)
	return cmd
}

// resolveProducts finds the products of the arguments in the catalogue.
// An argument is an id if it is a uuid, a name otherwise.
func resolveProducts(ctx context.Context, catalog downloader.Resolver, collection string, args []string) ([]common.Product, error) {
	collection = normalizeCollection(collection)
	products := make([]common.Product, 0, len(args))
	for _, arg := range args {
		var p common.Product
		var err error
		if _, uerr := uuid.Parse(arg); uerr == nil {
			p, err = catalog.Product(ctx, collection, "", arg)
		} else {
			c := collection
			if c == "" {
				if c, err = common.CollectionFromProductName(arg); err != nil {
					return nil, err
				}
			}
			p, err = catalog.Product(ctx, c, arg, "")
		}
		if err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	return products, nil
}

// normalizeCollection accepts the names of the constellations (sentinel2, sentinel-2...)
func normalizeCollection(collection string) string {
	if c := common.GetConstellationFromString(collection).Collection(); c != "" {
		return c
	}
	return collection
}

// productDir returns the directory of the product, following the layout
func productDir(outDir, layout string, p common.Product) string {
	if layout == "" {
		return outDir
	}
	info, err := common.Info(p.Name)
	if err != nil {
		info = map[string]string{"SCENE": p.Name}
	}
	sub := common.FormatBrackets(layout, info)
	if strings.Contains(sub, "{") || !filepath.IsLocal(sub) {
		return filepath.Join(outDir, "unknown")
	}
	return filepath.Join(outDir, sub)
}

func runDownload(ctx context.Context, cfg downloadConfig) error {
	var products []common.Product
	if cfg.File != "" {
		if err := service.FromJSON(cfg.File, &products); err != nil {
			return err
		}
	}
	catalog := odata.NewClient(nil)
	resolved, err := resolveProducts(ctx, catalog, cfg.Collection, cfg.Products)
	if err != nil {
		return err
	}
	products = append(products, resolved...)

	session, err := newSession(ctx)
	if err != nil {
		return err
	}
	d := downloader.New(session, downloader.WithWorkers(cfg.Workers), downloader.WithResolver(catalog))
	opts := []downloader.DownloadOption{downloader.Verify(!cfg.NoVerify), downloader.Unarchive(cfg.Unzip)}

	results := downloadWithRetries(ctx, d, products, cfg, opts)

	if cfg.Quicklook {
		for _, p := range products {
			for _, asset := range p.Assets {
				if asset.Type != "QUICKLOOK" {
					continue
				}
				if _, err := d.DownloadAsset(ctx, asset, productDir(cfg.OutDir, cfg.Layout, p)); err != nil {
					log.Logger(ctx).Sugar().Warnf("quicklook of %s: %v", p.Name, err)
				}
			}
		}
	}

	if cfg.Report != "" {
		if err := writeJSON(results, cfg.Report); err != nil {
			return err
		}
	}
	failed := 0
	for _, r := range results {
		fmt.Printf("%-8s %s %s\n", r.Status, r.Path, r.Error())
		if r.Err != nil {
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d/%d downloads failed", failed, len(results))
	}
	return nil
}

// downloadAll downloads the products in their directory
func downloadAll(ctx context.Context, d *downloader.Downloader, products []common.Product, cfg downloadConfig, opts []downloader.DownloadOption) []downloader.Result {
	if cfg.Layout == "" {
		return d.DownloadAll(ctx, products, cfg.OutDir, opts...)
	}
	results := make([]downloader.Result, len(products))
	groups := map[string][]int{}
	for i, p := range products {
		dir := productDir(cfg.OutDir, cfg.Layout, p)
		groups[dir] = append(groups[dir], i)
	}
	for dir, indices := range groups {
		group := make([]common.Product, len(indices))
		for k, i := range indices {
			group[k] = products[i]
		}
		for k, r := range d.DownloadAll(ctx, group, dir, opts...) {
			results[indices[k]] = r
		}
	}
	return results
}

// downloadWithRetries downloads the products, then downloads again the ones that ended with status RETRY
func downloadWithRetries(ctx context.Context, d *downloader.Downloader, products []common.Product, cfg downloadConfig, opts []downloader.DownloadOption) []downloader.Result {
	results := downloadAll(ctx, d, products, cfg, opts)
	sleep := cfg.RetrySleep
	for i := 0; i < cfg.Retries; i++ {
		var retry []int
		for j, r := range results {
			if r.Status == common.StatusRETRY {
				retry = append(retry, j)
			}
		}
		if len(retry) == 0 {
			break
		}
		log.Logger(ctx).Sugar().Infof("retrying %d downloads in %v (%d/%d)", len(retry), sleep, i+1, cfg.Retries)
		select {
		case <-ctx.Done():
			return results
		case <-time.After(sleep):
		}
		sleep *= 2
		toRetry := make([]common.Product, len(retry))
		for k, j := range retry {
			toRetry[k] = results[j].Product
		}
		for k, r := range downloadAll(ctx, d, toRetry, cfg, opts) {
			results[retry[k]] = r
		}
	}
	return results
}
