package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/airbusgeo/cdse-dl/interface/catalog/odata"
	"github.com/airbusgeo/cdse-dl/interface/eodata"
	"github.com/airbusgeo/cdse-dl/service"
	"github.com/spf13/cobra"
)

type s3Config struct {
	Products    []string
	Collection  string
	OutDir      string
	Endpoint    string
	Concurrency int
}

func newS3DownloadCmd() *cobra.Command {
	var cfg s3Config
	cmd := &cobra.Command{
		Use:   "s3-download [id|name|s3path]...",
		Short: "Download products from the eodata S3 bucket",
		Long: `Download products from the eodata S3 bucket.
A product is given by its S3 path (/eodata/...), its id or its name.
The S3 credentials are read from CDSE_S3_ACCESS_KEY and CDSE_S3_SECRET_KEY.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg.Products = args
			return runS3Download(cmd.Context(), cfg)
		},
	}
	f := cmd.Flags()
	f.StringVarP(&cfg.Collection, "collection", "c", "", "collection of the products (default: inferred from the names)")
	f.StringVarP(&cfg.OutDir, "out-dir", "d", ".", "destination directory")
	f.StringVar(&cfg.Endpoint, "endpoint", eodata.DefaultEndpoint, "S3 endpoint")
	f.IntVar(&cfg.Concurrency, "concurrency", 4, "number of objects downloaded in parallel")
	return cmd
}

func runS3Download(ctx context.Context, cfg s3Config) error {
	client, err := eodata.ClientFromEnv(ctx, eodata.WithEndpoint(cfg.Endpoint), eodata.WithConcurrency(cfg.Concurrency))
	if err != nil {
		return err
	}
	var paths, lookups []string
	for _, p := range cfg.Products {
		if strings.HasPrefix(p, "/") || strings.HasPrefix(p, "s3://") {
			paths = append(paths, p)
		} else {
			lookups = append(lookups, p)
		}
	}
	products, err := resolveProducts(ctx, odata.NewClient(nil), cfg.Collection, lookups)
	if err != nil {
		return err
	}
	for _, p := range products {
		if p.S3Path == "" {
			return &service.ConfigError{Msg: fmt.Sprintf("product %s has no S3 path", p.Name)}
		}
		paths = append(paths, p.S3Path)
	}
	for _, p := range paths {
		dir, err := client.DownloadProduct(ctx, p, cfg.OutDir)
		if err != nil {
			return err
		}
		fmt.Println(dir)
	}
	return nil
}
