// Package eodata downloads products from the eodata S3 bucket of CDSE
package eodata

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/airbusgeo/cdse-dl/service"
	"github.com/airbusgeo/cdse-dl/service/log"
	"github.com/airbusgeo/cdse-dl/service/metrics"
	env "github.com/allisson/go-env"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	// DefaultEndpoint is the S3 endpoint of CDSE
	DefaultEndpoint = "https://eodata.dataspace.copernicus.eu"
	// Bucket is the default bucket of the products
	Bucket = "eodata"

	region             = "default"
	partSize           = 10 * 1024 * 1024
	defaultConcurrency = 4
)

// Environment variables holding the S3 credentials
const (
	EnvAccessKey = "CDSE_S3_ACCESS_KEY"
	EnvSecretKey = "CDSE_S3_SECRET_KEY"
)

// Object is an object of the bucket
type Object struct {
	Key  string
	Size int64
}

// Client downloads objects from the eodata bucket
type Client struct {
	s3          *s3.Client
	downloader  *manager.Downloader
	concurrency int
}

type options struct {
	endpoint    string
	concurrency int
}

// Option configures a Client
type Option func(*options)

// WithEndpoint overrides DefaultEndpoint
func WithEndpoint(url string) Option {
	return func(o *options) { o.endpoint = url }
}

// WithConcurrency sets the number of objects downloaded in parallel (default: 4)
func WithConcurrency(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.concurrency = n
		}
	}
}

// NewClient creates a path-style S3 client on the eodata endpoint
func NewClient(ctx context.Context, accessKey, secretKey string, opts ...Option) (*Client, error) {
	if accessKey == "" || secretKey == "" {
		return nil, &service.ConfigError{Msg: "S3 access key and secret key must be provided"}
	}
	o := options{endpoint: DefaultEndpoint, concurrency: defaultConcurrency}
	for _, opt := range opts {
		opt(&o)
	}

	cfg, err := config.LoadDefaultConfig(ctx,
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(accessKey, secretKey, "")),
		config.WithRegion(region),
	)
	if err != nil {
		return nil, fmt.Errorf("eodata.NewClient.LoadDefaultConfig: %w", err)
	}
	client := s3.NewFromConfig(cfg, func(so *s3.Options) {
		so.BaseEndpoint = aws.String(o.endpoint)
		so.UsePathStyle = true
	})
	return &Client{
		s3: client,
		downloader: manager.NewDownloader(client, func(d *manager.Downloader) {
			d.PartSize = partSize
		}),
		concurrency: o.concurrency,
	}, nil
}

// ClientFromEnv creates a client with the credentials of CDSE_S3_ACCESS_KEY and CDSE_S3_SECRET_KEY
func ClientFromEnv(ctx context.Context, opts ...Option) (*Client, error) {
	accessKey, secretKey := env.GetString(EnvAccessKey, ""), env.GetString(EnvSecretKey, "")
	if accessKey == "" || secretKey == "" {
		return nil, &service.ConfigError{Msg: fmt.Sprintf("%s and %s must be set", EnvAccessKey, EnvSecretKey)}
	}
	return NewClient(ctx, accessKey, secretKey, opts...)
}

// SplitPath splits the S3Path of a product ("/eodata/Sentinel-2/..." or "s3://eodata/Sentinel-2/...")
// into bucket and key prefix
func SplitPath(s3Path string) (bucket, prefix string, err error) {
	p := strings.TrimPrefix(s3Path, "s3://")
	p = strings.Trim(p, "/")
	bucket, prefix, _ = strings.Cut(p, "/")
	if bucket == "" || prefix == "" {
		return "", "", fmt.Errorf("invalid S3 path: %q", s3Path)
	}
	return bucket, prefix, nil
}

// List returns all the objects of the bucket starting with prefix
func (c *Client) List(ctx context.Context, bucket, prefix string) ([]Object, error) {
	var objects []Object
	paginator := s3.NewListObjectsV2Paginator(c.s3, &s3.ListObjectsV2Input{
		Bucket: aws.String(bucket),
		Prefix: aws.String(prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, service.MakeTemporary(fmt.Errorf("List.NextPage: %w", err))
		}
		for _, object := range page.Contents {
			objects = append(objects, Object{Key: aws.ToString(object.Key), Size: aws.ToInt64(object.Size)})
		}
	}
	return objects, nil
}

// DownloadProduct downloads all the objects under s3Path in localDir/<basename of s3Path>,
// preserving their relative paths. If s3Path is an object, it is downloaded in localDir.
// Files already present with the expected size are skipped.
// It returns the path of the downloaded product.
func (c *Client) DownloadProduct(ctx context.Context, s3Path, localDir string) (string, error) {
	bucket, prefix, err := SplitPath(s3Path)
	if err != nil {
		return "", fmt.Errorf("DownloadProduct.%w", err)
	}
	ctx = log.With(ctx, zap.String("s3path", s3Path))

	objects, err := c.List(ctx, bucket, prefix+"/")
	if err != nil {
		return "", fmt.Errorf("DownloadProduct.%w", err)
	}
	productPath := filepath.Join(localDir, path.Base(prefix))
	productDir, root := productPath, prefix+"/"
	if len(objects) == 0 {
		// single-object product
		if objects, err = c.List(ctx, bucket, prefix); err != nil {
			return "", fmt.Errorf("DownloadProduct.%w", err)
		}
		kept := objects[:0]
		for _, o := range objects {
			if o.Key == prefix {
				kept = append(kept, o)
			}
		}
		if objects = kept; len(objects) == 0 {
			return "", fmt.Errorf("DownloadProduct: no object found in %s", s3Path)
		}
		productDir, root = localDir, path.Dir(prefix)+"/"
	}

	paths := make(map[string]Object, len(objects))
	for _, object := range objects {
		if strings.HasSuffix(object.Key, "/") {
			continue
		}
		rel := strings.TrimPrefix(object.Key, root)
		if !filepath.IsLocal(filepath.FromSlash(rel)) {
			return "", fmt.Errorf("DownloadProduct: invalid object key: %s", object.Key)
		}
		paths[filepath.Join(productDir, filepath.FromSlash(rel))] = object
	}

	log.Logger(ctx).Sugar().Infof("downloading %d objects in %s", len(paths), productDir)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)
	for localPath, object := range paths {
		g.Go(func() error {
			return c.downloadObject(gctx, bucket, object, localPath)
		})
	}
	if err := g.Wait(); err != nil {
		return "", fmt.Errorf("DownloadProduct.%w", err)
	}
	return productPath, nil
}

func (c *Client) downloadObject(ctx context.Context, bucket string, object Object, localPath string) error {
	if info, err := os.Stat(localPath); err == nil && info.Size() == object.Size {
		log.Logger(ctx).Sugar().Debugf("already downloaded: %s", localPath)
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(localPath), 0755); err != nil {
		return fmt.Errorf("downloadObject.MkdirAll: %w", err)
	}
	file, err := os.Create(localPath)
	if err != nil {
		return fmt.Errorf("downloadObject: failed to create file %s: %w", localPath, err)
	}
	defer file.Close()

	n, err := c.downloader.Download(ctx, file, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(object.Key),
	})
	metrics.DownloadedBytes.Add(float64(n))
	if err != nil {
		return service.MakeTemporary(fmt.Errorf("downloadObject: failed to download object %s:%s: %w", bucket, object.Key, err))
	}
	return file.Close()
}
