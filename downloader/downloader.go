package downloader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/airbusgeo/cdse-dl/common"
	"github.com/airbusgeo/cdse-dl/service"
	"github.com/airbusgeo/cdse-dl/service/log"
	"github.com/airbusgeo/cdse-dl/service/metrics"
	"go.uber.org/zap"
)

// DefaultBaseURL is the OData endpoint serving the content of the products
const DefaultBaseURL = "https://catalogue.dataspace.copernicus.eu/odata/v1"

const (
	defaultWorkers   = 4
	defaultChunkSize = 32 * 1024
)

// Session sends authenticated requests. It is implemented by auth.Session.
type Session interface {
	service.Doer
	AuthorizationHeader(ctx context.Context) (string, error)
	HTTPClient() *http.Client
}

// Resolver finds a product in the catalogue by name or by id
type Resolver interface {
	Product(ctx context.Context, collection, name, id string) (common.Product, error)
}

// Downloader downloads products through an authenticated session.
// The partial file on disk is the only state of a download: an interrupted download
// is resumed by calling Download again.
type Downloader struct {
	session   Session
	resolver  Resolver
	baseURL   string
	workers   int
	chunkSize int
}

// Option configures a Downloader
type Option func(*Downloader)

// WithBaseURL overrides DefaultBaseURL
func WithBaseURL(url string) Option {
	return func(d *Downloader) { d.baseURL = strings.TrimRight(url, "/") }
}

// WithWorkers sets the number of concurrent downloads of DownloadAll (default: 4)
func WithWorkers(n int) Option {
	return func(d *Downloader) {
		if n > 0 {
			d.workers = n
		}
	}
}

// WithChunkSize sets the size of the buffer used to write on disk
func WithChunkSize(n int) Option {
	return func(d *Downloader) {
		if n > 0 {
			d.chunkSize = n
		}
	}
}

// WithResolver sets the catalogue used by DownloadFromID and DownloadFromName
func WithResolver(r Resolver) Option {
	return func(d *Downloader) { d.resolver = r }
}

// New creates a Downloader
func New(session Session, opts ...Option) *Downloader {
	d := &Downloader{
		session:   session,
		baseURL:   DefaultBaseURL,
		workers:   defaultWorkers,
		chunkSize: defaultChunkSize,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// DownloadOption configures one download
type DownloadOption func(*downloadOptions)

type downloadOptions struct {
	verify    bool
	unarchive bool
}

// Verify enables or disables the checksum verification (default: enabled)
func Verify(v bool) DownloadOption {
	return func(o *downloadOptions) { o.verify = v }
}

// Unarchive extracts the downloaded archive in the destination directory
func Unarchive(v bool) DownloadOption {
	return func(o *downloadOptions) { o.unarchive = v }
}

// Result is the outcome of the download of one product
type Result struct {
	Product common.Product `json:"product"`
	Path    string         `json:"path"`
	Status  common.Status  `json:"status"`
	Err     error          `json:"-"`
}

// Error returns the message of Err or ""
func (r Result) Error() string {
	if r.Err == nil {
		return ""
	}
	return r.Err.Error()
}

// ProductURL returns the url of the content of the product
func (d *Downloader) ProductURL(id string) string {
	return fmt.Sprintf("%s/Products(%s)/$value", d.baseURL, id)
}

// Download downloads the product in dir/product.Name, resuming a partial file if any,
// then verifies its checksum.
func (d *Downloader) Download(ctx context.Context, product common.Product, dir string, opts ...DownloadOption) (Result, error) {
	o := downloadOptions{verify: true}
	for _, opt := range opts {
		opt(&o)
	}
	ctx = log.With(ctx, zap.String("product", product.Name))
	res := Result{Product: product, Path: filepath.Join(dir, product.Name), Status: common.StatusPENDING}

	skipped, err := d.download(ctx, product, dir, res.Path)
	if err == nil && o.verify {
		err = VerifyFile(ctx, res.Path, product.Checksum)
	}
	if err == nil && o.unarchive {
		err = unarchive(ctx, res.Path, dir)
	}

	switch {
	case err == nil && skipped:
		res.Status = common.StatusSKIPPED
	case err == nil:
		res.Status = common.StatusDONE
	case service.Temporary(err):
		res.Status = common.StatusRETRY
	default:
		res.Status = common.StatusFAILED
	}
	if err != nil {
		res.Err = fmt.Errorf("Download[%s].%w", product.Name, err)
	}
	metrics.Downloads.WithLabelValues(res.Status.String()).Inc()
	return res, res.Err
}

func (d *Downloader) download(ctx context.Context, product common.Product, dir, path string) (skipped bool, err error) {
	if product.Id == "" || product.Name == "" {
		return false, fmt.Errorf("product must have an Id and a Name")
	}
	if filepath.Base(product.Name) != product.Name || product.Name == "." || product.Name == ".." {
		return false, fmt.Errorf("invalid product name: %s", product.Name)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return false, fmt.Errorf("MkdirAll: %w", err)
	}

	existing, exists, err := localSize(path)
	if err != nil {
		return false, err
	}
	url := d.ProductURL(product.Id)
	resp, err := d.get(ctx, url, existing, exists)
	if err != nil {
		return false, err
	}
	defer func() { resp.Body.Close() }()

	remote, err := remoteLength(resp, existing, product.ContentLength)
	if err != nil {
		return false, err
	}
	if name := filenameFromDisposition(resp.Header.Get("Content-Disposition")); name != "" && name != product.Name {
		log.Logger(ctx).Sugar().Debugf("server filename: %s", name)
	}

	plan := ResumePlan(existing, remote)
	if plan.Action == Skip && !exists {
		// empty product: the file must still be created
		plan = Plan{Action: ResumeFrom}
	}
	switch plan.Action {
	case Skip:
		log.Logger(ctx).Sugar().Infof("already downloaded: %s", path)
		return true, nil
	case RestartFromZero:
		log.Logger(ctx).Sugar().Warnf("local file is larger than the remote one (%d > %d): restarting", existing, remote)
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			if resp, err = d.get(ctx, url, 0, false); err != nil {
				return false, err
			}
			if resp.StatusCode != http.StatusOK {
				return false, fmt.Errorf("unexpected status %s", resp.Status)
			}
			if remote, err = remoteLength(resp, 0, product.ContentLength); err != nil {
				return false, err
			}
		}
		return false, d.stream(ctx, resp.Body, path, 0, remote)
	default:
		if resp.StatusCode == http.StatusRequestedRangeNotSatisfiable {
			return false, service.NewHTTPError(resp)
		}
		if resp.StatusCode == http.StatusOK && plan.Offset > 0 {
			log.Logger(ctx).Debug("range not honored by the server: restarting from the beginning")
			return false, d.stream(ctx, resp.Body, path, 0, remote)
		}
		if plan.Offset > 0 {
			log.Logger(ctx).Sugar().Infof("resuming download at %s", fmtBytes(plan.Offset))
		}
		return false, d.stream(ctx, resp.Body, path, plan.Offset, remote)
	}
}

// get requests the content of the product, from offset if ranged.
// 2xx and 416 responses are returned, the others are converted to HTTPError.
func (d *Downloader) get(ctx context.Context, url string, offset int64, ranged bool) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("NewRequest: %w", err)
	}
	if ranged {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
	}
	resp, err := d.session.Do(req)
	if err != nil {
		return nil, service.MakeTemporary(fmt.Errorf("get[%s]: %w", url, err))
	}
	if resp.StatusCode == http.StatusRequestedRangeNotSatisfiable {
		return resp, nil
	}
	if err := service.CheckResponse(resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// stream writes body in path starting at offset (the file is truncated at offset)
func (d *Downloader) stream(ctx context.Context, body io.Reader, path string, offset, remote int64) error {
	flags := os.O_CREATE | os.O_WRONLY
	if offset == 0 {
		flags |= os.O_TRUNC
	} else {
		flags |= os.O_APPEND
	}
	f, err := os.OpenFile(path, flags, 0644)
	if err != nil {
		return fmt.Errorf("OpenFile: %w", err)
	}
	defer f.Close()

	pw := &progressWriter{w: f}
	pw.written.Store(offset)
	done := make(chan struct{})
	go displayProgress(ctx, filepath.Base(path), func() int64 { return remote }, pw.written.Load, done, 0.05)
	n, err := io.CopyBuffer(pw, body, make([]byte, d.chunkSize))
	close(done)
	metrics.DownloadedBytes.Add(float64(n))
	if err != nil {
		return service.MakeTemporary(fmt.Errorf("stream: %w", err))
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("Close: %w", err)
	}
	if remote >= 0 && offset+n != remote {
		return service.MakeTemporary(fmt.Errorf("stream: %w (%d/%d bytes)", io.ErrUnexpectedEOF, offset+n, remote))
	}
	return nil
}

func localSize(path string) (int64, bool, error) {
	info, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("Stat: %w", err)
	}
	if info.IsDir() {
		return 0, false, fmt.Errorf("%s is a directory", path)
	}
	return info.Size(), true, nil
}

// remoteLength returns the total length of the remote file (-1 if unknown)
func remoteLength(resp *http.Response, offset, expected int64) (int64, error) {
	switch resp.StatusCode {
	case http.StatusPartialContent:
		if total, ok := contentRangeTotal(resp.Header.Get("Content-Range")); ok {
			return total, nil
		}
		if resp.ContentLength >= 0 {
			return offset + resp.ContentLength, nil
		}
	case http.StatusRequestedRangeNotSatisfiable:
		if total, ok := contentRangeTotal(resp.Header.Get("Content-Range")); ok {
			return total, nil
		}
		if expected > 0 {
			return expected, nil
		}
		return 0, service.NewHTTPError(resp)
	default:
		if resp.ContentLength >= 0 {
			return resp.ContentLength, nil
		}
	}
	if expected > 0 {
		return expected, nil
	}
	return -1, nil
}

// contentRangeTotal parses "bytes a-b/total" or "bytes */total"
func contentRangeTotal(h string) (int64, bool) {
	i := strings.LastIndexByte(h, '/')
	if i < 0 || !strings.HasPrefix(h, "bytes ") {
		return 0, false
	}
	total, err := strconv.ParseInt(strings.TrimSpace(h[i+1:]), 10, 64)
	if err != nil {
		return 0, false
	}
	return total, true
}

func filenameFromDisposition(h string) string {
	i := strings.Index(h, "filename=")
	if i < 0 {
		return ""
	}
	return strings.Trim(h[i+len("filename="):], `"; `)
}
