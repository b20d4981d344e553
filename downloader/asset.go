package downloader

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"github.com/airbusgeo/cdse-dl/common"
	"github.com/airbusgeo/cdse-dl/service"
	"github.com/cavaliercoder/grab"
)

// DownloadAsset downloads an asset of a product (quicklook...) in dir and returns the path of the file.
// The name of the file is given by the server.
func (d *Downloader) DownloadAsset(ctx context.Context, asset common.Asset, dir string) (string, error) {
	if asset.DownloadLink == "" {
		return "", fmt.Errorf("DownloadAsset: asset %s has no download link", asset.Id)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("DownloadAsset.MkdirAll: %w", err)
	}
	header, err := d.session.AuthorizationHeader(ctx)
	if err != nil {
		return "", fmt.Errorf("DownloadAsset.%w", err)
	}
	req, err := grab.NewRequest(dir, asset.DownloadLink)
	if err != nil {
		return "", fmt.Errorf("DownloadAsset.NewRequest: %w", err)
	}
	req = req.WithContext(ctx)
	req.HTTPRequest.Header.Set("Authorization", header)

	client := grab.NewClient()
	client.HTTPClient = d.session.HTTPClient()
	resp := client.Do(req)

	displayProgress(ctx, asset.Type+":"+asset.Id, func() int64 { return resp.Size }, resp.BytesComplete, resp.Done, 0.05)

	if err := resp.Err(); err != nil {
		err = fmt.Errorf("DownloadAsset[%s]: %w", asset.DownloadLink, err)
		if resp.HTTPResponse == nil {
			return "", service.MakeTemporary(err)
		}
		switch resp.HTTPResponse.StatusCode {
		case http.StatusRequestTimeout, http.StatusTooManyRequests, http.StatusInternalServerError,
			http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			return "", service.MakeTemporary(err)
		default:
			return "", err
		}
	}
	return resp.Filename, nil
}
