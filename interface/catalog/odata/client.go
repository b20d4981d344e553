package odata

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/airbusgeo/cdse-dl/common"
	"github.com/airbusgeo/cdse-dl/service"
)

const (
	// DefaultBaseURL is the root of the OData catalogue
	DefaultBaseURL    = "https://catalogue.dataspace.copernicus.eu/odata/v1"
	defaultRetries    = 3
	defaultRetrySleep = time.Second
)

// Client of the OData catalogue. The catalogue does not require authentication,
// but an auth.Session can be used as Doer.
type Client struct {
	doer       service.Doer
	baseURL    string
	retries    int
	retrySleep time.Duration

	attrMu     sync.Mutex
	attributes CollectionAttributes
}

// ClientOption configures a Client
type ClientOption func(*Client)

// WithBaseURL overrides DefaultBaseURL
func WithBaseURL(url string) ClientOption {
	return func(c *Client) { c.baseURL = strings.TrimRight(url, "/") }
}

// WithRetries sets the number of attempts of each request and the initial delay between them
func WithRetries(n int, sleep time.Duration) ClientOption {
	return func(c *Client) {
		if n > 0 {
			c.retries, c.retrySleep = n, sleep
		}
	}
}

// NewClient creates a client of the OData catalogue. If doer is nil, http.DefaultClient is used.
func NewClient(doer service.Doer, opts ...ClientOption) *Client {
	if doer == nil {
		doer = http.DefaultClient
	}
	c := &Client{doer: doer, baseURL: DefaultBaseURL, retries: defaultRetries, retrySleep: defaultRetrySleep}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Product returns the product with this name and/or id in the collection (both optional).
// It returns common.ErrProductNotFound if there is no such product.
func (c *Client) Product(ctx context.Context, collection, name, id string) (common.Product, error) {
	if name == "" && id == "" {
		return common.Product{}, fmt.Errorf("Product: name or id must be provided")
	}
	s, err := c.ProductSearch(Query{Collection: collection, Name: name, ProductID: id})
	if err != nil {
		return common.Product{}, fmt.Errorf("Product.%w", err)
	}
	products, err := s.Get(ctx, 1)
	if err != nil {
		return common.Product{}, fmt.Errorf("Product.%w", err)
	}
	if len(products) == 0 {
		if name == "" {
			name = id
		}
		return common.Product{}, common.ErrProductNotFound{Product: name}
	}
	return products[0], nil
}
