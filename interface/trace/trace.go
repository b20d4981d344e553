// Package trace queries the traceability service of CDSE, which records the hash of every product
// and the events of its lifecycle (creation, obsolescence...)
package trace

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	neturl "net/url"
	"strings"
	"time"

	"github.com/airbusgeo/cdse-dl/service"
)

// DefaultBaseURL is the traces endpoint
const DefaultBaseURL = "https://trace.dataspace.copernicus.eu/api/v1/traces"

const defaultRetries = 3

// Trace is a record of the traceability service. Only the common fields are decoded,
// the whole record is available in Raw.
type Trace struct {
	ID       string    `json:"id"`
	Event    string    `json:"event"`
	Product  Product   `json:"product"`
	Obsolete bool      `json:"obsolete"`
	Created  time.Time `json:"created"`

	Raw json.RawMessage `json:"-"`
}

// Product is the product described by a trace
type Product struct {
	Name string `json:"name"`
	Size int64  `json:"size"`
	Hash []Hash `json:"hash"`
}

// Hash of a product
type Hash struct {
	Algorithm string `json:"algorithm"`
	Value     string `json:"value"`
}

// UnmarshalJSON keeps the raw record
func (t *Trace) UnmarshalJSON(b []byte) error {
	type trace Trace
	var tt trace
	if err := json.Unmarshal(b, &tt); err != nil {
		return err
	}
	*t = Trace(tt)
	t.Raw = append(json.RawMessage(nil), b...)
	return nil
}

// MarshalJSON returns the raw record if any
func (t Trace) MarshalJSON() ([]byte, error) {
	if len(t.Raw) > 0 {
		return t.Raw, nil
	}
	type trace Trace
	return json.Marshal(trace(t))
}

// ObsoleteParams filters the obsolete traces. Dates are ISO 8601.
type ObsoleteParams struct {
	NamePrefix string
	Start      string
	End        string
	After      string
}

// Client of the traceability service. No authentication is required.
type Client struct {
	doer    service.Doer
	baseURL string
	retries int
}

// NewClient creates a client. doer defaults to http.DefaultClient and baseURL to DefaultBaseURL.
func NewClient(doer service.Doer, baseURL string) *Client {
	if doer == nil {
		doer = http.DefaultClient
	}
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{doer: doer, baseURL: strings.TrimRight(baseURL, "/"), retries: defaultRetries}
}

func (c *Client) get(ctx context.Context, url string, out interface{}) error {
	body, err := service.GetBodyRetry(ctx, c.doer, url, c.retries)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("Unmarshal: %w", err)
	}
	return nil
}

// Obsolete returns the obsolete traces
func (c *Client) Obsolete(ctx context.Context, p ObsoleteParams) ([]Trace, error) {
	v := neturl.Values{}
	for k, val := range map[string]string{"name_prefix": p.NamePrefix, "start": p.Start, "end": p.End, "after": p.After} {
		if val != "" {
			v.Set(k, val)
		}
	}
	url := c.baseURL + "/obsolete"
	if len(v) > 0 {
		url += "?" + v.Encode()
	}
	var traces []Trace
	if err := c.get(ctx, url, &traces); err != nil {
		return nil, fmt.Errorf("Trace.Obsolete: %w", err)
	}
	return traces, nil
}

// FromID returns a trace by id
func (c *Client) FromID(ctx context.Context, id string) (Trace, error) {
	var t Trace
	if err := c.get(ctx, c.baseURL+"/"+neturl.PathEscape(id), &t); err != nil {
		return Trace{}, fmt.Errorf("Trace.FromID: %w", err)
	}
	return t, nil
}

// FromName returns the traces of a product
func (c *Client) FromName(ctx context.Context, productName string) ([]Trace, error) {
	var traces []Trace
	if err := c.get(ctx, c.baseURL+"/name/"+neturl.PathEscape(productName), &traces); err != nil {
		return nil, fmt.Errorf("Trace.FromName: %w", err)
	}
	return traces, nil
}

// FromHash returns the traces of the product having this hash
func (c *Client) FromHash(ctx context.Context, hash string) ([]Trace, error) {
	var traces []Trace
	if err := c.get(ctx, c.baseURL+"/hash/"+neturl.PathEscape(hash), &traces); err != nil {
		return nil, fmt.Errorf("Trace.FromHash: %w", err)
	}
	return traces, nil
}

// Validate returns whether the hash of the product matches its trace
func (c *Client) Validate(ctx context.Context, productName, hash string) (bool, error) {
	v := neturl.Values{"product_name": {productName}, "hash": {hash}}
	var res struct {
		Success bool `json:"success"`
	}
	if err := c.get(ctx, c.baseURL+"/validate?"+v.Encode(), &res); err != nil {
		return false, fmt.Errorf("Trace.Validate: %w", err)
	}
	return res.Success, nil
}
