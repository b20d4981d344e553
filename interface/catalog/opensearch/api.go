package opensearch

// Opensearch specificiations https://github.com/dewitt/opensearch/blob/master/opensearch-1-1-draft-6.md

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	neturl "net/url"
	"strings"
	"time"

	"github.com/airbusgeo/cdse-dl/common"
	"github.com/airbusgeo/cdse-dl/interface/catalog/odata"
	"github.com/airbusgeo/cdse-dl/service"
	"github.com/airbusgeo/cdse-dl/service/geometry"
	"github.com/airbusgeo/cdse-dl/service/log"
	"github.com/go-spatial/geom"
)

const (
	// DefaultBaseURL is the root of the resto api
	DefaultBaseURL  = "https://catalogue.dataspace.copernicus.eu/resto/api"
	DefaultPageSize = 1000
	DefaultLimit    = 1000
)

// Client of the OpenSearch (resto) catalogue
type Client struct {
	doer    service.Doer
	baseURL string
	retries int
}

// ClientOption configures a Client
type ClientOption func(*Client)

// WithBaseURL overrides DefaultBaseURL
func WithBaseURL(url string) ClientOption {
	return func(c *Client) { c.baseURL = strings.TrimRight(url, "/") }
}

// WithRetries sets the number of attempts of each request
func WithRetries(n int) ClientOption {
	return func(c *Client) {
		if n > 0 {
			c.retries = n
		}
	}
}

// NewClient creates a client. If doer is nil, http.DefaultClient is used.
func NewClient(doer service.Doer, opts ...ClientOption) *Client {
	if doer == nil {
		doer = http.DefaultClient
	}
	c := &Client{doer: doer, baseURL: DefaultBaseURL, retries: 3}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Params of a search. Zero values are ignored.
type Params struct {
	// Name is the product identifier
	Name      string
	ProductID string
	// Date and PublicationDate accept any value supported by odata.ParseDatetimeRange
	Date            interface{}
	PublicationDate interface{}
	// Geometry is a WKT string, a geojson map or a geom.Geometry
	Geometry interface{}
	// Point is [lon, lat], optionally buffered by Radius (meters)
	Point          *[2]float64
	Radius         float64
	Box            *[4]float64
	CloudCover     *[2]int
	Instrument     string
	ProductType    string
	OrbitDirection string
	Resolution     string
	SensorMode     string
	Status         string
	// Extra parameters. snake_case keys are converted to camelCase.
	Extra map[string]string
}

func snakeToCamel(s string) string {
	components := strings.Split(s, "_")
	for i := 1; i < len(components); i++ {
		if c := components[i]; c != "" {
			components[i] = strings.ToUpper(c[:1]) + strings.ToLower(c[1:])
		}
	}
	return strings.Join(components, "")
}

func formatDate(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

// Values returns the query parameters
func (p Params) Values() (neturl.Values, error) {
	v := neturl.Values{}
	set := func(k, value string) {
		if value != "" {
			v.Set(k, value)
		}
	}
	set("productIdentifier", p.Name)
	set("identifier", p.ProductID)
	for _, d := range []struct {
		value      interface{}
		start, end string
	}{
		{p.Date, "startDate", "completionDate"},
		{p.PublicationDate, "publishedAfter", "publishedBefore"},
	} {
		if d.value == nil {
			continue
		}
		r, err := odata.ParseDatetimeRange(d.value)
		if err != nil {
			return nil, fmt.Errorf("Values: %w", err)
		}
		if !r.Start.IsZero() {
			v.Set(d.start, formatDate(r.Start))
		}
		if !r.End.IsZero() {
			v.Set(d.end, formatDate(r.End))
		}
	}
	if p.Geometry != nil {
		wkt, err := toWKT(p.Geometry)
		if err != nil {
			return nil, fmt.Errorf("Values: %w", err)
		}
		v.Set("geometry", wkt)
	}
	if p.Point != nil {
		v.Set("lon", fmt.Sprint(p.Point[0]))
		v.Set("lat", fmt.Sprint(p.Point[1]))
		if p.Radius > 0 {
			v.Set("radius", fmt.Sprint(p.Radius))
		}
	}
	if p.Box != nil {
		v.Set("box", fmt.Sprintf("%v,%v,%v,%v", p.Box[0], p.Box[1], p.Box[2], p.Box[3]))
	}
	if p.CloudCover != nil {
		v.Set("cloudCover", fmt.Sprintf("[%d,%d]", p.CloudCover[0], p.CloudCover[1]))
	}
	set("instrument", p.Instrument)
	set("productType", p.ProductType)
	set("sensorMode", p.SensorMode)
	set("orbitDirection", p.OrbitDirection)
	set("resolution", p.Resolution)
	set("status", p.Status)
	for k, value := range p.Extra {
		if k = snakeToCamel(k); v.Get(k) == "" {
			v.Set(k, value)
		}
	}
	return v, nil
}

func toWKT(g interface{}) (string, error) {
	switch g := g.(type) {
	case string:
		if _, err := geometry.FromWKT(g); err != nil {
			return "", err
		}
		return g, nil
	case map[string]interface{}:
		gg, err := geometry.FromMap(g)
		if err != nil {
			return "", err
		}
		return geometry.ToWKT(gg)
	case geom.Geometry:
		return geometry.ToWKT(g)
	}
	return "", fmt.Errorf("invalid geometry type: %T", g)
}

// Error is returned when the catalogue rejects a request
type Error struct {
	*service.HTTPError
	Message   string
	Reason    string
	RequestID string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s (Request ID: %s)", e.Message, e.Reason, e.RequestID)
}

func (e *Error) Unwrap() error { return e.HTTPError }

// toError parses the resto error detail
func toError(err error) error {
	var herr *service.HTTPError
	if !errors.As(err, &herr) {
		return err
	}
	detail := struct {
		Detail struct {
			ErrorMessage string `json:"ErrorMessage"`
			ErrorDetail  []struct {
				Msg string `json:"msg"`
			} `json:"ErrorDetail"`
			RequestID string `json:"RequestID"`
		} `json:"detail"`
	}{}
	if json.Unmarshal([]byte(herr.Body), &detail) != nil || detail.Detail.ErrorMessage == "" {
		return err
	}
	e := &Error{HTTPError: herr, Message: strings.TrimRight(detail.Detail.ErrorMessage, "."), RequestID: detail.Detail.RequestID}
	if len(detail.Detail.ErrorDetail) > 0 {
		e.Reason = detail.Detail.ErrorDetail[0].Msg
	}
	return e
}

// Search of products in a collection (all the collections if empty)
type Search struct {
	client     *Client
	collection string
	params     neturl.Values
}

// Search creates a search
func (c *Client) Search(collection string, p Params) (*Search, error) {
	params, err := p.Values()
	if err != nil {
		return nil, fmt.Errorf("OpenSearch.%w", err)
	}
	return &Search{client: c, collection: collection, params: params}, nil
}

// URL returns the search endpoint of the collection
func (s *Search) URL() string {
	if s.collection == "" {
		return s.client.baseURL + "/search.json"
	}
	return s.client.baseURL + "/collections/" + neturl.PathEscape(s.collection) + "/search.json"
}

type results struct {
	Properties struct {
		TotalResults *int `json:"totalResults"`
		Links        []struct {
			Rel  string `json:"rel"`
			Href string `json:"href"`
		} `json:"links"`
	} `json:"properties"`
	Features []common.Product `json:"features"`
}

func (r results) next() string {
	for _, link := range r.Properties.Links {
		if strings.EqualFold(link.Rel, "next") && link.Href != "" {
			return link.Href
		}
	}
	return ""
}

func (s *Search) get(ctx context.Context, url string, out interface{}) error {
	err := service.Retriable(ctx, func() error {
		return service.GetJSON(ctx, s.client.doer, url, out)
	}, time.Second, s.client.retries)
	return toError(err)
}

// Get returns up to limit products (DefaultLimit if <= 0), following the next links.
// sortParam and sortOrder are optional.
func (s *Search) Get(ctx context.Context, pageSize, limit int, sortParam, sortOrder string) ([]common.Product, error) {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	if limit <= 0 {
		limit = DefaultLimit
	}
	params := neturl.Values{}
	for k, v := range s.params {
		params[k] = v
	}
	params.Set("maxRecords", fmt.Sprint(min(pageSize, limit)))
	if sortParam != "" {
		params.Set("sortParam", sortParam)
	}
	if sortOrder != "" {
		params.Set("sortOrder", sortOrder)
	}

	var products []common.Product
	url := s.URL() + "?" + params.Encode()
	for page := 1; url != ""; page++ {
		log.Logger(ctx).Sugar().Debugf("[OpenSearch] Search page %d", page)
		var r results
		if err := s.get(ctx, url, &r); err != nil {
			return nil, fmt.Errorf("OpenSearch.Get: %w", err)
		}
		products = append(products, r.Features...)
		if len(products) >= limit {
			return products[:limit], nil
		}
		url = r.next()
	}
	return products, nil
}

// Hits returns the number of products matching the search
func (s *Search) Hits(ctx context.Context) (int, error) {
	params := neturl.Values{}
	for k, v := range s.params {
		params[k] = v
	}
	params.Set("maxRecords", "1")
	var r results
	if err := s.get(ctx, s.URL()+"?"+params.Encode(), &r); err != nil {
		return 0, fmt.Errorf("OpenSearch.Hits: %w", err)
	}
	if r.Properties.TotalResults == nil {
		return 0, fmt.Errorf("OpenSearch.Hits: totalResults missing in response")
	}
	return *r.Properties.TotalResults, nil
}
