package odata

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/airbusgeo/cdse-dl/common"
	"github.com/airbusgeo/cdse-dl/service"
	"github.com/airbusgeo/cdse-dl/service/log"
)

const (
	// MaxTop is the maximum number of products per page
	MaxTop = 1000
	// MaxSkip is the maximum number of products that can be skipped
	MaxSkip      = 10000
	defaultTop   = 20
	productsPath = "/Products"
	deletedPath  = "/DeletedProducts"
)

// DeletionCauses are the known values of DeletionCause
var DeletionCauses = []string{
	"Duplicated product",
	"Missing checksum",
	"Corrupted product",
	"Obsolete product or Other",
}

// Query are the parameters of a search. Zero values are ignored.
// Datetime fields accept any value supported by ParseDatetimeRange.
// Area accepts any value supported by AreaFilter.
type Query struct {
	Collection string
	// Name of the product. A leading or trailing "*" searches the products containing Name.
	Name            string
	ProductID       string
	Date            interface{}
	PublicationDate interface{}
	Area            interface{}
	Filters         []Filter

	// Deleted products only
	DeletionDate  interface{}
	OriginDate    interface{}
	DeletionCause string

	Skip    int
	Top     int
	OrderBy string
	Order   string
	Expand  string
	Select  []string
}

type endpoint struct {
	path    string
	orderBy []string
	expand  []string
	selects []string
}

var (
	productEndpoint = endpoint{
		path:    productsPath,
		orderBy: []string{"ContentDate/Start", "ContentDate/End", "PublicationDate", "ModificationDate"},
		expand:  []string{"Assets", "Attributes", "Locations"},
		selects: []string{"Id", "Name", "ContentType", "ContentLength", "OriginDate", "PublicationDate", "ModificationDate",
			"Online", "EvictionDate", "S3Path", "Checksum", "ContentDate", "Footprint", "GeoFootprint", "*"},
	}
	deletedEndpoint = endpoint{
		path:    deletedPath,
		orderBy: []string{"ContentDate/Start", "ContentDate/End", "DeletionDate"},
		expand:  []string{"Attributes"},
		selects: []string{"Id", "Name", "ContentType", "ContentLength", "OriginDate", "DeletionDate", "DeletionCause",
			"Checksum", "ContentDate", "Footprint", "GeoFootprint", "*"},
	}
	orders = []string{"asc", "desc"}
)

// Search is a validated query on an endpoint of the catalogue
type Search struct {
	client *Client
	path   string
	filter string
	skip   int
	top    int
	params url.Values
}

// ProductSearch creates a search of the published products
func (c *Client) ProductSearch(q Query) (*Search, error) {
	if q.DeletionDate != nil || q.OriginDate != nil || q.DeletionCause != "" {
		return nil, fmt.Errorf("ProductSearch: deletion parameters are only supported by DeletedProductSearch")
	}
	s, err := c.newSearch(productEndpoint, q)
	if err != nil {
		return nil, fmt.Errorf("ProductSearch: %w", err)
	}
	return s, nil
}

// DeletedProductSearch creates a search of the deleted products
func (c *Client) DeletedProductSearch(q Query) (*Search, error) {
	if q.PublicationDate != nil {
		return nil, fmt.Errorf("DeletedProductSearch: PublicationDate is not supported")
	}
	s, err := c.newSearch(deletedEndpoint, q)
	if err != nil {
		return nil, fmt.Errorf("DeletedProductSearch: %w", err)
	}
	return s, nil
}

func oneOf(value string, options []string) bool {
	for _, o := range options {
		if value == o {
			return true
		}
	}
	return false
}

func (c *Client) newSearch(e endpoint, q Query) (*Search, error) {
	if q.Top < 0 || q.Top > MaxTop {
		return nil, fmt.Errorf("top must be between 0 and %d", MaxTop)
	}
	if q.Skip < 0 || q.Skip > MaxSkip {
		return nil, fmt.Errorf("skip must be between 0 and %d", MaxSkip)
	}
	if q.Expand != "" && !oneOf(q.Expand, e.expand) {
		return nil, fmt.Errorf("Invalid `expand` '%s', must be one of %v", q.Expand, e.expand)
	}
	if q.OrderBy != "" && !oneOf(q.OrderBy, e.orderBy) {
		return nil, fmt.Errorf("Invalid `order_by` '%s', must be one of %v", q.OrderBy, e.orderBy)
	}
	if q.Order != "" && !oneOf(q.Order, orders) {
		return nil, fmt.Errorf("Invalid `order` '%s', must be one of %v", q.Order, orders)
	}
	for _, s := range q.Select {
		if !oneOf(s, e.selects) {
			return nil, fmt.Errorf("Invalid `select` '%s', must be one of %v", s, e.selects)
		}
	}
	filter, err := BuildFilter(q)
	if err != nil {
		return nil, err
	}

	s := &Search{client: c, path: e.path, filter: filter.String(), skip: q.Skip, top: q.Top, params: url.Values{}}
	if q.Expand != "" {
		s.params.Set("$expand", q.Expand)
	}
	if orderBy := formatOrderBy(q.OrderBy, q.Order); orderBy != "" {
		s.params.Set("$orderby", orderBy)
	}
	if len(q.Select) > 0 {
		s.params.Set("$select", strings.Join(q.Select, ","))
	}
	return s, nil
}

func formatOrderBy(orderBy, order string) string {
	if orderBy == "" {
		return ""
	}
	if order == "" {
		return orderBy
	}
	return orderBy + " " + order
}

// BuildFilter returns the $filter of the query (possibly empty)
func BuildFilter(q Query) (Filter, error) {
	var filters []Filter
	if q.Collection != "" {
		filters = append(filters, Eq("Collection/Name", q.Collection))
	}
	if q.Name != "" {
		if strings.HasPrefix(q.Name, "*") || strings.HasSuffix(q.Name, "*") {
			filters = append(filters, Contains("Name", strings.ReplaceAll(q.Name, "*", "")))
		} else {
			filters = append(filters, Eq("Name", q.Name))
		}
	}
	if q.ProductID != "" {
		filters = append(filters, Eq("Id", q.ProductID))
	}
	for _, d := range []struct {
		field string
		value interface{}
	}{
		{"ContentDate/Start", q.Date},
		{"PublicationDate", q.PublicationDate},
		{"DeletionDate", q.DeletionDate},
		{"OriginDate", q.OriginDate},
	} {
		if d.value == nil {
			continue
		}
		f, err := DatetimeFilter(d.field, d.value)
		if err != nil {
			return Filter{}, err
		}
		filters = append(filters, f)
	}
	if q.DeletionCause != "" {
		filters = append(filters, Eq("DeletionCause", q.DeletionCause))
	}
	if q.Area != nil {
		f, err := AreaFilter(q.Area)
		if err != nil {
			return Filter{}, err
		}
		filters = append(filters, f)
	}
	filters = append(filters, q.Filters...)
	return And(filters...), nil
}

// Filter returns the $filter of the search
func (s *Search) Filter() string {
	return s.filter
}

// URL returns the url of the first page, with top products (if > 0)
func (s *Search) URL(top int, count bool) string {
	params := url.Values{}
	for k, v := range s.params {
		params[k] = v
	}
	if s.filter != "" {
		params.Set("$filter", s.filter)
	}
	if s.skip > 0 {
		params.Set("$skip", strconv.Itoa(s.skip))
	}
	if top > 0 {
		params.Set("$top", strconv.Itoa(top))
	}
	if count {
		params.Set("$count", "True")
	}
	u := s.client.baseURL + s.path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	return u
}

type page struct {
	Value []common.Product `json:"value"`
	Next  string           `json:"@odata.nextLink"`
	Count *int             `json:"@odata.count"`
}

// Pages calls fn with each page of products, following @odata.nextLink.
// It stops when there is no more page, or when fn returns ErrStop or an error.
func (s *Search) Pages(ctx context.Context, fn func(products []common.Product) error) error {
	return s.pages(ctx, s.top, fn)
}

// ErrStop can be returned by the callback of Pages to stop the iteration
var ErrStop = errors.New("stop")

func (s *Search) pages(ctx context.Context, top int, fn func(products []common.Product) error) error {
	next, n := s.URL(top, false), 0
	for next != "" {
		n++
		log.Logger(ctx).Sugar().Debugf("[OData] Search page %d", n)
		var p page
		if err := s.client.getJSON(ctx, next, &p); err != nil {
			return fmt.Errorf("Search.Pages: %w", err)
		}
		if err := fn(p.Value); err != nil {
			if errors.Is(err, ErrStop) {
				return nil
			}
			return err
		}
		next = p.Next
	}
	return nil
}

// Get returns the products, up to limit if limit > 0.
// The page size is min(max(top, limit or 20), 1000).
func (s *Search) Get(ctx context.Context, limit int) ([]common.Product, error) {
	top := limit
	if top <= 0 {
		top = defaultTop
	}
	if s.top > top {
		top = s.top
	}
	if top > MaxTop {
		top = MaxTop
	}
	var products []common.Product
	err := s.pages(ctx, top, func(page []common.Product) error {
		products = append(products, page...)
		if limit > 0 && len(products) >= limit {
			products = products[:limit]
			return ErrStop
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return products, nil
}

// All returns all the products matching the search
func (s *Search) All(ctx context.Context) ([]common.Product, error) {
	return s.Get(ctx, 0)
}

// Hits returns the number of products matching the search
func (s *Search) Hits(ctx context.Context) (int, error) {
	var p page
	if err := s.client.getJSON(ctx, s.URL(1, true), &p); err != nil {
		return 0, fmt.Errorf("Search.Hits: %w", err)
	}
	if p.Count == nil {
		return 0, fmt.Errorf("Search.Hits: @odata.count missing in response")
	}
	return *p.Count, nil
}

func (c *Client) getJSON(ctx context.Context, url string, out interface{}) error {
	return service.Retriable(ctx, func() error {
		return service.GetJSON(ctx, c.doer, url, out)
	}, c.retrySleep, c.retries)
}
