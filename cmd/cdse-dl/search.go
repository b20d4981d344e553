package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/airbusgeo/cdse-dl/common"
	"github.com/airbusgeo/cdse-dl/interface/catalog/odata"
	"github.com/airbusgeo/cdse-dl/interface/catalog/opensearch"
	"github.com/airbusgeo/cdse-dl/service"
	"github.com/airbusgeo/cdse-dl/service/geometry"
	"github.com/airbusgeo/cdse-dl/service/log"
	"github.com/go-spatial/geom"
	"github.com/spf13/cobra"
)

type searchConfig struct {
	Collection      string
	Name            string
	ProductID       string
	Date            string
	PublicationDate string
	Area            string
	Attributes      []string
	Top             int
	Skip            int
	Limit           int
	OrderBy         string
	Order           string
	Expand          string
	Deleted         bool
	DeletionCause   string
	Hits            bool
	Output          string

	OpenSearch  bool
	CloudCover  string
	ProductType string
}

func newSearchCmd() *cobra.Command {
	var cfg searchConfig
	cmd := &cobra.Command{
		Use:   "search",
		Short: "Search products in the catalogue",
		Long: `Search products in the OData catalogue (or the OpenSearch catalogue with --opensearch)
and print them as json.

Dates are intervals "start/end" (an end can be omitted: "2024-01-01/").
Area is a WKT geometry or @file.geojson.
Attributes are "name<op>value" with op in =, !=, <, <=, >, >= (e.g. cloudCover<=20).`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSearch(cmd.Context(), cfg)
		},
	}
	f := cmd.Flags()
	f.StringVarP(&cfg.Collection, "collection", "c", "", "collection (SENTINEL-1, SENTINEL-2...)")
	f.StringVar(&cfg.Name, "name", "", "product name (* for a partial match)")
	f.StringVar(&cfg.ProductID, "id", "", "product id")
	f.StringVar(&cfg.Date, "date", "", "sensing interval")
	f.StringVar(&cfg.PublicationDate, "publication-date", "", "publication interval")
	f.StringVar(&cfg.Area, "area", "", "area of interest (WKT or @file.geojson)")
	f.StringArrayVarP(&cfg.Attributes, "attribute", "a", nil, "attribute filter (repeatable)")
	f.IntVar(&cfg.Top, "top", 0, "page size")
	f.IntVar(&cfg.Skip, "skip", 0, "number of products to skip")
	f.IntVar(&cfg.Limit, "limit", 20, "maximum number of products (0: all)")
	f.StringVar(&cfg.OrderBy, "order-by", "", "ordering field (ContentDate/Start, PublicationDate...)")
	f.StringVar(&cfg.Order, "order", "", "asc or desc")
	f.StringVar(&cfg.Expand, "expand", "", "Attributes, Assets or Locations")
	f.BoolVar(&cfg.Deleted, "deleted", false, "search the deleted products")
	f.StringVar(&cfg.DeletionCause, "deletion-cause", "", "deletion cause (with --deleted)")
	f.BoolVar(&cfg.Hits, "hits", false, "print the number of matching products only")
	f.StringVarP(&cfg.Output, "output", "o", "", "json file to write the products to (default: stdout)")
	f.BoolVar(&cfg.OpenSearch, "opensearch", false, "use the OpenSearch catalogue")
	f.StringVar(&cfg.CloudCover, "cloud-cover", "", "cloud cover interval min,max")
	f.StringVar(&cfg.ProductType, "product-type", "", "product type")
	return cmd
}

func parseArea(area string) (interface{}, error) {
	if !strings.HasPrefix(area, "@") {
		return area, nil
	}
	b, err := os.ReadFile(area[1:])
	if err != nil {
		return nil, fmt.Errorf("parseArea: %w", err)
	}
	return geometry.UnmarshalGeometry(b)
}

func parseCloudCover(s string) (*[2]int, error) {
	if s == "" {
		return nil, nil
	}
	lo, hi, ok := strings.Cut(s, ",")
	if !ok {
		return nil, &service.ConfigError{Msg: "--cloud-cover must be min,max"}
	}
	var cc [2]int
	var err1, err2 error
	cc[0], err1 = strconv.Atoi(strings.TrimSpace(lo))
	cc[1], err2 = strconv.Atoi(strings.TrimSpace(hi))
	if err1 != nil || err2 != nil {
		return nil, &service.ConfigError{Msg: "--cloud-cover must be min,max"}
	}
	return &cc, nil
}

func optional(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func runSearch(ctx context.Context, cfg searchConfig) error {
	var area interface{}
	if cfg.Area != "" {
		var err error
		if area, err = parseArea(cfg.Area); err != nil {
			return err
		}
	}
	if cfg.OpenSearch {
		return runOpenSearch(ctx, cfg, area)
	}

	client := odata.NewClient(nil)
	q := odata.Query{
		Collection:      cfg.Collection,
		Name:            cfg.Name,
		ProductID:       cfg.ProductID,
		Date:            optional(cfg.Date),
		PublicationDate: optional(cfg.PublicationDate),
		Area:            area,
		DeletionCause:   cfg.DeletionCause,
		Top:             cfg.Top,
		Skip:            cfg.Skip,
		OrderBy:         cfg.OrderBy,
		Order:           cfg.Order,
		Expand:          cfg.Expand,
	}
	cloudCover, err := parseCloudCover(cfg.CloudCover)
	if err != nil {
		return err
	}
	if cloudCover != nil {
		for _, bound := range []struct {
			pattern string
			value   float64
		}{{odata.PatternGte, float64(cloudCover[0])}, {odata.PatternLte, float64(cloudCover[1])}} {
			filter, err := odata.AttributeFilter(bound.pattern, common.TagCloudCover, bound.value)
			if err != nil {
				return err
			}
			q.Filters = append(q.Filters, filter)
		}
	}
	if cfg.ProductType != "" {
		filter, err := odata.AttributeFilter(odata.PatternEq, common.TagProductType, cfg.ProductType)
		if err != nil {
			return err
		}
		q.Filters = append(q.Filters, filter)
	}
	for _, expr := range cfg.Attributes {
		if cfg.Collection == "" {
			return &service.ConfigError{Msg: "--collection is required to filter on attributes"}
		}
		filter, err := client.ParseAttributeFilter(ctx, cfg.Collection, expr)
		if err != nil {
			return err
		}
		q.Filters = append(q.Filters, filter)
	}

	var search *odata.Search
	if cfg.Deleted {
		search, err = client.DeletedProductSearch(q)
	} else {
		search, err = client.ProductSearch(q)
	}
	if err != nil {
		return err
	}

	if cfg.Hits {
		n, err := search.Hits(ctx)
		if err != nil {
			return err
		}
		fmt.Println(n)
		return nil
	}

	var products []common.Product
	if cfg.Limit <= 0 {
		products, err = search.All(ctx)
	} else {
		products, err = search.Get(ctx, cfg.Limit)
	}
	if err != nil {
		return err
	}
	return writeJSON(products, cfg.Output)
}

func runOpenSearch(ctx context.Context, cfg searchConfig, area interface{}) error {
	p := opensearch.Params{
		Name:            cfg.Name,
		ProductID:       cfg.ProductID,
		Date:            optional(cfg.Date),
		PublicationDate: optional(cfg.PublicationDate),
		Geometry:        area,
		ProductType:     cfg.ProductType,
	}
	cloudCover, err := parseCloudCover(cfg.CloudCover)
	if err != nil {
		return err
	}
	p.CloudCover = cloudCover
	if g, ok := area.(geom.Geometry); ok {
		if _, err := geometry.ToWKT(g); errors.Is(err, geometry.ErrMultiPolygon) {
			box, err := geometry.Bounds(g)
			if err != nil {
				return err
			}
			log.Logger(ctx).Sugar().Warnf("multipolygons are not supported: searching in the bounding box %v", box)
			p.Geometry, p.Box = nil, &box
		}
	}
	search, err := opensearch.NewClient(nil).Search(cfg.Collection, p)
	if err != nil {
		return err
	}
	if cfg.Hits {
		n, err := search.Hits(ctx)
		if err != nil {
			return err
		}
		fmt.Println(n)
		return nil
	}
	limit := cfg.Limit
	if limit <= 0 {
		limit = opensearch.DefaultLimit
	}
	products, err := search.Get(ctx, cfg.Top, limit, "", "")
	if err != nil {
		return err
	}
	return writeJSON(products, cfg.Output)
}

// writeJSON writes v in output, or on stdout if output is empty
func writeJSON(v interface{}, output string) error {
	if output != "" {
		return service.ToJSON(v, filepath.Dir(output), filepath.Base(output))
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
