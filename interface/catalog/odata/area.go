package odata

import (
	"errors"
	"fmt"

	"github.com/airbusgeo/cdse-dl/service/geometry"
	"github.com/go-spatial/geom"
)

// AreaPattern is the filter of the products intersecting an area given as WKT
const AreaPattern = "OData.CSC.Intersects(area=geography'SRID=4326;%s')"

// AreaFilter returns the filter of the products intersecting the area.
// The area is a WKT string, a geojson map or a geom.Geometry. MultiPolygons are not supported.
func AreaFilter(area interface{}) (Filter, error) {
	var g geom.Geometry
	var err error
	switch a := area.(type) {
	case string:
		if g, err = geometry.FromWKT(a); err != nil {
			return Filter{}, fmt.Errorf("Could not parse str from wkt to geometry")
		}
	case map[string]interface{}:
		if g, err = geometry.FromMap(a); err != nil {
			return Filter{}, fmt.Errorf("Could not parse dict to geometry")
		}
	case geom.Pointer, geom.MultiPointer, geom.LineStringer, geom.MultiLineStringer,
		geom.Polygoner, geom.MultiPolygoner, geom.Collectioner:
		g = a
	default:
		return Filter{}, fmt.Errorf("Invalid value type: %T", area)
	}
	wkt, err := geometry.ToWKT(g)
	if errors.Is(err, geometry.ErrMultiPolygon) {
		return Filter{}, err
	}
	if err != nil {
		return Filter{}, fmt.Errorf("AreaFilter: %w", err)
	}
	return RawFilter(fmt.Sprintf(AreaPattern, wkt)), nil
}
