package geometry

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-spatial/geom"
	"github.com/go-spatial/geom/encoding/geojson"
	geomwkt "github.com/go-spatial/geom/encoding/wkt"
)

// ErrMultiPolygon is returned by the callers that only accept single geometries
var ErrMultiPolygon = errors.New("multipolygon not supported")

func mergeMultiPolygons(g geom.Geometry, mp *geom.MultiPolygon) error {
	switch g := g.(type) {
	case geom.MultiPolygon:
		*mp = append(*mp, g.Polygons()...)
	case geom.Polygon:
		*mp = append(*mp, g.LinearRings())
	case geom.Collection:
		for _, g := range g.Geometries() {
			if err := mergeMultiPolygons(g, mp); err != nil {
				return err
			}
		}
	}
	return nil
}

// UnmarshalGeometry decodes a geojson geometry.
// FeatureCollections are merged into a multipolygon, Features are replaced by their geometry
func UnmarshalGeometry(data []byte) (geom.Geometry, error) {
	var g geojson.Geometry
	if err := g.UnmarshalJSON(data); err != nil {
		return nil, err
	}
	switch geo := g.Geometry.(type) {
	case geojson.FeatureCollection:
		var mp geom.MultiPolygon
		for _, f := range geo.Features {
			if err := mergeMultiPolygons(f.Geometry.Geometry, &mp); err != nil {
				return nil, err
			}
		}
		return mp, nil
	case geojson.Feature:
		return geo.Geometry.Geometry, nil
	default:
		return g.Geometry, nil
	}
}

// FromWKT decodes a WKT string
func FromWKT(wkt string) (geom.Geometry, error) {
	g, err := geomwkt.DecodeString(wkt)
	if err != nil {
		return nil, fmt.Errorf("FromWKT.DecodeString: %w", err)
	}
	return g, nil
}

// FromMap decodes a geojson geometry given as a generic map (e.g. {"type":"Polygon","coordinates":[...]})
func FromMap(m map[string]interface{}) (geom.Geometry, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("FromMap.Marshal: %w", err)
	}
	return UnmarshalGeometry(b)
}

// ToWKT encodes a single geometry (point, linestring or polygon) to WKT.
// Multipolygons return ErrMultiPolygon.
func ToWKT(g geom.Geometry) (string, error) {
	switch g.(type) {
	case geom.MultiPolygon, *geom.MultiPolygon:
		return "", ErrMultiPolygon
	case nil:
		return "", errors.New("ToWKT: empty geometry")
	}
	wkt, err := geomwkt.EncodeString(g)
	if err != nil {
		return "", fmt.Errorf("ToWKT.EncodeString: %w", err)
	}
	return wkt, nil
}

// Bounds returns the bounding box of the geometry as [minx, miny, maxx, maxy]
func Bounds(g geom.Geometry) ([4]float64, error) {
	ext, err := geom.NewExtentFromGeometry(g)
	if err != nil {
		return [4]float64{}, fmt.Errorf("Bounds: %w", err)
	}
	return [4]float64{ext.MinX(), ext.MinY(), ext.MaxX(), ext.MaxY()}, nil
}
