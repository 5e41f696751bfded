package geo

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/golang/geo/s2"

	"github.com/batikanor/geoproof/internal/common"
)

// EarthRadiusKm is the mean Earth radius used for area estimates
const EarthRadiusKm = 6371.0088

// BBox is a WGS84 bounding box in degrees
type BBox struct {
	MinLon float64 `json:"minLon"`
	MinLat float64 `json:"minLat"`
	MaxLon float64 `json:"maxLon"`
	MaxLat float64 `json:"maxLat"`
}

// Validate checks that the box is finite, non-degenerate and within WGS84 range
func (b BBox) Validate() error {
	for _, v := range []float64{b.MinLon, b.MinLat, b.MaxLon, b.MaxLat} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: non-finite coordinate in %s", common.ErrInvalidBBox, b)
		}
	}
	if b.MinLon >= b.MaxLon {
		return fmt.Errorf("%w: minLon (%f) must be less than maxLon (%f)", common.ErrInvalidBBox, b.MinLon, b.MaxLon)
	}
	if b.MinLat >= b.MaxLat {
		return fmt.Errorf("%w: minLat (%f) must be less than maxLat (%f)", common.ErrInvalidBBox, b.MinLat, b.MaxLat)
	}
	if b.MinLat < -90 || b.MaxLat > 90 {
		return fmt.Errorf("%w: latitude out of range [-90, 90]: %f..%f", common.ErrInvalidBBox, b.MinLat, b.MaxLat)
	}
	if b.MinLon < -180 || b.MaxLon > 180 {
		return fmt.Errorf("%w: longitude out of range [-180, 180]: %f..%f", common.ErrInvalidBBox, b.MinLon, b.MaxLon)
	}
	return nil
}

// Center returns the midpoint of the box
func (b BBox) Center() (lon, lat float64) {
	return (b.MinLon + b.MaxLon) / 2, (b.MinLat + b.MaxLat) / 2
}

// Contains reports whether the point lies inside the box (edges included)
func (b BBox) Contains(lon, lat float64) bool {
	return lon >= b.MinLon && lon <= b.MaxLon && lat >= b.MinLat && lat <= b.MaxLat
}

// Intersect returns the overlap of two boxes and whether it is non-empty
func (b BBox) Intersect(o BBox) (BBox, bool) {
	r := BBox{
		MinLon: math.Max(b.MinLon, o.MinLon),
		MinLat: math.Max(b.MinLat, o.MinLat),
		MaxLon: math.Min(b.MaxLon, o.MaxLon),
		MaxLat: math.Min(b.MaxLat, o.MaxLat),
	}
	return r, r.MinLon < r.MaxLon && r.MinLat < r.MaxLat
}

// AreaKm2 returns the spherical surface area of the box in square kilometres
func (b BBox) AreaKm2() float64 {
	rect := s2.RectFromLatLng(s2.LatLngFromDegrees(b.MinLat, b.MinLon)).
		AddPoint(s2.LatLngFromDegrees(b.MaxLat, b.MaxLon))
	return rect.Area() * EarthRadiusKm * EarthRadiusKm
}

// String renders the box as "minLon,minLat,maxLon,maxLat"
func (b BBox) String() string {
	return fmt.Sprintf("%.6f,%.6f,%.6f,%.6f", b.MinLon, b.MinLat, b.MaxLon, b.MaxLat)
}

// ParseBBox parses "minLon,minLat,maxLon,maxLat" and validates the result
func ParseBBox(s string) (BBox, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return BBox{}, fmt.Errorf("%w: expected minLon,minLat,maxLon,maxLat, got %q", common.ErrInvalidBBox, s)
	}
	var vals [4]float64
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return BBox{}, fmt.Errorf("%w: %v", common.ErrInvalidBBox, err)
		}
		vals[i] = v
	}
	b := BBox{MinLon: vals[0], MinLat: vals[1], MaxLon: vals[2], MaxLat: vals[3]}
	if err := b.Validate(); err != nil {
		return BBox{}, err
	}
	return b, nil
}
