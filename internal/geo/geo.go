// Package geo holds the coordinate and bounding-box math used by the map
// viewport: parsing device coordinates, fitting boxes and keeping a view
// inside its containment region.
package geo

import (
	"errors"
	"math"
)

// ErrNoPoints is returned by BoundsOf when there is nothing to cover.
var ErrNoPoints = errors.New("geo: no points")

// LatLng is a WGS84 coordinate in decimal degrees.
type LatLng struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Bounds is an axis-aligned box given by its south-west and north-east corners.
type Bounds struct {
	SouthWest LatLng `json:"south_west"`
	NorthEast LatLng `json:"north_east"`
}

// NewBounds builds a box from two arbitrary opposite corners.
func NewBounds(a, b LatLng) Bounds {
	return Bounds{
		SouthWest: LatLng{Lat: math.Min(a.Lat, b.Lat), Lng: math.Min(a.Lng, b.Lng)},
		NorthEast: LatLng{Lat: math.Max(a.Lat, b.Lat), Lng: math.Max(a.Lng, b.Lng)},
	}
}

// BoundsOf returns the minimal box covering every point.
func BoundsOf(points []LatLng) (Bounds, error) {
	if len(points) == 0 {
		return Bounds{}, ErrNoPoints
	}
	b := Bounds{SouthWest: points[0], NorthEast: points[0]}
	for _, p := range points[1:] {
		b = b.Extend(p)
	}
	return b, nil
}

func (b Bounds) Valid() bool {
	return b.SouthWest.Lat <= b.NorthEast.Lat && b.SouthWest.Lng <= b.NorthEast.Lng
}

func (b Bounds) Center() LatLng {
	return LatLng{
		Lat: (b.SouthWest.Lat + b.NorthEast.Lat) / 2,
		Lng: (b.SouthWest.Lng + b.NorthEast.Lng) / 2,
	}
}

func (b Bounds) LatSpan() float64 { return b.NorthEast.Lat - b.SouthWest.Lat }
func (b Bounds) LngSpan() float64 { return b.NorthEast.Lng - b.SouthWest.Lng }

// Contains reports whether p lies inside b, edges included.
func (b Bounds) Contains(p LatLng) bool {
	return p.Lat >= b.SouthWest.Lat && p.Lat <= b.NorthEast.Lat &&
		p.Lng >= b.SouthWest.Lng && p.Lng <= b.NorthEast.Lng
}

// ContainsBounds reports whether o lies entirely inside b.
func (b Bounds) ContainsBounds(o Bounds) bool {
	return b.Contains(o.SouthWest) && b.Contains(o.NorthEast)
}

func (b Bounds) Extend(p LatLng) Bounds {
	return Bounds{
		SouthWest: LatLng{Lat: math.Min(b.SouthWest.Lat, p.Lat), Lng: math.Min(b.SouthWest.Lng, p.Lng)},
		NorthEast: LatLng{Lat: math.Max(b.NorthEast.Lat, p.Lat), Lng: math.Max(b.NorthEast.Lng, p.Lng)},
	}
}

// Intersect clips b to o. ok is false when the boxes do not overlap.
func (b Bounds) Intersect(o Bounds) (Bounds, bool) {
	out := Bounds{
		SouthWest: LatLng{Lat: math.Max(b.SouthWest.Lat, o.SouthWest.Lat), Lng: math.Max(b.SouthWest.Lng, o.SouthWest.Lng)},
		NorthEast: LatLng{Lat: math.Min(b.NorthEast.Lat, o.NorthEast.Lat), Lng: math.Min(b.NorthEast.Lng, o.NorthEast.Lng)},
	}
	if !out.Valid() {
		return Bounds{}, false
	}
	return out, true
}

func (b Bounds) Translate(dLat, dLng float64) Bounds {
	return Bounds{
		SouthWest: LatLng{Lat: b.SouthWest.Lat + dLat, Lng: b.SouthWest.Lng + dLng},
		NorthEast: LatLng{Lat: b.NorthEast.Lat + dLat, Lng: b.NorthEast.Lng + dLng},
	}
}

// Constrain moves view the shortest distance needed to sit inside region,
// without animation. An axis wider than the region collapses to the region's
// extent on that axis.
func Constrain(view, region Bounds) Bounds {
	south, north := constrainAxis(view.SouthWest.Lat, view.NorthEast.Lat, region.SouthWest.Lat, region.NorthEast.Lat)
	west, east := constrainAxis(view.SouthWest.Lng, view.NorthEast.Lng, region.SouthWest.Lng, region.NorthEast.Lng)
	return Bounds{
		SouthWest: LatLng{Lat: south, Lng: west},
		NorthEast: LatLng{Lat: north, Lng: east},
	}
}

func constrainAxis(lo, hi, rlo, rhi float64) (float64, float64) {
	if hi-lo >= rhi-rlo {
		return rlo, rhi
	}
	if lo < rlo {
		hi += rlo - lo
		lo = rlo
	}
	if hi > rhi {
		lo -= hi - rhi
		hi = rhi
	}
	// float rounding on the second shift
	if lo < rlo {
		lo = rlo
	}
	return lo, hi
}
