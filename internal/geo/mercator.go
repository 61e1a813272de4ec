package geo

import "math"

const (
	tileSize = 256.0
	maxLat   = 85.0511287798
)

// Size is a map's drawable area in CSS pixels.
type Size struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

func (s Size) Valid() bool { return s.Width > 0 && s.Height > 0 }

func worldScale(zoom float64) float64 { return tileSize * math.Exp2(zoom) }

func projectX(lng float64) float64 { return (lng + 180) / 360 }

func projectY(lat float64) float64 {
	lat = math.Max(-maxLat, math.Min(maxLat, lat))
	r := lat * math.Pi / 180
	return (1 - math.Log(math.Tan(math.Pi/4+r/2))/math.Pi) / 2
}

func unprojectX(x float64) float64 { return x*360 - 180 }

func unprojectY(y float64) float64 {
	return (2*math.Atan(math.Exp(math.Pi*(1-2*y))) - math.Pi/2) * 180 / math.Pi
}

// BoundsZoom returns the largest integer zoom at which b fits entirely in a
// map of the given size. A degenerate box (a single point) yields +Inf.
func BoundsZoom(b Bounds, size Size) float64 {
	if !size.Valid() {
		return 0
	}
	dx := projectX(b.NorthEast.Lng) - projectX(b.SouthWest.Lng)
	dy := projectY(b.SouthWest.Lat) - projectY(b.NorthEast.Lat)

	zoom := math.Inf(1)
	if dx > 0 {
		zoom = math.Min(zoom, math.Log2(float64(size.Width)/(tileSize*dx)))
	}
	if dy > 0 {
		zoom = math.Min(zoom, math.Log2(float64(size.Height)/(tileSize*dy)))
	}
	if math.IsInf(zoom, 1) {
		return zoom
	}
	return math.Floor(zoom)
}

// ViewBounds is the area a map of the given size shows around center at zoom.
func ViewBounds(center LatLng, zoom float64, size Size) Bounds {
	s := worldScale(zoom)
	cx := projectX(center.Lng) * s
	cy := projectY(center.Lat) * s
	hw := float64(size.Width) / 2
	hh := float64(size.Height) / 2

	return Bounds{
		SouthWest: LatLng{Lat: unprojectY((cy + hh) / s), Lng: unprojectX((cx - hw) / s)},
		NorthEast: LatLng{Lat: unprojectY((cy - hh) / s), Lng: unprojectX((cx + hw) / s)},
	}
}
