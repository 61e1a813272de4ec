package geo

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

var (
	ErrNotFinite  = errors.New("not a finite number")
	ErrOutOfRange = errors.New("out of range")
)

// CoordinateParseError reports a latitude or longitude that is not a usable
// decimal-degree number.
type CoordinateParseError struct {
	Field string
	Value string
	Err   error
}

func (e *CoordinateParseError) Error() string {
	return fmt.Sprintf("parse %s %q: %v", e.Field, e.Value, e.Err)
}

func (e *CoordinateParseError) Unwrap() error { return e.Err }

// ParseLatLng parses a text coordinate pair. NaN, infinities and values
// outside [-90,90] / [-180,180] are rejected.
func ParseLatLng(lat, lng string) (LatLng, error) {
	la, err := parseDegrees("latitude", lat, 90)
	if err != nil {
		return LatLng{}, err
	}
	lo, err := parseDegrees("longitude", lng, 180)
	if err != nil {
		return LatLng{}, err
	}
	return LatLng{Lat: la, Lng: lo}, nil
}

func parseDegrees(field, raw string, limit float64) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		var numErr *strconv.NumError
		if errors.As(err, &numErr) {
			err = numErr.Err
		}
		return 0, &CoordinateParseError{Field: field, Value: raw, Err: err}
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, &CoordinateParseError{Field: field, Value: raw, Err: ErrNotFinite}
	}
	if v < -limit || v > limit {
		return 0, &CoordinateParseError{Field: field, Value: raw, Err: ErrOutOfRange}
	}
	return v, nil
}
