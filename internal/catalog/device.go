// Package catalog holds the AED device records the map renders, their stable
// identifiers, the accessibility filter and the sources the catalog is loaded
// from.
package catalog

import (
	"fmt"
	"strings"

	"aed_map/core-go/internal/geo"
)

type Accessibility string

const (
	Public  Accessibility = "Public"
	Private Accessibility = "Private"
)

// ParseAccessibility maps free text onto the two known classes. Anything
// that is not "Private" is treated as public.
func ParseAccessibility(s string) Accessibility {
	if strings.EqualFold(strings.TrimSpace(s), string(Private)) {
		return Private
	}
	return Public
}

// Device is one AED as supplied by the catalog. ID is a surrogate key that
// stays the same for the same entry across filter changes and reloads;
// Name is display text only and may repeat.
type Device struct {
	ID              string        `json:"id"`
	Name            string        `json:"name"`
	Latitude        string        `json:"latitude"`
	Longitude       string        `json:"longitude"`
	BatteryPercent  string        `json:"battery_percent"`
	LastMaintenance string        `json:"last_maintenance"`
	Accessibility   Accessibility `json:"accessibility"`
}

// Position parses the device's text coordinates.
func (d Device) Position() (geo.LatLng, error) {
	return geo.ParseLatLng(d.Latitude, d.Longitude)
}

type Filter string

const (
	FilterAll     Filter = "all"
	FilterPublic  Filter = "public"
	FilterPrivate Filter = "private"
)

func ParseFilter(s string) (Filter, error) {
	switch f := Filter(strings.ToLower(strings.TrimSpace(s))); f {
	case "":
		return FilterAll, nil
	case FilterAll, FilterPublic, FilterPrivate:
		return f, nil
	default:
		return "", fmt.Errorf("unknown filter %q", s)
	}
}

func (f Filter) Match(d Device) bool {
	switch f {
	case FilterPublic:
		return d.Accessibility == Public
	case FilterPrivate:
		return d.Accessibility == Private
	default:
		return true
	}
}

// Apply returns a new slice with the devices that match f, in order.
func Apply(devices []Device, f Filter) []Device {
	out := make([]Device, 0, len(devices))
	for _, d := range devices {
		if f.Match(d) {
			out = append(out, d)
		}
	}
	return out
}

// IndexOf returns the position of the device with the given ID, or -1.
func IndexOf(devices []Device, id string) int {
	if id == "" {
		return -1
	}
	for i := range devices {
		if devices[i].ID == id {
			return i
		}
	}
	return -1
}
