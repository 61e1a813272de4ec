// Package panel builds the detail panel content for a selected device.
package panel

import (
	"net/url"
	"strings"

	"aed_map/core-go/internal/catalog"
)

const directionsURL = "https://www.google.com/maps/dir/"

type Field struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

type View struct {
	DeviceID      string                `json:"device_id"`
	Title         string                `json:"title"`
	Fields        []Field               `json:"fields"`
	Accessibility catalog.Accessibility `json:"accessibility"`
	NavigateLabel string                `json:"navigate_label"`
	NavigateURL   string                `json:"navigate_url"`
}

func Build(d catalog.Device) View {
	access := "Publiek"
	if d.Accessibility == catalog.Private {
		access = "Privaat"
	}
	return View{
		DeviceID: d.ID,
		Title:    d.Name,
		Fields: []Field{
			{Label: "Batterij Status", Value: d.BatteryPercent},
			{Label: "Laatste Onderhoud", Value: d.LastMaintenance},
			{Label: "Toegankelijkheid", Value: access},
		},
		Accessibility: d.Accessibility,
		NavigateLabel: "Navigeer hier naartoe",
		NavigateURL:   NavigationURL(d),
	}
}

// NavigationURL opens turn-by-turn directions to the device.
func NavigationURL(d catalog.Device) string {
	dest := url.QueryEscape(strings.TrimSpace(d.Latitude)) + "," + url.QueryEscape(strings.TrimSpace(d.Longitude))
	return directionsURL + "?api=1&destination=" + dest
}
