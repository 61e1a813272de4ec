// Package marker turns the active device sequence into map markers and picks
// the icon variant for each one.
package marker

import (
	"aed_map/core-go/internal/catalog"
	"aed_map/core-go/internal/geo"
)

type Style string

const (
	StyleSelected Style = "selected"
	StylePrivate  Style = "private"
	StylePublic   Style = "public"
)

// Icon describes a marker image the renderer on the page should use.
type Icon struct {
	URL         string `json:"url"`
	ShadowURL   string `json:"shadow_url"`
	Size        [2]int `json:"size"`
	Anchor      [2]int `json:"anchor"`
	PopupAnchor [2]int `json:"popup_anchor"`
	ShadowSize  [2]int `json:"shadow_size"`
}

type IconSet struct {
	Selected Icon
	Private  Icon
	Public   Icon
}

const (
	colorMarkerBase = "https://raw.githubusercontent.com/pointhi/leaflet-color-markers/master/img/"
	shadowURL       = "https://cdnjs.cloudflare.com/ajax/libs/leaflet/1.7.1/images/marker-shadow.png"
)

func pin(color string) Icon {
	return Icon{
		URL:         colorMarkerBase + "marker-icon-2x-" + color + ".png",
		ShadowURL:   shadowURL,
		Size:        [2]int{25, 41},
		Anchor:      [2]int{12, 41},
		PopupAnchor: [2]int{1, -34},
		ShadowSize:  [2]int{41, 41},
	}
}

// DefaultIcons: blue for the selection, red for private, green for public.
func DefaultIcons() IconSet {
	return IconSet{
		Selected: pin("blue"),
		Private:  pin("red"),
		Public:   pin("green"),
	}
}

func (s IconSet) For(style Style) Icon {
	switch style {
	case StyleSelected:
		return s.Selected
	case StylePrivate:
		return s.Private
	default:
		return s.Public
	}
}

// Marker is one rendered device. Key is stable for the device across
// renders and unique even when names repeat.
type Marker struct {
	Key      string     `json:"key"`
	DeviceID string     `json:"device_id"`
	Name     string     `json:"name"`
	Position geo.LatLng `json:"position"`
	Style    Style      `json:"style"`
	Icon     Icon       `json:"icon"`
}

// StyleFor picks the icon variant: the selected device wins, then
// accessibility decides.
func StyleFor(d catalog.Device, selectedID string) Style {
	if selectedID != "" && d.ID == selectedID {
		return StyleSelected
	}
	if d.Accessibility == catalog.Private {
		return StylePrivate
	}
	return StylePublic
}

type Renderer struct {
	icons IconSet
}

func NewRenderer(icons IconSet) *Renderer {
	if icons == (IconSet{}) {
		icons = DefaultIcons()
	}
	return &Renderer{icons: icons}
}

// Render returns one marker per placeable device, in catalog order. Devices
// whose coordinates do not parse cannot be placed and are counted in skipped.
func (r *Renderer) Render(devices []catalog.Device, selectedID string) (markers []Marker, skipped int) {
	markers = make([]Marker, 0, len(devices))
	for _, d := range devices {
		pos, err := d.Position()
		if err != nil {
			skipped++
			continue
		}
		style := StyleFor(d, selectedID)
		markers = append(markers, Marker{
			Key:      d.ID,
			DeviceID: d.ID,
			Name:     d.Name,
			Position: pos,
			Style:    style,
			Icon:     r.icons.For(style),
		})
	}
	return markers, skipped
}
