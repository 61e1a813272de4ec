package sqlcgen

import "time"

type AedDevice struct {
	ID              string
	Name            string
	Latitude        string
	Longitude       string
	BatteryPercent  *string
	LastMaintenance *string
	Accessibility   string
	Position        int32
	UpdatedAt       time.Time
}
