package db

import (
	"context"
	"fmt"

	"aed_map/core-go/internal/catalog"
	"aed_map/core-go/internal/sqlcgen"
)

// CatalogQueries is the part of sqlcgen the catalog source reads with.
// *sqlcgen.Queries satisfies it.
type CatalogQueries interface {
	ListAEDDevices(ctx context.Context) ([]sqlcgen.AedDevice, error)
}

// CatalogSource loads the catalog from the aed_devices table. Row IDs are
// used as device IDs.
type CatalogSource struct {
	q CatalogQueries
}

func NewCatalogSource(q CatalogQueries) *CatalogSource {
	return &CatalogSource{q: q}
}

func (s *CatalogSource) Load(ctx context.Context) ([]catalog.Device, error) {
	rows, err := s.q.ListAEDDevices(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing aed devices: %w", err)
	}
	out := make([]catalog.Device, 0, len(rows))
	for _, r := range rows {
		out = append(out, catalog.Device{
			ID:              r.ID,
			Name:            r.Name,
			Latitude:        r.Latitude,
			Longitude:       r.Longitude,
			BatteryPercent:  deref(r.BatteryPercent),
			LastMaintenance: deref(r.LastMaintenance),
			Accessibility:   catalog.ParseAccessibility(r.Accessibility),
		})
	}
	return out, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
