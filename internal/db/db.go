package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"aed_map/core-go/internal/catalog"
	"aed_map/core-go/internal/sqlcgen"
)

type Pool struct {
	pool *pgxpool.Pool
}

func Open(ctx context.Context, databaseURL string) (*Pool, error) {
	p, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}

	// Verify connectivity early.
	if err := p.Ping(ctx); err != nil {
		p.Close()
		return nil, err
	}

	return &Pool{pool: p}, nil
}

func (p *Pool) Close() {
	if p == nil || p.pool == nil {
		return
	}
	p.pool.Close()
}

func (p *Pool) Ping(ctx context.Context) error {
	if p == nil || p.pool == nil {
		return nil
	}
	return p.pool.Ping(ctx)
}

func (p *Pool) Queries() *sqlcgen.Queries {
	return sqlcgen.New(p.pool)
}

// ImportCatalog replaces the stored catalog with devices in one
// transaction, keeping their order.
func (p *Pool) ImportCatalog(ctx context.Context, devices []catalog.Device) error {
	return pgx.BeginFunc(ctx, p.pool, func(tx pgx.Tx) error {
		q := p.Queries().WithTx(tx)
		if err := q.DeleteAllAEDDevices(ctx); err != nil {
			return fmt.Errorf("clearing catalog: %w", err)
		}
		for i, d := range devices {
			if _, err := q.InsertAEDDevice(ctx, insertParams(d, i)); err != nil {
				return fmt.Errorf("inserting %q: %w", d.Name, err)
			}
		}
		return nil
	})
}

func insertParams(d catalog.Device, position int) sqlcgen.InsertAEDDeviceParams {
	return sqlcgen.InsertAEDDeviceParams{
		Name:            d.Name,
		Latitude:        d.Latitude,
		Longitude:       d.Longitude,
		BatteryPercent:  optional(d.BatteryPercent),
		LastMaintenance: optional(d.LastMaintenance),
		Accessibility:   string(d.Accessibility),
		Position:        int32(position),
	}
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
