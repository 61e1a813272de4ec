package sqlcgen

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DBTX matches the minimal interface needed from pgxpool.Pool or pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, optionsAndArgs ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, optionsAndArgs ...any) pgx.Row
}

type Queries struct {
	db DBTX
}

func New(db DBTX) *Queries {
	return &Queries{db: db}
}

func (q *Queries) WithTx(tx pgx.Tx) *Queries {
	return &Queries{db: tx}
}

const listAEDDevices = `-- name: ListAEDDevices :many
SELECT id,
       name,
       latitude,
       longitude,
       battery_percent,
       last_maintenance,
       accessibility,
       position,
       updated_at
FROM aed_devices
ORDER BY position ASC, id ASC
`

func (q *Queries) ListAEDDevices(ctx context.Context) ([]AedDevice, error) {
	rows, err := q.db.Query(ctx, listAEDDevices)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []AedDevice
	for rows.Next() {
		var i AedDevice
		if err := rows.Scan(
			&i.ID,
			&i.Name,
			&i.Latitude,
			&i.Longitude,
			&i.BatteryPercent,
			&i.LastMaintenance,
			&i.Accessibility,
			&i.Position,
			&i.UpdatedAt,
		); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const countAEDDevices = `-- name: CountAEDDevices :one
SELECT count(*) FROM aed_devices
`

func (q *Queries) CountAEDDevices(ctx context.Context) (int64, error) {
	row := q.db.QueryRow(ctx, countAEDDevices)
	var count int64
	err := row.Scan(&count)
	return count, err
}

const insertAEDDevice = `-- name: InsertAEDDevice :one
INSERT INTO aed_devices (
  name,
  latitude,
  longitude,
  battery_percent,
  last_maintenance,
  accessibility,
  position
)
VALUES ($1, $2, $3, $4, $5, $6, $7)
RETURNING id
`

type InsertAEDDeviceParams struct {
	Name            string
	Latitude        string
	Longitude       string
	BatteryPercent  *string
	LastMaintenance *string
	Accessibility   string
	Position        int32
}

func (q *Queries) InsertAEDDevice(ctx context.Context, arg InsertAEDDeviceParams) (string, error) {
	row := q.db.QueryRow(ctx, insertAEDDevice,
		arg.Name,
		arg.Latitude,
		arg.Longitude,
		arg.BatteryPercent,
		arg.LastMaintenance,
		arg.Accessibility,
		arg.Position,
	)
	var id string
	err := row.Scan(&id)
	return id, err
}

const deleteAllAEDDevices = `-- name: DeleteAllAEDDevices :exec
DELETE FROM aed_devices
`

func (q *Queries) DeleteAllAEDDevices(ctx context.Context) error {
	_, err := q.db.Exec(ctx, deleteAllAEDDevices)
	return err
}
