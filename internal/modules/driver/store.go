// README: Driver store backed by PostgreSQL. Status flips are compare-and-swap
// on the current status; plain read-then-write is not offered.
package driver

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"hail/internal/types"
)

type Store struct {
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

const driverColumns = `
	id, user_id, name, phone, vehicle, vehicle_class,
	status, active, total_trips, total_earnings,
	loc_lat, loc_lng, loc_heading, loc_speed, loc_recorded_at, created_at`

func (s *Store) Create(ctx context.Context, d *Driver) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO drivers (
			id, user_id, name, phone, vehicle, vehicle_class, status, active, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		string(d.ID), string(d.UserID), d.Name, d.Phone, d.Vehicle, d.VehicleClass,
		string(d.Status), d.Active, d.CreatedAt)
	return err
}

func (s *Store) Get(ctx context.Context, id types.ID) (*Driver, error) {
	row := s.db.QueryRow(ctx, `SELECT `+driverColumns+` FROM drivers WHERE id = $1`, string(id))
	return scanDriver(row)
}

func (s *Store) GetByUser(ctx context.Context, userID types.ID) (*Driver, error) {
	row := s.db.QueryRow(ctx, `SELECT `+driverColumns+` FROM drivers WHERE user_id = $1`, string(userID))
	return scanDriver(row)
}

func scanDriver(row pgx.Row) (*Driver, error) {
	var d Driver
	var lat, lng, heading, speed *float64
	var recordedAt *time.Time
	err := row.Scan(
		&d.ID, &d.UserID, &d.Name, &d.Phone, &d.Vehicle, &d.VehicleClass,
		&d.Status, &d.Active, &d.TotalTrips, &d.TotalEarnings,
		&lat, &lng, &heading, &speed, &recordedAt, &d.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if lat != nil && lng != nil && recordedAt != nil {
		d.Location = &Location{
			Point:      types.Point{Lat: *lat, Lng: *lng},
			Heading:    heading,
			Speed:      speed,
			RecordedAt: *recordedAt,
		}
	}
	return &d, nil
}

// SwapStatus flips status only when the row still holds the expected value.
// Zero rows means another writer won.
func (s *Store) SwapStatus(ctx context.Context, id types.ID, from, to Status) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE drivers SET status = $3
		WHERE id = $1 AND status = $2 AND active`,
		string(id), string(from), string(to))
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// ForceStatus is reserved for the consistency sweep, which has already
// derived the correct value from the bookings collection.
func (s *Store) ForceStatus(ctx context.Context, id types.ID, to Status) error {
	_, err := s.db.Exec(ctx, `UPDATE drivers SET status = $2 WHERE id = $1`, string(id), string(to))
	return err
}

func (s *Store) UpdateLocation(ctx context.Context, id types.ID, loc Location) error {
	_, err := s.db.Exec(ctx, `
		UPDATE drivers
		SET loc_lat = $2, loc_lng = $3, loc_heading = $4, loc_speed = $5, loc_recorded_at = $6
		WHERE id = $1`,
		string(id), loc.Point.Lat, loc.Point.Lng, loc.Heading, loc.Speed, loc.RecordedAt)
	return err
}

// ListNonOffline returns drivers whose cached status claims available or
// busy, for the consistency sweep to reconcile.
func (s *Store) ListNonOffline(ctx context.Context) ([]Driver, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+driverColumns+` FROM drivers
		WHERE active AND status IN ('available', 'busy')`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var drivers []Driver
	for rows.Next() {
		d, err := scanDriver(rows)
		if err != nil {
			return nil, err
		}
		drivers = append(drivers, *d)
	}
	return drivers, rows.Err()
}

// FilterAvailable keeps only ids whose row is currently available and active.
func (s *Store) FilterAvailable(ctx context.Context, ids []types.ID) ([]types.ID, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	raw := make([]string, len(ids))
	for i, id := range ids {
		raw[i] = string(id)
	}
	rows, err := s.db.Query(ctx, `
		SELECT id FROM drivers
		WHERE id = ANY($1) AND active AND status = 'available'`, raw)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	available := make(map[types.ID]bool)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		available[types.ID(id)] = true
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// preserve caller ordering (proximity ranked)
	out := make([]types.ID, 0, len(available))
	for _, id := range ids {
		if available[id] {
			out = append(out, id)
		}
	}
	return out, nil
}
