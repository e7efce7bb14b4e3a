// README: Pricing store backed by PostgreSQL.
package pricing

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrRateNotFound = errors.New("no rate for vehicle class")

type Store struct {
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

func (s *Store) GetRate(ctx context.Context, vehicleClass string) (Rate, error) {
	row := s.db.QueryRow(ctx, `
		SELECT vehicle_class, base_amount, per_km_amount, currency
		FROM rates WHERE vehicle_class = $1`, vehicleClass)
	var r Rate
	err := row.Scan(&r.VehicleClass, &r.BaseAmount, &r.PerKmAmount, &r.Currency)
	if errors.Is(err, pgx.ErrNoRows) {
		return Rate{}, ErrRateNotFound
	}
	if err != nil {
		return Rate{}, err
	}
	return r, nil
}
