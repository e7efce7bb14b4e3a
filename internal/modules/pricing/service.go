// README: Pricing service computes fare estimates from the rate table.
package pricing

import (
	"context"
	"errors"
	"math"

	"hail/internal/types"
)

type Service struct {
	store *Store
}

func NewService(store *Store) *Service {
	return &Service{store: store}
}

// Estimate returns base + per-km cost for the class, rounded up to whole km.
// Unknown classes fall back to the standard rate.
func (s *Service) Estimate(ctx context.Context, distanceKm float64, vehicleClass string) (types.Money, error) {
	rate, err := s.store.GetRate(ctx, vehicleClass)
	if errors.Is(err, ErrRateNotFound) {
		rate, err = s.store.GetRate(ctx, "standard")
	}
	if err != nil {
		return types.Money{}, err
	}
	km := int64(math.Ceil(distanceKm))
	if km < 1 {
		km = 1
	}
	return types.Money{
		Amount:   rate.BaseAmount + km*rate.PerKmAmount,
		Currency: rate.Currency,
	}, nil
}
