// README: Location service: rate-limited GPS ingest and the proximity
// candidate source used by the re-match scheduler.
package location

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"hail/internal/modules/booking"
	"hail/internal/modules/driver"
	"hail/internal/observability"
	"hail/internal/types"
)

var (
	ErrRateLimited  = errors.New("location update rate limit exceeded")
	ErrUnauthorized = errors.New("actor may not update this driver's location")
)

// Drivers is the slice of the driver store this module needs.
type Drivers interface {
	Get(ctx context.Context, id types.ID) (*driver.Driver, error)
	GetByUser(ctx context.Context, userID types.ID) (*driver.Driver, error)
	UpdateLocation(ctx context.Context, id types.ID, loc driver.Location) error
	FilterAvailable(ctx context.Context, ids []types.ID) ([]types.ID, error)
}

// Publisher streams accepted updates; nil disables streaming.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// Geo is the live proximity pool; GeoStore is the Redis implementation.
type Geo interface {
	Upsert(ctx context.Context, id types.ID, p types.Point) error
	Remove(ctx context.Context, id types.ID) error
	Nearby(ctx context.Context, p types.Point, radiusKm float64, count int) ([]types.ID, error)
}

type Service struct {
	drivers   Drivers
	geo       Geo
	limiter   *Limiter
	publisher Publisher
	log       *zap.Logger

	candidateRadiusKm float64
	candidatePoolSize int
}

func NewService(drivers Drivers, geo Geo, limiter *Limiter, publisher Publisher, radiusKm float64, log *zap.Logger) *Service {
	return &Service{
		drivers:           drivers,
		geo:               geo,
		limiter:           limiter,
		publisher:         publisher,
		log:               log,
		candidateRadiusKm: radiusKm,
		candidatePoolSize: 10,
	}
}

type UpdateCommand struct {
	Actor    types.Actor
	DriverID types.ID
	Point    types.Point
	Heading  *float64
	Speed    *float64
}

// Update ingests one GPS fix. Over-limit requests fail loudly with
// ErrRateLimited rather than being dropped.
func (s *Service) Update(ctx context.Context, cmd UpdateCommand) error {
	d, err := s.drivers.Get(ctx, cmd.DriverID)
	if err != nil {
		return err
	}
	if cmd.Actor.ID != d.UserID && cmd.Actor.ID != d.ID && !cmd.Actor.Role.Admin() {
		return ErrUnauthorized
	}
	if s.limiter != nil {
		ok, err := s.limiter.Allow(ctx, d.ID)
		if err != nil {
			return err
		}
		if !ok {
			observability.LocationRateLimitedTotal.Inc()
			return ErrRateLimited
		}
	}

	now := time.Now()
	loc := driver.Location{Point: cmd.Point, Heading: cmd.Heading, Speed: cmd.Speed, RecordedAt: now}
	if err := s.drivers.UpdateLocation(ctx, d.ID, loc); err != nil {
		return err
	}
	if s.geo != nil {
		if err := s.geo.Upsert(ctx, d.ID, cmd.Point); err != nil && s.log != nil {
			s.log.Warn("geo upsert failed", zap.String("driver_id", string(d.ID)), zap.Error(err))
		}
	}
	if s.publisher != nil {
		e := Event{DriverID: string(d.ID), Lat: cmd.Point.Lat, Lng: cmd.Point.Lng, Heading: cmd.Heading, Speed: cmd.Speed, RecordedAt: now}
		if err := s.publisher.Publish(ctx, e); err != nil && s.log != nil {
			s.log.Warn("location publish failed", zap.String("driver_id", string(d.ID)), zap.Error(err))
		}
	}
	observability.LocationUpdatesTotal.Inc()
	return nil
}

// Candidates ranks available drivers around the pickup by proximity,
// excluding drivers the booking already rejected and the passenger's own
// driver profile.
func (s *Service) Candidates(ctx context.Context, b *booking.Booking) ([]types.ID, error) {
	nearby, err := s.geo.Nearby(ctx, b.Pickup.Point, s.candidateRadiusKm, s.candidatePoolSize)
	if err != nil {
		return nil, err
	}
	if len(nearby) == 0 {
		return nil, nil
	}

	exclude := make(map[types.ID]bool, len(b.RejectedDrivers)+1)
	for _, id := range b.RejectedDrivers {
		exclude[id] = true
	}
	if own, err := s.drivers.GetByUser(ctx, b.PassengerID); err == nil && own != nil {
		exclude[own.ID] = true
	}

	filtered := nearby[:0]
	for _, id := range nearby {
		if !exclude[id] {
			filtered = append(filtered, id)
		}
	}
	return s.drivers.FilterAvailable(ctx, filtered)
}
