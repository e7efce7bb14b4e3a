// README: Atomic driver-to-booking binding. All five preconditions are
// evaluated inside one transaction, with the driver flip as a
// compare-and-swap so two searches can never both claim the same driver.
package assignment

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"hail/internal/modules/booking"
	"hail/internal/types"
)

var (
	ErrBookingNotAssignable  = errors.New("booking is not in an assignable state")
	ErrDriverUnavailable     = errors.New("driver is not available")
	ErrDriverHasActiveJob    = errors.New("driver already has an active job")
	ErrSelfAssignment        = errors.New("driver cannot take their own booking")
	ErrDriverAlreadyRejected = errors.New("driver already rejected this booking")
	ErrNotFound              = errors.New("booking or driver not found")
)

type Store struct {
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

// Bind attaches the driver to the booking when every precondition holds.
// The returned booking reflects the pre-bind row; callers use it for
// notification targets.
func (s *Store) Bind(ctx context.Context, bookingID, driverID types.ID, actor types.Actor) (*booking.Booking, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	var (
		passengerID, status string
		version             int
		rejected            []string
	)
	err = tx.QueryRow(ctx, `
		SELECT passenger_id, status, status_version, rejected_drivers
		FROM bookings WHERE id = $1`, string(bookingID)).
		Scan(&passengerID, &status, &version, &rejected)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if !booking.Status(status).Assignable() {
		return nil, ErrBookingNotAssignable
	}
	for _, r := range rejected {
		if types.ID(r) == driverID {
			return nil, ErrDriverAlreadyRejected
		}
	}

	var (
		driverUser, name, phone, vehicle string
	)
	err = tx.QueryRow(ctx, `
		SELECT user_id, name, phone, vehicle
		FROM drivers WHERE id = $1 AND active`, string(driverID)).
		Scan(&driverUser, &name, &phone, &vehicle)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if types.ID(driverUser) == types.ID(passengerID) || driverID == types.ID(passengerID) {
		return nil, ErrSelfAssignment
	}

	// CAS flip; a lost race reads as plain unavailability, not a fault.
	tag, err := tx.Exec(ctx, `
		UPDATE drivers SET status = 'busy'
		WHERE id = $1 AND status = 'available' AND active`, string(driverID))
	if err != nil {
		return nil, err
	}
	if tag.RowsAffected() != 1 {
		return nil, ErrDriverUnavailable
	}

	// One active job per driver, from the live bookings query. The driver
	// row is locked by the flip above, so this cannot race another bind.
	var activeJobs int
	err = tx.QueryRow(ctx, `
		SELECT COUNT(*) FROM bookings
		WHERE driver_id = $1
		  AND status IN ('driver_assigned', 'driver_en_route', 'in_progress')`,
		string(driverID)).Scan(&activeJobs)
	if err != nil {
		return nil, err
	}
	if activeJobs > 0 {
		return nil, ErrDriverHasActiveJob
	}

	tag, err = tx.Exec(ctx, `
		UPDATE bookings
		SET status = 'driver_assigned',
		    status_version = status_version + 1,
		    driver_id = $4, driver_name = $5, driver_phone = $6, driver_vehicle = $7
		WHERE id = $1 AND status = $2 AND status_version = $3`,
		string(bookingID), status, version,
		string(driverID), name, phone, vehicle)
	if err != nil {
		return nil, err
	}
	if tag.RowsAffected() != 1 {
		return nil, ErrBookingNotAssignable
	}

	var actorID *string
	if actor.ID != "" {
		v := string(actor.ID)
		actorID = &v
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO booking_status_events (
			booking_id, from_status, to_status, actor_role, actor_id, note, created_at
		) VALUES ($1, $2, 'driver_assigned', $3, $4, '', $5)`,
		string(bookingID), status, string(actor.Role), actorID, time.Now()); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return &booking.Booking{
		ID:          bookingID,
		PassengerID: types.ID(passengerID),
		Status:      booking.Status(status),
		Driver:      &booking.DriverSnapshot{ID: driverID, Name: name, Phone: phone, Vehicle: vehicle},
	}, nil
}
