// README: Booking store backed by PostgreSQL. Every transition is a single
// transaction that CAS-updates the row on (status, status_version) and
// appends exactly one audit event.
package booking

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

const bookingColumns = `
	id, passenger_id,
	pickup_desc, pickup_lat, pickup_lng,
	dropoff_desc, dropoff_lat, dropoff_lng,
	scheduled_at, vehicle_class, total_cost, currency,
	status, status_version,
	driver_id, driver_name, driver_phone, driver_vehicle,
	rejected_drivers, match_attempts, search_started_at,
	payment_status, payment_intent_id, payment_method, created_at`

func (s *Store) Create(ctx context.Context, b *Booking) error {
	var driverID, driverName, driverPhone, driverVehicle *string
	if b.Driver != nil {
		id := string(b.Driver.ID)
		driverID, driverName, driverPhone, driverVehicle = &id, &b.Driver.Name, &b.Driver.Phone, &b.Driver.Vehicle
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO bookings (
			id, passenger_id,
			pickup_desc, pickup_lat, pickup_lng,
			dropoff_desc, dropoff_lat, dropoff_lng,
			scheduled_at, vehicle_class, total_cost, currency,
			status, status_version,
			driver_id, driver_name, driver_phone, driver_vehicle,
			payment_status, payment_method, created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10,
			$11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21
		)`,
		string(b.ID), string(b.PassengerID),
		b.Pickup.Desc, b.Pickup.Point.Lat, b.Pickup.Point.Lng,
		b.Dropoff.Desc, b.Dropoff.Point.Lat, b.Dropoff.Point.Lng,
		b.ScheduledAt, b.VehicleClass, b.TotalCost.Amount, b.TotalCost.Currency,
		string(b.Status), b.StatusVersion,
		driverID, driverName, driverPhone, driverVehicle,
		string(b.PaymentStatus), string(b.PaymentMethod), b.CreatedAt,
	)
	return err
}

func (s *Store) Get(ctx context.Context, id types.ID) (*Booking, error) {
	row := s.db.QueryRow(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = $1`, string(id))
	return scanBooking(row)
}

func scanBooking(row pgx.Row) (*Booking, error) {
	var b Booking
	var driverID, driverName, driverPhone, driverVehicle, intentID *string
	var rejected []string
	err := row.Scan(
		&b.ID, &b.PassengerID,
		&b.Pickup.Desc, &b.Pickup.Point.Lat, &b.Pickup.Point.Lng,
		&b.Dropoff.Desc, &b.Dropoff.Point.Lat, &b.Dropoff.Point.Lng,
		&b.ScheduledAt, &b.VehicleClass, &b.TotalCost.Amount, &b.TotalCost.Currency,
		&b.Status, &b.StatusVersion,
		&driverID, &driverName, &driverPhone, &driverVehicle,
		&rejected, &b.MatchAttempts, &b.SearchStartedAt,
		&b.PaymentStatus, &intentID, &b.PaymentMethod, &b.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if driverID != nil {
		snap := DriverSnapshot{ID: types.ID(*driverID)}
		if driverName != nil {
			snap.Name = *driverName
		}
		if driverPhone != nil {
			snap.Phone = *driverPhone
		}
		if driverVehicle != nil {
			snap.Vehicle = *driverVehicle
		}
		b.Driver = &snap
	}
	b.RejectedDrivers = make([]types.ID, len(rejected))
	for i, r := range rejected {
		b.RejectedDrivers[i] = types.ID(r)
	}
	b.PaymentIntentID = intentID
	return &b, nil
}

// Confirm moves the booking to confirmed and stamps search_started_at if the
// search has not begun yet.
func (s *Store) Confirm(ctx context.Context, id types.ID, from Status, version int, e *Event) (bool, error) {
	return s.transition(ctx, e, `
		UPDATE bookings
		SET status = 'confirmed',
		    status_version = status_version + 1,
		    search_started_at = COALESCE(search_started_at, NOW())
		WHERE id = $1 AND status = $2 AND status_version = $3`,
		string(id), string(from), version)
}

// Advance performs a plain forward transition (en-route, in-progress).
func (s *Store) Advance(ctx context.Context, id types.ID, from, to Status, version int, e *Event) (bool, error) {
	return s.transition(ctx, e, `
		UPDATE bookings
		SET status = $4, status_version = status_version + 1
		WHERE id = $1 AND status = $2 AND status_version = $3`,
		string(id), string(from), version, string(to))
}

// Complete finishes the trip: cash bookings become paid, and the driver is
// credited with the trip and released, all in one transaction.
func (s *Store) Complete(ctx context.Context, b *Booking, e *Event) (bool, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE bookings
		SET status = 'completed',
		    status_version = status_version + 1,
		    payment_status = CASE WHEN payment_method = 'cash' THEN 'paid' ELSE payment_status END
		WHERE id = $1 AND status = 'in_progress' AND status_version = $2`,
		string(b.ID), b.StatusVersion)
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() != 1 {
		return false, nil
	}
	if b.Driver != nil {
		if _, err := tx.Exec(ctx, `
			UPDATE drivers
			SET status = 'available',
			    total_trips = total_trips + 1,
			    total_earnings = total_earnings + $2
			WHERE id = $1 AND status = 'busy'`,
			string(b.Driver.ID), b.TotalCost.Amount); err != nil {
			return false, err
		}
	}
	if err := appendEventTx(ctx, tx, e); err != nil {
		return false, err
	}
	return true, tx.Commit(ctx)
}

// Cancel moves the booking to cancelled and releases a bound driver.
func (s *Store) Cancel(ctx context.Context, id types.ID, from Status, version int, driverID *types.ID, e *Event) (bool, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE bookings
		SET status = 'cancelled', status_version = status_version + 1
		WHERE id = $1 AND status = $2 AND status_version = $3`,
		string(id), string(from), version)
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() != 1 {
		return false, nil
	}
	if err := releaseDriverTx(ctx, tx, driverID); err != nil {
		return false, err
	}
	if err := appendEventTx(ctx, tx, e); err != nil {
		return false, err
	}
	return true, tx.Commit(ctx)
}

// Reject walks driver_assigned back to confirmed: clears the snapshot,
// appends the driver to the rejection set (never shrunk), bumps the attempt
// counter, and releases the driver.
func (s *Store) Reject(ctx context.Context, id types.ID, version int, driverID types.ID, e *Event) (bool, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE bookings
		SET status = 'confirmed',
		    status_version = status_version + 1,
		    driver_id = NULL, driver_name = NULL, driver_phone = NULL, driver_vehicle = NULL,
		    rejected_drivers = array_append(rejected_drivers, $3),
		    match_attempts = match_attempts + 1,
		    search_started_at = COALESCE(search_started_at, NOW())
		WHERE id = $1 AND status = 'driver_assigned' AND status_version = $2`,
		string(id), version, string(driverID))
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() != 1 {
		return false, nil
	}
	if err := releaseDriverTx(ctx, tx, &driverID); err != nil {
		return false, err
	}
	if err := appendEventTx(ctx, tx, e); err != nil {
		return false, err
	}
	return true, tx.Commit(ctx)
}

// MarkRefunded records a processor refund: booking cancelled, payment
// refunded, bound driver released.
func (s *Store) MarkRefunded(ctx context.Context, id types.ID, from Status, version int, driverID *types.ID, e *Event) (bool, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE bookings
		SET status = 'cancelled',
		    status_version = status_version + 1,
		    payment_status = 'refunded'
		WHERE id = $1 AND status = $2 AND status_version = $3`,
		string(id), string(from), version)
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() != 1 {
		return false, nil
	}
	if err := releaseDriverTx(ctx, tx, driverID); err != nil {
		return false, err
	}
	if err := appendEventTx(ctx, tx, e); err != nil {
		return false, err
	}
	return true, tx.Commit(ctx)
}

func (s *Store) SetPaymentIntent(ctx context.Context, id types.ID, intentID string) error {
	_, err := s.db.Exec(ctx, `
		UPDATE bookings
		SET payment_intent_id = $2, payment_status = 'processing'
		WHERE id = $1`,
		string(id), intentID)
	return err
}

// MarkPaid records a completed charge. Guarded on the intent id so a stale
// reconciliation against a replaced intent is a no-op.
func (s *Store) MarkPaid(ctx context.Context, id types.ID, intentID string) error {
	_, err := s.db.Exec(ctx, `
		UPDATE bookings
		SET payment_status = 'paid'
		WHERE id = $1 AND payment_intent_id = $2`,
		string(id), intentID)
	return err
}

// HasActiveByDriver is the live one-active-job query; callers must use it
// instead of trusting the cached driver status.
func (s *Store) HasActiveByDriver(ctx context.Context, driverID types.ID) (bool, error) {
	row := s.db.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM bookings
			WHERE driver_id = $1
			  AND status IN ('driver_assigned', 'driver_en_route', 'in_progress')
		)`, string(driverID))
	var exists bool
	if err := row.Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

// BusyDriverIDs returns the drivers that currently hold an active booking,
// derived from the bookings collection. The consistency sweep reconciles
// driver rows against this set.
func (s *Store) BusyDriverIDs(ctx context.Context) (map[types.ID]bool, error) {
	rows, err := s.db.Query(ctx, `
		SELECT DISTINCT driver_id FROM bookings
		WHERE driver_id IS NOT NULL
		  AND status IN ('driver_assigned', 'driver_en_route', 'in_progress')`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	busy := make(map[types.ID]bool)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		busy[types.ID(id)] = true
	}
	return busy, rows.Err()
}

// Searching returns bookings whose driver search was in flight, for resuming
// schedulers after a restart. A booking sitting in driver_assigned is an
// offer still awaiting the driver's response and needs its timeout watched.
func (s *Store) Searching(ctx context.Context) ([]types.ID, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id FROM bookings
		WHERE search_started_at IS NOT NULL
		  AND (
			(status = 'confirmed' AND driver_id IS NULL)
			OR status = 'driver_assigned'
		  )`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []types.ID
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, types.ID(id))
	}
	return ids, rows.Err()
}

// OfferedAt returns when the current driver offer was made, read from the
// latest driver_assigned event. Nil when the booking was never offered.
func (s *Store) OfferedAt(ctx context.Context, id types.ID) (*time.Time, error) {
	row := s.db.QueryRow(ctx, `
		SELECT created_at FROM booking_status_events
		WHERE booking_id = $1 AND to_status = 'driver_assigned'
		ORDER BY id DESC
		LIMIT 1`, string(id))
	var at time.Time
	if err := row.Scan(&at); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &at, nil
}

func (s *Store) History(ctx context.Context, id types.ID) ([]Event, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, booking_id, from_status, to_status, actor_role, actor_id, note, created_at
		FROM booking_status_events
		WHERE booking_id = $1
		ORDER BY id`, string(id))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var events []Event
	for rows.Next() {
		var e Event
		var actorID *string
		if err := rows.Scan(&e.ID, &e.BookingID, &e.FromStatus, &e.ToStatus, &e.ActorRole, &actorID, &e.Note, &e.CreatedAt); err != nil {
			return nil, err
		}
		if actorID != nil {
			id := types.ID(*actorID)
			e.ActorID = &id
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func (s *Store) transition(ctx context.Context, e *Event, sql string, args ...any) (bool, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, sql, args...)
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() != 1 {
		return false, nil
	}
	if err := appendEventTx(ctx, tx, e); err != nil {
		return false, err
	}
	return true, tx.Commit(ctx)
}

func appendEventTx(ctx context.Context, tx pgx.Tx, e *Event) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	var actorID *string
	if e.ActorID != nil {
		v := string(*e.ActorID)
		actorID = &v
	}
	_, err := tx.Exec(ctx, `
		INSERT INTO booking_status_events (
			booking_id, from_status, to_status, actor_role, actor_id, note, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		string(e.BookingID), string(e.FromStatus), string(e.ToStatus),
		string(e.ActorRole), actorID, e.Note, e.CreatedAt)
	return err
}

func releaseDriverTx(ctx context.Context, tx pgx.Tx, driverID *types.ID) error {
	if driverID == nil {
		return nil
	}
	_, err := tx.Exec(ctx, `
		UPDATE drivers SET status = 'available'
		WHERE id = $1 AND status = 'busy'`,
		string(*driverID))
	return err
}
