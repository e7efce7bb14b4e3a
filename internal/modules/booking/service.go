// README: Booking service implements state transitions, ownership checks,
// and persistence.
package booking

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"math"
	"time"

	"go.uber.org/zap"

	"hail/internal/types"
)

var (
	ErrInvalidTransition = errors.New("invalid state transition")
	ErrUnauthorized      = errors.New("actor not authorized for this transition")
	ErrNotFound          = errors.New("booking not found")
	ErrConflict          = errors.New("booking state conflict")
	ErrBadRequest        = errors.New("bad request")
)

// Pricing computes the server-side trip cost; client-supplied amounts are
// never trusted.
type Pricing interface {
	Estimate(ctx context.Context, distanceKm float64, vehicleClass string) (types.Money, error)
}

// Notifier delivers fire-and-forget notifications; implementations log
// failures and never block the caller.
type Notifier interface {
	Notify(ctx context.Context, userID types.ID, kind string, payload map[string]any)
}

type Service struct {
	store   *Store
	pricing Pricing
	notify  Notifier
	log     *zap.Logger
}

func NewService(store *Store, pricing Pricing, notify Notifier, log *zap.Logger) *Service {
	return &Service{store: store, pricing: pricing, notify: notify, log: log}
}

type CreateCommand struct {
	Actor         types.Actor
	PassengerID   types.ID
	Pickup        Stop
	Dropoff       Stop
	ScheduledAt   *time.Time
	VehicleClass  string
	PaymentMethod PaymentMethod
}

type ConfirmCommand struct {
	Actor     types.Actor
	BookingID types.ID
	Note      string
}

type EnRouteCommand struct {
	Actor     types.Actor
	BookingID types.ID
}

type StartCommand struct {
	Actor     types.Actor
	BookingID types.ID
}

type CompleteCommand struct {
	Actor     types.Actor
	BookingID types.ID
}

type CancelCommand struct {
	Actor     types.Actor
	BookingID types.ID
	Reason    string
}

type RejectCommand struct {
	Actor     types.Actor
	BookingID types.ID
	Note      string
}

func (s *Service) Create(ctx context.Context, cmd CreateCommand) (types.ID, error) {
	if cmd.PassengerID == "" || cmd.VehicleClass == "" {
		return "", ErrBadRequest
	}
	if cmd.PaymentMethod != PayCash && cmd.PaymentMethod != PayCard {
		return "", ErrBadRequest
	}
	if cmd.Actor.ID != cmd.PassengerID && !cmd.Actor.Role.Admin() {
		return "", ErrUnauthorized
	}

	cost := types.Money{Amount: 0, Currency: "usd"}
	if s.pricing != nil {
		if m, err := s.pricing.Estimate(ctx, distanceKm(cmd.Pickup.Point, cmd.Dropoff.Point), cmd.VehicleClass); err == nil {
			cost = m
		}
	}

	b := &Booking{
		ID:            newID(),
		PassengerID:   cmd.PassengerID,
		Pickup:        cmd.Pickup,
		Dropoff:       cmd.Dropoff,
		ScheduledAt:   cmd.ScheduledAt,
		VehicleClass:  cmd.VehicleClass,
		TotalCost:     cost,
		Status:        StatusPending,
		PaymentStatus: PaymentUnpaid,
		PaymentMethod: cmd.PaymentMethod,
		CreatedAt:     time.Now(),
	}
	if err := s.store.Create(ctx, b); err != nil {
		return "", err
	}
	s.record(ctx, &Event{
		BookingID:  b.ID,
		FromStatus: StatusNone,
		ToStatus:   StatusPending,
		ActorRole:  cmd.Actor.Role,
		ActorID:    &cmd.Actor.ID,
	})
	return b.ID, nil
}

// Confirm moves a pending booking to confirmed, which opens the driver
// search. Reserved for admin and the payment flow.
func (s *Service) Confirm(ctx context.Context, cmd ConfirmCommand) error {
	if !cmd.Actor.Role.Admin() && cmd.Actor.Role != types.RoleSystem {
		return ErrUnauthorized
	}
	b, err := s.store.Get(ctx, cmd.BookingID)
	if err != nil {
		return err
	}
	if !CanTransition(b.Status, StatusConfirmed) {
		return ErrInvalidTransition
	}
	ok, err := s.store.Confirm(ctx, b.ID, b.Status, b.StatusVersion, &Event{
		BookingID:  b.ID,
		FromStatus: b.Status,
		ToStatus:   StatusConfirmed,
		ActorRole:  cmd.Actor.Role,
		ActorID:    actorID(cmd.Actor),
		Note:       cmd.Note,
	})
	if err != nil {
		return err
	}
	if !ok {
		return ErrConflict
	}
	s.notifyUser(ctx, b.PassengerID, "booking_confirmed", map[string]any{"booking_id": b.ID})
	return nil
}

// EnRoute is the driver accepting the job and departing for pickup.
func (s *Service) EnRoute(ctx context.Context, cmd EnRouteCommand) error {
	return s.driverAdvance(ctx, cmd.Actor, cmd.BookingID, StatusDriverEnRoute, "driver_en_route")
}

// Start begins the trip at pickup.
func (s *Service) Start(ctx context.Context, cmd StartCommand) error {
	return s.driverAdvance(ctx, cmd.Actor, cmd.BookingID, StatusInProgress, "trip_started")
}

func (s *Service) driverAdvance(ctx context.Context, actor types.Actor, id types.ID, to Status, kind string) error {
	b, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := requireBoundDriver(b, actor); err != nil {
		return err
	}
	if !CanTransition(b.Status, to) {
		return ErrInvalidTransition
	}
	ok, err := s.store.Advance(ctx, b.ID, b.Status, to, b.StatusVersion, &Event{
		BookingID:  b.ID,
		FromStatus: b.Status,
		ToStatus:   to,
		ActorRole:  actor.Role,
		ActorID:    actorID(actor),
	})
	if err != nil {
		return err
	}
	if !ok {
		return ErrConflict
	}
	s.notifyUser(ctx, b.PassengerID, kind, map[string]any{"booking_id": b.ID})
	return nil
}

// Complete finishes the trip. Cash bookings flip to paid and the driver is
// credited and released inside the store transaction.
func (s *Service) Complete(ctx context.Context, cmd CompleteCommand) error {
	b, err := s.store.Get(ctx, cmd.BookingID)
	if err != nil {
		return err
	}
	if err := requireBoundDriver(b, cmd.Actor); err != nil {
		return err
	}
	if !CanTransition(b.Status, StatusCompleted) {
		return ErrInvalidTransition
	}
	ok, err := s.store.Complete(ctx, b, &Event{
		BookingID:  b.ID,
		FromStatus: b.Status,
		ToStatus:   StatusCompleted,
		ActorRole:  cmd.Actor.Role,
		ActorID:    actorID(cmd.Actor),
	})
	if err != nil {
		return err
	}
	if !ok {
		return ErrConflict
	}
	s.notifyUser(ctx, b.PassengerID, "trip_completed", map[string]any{"booking_id": b.ID})
	return nil
}

// Cancel is reachable from every non-terminal state and releases a bound
// driver. Completed bookings cannot be cancelled.
func (s *Service) Cancel(ctx context.Context, cmd CancelCommand) error {
	b, err := s.store.Get(ctx, cmd.BookingID)
	if err != nil {
		return err
	}
	if cmd.Actor.ID != b.PassengerID && !cmd.Actor.Role.Admin() && cmd.Actor.Role != types.RoleSystem {
		return ErrUnauthorized
	}
	if !CanTransition(b.Status, StatusCancelled) {
		return ErrInvalidTransition
	}
	var driverID *types.ID
	if b.Driver != nil {
		driverID = &b.Driver.ID
	}
	ok, err := s.store.Cancel(ctx, b.ID, b.Status, b.StatusVersion, driverID, &Event{
		BookingID:  b.ID,
		FromStatus: b.Status,
		ToStatus:   StatusCancelled,
		ActorRole:  cmd.Actor.Role,
		ActorID:    actorID(cmd.Actor),
		Note:       cmd.Reason,
	})
	if err != nil {
		return err
	}
	if !ok {
		return ErrConflict
	}
	if driverID != nil {
		s.notifyUser(ctx, *driverID, "booking_cancelled", map[string]any{"booking_id": b.ID})
	}
	return nil
}

// Reject walks driver_assigned back to confirmed. The note records whether
// the driver declined explicitly or the response window elapsed.
func (s *Service) Reject(ctx context.Context, cmd RejectCommand) error {
	b, err := s.store.Get(ctx, cmd.BookingID)
	if err != nil {
		return err
	}
	if err := requireBoundDriver(b, cmd.Actor); err != nil {
		return err
	}
	if b.Status != StatusDriverAssigned {
		return ErrInvalidTransition
	}
	note := cmd.Note
	if note != NoteResponseTimeout {
		note = NoteDriverRejected
	}
	ok, err := s.store.Reject(ctx, b.ID, b.StatusVersion, b.Driver.ID, &Event{
		BookingID:  b.ID,
		FromStatus: b.Status,
		ToStatus:   StatusConfirmed,
		ActorRole:  cmd.Actor.Role,
		ActorID:    actorID(cmd.Actor),
		Note:       note,
	})
	if err != nil {
		return err
	}
	if !ok {
		return ErrConflict
	}
	s.notifyUser(ctx, b.PassengerID, "searching_driver", map[string]any{"booking_id": b.ID})
	return nil
}

func (s *Service) Get(ctx context.Context, id types.ID) (*Booking, error) {
	return s.store.Get(ctx, id)
}

func (s *Service) History(ctx context.Context, id types.ID) ([]Event, error) {
	return s.store.History(ctx, id)
}

// requireBoundDriver allows the currently assigned driver, admins, and the
// re-match scheduler to act on a booking.
func requireBoundDriver(b *Booking, actor types.Actor) error {
	if actor.Role.Admin() || actor.Role == types.RoleSystem {
		return nil
	}
	if b.Driver == nil || b.Driver.ID != actor.ID {
		return ErrUnauthorized
	}
	return nil
}

func (s *Service) notifyUser(ctx context.Context, userID types.ID, kind string, payload map[string]any) {
	if s.notify == nil {
		return
	}
	s.notify.Notify(ctx, userID, kind, payload)
}

// record appends a creation event outside a transition transaction; losing
// it is logged, not fatal.
func (s *Service) record(ctx context.Context, e *Event) {
	tx, err := s.store.db.Begin(ctx)
	if err != nil {
		s.logWarn("record event", err)
		return
	}
	defer tx.Rollback(ctx)
	if err := appendEventTx(ctx, tx, e); err != nil {
		s.logWarn("record event", err)
		return
	}
	if err := tx.Commit(ctx); err != nil {
		s.logWarn("record event", err)
	}
}

func (s *Service) logWarn(msg string, err error) {
	if s.log != nil {
		s.log.Warn(msg, zap.Error(err))
	}
}

func actorID(a types.Actor) *types.ID {
	if a.ID == "" {
		return nil
	}
	id := a.ID
	return &id
}

func newID() types.ID {
	var b [16]byte
	_, _ = rand.Read(b[:])
	return types.ID(hex.EncodeToString(b[:]))
}

func distanceKm(a, b types.Point) float64 {
	const R = 6371.0
	lat1 := a.Lat * math.Pi / 180.0
	lat2 := b.Lat * math.Pi / 180.0
	dlat := (b.Lat - a.Lat) * math.Pi / 180.0
	dlng := (b.Lng - a.Lng) * math.Pi / 180.0
	h := math.Sin(dlat/2)*math.Sin(dlat/2) + math.Cos(lat1)*math.Cos(lat2)*math.Sin(dlng/2)*math.Sin(dlng/2)
	return 2 * R * math.Asin(math.Sqrt(h))
}
