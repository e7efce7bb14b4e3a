// README: Payment reconciliation: one intent per booking, idempotent reuse,
// refund coupled to cancellation and driver release.
package payment

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"hail/internal/modules/booking"
	"hail/internal/types"
)

var (
	ErrAlreadyPaid          = errors.New("booking is already paid")
	ErrNoCharge             = errors.New("no charge exists to refund")
	ErrAlreadyRefunded      = errors.New("booking is already refunded")
	ErrPaymentNotCompleted  = errors.New("charge never completed")
	ErrUnauthorized         = errors.New("actor not authorized for this payment")
	ErrProcessorUnavailable = errors.New("no payment processor configured")
)

type IntentStatus string

const (
	IntentRequiresPaymentMethod IntentStatus = "requires_payment_method"
	IntentRequiresConfirmation  IntentStatus = "requires_confirmation"
	IntentRequiresAction        IntentStatus = "requires_action"
	IntentProcessing            IntentStatus = "processing"
	IntentRequiresCapture       IntentStatus = "requires_capture"
	IntentSucceeded             IntentStatus = "succeeded"
	IntentCanceled              IntentStatus = "canceled"
)

// Reusable reports whether an existing intent is still pre-completion and
// can absorb another payment attempt.
func (s IntentStatus) Reusable() bool {
	switch s {
	case IntentRequiresPaymentMethod, IntentRequiresConfirmation, IntentRequiresAction, IntentProcessing, IntentRequiresCapture:
		return true
	}
	return false
}

type Intent struct {
	ID           string
	ClientSecret string
	Amount       int64
	Currency     string
	Status       IntentStatus
}

type Refund struct {
	ID     string
	Status string
	Amount int64
}

// Processor is the external payment API boundary.
type Processor interface {
	CreateIntent(ctx context.Context, amount int64, currency string, metadata map[string]string) (*Intent, error)
	RetrieveIntent(ctx context.Context, id string) (*Intent, error)
	Refund(ctx context.Context, intentID, reason string) (*Refund, error)
}

// Bookings is the slice of the booking store this module needs.
type Bookings interface {
	Get(ctx context.Context, id types.ID) (*booking.Booking, error)
	SetPaymentIntent(ctx context.Context, id types.ID, intentID string) error
	MarkPaid(ctx context.Context, id types.ID, intentID string) error
	MarkRefunded(ctx context.Context, id types.ID, from booking.Status, version int, driverID *types.ID, e *booking.Event) (bool, error)
}

// Confirmer confirms a pending booking once its charge lands.
type Confirmer interface {
	Confirm(ctx context.Context, cmd booking.ConfirmCommand) error
}

// Searcher kicks the driver search loop for a booking.
type Searcher interface {
	Trigger(ctx context.Context, bookingID types.ID)
}

type Service struct {
	bookings  Bookings
	processor Processor
	confirm   Confirmer
	search    Searcher
	log       *zap.Logger
}

func NewService(bookings Bookings, processor Processor, confirm Confirmer, search Searcher, log *zap.Logger) *Service {
	return &Service{bookings: bookings, processor: processor, confirm: confirm, search: search, log: log}
}

type IntentCommand struct {
	Actor     types.Actor
	BookingID types.ID
}

// CreateOrReuseIntent returns the booking's live intent, creating one only
// when none exists or the previous one already resolved. The amount is the
// server-computed booking cost; nothing client-supplied is accepted.
func (s *Service) CreateOrReuseIntent(ctx context.Context, cmd IntentCommand) (*Intent, error) {
	if s.processor == nil {
		return nil, ErrProcessorUnavailable
	}
	b, err := s.bookings.Get(ctx, cmd.BookingID)
	if err != nil {
		return nil, err
	}
	if cmd.Actor.ID != b.PassengerID && !cmd.Actor.Role.Admin() {
		return nil, ErrUnauthorized
	}
	if b.PaymentStatus == booking.PaymentPaid {
		return nil, ErrAlreadyPaid
	}
	if b.TotalCost.Zero() {
		return nil, booking.ErrBadRequest
	}

	if b.PaymentIntentID != nil {
		existing, err := s.processor.RetrieveIntent(ctx, *b.PaymentIntentID)
		switch {
		case err == nil && existing.Status.Reusable():
			return existing, nil
		case err == nil && existing.Status == IntentSucceeded:
			// The charge landed without us observing it. Settle rather than
			// mint a second intent against an already-charged booking.
			return nil, s.settle(ctx, b)
		case err != nil && s.log != nil:
			s.log.Warn("retrieve intent failed, creating a new one",
				zap.String("booking_id", string(b.ID)), zap.Error(err))
		}
	}

	intent, err := s.processor.CreateIntent(ctx, b.TotalCost.Amount, b.TotalCost.Currency, map[string]string{
		"booking_id":   string(b.ID),
		"passenger_id": string(b.PassengerID),
	})
	if err != nil {
		return nil, err
	}
	if err := s.bookings.SetPaymentIntent(ctx, b.ID, intent.ID); err != nil {
		return nil, err
	}
	return intent, nil
}

// settle records a charge that completed while the booking still read as
// unpaid: the booking becomes paid against its existing intent and, if it was
// still pending, confirmation opens the driver search.
func (s *Service) settle(ctx context.Context, b *booking.Booking) error {
	if err := s.bookings.MarkPaid(ctx, b.ID, *b.PaymentIntentID); err != nil {
		return err
	}
	if b.Status == booking.StatusPending && s.confirm != nil {
		err := s.confirm.Confirm(ctx, booking.ConfirmCommand{
			Actor:     types.Actor{Role: types.RoleSystem},
			BookingID: b.ID,
			Note:      "payment_confirmed",
		})
		switch {
		case err != nil:
			if s.log != nil {
				s.log.Warn("confirm after payment failed",
					zap.String("booking_id", string(b.ID)), zap.Error(err))
			}
		case s.search != nil:
			// The search loop outlives the request.
			s.search.Trigger(context.WithoutCancel(ctx), b.ID)
		}
	}
	return ErrAlreadyPaid
}

type RefundCommand struct {
	Actor     types.Actor
	BookingID types.ID
	Reason    string
}

// RefundBooking refunds the charge and mirrors cancellation: the booking
// moves to cancelled/refunded and a bound driver is released, in one store
// transaction.
func (s *Service) RefundBooking(ctx context.Context, cmd RefundCommand) (*Refund, error) {
	if s.processor == nil {
		return nil, ErrProcessorUnavailable
	}
	b, err := s.bookings.Get(ctx, cmd.BookingID)
	if err != nil {
		return nil, err
	}
	if cmd.Actor.ID != b.PassengerID && !cmd.Actor.Role.Admin() {
		return nil, ErrUnauthorized
	}
	if b.PaymentIntentID == nil {
		return nil, ErrNoCharge
	}
	if b.PaymentStatus == booking.PaymentRefunded {
		return nil, ErrAlreadyRefunded
	}
	if b.Status != booking.StatusCancelled && !booking.CanTransition(b.Status, booking.StatusCancelled) {
		return nil, booking.ErrInvalidTransition
	}

	intent, err := s.processor.RetrieveIntent(ctx, *b.PaymentIntentID)
	if err != nil {
		return nil, err
	}
	if intent.Status != IntentSucceeded {
		return nil, ErrPaymentNotCompleted
	}

	refund, err := s.processor.Refund(ctx, *b.PaymentIntentID, cmd.Reason)
	if err != nil {
		return nil, err
	}

	var driverID *types.ID
	if b.Driver != nil {
		driverID = &b.Driver.ID
	}
	ok, err := s.bookings.MarkRefunded(ctx, b.ID, b.Status, b.StatusVersion, driverID, &booking.Event{
		BookingID:  b.ID,
		FromStatus: b.Status,
		ToStatus:   booking.StatusCancelled,
		ActorRole:  cmd.Actor.Role,
		ActorID:    refundActor(cmd.Actor),
		Note:       "refunded: " + cmd.Reason,
	})
	if err != nil {
		return nil, err
	}
	if !ok {
		// The refund went through but the booking moved concurrently; the
		// caller retries the reconciliation against the fresh row.
		return refund, booking.ErrConflict
	}
	return refund, nil
}

func refundActor(a types.Actor) *types.ID {
	if a.ID == "" {
		return nil
	}
	id := a.ID
	return &id
}
