// README: Assignment protocol service: authorization, binding, side effects.
package assignment

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"hail/internal/observability"
	"hail/internal/types"
)

var ErrUnauthorized = errors.New("actor not authorized to assign drivers")

// Notifier mirrors the booking module's fire-and-forget gateway.
type Notifier interface {
	Notify(ctx context.Context, userID types.ID, kind string, payload map[string]any)
}

type Service struct {
	store  *Store
	notify Notifier
	log    *zap.Logger
}

func NewService(store *Store, notify Notifier, log *zap.Logger) *Service {
	return &Service{store: store, notify: notify, log: log}
}

type AssignCommand struct {
	Actor     types.Actor
	BookingID types.ID
	DriverID  types.ID
}

// Assign binds the candidate driver to the booking. Precondition failures
// come back as the specific sentinel so the re-match loop can decide whether
// to try the next candidate or stop.
func (s *Service) Assign(ctx context.Context, cmd AssignCommand) error {
	if !cmd.Actor.Role.Admin() && cmd.Actor.Role != types.RoleSystem {
		return ErrUnauthorized
	}
	b, err := s.store.Bind(ctx, cmd.BookingID, cmd.DriverID, cmd.Actor)
	if err != nil {
		observability.AssignmentsTotal.WithLabelValues(resultLabel(err)).Inc()
		return err
	}
	observability.AssignmentsTotal.WithLabelValues("bound").Inc()
	if s.log != nil {
		s.log.Info("driver assigned",
			zap.String("booking_id", string(cmd.BookingID)),
			zap.String("driver_id", string(cmd.DriverID)))
	}
	if s.notify != nil {
		s.notify.Notify(ctx, cmd.DriverID, "job_offer", map[string]any{"booking_id": b.ID})
		s.notify.Notify(ctx, b.PassengerID, "driver_assigned", map[string]any{
			"booking_id": b.ID,
			"driver":     b.Driver.Name,
			"vehicle":    b.Driver.Vehicle,
		})
	}
	return nil
}

func resultLabel(err error) string {
	switch {
	case errors.Is(err, ErrBookingNotAssignable):
		return "booking_not_assignable"
	case errors.Is(err, ErrDriverUnavailable):
		return "driver_unavailable"
	case errors.Is(err, ErrDriverHasActiveJob):
		return "driver_has_active_job"
	case errors.Is(err, ErrSelfAssignment):
		return "self_assignment"
	case errors.Is(err, ErrDriverAlreadyRejected):
		return "driver_already_rejected"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	default:
		return "error"
	}
}
