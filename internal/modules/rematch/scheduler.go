// README: Re-match scheduler. One loop per searching booking; all search
// state lives on the booking document so a restarted process picks up where
// the last one stopped.
package rematch

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"hail/internal/config"
	"hail/internal/modules/assignment"
	"hail/internal/modules/booking"
	"hail/internal/observability"
	"hail/internal/types"
)

// Bookings is the persisted search state: attempts, rejections, and the
// search clock are always re-read, never cached in memory.
type Bookings interface {
	Get(ctx context.Context, id types.ID) (*booking.Booking, error)
	Searching(ctx context.Context) ([]types.ID, error)
	OfferedAt(ctx context.Context, id types.ID) (*time.Time, error)
}

type Assigner interface {
	Assign(ctx context.Context, cmd assignment.AssignCommand) error
}

type Rejecter interface {
	Reject(ctx context.Context, cmd booking.RejectCommand) error
}

// CandidateSource ranks eligible drivers for a booking; implementations
// exclude rejected drivers and the passenger's own driver profile.
type CandidateSource interface {
	Candidates(ctx context.Context, b *booking.Booking) ([]types.ID, error)
}

// Alerter raises operator-facing alerts when a search is abandoned.
type Alerter interface {
	OperatorAlert(ctx context.Context, msg string, fields map[string]any)
}

type Scheduler struct {
	cfg        config.RematchConfig
	bookings   Bookings
	assigner   Assigner
	rejecter   Rejecter
	candidates CandidateSource
	alerter    Alerter
	log        *zap.Logger

	mu     sync.Mutex
	active map[types.ID]struct{}
}

func NewScheduler(cfg config.RematchConfig, bookings Bookings, assigner Assigner, rejecter Rejecter, candidates CandidateSource, alerter Alerter, log *zap.Logger) *Scheduler {
	return &Scheduler{
		cfg:        cfg,
		bookings:   bookings,
		assigner:   assigner,
		rejecter:   rejecter,
		candidates: candidates,
		alerter:    alerter,
		log:        log,
		active:     make(map[types.ID]struct{}),
	}
}

// Trigger starts a search loop for the booking unless one is already running.
func (s *Scheduler) Trigger(ctx context.Context, bookingID types.ID) {
	s.mu.Lock()
	if _, running := s.active[bookingID]; running {
		s.mu.Unlock()
		return
	}
	s.active[bookingID] = struct{}{}
	s.mu.Unlock()

	go func() {
		defer func() {
			s.mu.Lock()
			delete(s.active, bookingID)
			s.mu.Unlock()
		}()
		s.run(ctx, bookingID)
	}()
}

// Resume restarts loops for every booking whose search was in flight when
// the previous process died.
func (s *Scheduler) Resume(ctx context.Context) error {
	ids, err := s.bookings.Searching(ctx)
	if err != nil {
		return err
	}
	for _, id := range ids {
		s.Trigger(ctx, id)
	}
	return nil
}

type response int

const (
	responseAccepted response = iota
	responseRejected
	responseTimeout
	responseStop
)

func (s *Scheduler) run(ctx context.Context, bookingID types.ID) {
	for {
		if ctx.Err() != nil {
			return
		}
		b, err := s.bookings.Get(ctx, bookingID)
		if err != nil {
			s.logError("read booking", bookingID, err)
			return
		}

		// Resumed mid-offer: a driver is bound but has not answered yet. The
		// response window stays anchored at the recorded offer time, not at
		// this loop's start.
		offeredAt := time.Now()
		bound := b.Status == booking.StatusDriverAssigned && b.Driver != nil
		if bound {
			if at, err := s.bookings.OfferedAt(ctx, b.ID); err == nil && at != nil {
				offeredAt = *at
			}
		}

		if !bound {
			// Anything other than an open search means someone else resolved
			// the booking (cancel, manual assignment, completion): stop.
			if b.Status != booking.StatusConfirmed || b.Driver != nil {
				return
			}
			if b.MatchAttempts >= s.cfg.MaxAttempts {
				s.exhaust(ctx, b, "max_attempts")
				return
			}
			if b.SearchStartedAt != nil && time.Since(*b.SearchStartedAt) >= s.cfg.TotalSearchWindow {
				s.exhaust(ctx, b, "search_timeout")
				return
			}
			var stop bool
			bound, stop = s.tryCandidates(ctx, b)
			if stop {
				return
			}
			offeredAt = time.Now()
		}

		if bound {
			switch s.awaitResponse(ctx, bookingID, offeredAt) {
			case responseAccepted, responseStop:
				return
			case responseTimeout:
				err := s.rejecter.Reject(ctx, booking.RejectCommand{
					Actor:     types.Actor{Role: types.RoleSystem},
					BookingID: bookingID,
					Note:      booking.NoteResponseTimeout,
				})
				if err != nil && !errors.Is(err, booking.ErrConflict) && !errors.Is(err, booking.ErrInvalidTransition) {
					s.logError("timeout reject", bookingID, err)
					return
				}
			case responseRejected:
				// The driver's explicit decline already recorded the
				// rejection; fall through to the retry delay.
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(s.cfg.DelayBetweenMatches):
		}
	}
}

// tryCandidates walks the ranked candidates. Unavailability and prior
// rejection are expected signals and skip to the next candidate with no
// delay; a booking that stopped being assignable ends the search.
func (s *Scheduler) tryCandidates(ctx context.Context, b *booking.Booking) (bound, stop bool) {
	cands, err := s.candidates.Candidates(ctx, b)
	if err != nil {
		s.logError("candidate query", b.ID, err)
		return false, false
	}
	for _, driverID := range cands {
		observability.RematchAttemptsTotal.Inc()
		err := s.assigner.Assign(ctx, assignment.AssignCommand{
			Actor:     types.Actor{Role: types.RoleSystem},
			BookingID: b.ID,
			DriverID:  driverID,
		})
		switch {
		case err == nil:
			return true, false
		case errors.Is(err, assignment.ErrDriverUnavailable),
			errors.Is(err, assignment.ErrDriverHasActiveJob),
			errors.Is(err, assignment.ErrDriverAlreadyRejected),
			errors.Is(err, assignment.ErrSelfAssignment):
			continue
		case errors.Is(err, assignment.ErrBookingNotAssignable),
			errors.Is(err, assignment.ErrNotFound):
			return false, true
		default:
			s.logError("assign candidate", b.ID, err)
			continue
		}
	}
	return false, false
}

// awaitResponse polls the booking until the driver answers or the response
// window, anchored at the offer time, closes. A resumed loop grants the
// driver only the remainder of the original window.
func (s *Scheduler) awaitResponse(ctx context.Context, bookingID types.ID, offeredAt time.Time) response {
	deadline := offeredAt.Add(s.cfg.DriverResponseWindow)
	ticker := time.NewTicker(s.cfg.ResponsePollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return responseStop
		case <-ticker.C:
		}
		b, err := s.bookings.Get(ctx, bookingID)
		if err != nil {
			s.logError("poll booking", bookingID, err)
			return responseStop
		}
		switch b.Status {
		case booking.StatusDriverEnRoute, booking.StatusInProgress, booking.StatusCompleted:
			return responseAccepted
		case booking.StatusConfirmed:
			return responseRejected
		case booking.StatusCancelled:
			return responseStop
		}
		if time.Now().After(deadline) {
			return responseTimeout
		}
	}
}

// exhaust ends the search without a driver. The booking stays confirmed;
// deciding what to do next is an operator call, never an auto-cancel.
func (s *Scheduler) exhaust(ctx context.Context, b *booking.Booking, reason string) {
	observability.RematchExhaustedTotal.Inc()
	if s.log != nil {
		s.log.Warn("driver search exhausted",
			zap.String("booking_id", string(b.ID)),
			zap.String("reason", reason),
			zap.Int("attempts", b.MatchAttempts))
	}
	if s.alerter != nil {
		s.alerter.OperatorAlert(ctx, "driver search exhausted", map[string]any{
			"booking_id": b.ID,
			"reason":     reason,
			"attempts":   b.MatchAttempts,
		})
	}
}

func (s *Scheduler) logError(msg string, bookingID types.ID, err error) {
	if s.log != nil {
		s.log.Error(msg, zap.String("booking_id", string(bookingID)), zap.Error(err))
	}
}
