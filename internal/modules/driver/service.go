// README: Driver availability state machine and the self-healing sweep.
package driver

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"time"

	"go.uber.org/zap"

	"hail/internal/observability"
	"hail/internal/types"
)

var (
	ErrNotFound   = errors.New("driver not found")
	ErrActiveJob  = errors.New("driver has an active job")
	ErrConflict   = errors.New("driver state conflict")
	ErrBadRequest = errors.New("bad request")
)

// Bookings is the live view of the bookings collection; the cached status
// column is never trusted for the offline check or the sweep.
type Bookings interface {
	HasActiveByDriver(ctx context.Context, driverID types.ID) (bool, error)
	BusyDriverIDs(ctx context.Context) (map[types.ID]bool, error)
}

type Service struct {
	store    *Store
	bookings Bookings
	log      *zap.Logger
}

func NewService(store *Store, bookings Bookings, log *zap.Logger) *Service {
	return &Service{store: store, bookings: bookings, log: log}
}

type RegisterCommand struct {
	UserID       types.ID
	Name         string
	Phone        string
	Vehicle      string
	VehicleClass string
}

func (s *Service) Register(ctx context.Context, cmd RegisterCommand) (types.ID, error) {
	if cmd.UserID == "" || cmd.Name == "" {
		return "", ErrBadRequest
	}
	if cmd.VehicleClass == "" {
		cmd.VehicleClass = "standard"
	}
	d := &Driver{
		ID:           newID(),
		UserID:       cmd.UserID,
		Name:         cmd.Name,
		Phone:        cmd.Phone,
		Vehicle:      cmd.Vehicle,
		VehicleClass: cmd.VehicleClass,
		Status:       StatusOffline,
		Active:       true,
		CreatedAt:    time.Now(),
	}
	if err := s.store.Create(ctx, d); err != nil {
		return "", err
	}
	return d.ID, nil
}

type SetStatusCommand struct {
	Actor    types.Actor
	DriverID types.ID
	To       Status
}

// SetStatus handles the driver's own availability toggles. busy is owned by
// the assignment protocol and is never settable here. Going offline is
// checked against the live bookings query, not the cached status field.
func (s *Service) SetStatus(ctx context.Context, cmd SetStatusCommand) error {
	d, err := s.store.Get(ctx, cmd.DriverID)
	if err != nil {
		return err
	}
	if cmd.Actor.ID != d.UserID && cmd.Actor.ID != d.ID && !cmd.Actor.Role.Admin() {
		return ErrBadRequest
	}

	switch cmd.To {
	case StatusOffline:
		active, err := s.bookings.HasActiveByDriver(ctx, d.ID)
		if err != nil {
			return err
		}
		if active {
			return ErrActiveJob
		}
		ok, err := s.store.SwapStatus(ctx, d.ID, StatusAvailable, StatusOffline)
		if err != nil {
			return err
		}
		if !ok {
			return ErrConflict
		}
		return nil
	case StatusAvailable:
		ok, err := s.store.SwapStatus(ctx, d.ID, StatusOffline, StatusAvailable)
		if err != nil {
			return err
		}
		if !ok {
			return ErrConflict
		}
		return nil
	default:
		return ErrBadRequest
	}
}

func (s *Service) Get(ctx context.Context, id types.ID) (*Driver, error) {
	return s.store.Get(ctx, id)
}

func (s *Service) GetByUser(ctx context.Context, userID types.ID) (*Driver, error) {
	return s.store.GetByUser(ctx, userID)
}

// Cleanup re-derives each non-offline driver's status from the bookings
// collection and corrects drift left by crashed mid-transition writers.
// Returns the number of corrections made.
func (s *Service) Cleanup(ctx context.Context) (int, error) {
	busy, err := s.bookings.BusyDriverIDs(ctx)
	if err != nil {
		return 0, err
	}
	drivers, err := s.store.ListNonOffline(ctx)
	if err != nil {
		return 0, err
	}
	corrections := 0
	for _, d := range drivers {
		want := StatusAvailable
		if busy[d.ID] {
			want = StatusBusy
		}
		if d.Status == want {
			continue
		}
		if err := s.store.ForceStatus(ctx, d.ID, want); err != nil {
			return corrections, err
		}
		corrections++
		observability.CleanupCorrectionsTotal.Inc()
		if s.log != nil {
			s.log.Warn("corrected driver status drift",
				zap.String("driver_id", string(d.ID)),
				zap.String("was", string(d.Status)),
				zap.String("now", string(want)))
		}
	}
	return corrections, nil
}

// RunCleanupSweep runs Cleanup on a fixed interval until the context ends.
func (s *Service) RunCleanupSweep(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Cleanup(ctx); err != nil && s.log != nil {
				s.log.Error("cleanup sweep failed", zap.Error(err))
			}
		}
	}
}

func newID() types.ID {
	var b [16]byte
	_, _ = rand.Read(b[:])
	return types.ID(hex.EncodeToString(b[:]))
}
