// README: Booking aggregate, status definitions, and the legal transition table.
package booking

import (
	"time"

	"hail/internal/types"
)

type Status string

const (
	StatusNone           Status = "none"
	StatusPending        Status = "pending"
	StatusConfirmed      Status = "confirmed"
	StatusDriverAssigned Status = "driver_assigned"
	StatusDriverEnRoute  Status = "driver_en_route"
	StatusInProgress     Status = "in_progress"
	StatusCompleted      Status = "completed"
	StatusCancelled      Status = "cancelled"
)

type PaymentStatus string

const (
	PaymentUnpaid     PaymentStatus = "unpaid"
	PaymentProcessing PaymentStatus = "processing"
	PaymentPaid       PaymentStatus = "paid"
	PaymentRefunded   PaymentStatus = "refunded"
)

type PaymentMethod string

const (
	PayCash PaymentMethod = "cash"
	PayCard PaymentMethod = "card"
)

// Stop is one end of the trip: a display descriptor plus coordinates.
type Stop struct {
	Desc  string
	Point types.Point
}

// DriverSnapshot is the denormalized driver info embedded in a booking for
// display. The drivers table stays authoritative for availability.
type DriverSnapshot struct {
	ID      types.ID
	Name    string
	Phone   string
	Vehicle string
}

type Booking struct {
	ID              types.ID
	PassengerID     types.ID
	Pickup          Stop
	Dropoff         Stop
	ScheduledAt     *time.Time
	VehicleClass    string
	TotalCost       types.Money
	Status          Status
	StatusVersion   int
	Driver          *DriverSnapshot
	RejectedDrivers []types.ID
	MatchAttempts   int
	SearchStartedAt *time.Time
	PaymentStatus   PaymentStatus
	PaymentIntentID *string
	PaymentMethod   PaymentMethod
	CreatedAt       time.Time
}

// Event is one append-only status history entry; the audit trail for a booking.
type Event struct {
	ID         int64
	BookingID  types.ID
	FromStatus Status
	ToStatus   Status
	ActorRole  types.Role
	ActorID    *types.ID
	Note       string
	CreatedAt  time.Time
}

// AllowedTransitions encodes the booking state flow. Assignment may bind a
// driver straight from pending; rejection walks driver_assigned back to
// confirmed. Cancellation is reachable from every non-terminal state.
var AllowedTransitions = map[Status][]Status{
	StatusPending:        {StatusConfirmed, StatusDriverAssigned, StatusCancelled},
	StatusConfirmed:      {StatusDriverAssigned, StatusCancelled},
	StatusDriverAssigned: {StatusDriverEnRoute, StatusConfirmed, StatusCancelled},
	StatusDriverEnRoute:  {StatusInProgress, StatusCancelled},
	StatusInProgress:     {StatusCompleted, StatusCancelled},
}

func CanTransition(from, to Status) bool {
	next, ok := AllowedTransitions[from]
	if !ok {
		return false
	}
	for _, s := range next {
		if s == to {
			return true
		}
	}
	return false
}

// ActiveStatuses are the states during which a driver is bound to the booking.
var ActiveStatuses = []Status{StatusDriverAssigned, StatusDriverEnRoute, StatusInProgress}

// Active reports whether the status requires a bound driver.
func (s Status) Active() bool {
	for _, a := range ActiveStatuses {
		if s == a {
			return true
		}
	}
	return false
}

// Assignable reports whether the assignment protocol may bind a driver.
func (s Status) Assignable() bool {
	return s == StatusPending || s == StatusConfirmed
}

// Rejected reports whether the driver already declined this booking.
func (b *Booking) Rejected(driverID types.ID) bool {
	for _, id := range b.RejectedDrivers {
		if id == driverID {
			return true
		}
	}
	return false
}

// History notes distinguishing why an assigned driver was released. An
// explicit decline and a response timeout carry different reliability
// signals for future ranking, so both are persisted verbatim.
const (
	NoteDriverRejected  = "driver_rejected"
	NoteResponseTimeout = "response_timeout"
)
