// README: Driver dispatch state and profile.
package driver

import (
	"time"

	"hail/internal/types"
)

type Status string

const (
	StatusAvailable Status = "available"
	StatusBusy      Status = "busy"
	StatusOffline   Status = "offline"
)

type Location struct {
	Point      types.Point
	Heading    *float64
	Speed      *float64
	RecordedAt time.Time
}

type Driver struct {
	ID            types.ID
	UserID        types.ID
	Name          string
	Phone         string
	Vehicle       string
	VehicleClass  string
	Status        Status
	Active        bool
	TotalTrips    int64
	TotalEarnings int64
	Location      *Location
	CreatedAt     time.Time
}
