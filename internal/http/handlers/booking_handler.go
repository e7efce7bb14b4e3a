// README: Booking handlers for create/get/history/cancel.
package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"hail/internal/http/middleware"
	"hail/internal/modules/booking"
	"hail/internal/types"
)

type BookingHandler struct {
	booking *booking.Service
}

func NewBookingHandler(svc *booking.Service) *BookingHandler {
	return &BookingHandler{booking: svc}
}

type createBookingReq struct {
	PassengerID   string     `json:"passenger_id"`
	PickupDesc    string     `json:"pickup_desc"`
	PickupLat     float64    `json:"pickup_lat"`
	PickupLng     float64    `json:"pickup_lng"`
	DropoffDesc   string     `json:"dropoff_desc"`
	DropoffLat    float64    `json:"dropoff_lat"`
	DropoffLng    float64    `json:"dropoff_lng"`
	ScheduledAt   *time.Time `json:"scheduled_at"`
	VehicleClass  string     `json:"vehicle_class"`
	PaymentMethod string     `json:"payment_method"`
}

func (h *BookingHandler) Create(c *gin.Context) {
	var req createBookingReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	passengerID := req.PassengerID
	if passengerID == "" {
		passengerID = middleware.CallerUID(c)
	}
	id, err := h.booking.Create(c.Request.Context(), booking.CreateCommand{
		Actor:         middleware.CallerActor(c),
		PassengerID:   types.ID(passengerID),
		Pickup:        booking.Stop{Desc: req.PickupDesc, Point: types.Point{Lat: req.PickupLat, Lng: req.PickupLng}},
		Dropoff:       booking.Stop{Desc: req.DropoffDesc, Point: types.Point{Lat: req.DropoffLat, Lng: req.DropoffLng}},
		ScheduledAt:   req.ScheduledAt,
		VehicleClass:  req.VehicleClass,
		PaymentMethod: booking.PaymentMethod(req.PaymentMethod),
	})
	if err != nil {
		writeDomainError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, map[string]any{"booking_id": id, "status": booking.StatusPending})
}

func (h *BookingHandler) Get(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		writeError(c, http.StatusBadRequest, "missing booking id")
		return
	}
	b, err := h.booking.Get(c.Request.Context(), types.ID(id))
	if err != nil {
		writeDomainError(c, err)
		return
	}
	actor := middleware.CallerActor(c)
	if actor.ID != b.PassengerID && !actor.Role.Admin() && !boundTo(b, actor) {
		writeError(c, http.StatusForbidden, "not your booking")
		return
	}
	writeJSON(c, http.StatusOK, bookingView(b))
}

func (h *BookingHandler) History(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		writeError(c, http.StatusBadRequest, "missing booking id")
		return
	}
	b, err := h.booking.Get(c.Request.Context(), types.ID(id))
	if err != nil {
		writeDomainError(c, err)
		return
	}
	actor := middleware.CallerActor(c)
	if actor.ID != b.PassengerID && !actor.Role.Admin() {
		writeError(c, http.StatusForbidden, "not your booking")
		return
	}
	events, err := h.booking.History(c.Request.Context(), b.ID)
	if err != nil {
		writeDomainError(c, err)
		return
	}
	out := make([]map[string]any, 0, len(events))
	for _, e := range events {
		out = append(out, map[string]any{
			"from":       e.FromStatus,
			"to":         e.ToStatus,
			"actor_role": e.ActorRole,
			"note":       e.Note,
			"created_at": e.CreatedAt,
		})
	}
	writeJSON(c, http.StatusOK, map[string]any{"booking_id": b.ID, "events": out})
}

type cancelBookingReq struct {
	Reason string `json:"reason"`
}

func (h *BookingHandler) Cancel(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		writeError(c, http.StatusBadRequest, "missing booking id")
		return
	}
	var req cancelBookingReq
	_ = c.ShouldBindJSON(&req)
	err := h.booking.Cancel(c.Request.Context(), booking.CancelCommand{
		Actor:     middleware.CallerActor(c),
		BookingID: types.ID(id),
		Reason:    req.Reason,
	})
	if err != nil {
		writeDomainError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, map[string]any{"status": booking.StatusCancelled})
}

func boundTo(b *booking.Booking, actor types.Actor) bool {
	return b.Driver != nil && b.Driver.ID == actor.ID
}

func bookingView(b *booking.Booking) map[string]any {
	v := map[string]any{
		"booking_id":     b.ID,
		"status":         b.Status,
		"pickup_desc":    b.Pickup.Desc,
		"dropoff_desc":   b.Dropoff.Desc,
		"vehicle_class":  b.VehicleClass,
		"total_cost":     b.TotalCost.Amount,
		"currency":       b.TotalCost.Currency,
		"payment_status": b.PaymentStatus,
		"payment_method": b.PaymentMethod,
		"created_at":     b.CreatedAt,
	}
	if b.ScheduledAt != nil {
		v["scheduled_at"] = b.ScheduledAt
	}
	if b.Driver != nil {
		v["driver"] = map[string]any{
			"id":      b.Driver.ID,
			"name":    b.Driver.Name,
			"phone":   b.Driver.Phone,
			"vehicle": b.Driver.Vehicle,
		}
	}
	return v
}
