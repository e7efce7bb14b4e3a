// README: Driver handlers: registration, availability toggles, trip actions.
package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"hail/internal/http/middleware"
	"hail/internal/modules/booking"
	"hail/internal/modules/driver"
	"hail/internal/modules/rematch"
	"hail/internal/types"
)

type DriverHandler struct {
	drivers *driver.Service
	booking *booking.Service
	rematch *rematch.Scheduler
}

func NewDriverHandler(drivers *driver.Service, bookingSvc *booking.Service, sched *rematch.Scheduler) *DriverHandler {
	return &DriverHandler{drivers: drivers, booking: bookingSvc, rematch: sched}
}

type registerDriverReq struct {
	Name         string `json:"name"`
	Phone        string `json:"phone"`
	Vehicle      string `json:"vehicle"`
	VehicleClass string `json:"vehicle_class"`
}

func (h *DriverHandler) Register(c *gin.Context) {
	var req registerDriverReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	id, err := h.drivers.Register(c.Request.Context(), driver.RegisterCommand{
		UserID:       types.ID(middleware.CallerUID(c)),
		Name:         req.Name,
		Phone:        req.Phone,
		Vehicle:      req.Vehicle,
		VehicleClass: req.VehicleClass,
	})
	if err != nil {
		writeDomainError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, map[string]any{"driver_id": id, "status": driver.StatusOffline})
}

type setStatusReq struct {
	Status string `json:"status"`
}

func (h *DriverHandler) SetStatus(c *gin.Context) {
	var req setStatusReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	actor, d, ok := h.callerDriver(c)
	if !ok {
		return
	}
	err := h.drivers.SetStatus(c.Request.Context(), driver.SetStatusCommand{
		Actor:    actor,
		DriverID: d.ID,
		To:       driver.Status(req.Status),
	})
	if err != nil {
		writeDomainError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, map[string]any{"driver_id": d.ID, "status": req.Status})
}

func (h *DriverHandler) EnRoute(c *gin.Context) {
	actor, id, ok := h.tripActor(c)
	if !ok {
		return
	}
	err := h.booking.EnRoute(c.Request.Context(), booking.EnRouteCommand{Actor: actor, BookingID: id})
	if err != nil {
		writeDomainError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, map[string]any{"status": booking.StatusDriverEnRoute})
}

func (h *DriverHandler) Start(c *gin.Context) {
	actor, id, ok := h.tripActor(c)
	if !ok {
		return
	}
	err := h.booking.Start(c.Request.Context(), booking.StartCommand{Actor: actor, BookingID: id})
	if err != nil {
		writeDomainError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, map[string]any{"status": booking.StatusInProgress})
}

func (h *DriverHandler) Complete(c *gin.Context) {
	actor, id, ok := h.tripActor(c)
	if !ok {
		return
	}
	err := h.booking.Complete(c.Request.Context(), booking.CompleteCommand{Actor: actor, BookingID: id})
	if err != nil {
		writeDomainError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, map[string]any{"status": booking.StatusCompleted})
}

// Reject declines the current offer and kicks the search loop back on.
func (h *DriverHandler) Reject(c *gin.Context) {
	actor, id, ok := h.tripActor(c)
	if !ok {
		return
	}
	err := h.booking.Reject(c.Request.Context(), booking.RejectCommand{Actor: actor, BookingID: id})
	if err != nil {
		writeDomainError(c, err)
		return
	}
	if h.rematch != nil {
		// The search loop outlives the request.
		h.rematch.Trigger(context.WithoutCancel(c.Request.Context()), id)
	}
	writeJSON(c, http.StatusOK, map[string]any{"status": booking.StatusConfirmed})
}

// callerDriver resolves the authenticated user to their driver profile. Trip
// and availability endpoints authorize against the driver id, not the uid.
func (h *DriverHandler) callerDriver(c *gin.Context) (types.Actor, *driver.Driver, bool) {
	actor := middleware.CallerActor(c)
	d, err := h.drivers.GetByUser(c.Request.Context(), types.ID(middleware.CallerUID(c)))
	if err != nil {
		writeDomainError(c, err)
		return actor, nil, false
	}
	actor.ID = d.ID
	return actor, d, true
}

func (h *DriverHandler) tripActor(c *gin.Context) (types.Actor, types.ID, bool) {
	id := c.Param("id")
	if id == "" {
		writeError(c, http.StatusBadRequest, "missing booking id")
		return types.Actor{}, "", false
	}
	actor := middleware.CallerActor(c)
	// Admins may act on trips without owning a driver profile.
	if actor.Role.Admin() {
		if d, err := h.drivers.GetByUser(c.Request.Context(), types.ID(middleware.CallerUID(c))); err == nil {
			actor.ID = d.ID
		}
		return actor, types.ID(id), true
	}
	actor, _, ok := h.callerDriver(c)
	if !ok {
		return types.Actor{}, "", false
	}
	return actor, types.ID(id), true
}
