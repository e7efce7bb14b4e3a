// README: Admin handlers: manual assignment, status overrides, cleanup sweep.
package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"hail/internal/http/middleware"
	"hail/internal/modules/assignment"
	"hail/internal/modules/booking"
	"hail/internal/modules/driver"
	"hail/internal/modules/rematch"
	"hail/internal/types"
)

type AdminHandler struct {
	booking    *booking.Service
	drivers    *driver.Service
	assignment *assignment.Service
	rematch    *rematch.Scheduler
}

func NewAdminHandler(bookingSvc *booking.Service, drivers *driver.Service, assignSvc *assignment.Service, sched *rematch.Scheduler) *AdminHandler {
	return &AdminHandler{booking: bookingSvc, drivers: drivers, assignment: assignSvc, rematch: sched}
}

type assignReq struct {
	DriverID string `json:"driver_id"`
}

// Assign manually binds a driver to a booking, bypassing the search loop.
func (h *AdminHandler) Assign(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		writeError(c, http.StatusBadRequest, "missing booking id")
		return
	}
	var req assignReq
	if err := c.ShouldBindJSON(&req); err != nil || req.DriverID == "" {
		writeError(c, http.StatusBadRequest, "missing driver_id")
		return
	}
	err := h.assignment.Assign(c.Request.Context(), assignment.AssignCommand{
		Actor:     middleware.CallerActor(c),
		BookingID: types.ID(id),
		DriverID:  types.ID(req.DriverID),
	})
	if err != nil {
		writeDomainError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, map[string]any{"status": booking.StatusDriverAssigned})
}

type updateStatusReq struct {
	Status string `json:"status"`
	Note   string `json:"note"`
}

// UpdateStatus dispatches an admin override to the matching typed command.
// Confirming a booking also opens the driver search.
func (h *AdminHandler) UpdateStatus(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		writeError(c, http.StatusBadRequest, "missing booking id")
		return
	}
	var req updateStatusReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	actor := middleware.CallerActor(c)
	bookingID := types.ID(id)

	var err error
	switch booking.Status(req.Status) {
	case booking.StatusConfirmed:
		err = h.booking.Confirm(c.Request.Context(), booking.ConfirmCommand{Actor: actor, BookingID: bookingID, Note: req.Note})
		if err == nil && h.rematch != nil {
			h.rematch.Trigger(context.WithoutCancel(c.Request.Context()), bookingID)
		}
	case booking.StatusDriverEnRoute:
		err = h.booking.EnRoute(c.Request.Context(), booking.EnRouteCommand{Actor: actor, BookingID: bookingID})
	case booking.StatusInProgress:
		err = h.booking.Start(c.Request.Context(), booking.StartCommand{Actor: actor, BookingID: bookingID})
	case booking.StatusCompleted:
		err = h.booking.Complete(c.Request.Context(), booking.CompleteCommand{Actor: actor, BookingID: bookingID})
	case booking.StatusCancelled:
		err = h.booking.Cancel(c.Request.Context(), booking.CancelCommand{Actor: actor, BookingID: bookingID, Reason: req.Note})
	default:
		writeError(c, http.StatusBadRequest, "unknown target status")
		return
	}
	if err != nil {
		writeDomainError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, map[string]any{"booking_id": bookingID, "status": req.Status})
}

// Cleanup runs one reconciliation pass on demand. Superadmin only; the
// periodic sweep covers normal operation.
func (h *AdminHandler) Cleanup(c *gin.Context) {
	corrected, err := h.drivers.Cleanup(c.Request.Context())
	if err != nil {
		writeDomainError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, map[string]any{"corrected": corrected})
}
