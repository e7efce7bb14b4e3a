// README: Location handler: rate-limited GPS ingest for drivers.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"hail/internal/http/middleware"
	"hail/internal/modules/driver"
	"hail/internal/modules/location"
	"hail/internal/types"
)

type LocationHandler struct {
	location *location.Service
	drivers  *driver.Service
}

func NewLocationHandler(svc *location.Service, drivers *driver.Service) *LocationHandler {
	return &LocationHandler{location: svc, drivers: drivers}
}

type updateLocationReq struct {
	Lat     float64  `json:"lat"`
	Lng     float64  `json:"lng"`
	Heading *float64 `json:"heading"`
	Speed   *float64 `json:"speed"`
}

func (h *LocationHandler) Update(c *gin.Context) {
	var req updateLocationReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	d, err := h.drivers.GetByUser(c.Request.Context(), types.ID(middleware.CallerUID(c)))
	if err != nil {
		writeDomainError(c, err)
		return
	}
	actor := middleware.CallerActor(c)
	actor.ID = d.ID
	err = h.location.Update(c.Request.Context(), location.UpdateCommand{
		Actor:    actor,
		DriverID: d.ID,
		Point:    types.Point{Lat: req.Lat, Lng: req.Lng},
		Heading:  req.Heading,
		Speed:    req.Speed,
	})
	if err != nil {
		writeDomainError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, map[string]any{"driver_id": d.ID})
}
