// README: API gateway; wires middleware and routes onto the gin engine.
package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"hail/internal/http/handlers"
	"hail/internal/http/middleware"
	"hail/internal/infra"
	"hail/internal/modules/assignment"
	"hail/internal/modules/booking"
	"hail/internal/modules/driver"
	"hail/internal/modules/location"
	"hail/internal/modules/payment"
	"hail/internal/modules/rematch"
	"hail/internal/notify"
	"hail/internal/types"
)

type ServerDeps struct {
	Booking    *booking.Service
	Drivers    *driver.Service
	Assignment *assignment.Service
	Payment    *payment.Service
	Location   *location.Service
	Rematch    *rematch.Scheduler
	Verifier   infra.TokenVerifier
	WSRegistry *notify.WSRegistry
	Log        *zap.Logger
}

// NewRouter builds the full route table. Everything under /api requires a
// verified bearer token; role gates sit on the driver and admin groups.
func NewRouter(deps ServerDeps) http.Handler {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(middleware.Recovery(deps.Log), middleware.Logging(deps.Log))

	r.GET("/health", func(c *gin.Context) { c.String(http.StatusOK, "OK") })
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api", middleware.Auth(deps.Verifier))

	bookingHandler := handlers.NewBookingHandler(deps.Booking)
	api.POST("/bookings", bookingHandler.Create)
	api.GET("/bookings/:id", bookingHandler.Get)
	api.GET("/bookings/:id/history", bookingHandler.History)
	api.POST("/bookings/:id/cancel", bookingHandler.Cancel)

	paymentHandler := handlers.NewPaymentHandler(deps.Payment)
	api.POST("/bookings/:id/payment-intent", paymentHandler.CreateIntent)
	api.POST("/bookings/:id/refund", paymentHandler.Refund)

	wsHandler := handlers.NewWSHandler(deps.WSRegistry, deps.Drivers, deps.Log)
	api.GET("/ws", wsHandler.Connect)

	api.POST("/drivers", handlers.NewDriverHandler(deps.Drivers, deps.Booking, deps.Rematch).Register)

	drv := api.Group("/drivers", middleware.RequireRole(types.RoleDriver, types.RoleAdmin, types.RoleSuperAdmin))
	driverHandler := handlers.NewDriverHandler(deps.Drivers, deps.Booking, deps.Rematch)
	drv.PUT("/status", driverHandler.SetStatus)
	drv.POST("/location", handlers.NewLocationHandler(deps.Location, deps.Drivers).Update)
	drv.POST("/trips/:id/en-route", driverHandler.EnRoute)
	drv.POST("/trips/:id/start", driverHandler.Start)
	drv.POST("/trips/:id/complete", driverHandler.Complete)
	drv.POST("/trips/:id/reject", driverHandler.Reject)

	admin := api.Group("/admin", middleware.RequireRole(types.RoleAdmin, types.RoleSuperAdmin))
	adminHandler := handlers.NewAdminHandler(deps.Booking, deps.Drivers, deps.Assignment, deps.Rematch)
	admin.POST("/bookings/:id/assign", adminHandler.Assign)
	admin.PUT("/bookings/:id/status", adminHandler.UpdateStatus)
	admin.POST("/cleanup", middleware.RequireRole(types.RoleSuperAdmin), adminHandler.Cleanup)

	return r
}
