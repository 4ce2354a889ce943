package api

import (
	"SignalDesk/internal/service/auth"

	"github.com/labstack/echo/v4"
)

// Router wires all API handlers onto one Echo instance. The stream endpoint
// authenticates inline so it can answer with real HTTP statuses; the JSON
// endpoints share the auth middleware.
type Router struct {
	auth   *auth.Service
	health *HealthHandler
	stream *StreamHandler
	setups *SetupsHandler
	alerts *AlertsHandler
}

func NewRouter(authSvc *auth.Service, health *HealthHandler, stream *StreamHandler, setups *SetupsHandler, alerts *AlertsHandler) *Router {
	return &Router{
		auth:   authSvc,
		health: health,
		stream: stream,
		setups: setups,
		alerts: alerts,
	}
}

func (r *Router) RegisterRoutes(e *echo.Echo) {
	r.health.RegisterRoutes(e)
	r.stream.RegisterRoutes(e)

	g := e.Group("/api", r.auth.Middleware())
	r.setups.RegisterRoutes(g)
	if r.alerts != nil {
		r.alerts.RegisterRoutes(g)
	}
}
