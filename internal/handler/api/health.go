package api

import (
	"net/http"

	domrepo "SignalDesk/internal/domain/repository"
	xhttp "SignalDesk/pkg/http"
	xlogger "SignalDesk/pkg/logger"

	"github.com/labstack/echo/v4"
)

// HealthHandler answers orchestrator probes. Probe responses carry real HTTP
// statuses because load balancers never parse the envelope.
type HealthHandler struct {
	logger *xlogger.Logger
	bus    domrepo.Bus
	store  domrepo.AlertStore
}

func NewHealthHandler(log *xlogger.Logger, bus domrepo.Bus, store domrepo.AlertStore) *HealthHandler {
	return &HealthHandler{logger: log, bus: bus, store: store}
}

func (h *HealthHandler) RegisterRoutes(e *echo.Echo) {
	e.GET("/healthz", h.Healthz)
	e.GET("/readyz", h.Readyz)
}

// Healthz reports process liveness.
func (h *HealthHandler) Healthz(c echo.Context) error {
	return xhttp.StatusResponse(c, http.StatusOK, map[string]string{"status": "ok"})
}

// Readyz probes the broker and, when configured, the alert store.
func (h *HealthHandler) Readyz(c echo.Context) error {
	ctx := c.Request().Context()
	components := map[string]string{}
	healthy := true

	if err := h.bus.Ping(ctx); err != nil {
		components["broker"] = err.Error()
		healthy = false
	} else {
		components["broker"] = "ok"
	}

	if h.store != nil {
		if err := h.store.Health(ctx); err != nil {
			components["alert_store"] = err.Error()
			healthy = false
		} else {
			components["alert_store"] = "ok"
		}
	}

	if !healthy {
		h.logger.Warn("readiness probe failed", xlogger.Any("components", components))
		return xhttp.StatusResponse(c, http.StatusServiceUnavailable, components)
	}
	return xhttp.StatusResponse(c, http.StatusOK, components)
}
