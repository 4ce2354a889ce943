package api

import (
	"encoding/json"
	"net/http"
	"time"

	models "SignalDesk/internal/domain/models"
	icache "SignalDesk/internal/service/cache"
	"SignalDesk/internal/service/ratelimit"
	"SignalDesk/internal/usecase"
	pkgcache "SignalDesk/pkg/cache"
	xhttp "SignalDesk/pkg/http"
	xlogger "SignalDesk/pkg/logger"
	"SignalDesk/pkg/util"

	"github.com/labstack/echo/v4"
)

const alertsCacheTTL = 30 * time.Second

// AlertsHandler serves historical setup alerts with a short response cache.
type AlertsHandler struct {
	logger *xlogger.Logger
	query  *usecase.AlertQuery
	cache  icache.BytesCache
	rl     *ratelimit.Limiter
}

func NewAlertsHandler(log *xlogger.Logger, query *usecase.AlertQuery, cache icache.BytesCache) *AlertsHandler {
	return &AlertsHandler{logger: log, query: query, cache: cache, rl: ratelimit.New()}
}

func (h *AlertsHandler) RegisterRoutes(g *echo.Group) {
	g.GET("/alerts", h.Alerts)
}

// Limiter exposes the query limiter so the idle sweep can prune it.
func (h *AlertsHandler) Limiter() *ratelimit.Limiter { return h.rl }

func (h *AlertsHandler) Alerts(c echo.Context) error {
	req := &models.AlertsRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	if !h.rl.Allow(c.RealIP()+":alerts", 5, 2) {
		h.logger.Warn("alerts rate limited", xlogger.String("remote", c.RealIP()))
		return xhttp.DataResponse(c, http.StatusTooManyRequests, "rate limited")
	}

	symbol := models.CanonicalSymbol(req.Symbol)
	from := util.ParseTimeDefault(req.From, time.Time{})
	to := util.ParseTimeDefault(req.To, time.Time{})

	cacheKey := pkgcache.GenerateKeyWithParams("alerts", symbol, from.Unix(), to.Unix(), req.Limit)
	if h.cache != nil {
		if b, ok, err := h.cache.GetBytes(cacheKey); err != nil {
			h.logger.Warn("alerts cache get error", xlogger.Error(err))
		} else if ok {
			h.logger.Debug("alerts cache hit", xlogger.String("key", cacheKey))
			return xhttp.DataResponse(c, http.StatusOK, json.RawMessage(b))
		}
	}

	res, err := h.query.GetAlerts(c.Request().Context(), usecase.GetAlertsParams{
		Symbol: symbol,
		From:   from,
		To:     to,
		Limit:  req.Limit,
	})
	if err != nil {
		h.logger.Error("alerts query error",
			xlogger.String("symbol", symbol),
			xlogger.Error(err))
		return xhttp.AppErrorResponse(c, err)
	}

	b, err := json.Marshal(res)
	if err != nil {
		return xhttp.AppErrorResponse(c, err)
	}
	if h.cache != nil {
		if err := h.cache.SetBytes(cacheKey, b, alertsCacheTTL); err != nil {
			h.logger.Warn("alerts cache set error", xlogger.Error(err))
		}
	}
	return xhttp.DataResponse(c, http.StatusOK, json.RawMessage(b))
}
