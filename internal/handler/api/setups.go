package api

import (
	"errors"

	models "SignalDesk/internal/domain/models"
	"SignalDesk/internal/services/scoring"
	"SignalDesk/internal/usecase"
	xhttp "SignalDesk/pkg/http"
	xlogger "SignalDesk/pkg/logger"

	"github.com/labstack/echo/v4"
)

// SetupsHandler exposes the detector's watchlist, stats and on-demand
// analysis over JSON.
type SetupsHandler struct {
	logger   *xlogger.Logger
	detector *usecase.SetupDetector
}

func NewSetupsHandler(log *xlogger.Logger, detector *usecase.SetupDetector) *SetupsHandler {
	return &SetupsHandler{logger: log, detector: detector}
}

func (h *SetupsHandler) RegisterRoutes(g *echo.Group) {
	g.GET("/watchlist", h.GetWatchlist)
	g.POST("/watchlist", h.AddToWatchlist)
	g.DELETE("/watchlist", h.RemoveFromWatchlist)
	g.GET("/setups", h.ActiveSetups)
	g.GET("/stats", h.Stats)
	g.POST("/analyze", h.Analyze)
}

func (h *SetupsHandler) GetWatchlist(c echo.Context) error {
	return xhttp.SuccessResponse(c, models.WatchlistResponse{Symbols: h.detector.Watchlist()})
}

func (h *SetupsHandler) AddToWatchlist(c echo.Context) error {
	req := &models.WatchlistUpdateRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	if err := h.detector.AddSymbols(c.Request().Context(), req.Symbols); err != nil {
		h.logger.Error("watchlist add failed",
			xlogger.Strings("symbols", req.Symbols),
			xlogger.Error(err))
		return xhttp.AppErrorResponse(c, xhttp.ServiceUnavailableError("market data broker unavailable").WithError(err))
	}

	return xhttp.CreatedResponse(c, models.WatchlistResponse{Symbols: h.detector.Watchlist()})
}

func (h *SetupsHandler) RemoveFromWatchlist(c echo.Context) error {
	req := &models.WatchlistUpdateRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	h.detector.RemoveSymbols(req.Symbols)
	return xhttp.SuccessResponse(c, models.WatchlistResponse{Symbols: h.detector.Watchlist()})
}

func (h *SetupsHandler) ActiveSetups(c echo.Context) error {
	return xhttp.SuccessResponse(c, h.detector.ActiveSetups())
}

func (h *SetupsHandler) Stats(c echo.Context) error {
	return xhttp.SuccessResponse(c, models.NewStatsResponse(h.detector.Stats()))
}

// Analyze runs a synchronous analysis for one symbol and returns the
// resulting setup snapshot.
func (h *SetupsHandler) Analyze(c echo.Context) error {
	req := &models.AnalyzeRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	symbol := models.CanonicalSymbol(req.Symbol)

	setup, err := h.detector.AnalyzeNow(c.Request().Context(), symbol)
	if err != nil {
		h.logger.Warn("analyze failed",
			xlogger.String("symbol", symbol),
			xlogger.Error(err))
		return xhttp.AppErrorResponse(c, analyzeError(symbol, err))
	}

	return xhttp.SuccessResponse(c, models.NewSetupResponse(*setup))
}

func analyzeError(symbol string, err error) *xhttp.AppError {
	switch {
	case errors.Is(err, usecase.ErrNotWatched):
		return xhttp.NotFoundErrorf("%s is not on the watchlist", symbol)
	case errors.Is(err, usecase.ErrAnalysisInFlight):
		return xhttp.ConflictError("analysis already in flight for " + symbol)
	case errors.Is(err, scoring.ErrInsufficientData):
		return xhttp.UnprocessableError("not enough bars collected for " + symbol)
	default:
		return xhttp.InternalError("analysis failed").WithError(err)
	}
}
