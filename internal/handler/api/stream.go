package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	models "SignalDesk/internal/domain/models"
	domrepo "SignalDesk/internal/domain/repository"
	"SignalDesk/internal/service/auth"
	"SignalDesk/internal/service/ratelimit"
	"SignalDesk/internal/service/redistributor"
	xconfig "SignalDesk/pkg/config"
	xhttp "SignalDesk/pkg/http"
	xlogger "SignalDesk/pkg/logger"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

// streamBufferSize bounds the per-connection event queue. A client that
// cannot keep up loses messages rather than stalling the dispatcher.
const streamBufferSize = 64

// StreamHandler serves the per-connection SSE market stream.
type StreamHandler struct {
	logger  *xlogger.Logger
	auth    *auth.Service
	rd      *redistributor.Redistributor
	metrics domrepo.Metrics
	limiter *ratelimit.Limiter
	cfg     *xconfig.Config
}

func NewStreamHandler(log *xlogger.Logger, authSvc *auth.Service, rd *redistributor.Redistributor, met domrepo.Metrics, cfg *xconfig.Config) *StreamHandler {
	return &StreamHandler{
		logger:  log,
		auth:    authSvc,
		rd:      rd,
		metrics: met,
		limiter: ratelimit.New(),
		cfg:     cfg,
	}
}

func (h *StreamHandler) RegisterRoutes(e *echo.Echo) {
	e.GET("/stream", h.Stream)
}

// Limiter exposes the connect limiter so the idle sweep can prune it.
func (h *StreamHandler) Limiter() *ratelimit.Limiter { return h.limiter }

// Stream upgrades the request to a server-sent event stream. Authentication,
// rate limiting and the broker probe all happen before the first byte of the
// stream, so failures reach the client as real HTTP statuses.
func (h *StreamHandler) Stream(c echo.Context) error {
	ctx := c.Request().Context()

	claims, err := h.auth.Authenticate(ctx, auth.TokenFromRequest(c))
	if err != nil {
		return xhttp.StatusResponse(c, http.StatusUnauthorized, "Authorization required")
	}

	if limit := h.cfg.Stream.ConnectsPerMinute; limit > 0 {
		if !h.limiter.Allow(c.RealIP()+":stream", float64(limit), float64(limit)/60) {
			h.logger.Warn("stream: connect rate limited",
				xlogger.String("remote", c.RealIP()),
				xlogger.String("user", claims.UserID()))
			return xhttp.StatusResponse(c, http.StatusTooManyRequests, "Too many stream connects")
		}
	}

	req := &models.StreamRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.StatusResponse(c, http.StatusBadRequest, verr)
	}

	symbols := models.CanonicalSymbols(models.SplitSymbolList(req.Symbols), h.cfg.MaxStreamSymbols())
	if len(symbols) == 0 {
		symbols = models.CanonicalSymbols(h.cfg.StreamDefaults(), h.cfg.MaxStreamSymbols())
	}

	if err := h.rd.Healthy(ctx); err != nil {
		h.logger.Error("stream: broker unavailable", xlogger.Error(err))
		return xhttp.StatusResponse(c, http.StatusServiceUnavailable, "Market data broker unavailable")
	}

	connID := uuid.NewString()
	start := time.Now()

	w := c.Response()
	w.Header().Set(echo.HeaderContentType, "text/event-stream")
	w.Header().Set(echo.HeaderCacheControl, "no-cache")
	w.Header().Set(echo.HeaderConnection, "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	if err := h.sendFrame(w, models.ConnectingFrame{Type: models.FrameConnecting, Timestamp: start.UnixMilli()}); err != nil {
		return nil
	}

	// Setup transitions ride shared channels; clients opt in per connection.
	var alertChannels []string
	if req.Alerts {
		alertChannels = models.SetupChannels()
	}

	events := make(chan []byte, streamBufferSize)
	sub, err := h.rd.SubscribeChannels(ctx, symbols, alertChannels, func(channel string, payload []byte) {
		select {
		case events <- payload:
		default:
			h.metrics.RecordDropped(channel)
		}
	})
	if err != nil {
		h.logger.Error("stream: subscribe failed",
			xlogger.String("conn_id", connID),
			xlogger.Error(err))
		_ = h.sendFrame(w, models.ErrorFrame{
			Type:      models.FrameError,
			Message:   "subscription failed",
			Timestamp: time.Now().UnixMilli(),
		})
		return nil
	}
	defer sub.Close()

	h.metrics.RecordStreamClients(1)
	defer h.metrics.RecordStreamClients(-1)

	h.logger.Info("stream: client connected",
		xlogger.String("conn_id", connID),
		xlogger.String("user", claims.UserID()),
		xlogger.Strings("symbols", sub.Symbols()))
	defer func() {
		h.logger.Info("stream: client disconnected",
			xlogger.String("conn_id", connID),
			xlogger.Duration("connected", time.Since(start)))
	}()

	if err := h.sendFrame(w, models.SubscribedFrame{
		Type:      models.FrameSubscribed,
		Symbols:   sub.Symbols(),
		Alerts:    req.Alerts,
		Timestamp: time.Now().UnixMilli(),
	}); err != nil {
		return nil
	}

	heartbeat := time.NewTicker(h.cfg.HeartbeatInterval())
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case payload := <-events:
			if err := h.send(w, payload); err != nil {
				return nil
			}
		case <-heartbeat.C:
			frame := models.HeartbeatFrame{Type: models.FrameHeartbeat, Timestamp: time.Now().UnixMilli()}
			if err := h.sendFrame(w, frame); err != nil {
				return nil
			}
		}
	}
}

func (h *StreamHandler) sendFrame(w *echo.Response, frame interface{}) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	return h.send(w, data)
}

// send writes one SSE data frame and flushes it. Broker payloads pass
// through verbatim.
func (h *StreamHandler) send(w *echo.Response, data []byte) error {
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return err
	}
	w.Flush()
	return nil
}
