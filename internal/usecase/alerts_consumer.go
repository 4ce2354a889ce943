package usecase

import (
	"context"
	"encoding/json"
	"time"

	"SignalDesk/internal/domain/models"
	domrepo "SignalDesk/internal/domain/repository"
	pkgkafka "SignalDesk/pkg/kafka"
)

// SetupAlertsHandler consumes mirrored setup events from Kafka and persists
// them to the alert store.
type SetupAlertsHandler struct {
	topic   string
	store   domrepo.AlertStore
	metrics domrepo.Metrics
}

func NewSetupAlertsHandler(topic string, store domrepo.AlertStore, metrics domrepo.Metrics) *SetupAlertsHandler {
	return &SetupAlertsHandler{topic: topic, store: store, metrics: metrics}
}

func (h *SetupAlertsHandler) Topic() string { return h.topic }

// Handle unmarshals one setup event and writes it through. Events that are
// not setup transitions are skipped without error so the topic can carry
// other mirrored traffic.
func (h *SetupAlertsHandler) Handle(ctx context.Context, b []byte) error {
	var ev models.SetupEvent
	if err := json.Unmarshal(b, &ev); err != nil {
		h.metrics.RecordError("alerts_consumer_unmarshal")
		return err
	}
	if ev.Type != models.EventSetupForming && ev.Type != models.EventSetupReady {
		return nil
	}

	h.metrics.RecordLatency("alert_e2e", time.Since(time.UnixMilli(ev.Timestamp)).Seconds())

	setup := &models.Setup{
		Symbol:    ev.Symbol,
		State:     stateForEvent(ev.Type),
		Direction: ev.Direction,
		Score:     ev.Score,
		Grade:     ev.Grade,
		Price:     ev.Price,
		Timestamp: time.UnixMilli(ev.Timestamp),
	}

	start := time.Now()
	if err := h.store.Store(ctx, setup); err != nil {
		h.metrics.RecordError("alerts_consumer_store")
		return err
	}
	h.metrics.RecordLatency("alert_store_insert", time.Since(start).Seconds())
	return nil
}

func stateForEvent(t models.EventType) models.SetupState {
	if t == models.EventSetupReady {
		return models.StateReady
	}
	return models.StateForming
}

var _ pkgkafka.MessageHandler = (*SetupAlertsHandler)(nil)
