package notify

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"SignalDesk/internal/domain/models"
	"SignalDesk/pkg/logger"
)

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	l, err := logger.New(&logger.Config{Level: "error", Format: "json", Output: "stderr"})
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	return l
}

type fakeQueue struct {
	mu       sync.Mutex
	msgTypes []string
	payloads []interface{}
	err      error
}

func (f *fakeQueue) Enqueue(_ context.Context, taskType string, payload interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.msgTypes = append(f.msgTypes, taskType)
	f.payloads = append(f.payloads, payload)
	return nil
}

type fakeSender struct {
	name   string
	err    error
	titles []string
	bodies []string
}

func (f *fakeSender) Send(_ context.Context, title, body string) error {
	if f.err != nil {
		return f.err
	}
	f.titles = append(f.titles, title)
	f.bodies = append(f.bodies, body)
	return nil
}

func (f *fakeSender) Name() string { return f.name }

func sampleSetup() models.Setup {
	return models.Setup{
		Symbol:    "SPY",
		State:     models.StateReady,
		Direction: models.DirectionBullish,
		Score:     models.LTPScore{Level: 90, Trend: 85, Patience: 95, Overall: 92.5},
		Grade:     models.GradeA,
		Price:     452.13,
		Timestamp: time.UnixMilli(1700000000000),
	}
}

func TestQueueNotifierEnqueuesSetup(t *testing.T) {
	q := &fakeQueue{}
	n := NewQueueNotifier(q, testLogger(t))

	if err := n.NotifySetup(context.Background(), sampleSetup()); err != nil {
		t.Fatalf("notify setup: %v", err)
	}

	if len(q.payloads) != 1 {
		t.Fatalf("expected 1 enqueued message, got %d", len(q.payloads))
	}
	if q.msgTypes[0] != TypeNotification {
		t.Fatalf("unexpected message type %q", q.msgTypes[0])
	}

	p, ok := q.payloads[0].(Payload)
	if !ok {
		t.Fatalf("unexpected payload type %T", q.payloads[0])
	}
	if p.Kind != KindSetup {
		t.Fatalf("unexpected kind %q", p.Kind)
	}
	if p.Symbol != "SPY" || p.Grade != "A" || p.State != "ready" {
		t.Fatalf("unexpected payload %+v", p)
	}
	if p.Score != 92.5 {
		t.Fatalf("expected overall score in payload, got %v", p.Score)
	}
	if p.Timestamp != 1700000000000 {
		t.Fatalf("unexpected timestamp %d", p.Timestamp)
	}
}

func TestQueueNotifierEnqueuesAlert(t *testing.T) {
	q := &fakeQueue{}
	n := NewQueueNotifier(q, testLogger(t))

	if err := n.NotifyAlert(context.Background(), "critical", "feed", "upstream disconnected"); err != nil {
		t.Fatalf("notify alert: %v", err)
	}

	p, ok := q.payloads[0].(Payload)
	if !ok {
		t.Fatalf("unexpected payload type %T", q.payloads[0])
	}
	if p.Kind != KindAlert || p.Severity != "critical" || p.Source != "feed" {
		t.Fatalf("unexpected payload %+v", p)
	}
	if p.Message != "upstream disconnected" {
		t.Fatalf("unexpected message %q", p.Message)
	}
}

func TestQueueNotifierPropagatesEnqueueError(t *testing.T) {
	q := &fakeQueue{err: errors.New("queue down")}
	n := NewQueueNotifier(q, testLogger(t))

	if err := n.NotifySetup(context.Background(), sampleSetup()); err == nil {
		t.Fatal("expected enqueue error")
	}
}

// queued payloads arrive at the job as raw JSON, the same shape the Redis
// worker hands over after a round trip through the wire.
func rawPayload(t *testing.T, p Payload) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(p)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return json.RawMessage(data)
}

func TestSendJobDeliversSetup(t *testing.T) {
	sender := &fakeSender{name: "capture"}
	job := NewSendJob([]Sender{sender}, testLogger(t))

	if job.TaskType() != TypeNotification {
		t.Fatalf("unexpected task type %q", job.TaskType())
	}

	payload := rawPayload(t, NewSetupPayload(sampleSetup()))
	if err := job.Handle(context.Background(), payload); err != nil {
		t.Fatalf("handle: %v", err)
	}

	if len(sender.titles) != 1 {
		t.Fatalf("expected 1 delivery, got %d", len(sender.titles))
	}
	if sender.titles[0] != "SPY setup ready" {
		t.Fatalf("unexpected title %q", sender.titles[0])
	}
	body := sender.bodies[0]
	for _, want := range []string{"Grade A", "92.5", "bullish", "452.13"} {
		if !strings.Contains(body, want) {
			t.Fatalf("body %q missing %q", body, want)
		}
	}
}

func TestSendJobDeliversAlert(t *testing.T) {
	sender := &fakeSender{name: "capture"}
	job := NewSendJob([]Sender{sender}, testLogger(t))

	payload := rawPayload(t, NewAlertPayload("critical", "feed", "upstream disconnected"))
	if err := job.Handle(context.Background(), payload); err != nil {
		t.Fatalf("handle: %v", err)
	}

	if sender.titles[0] != "critical alert" {
		t.Fatalf("unexpected title %q", sender.titles[0])
	}
	if !strings.Contains(sender.bodies[0], "upstream disconnected") {
		t.Fatalf("body %q missing alert message", sender.bodies[0])
	}
	if !strings.Contains(sender.bodies[0], "Source: feed") {
		t.Fatalf("body %q missing source", sender.bodies[0])
	}
}

func TestSendJobRejectsBadPayload(t *testing.T) {
	job := NewSendJob(nil, testLogger(t))

	if err := job.Handle(context.Background(), json.RawMessage(`{"kind":`)); err == nil {
		t.Fatal("expected payload error")
	}
}

func TestSendJobCollectsSenderErrors(t *testing.T) {
	broken := &fakeSender{name: "broken", err: errors.New("send failed")}
	working := &fakeSender{name: "working"}
	job := NewSendJob([]Sender{broken, working}, testLogger(t))

	payload := rawPayload(t, NewSetupPayload(sampleSetup()))
	err := job.Handle(context.Background(), payload)
	if err == nil {
		t.Fatal("expected sender error")
	}
	if !strings.Contains(err.Error(), "broken") {
		t.Fatalf("error %q does not name the failed sender", err)
	}
	if len(working.titles) != 1 {
		t.Fatal("working sender should still receive the notification")
	}
}

func TestLogSenderAlwaysDelivers(t *testing.T) {
	s := NewLogSender(testLogger(t))
	if err := s.Send(context.Background(), "title", "body"); err != nil {
		t.Fatalf("log sender: %v", err)
	}
	if s.Name() != "log" {
		t.Fatalf("unexpected sender name %q", s.Name())
	}
}
