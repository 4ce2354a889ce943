package levels

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"SignalDesk/internal/domain/models"
	"SignalDesk/pkg/cache"
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

// mapCache mimics the Redis cache contract: values are stored as JSON and
// unmarshalled on read.
type mapCache struct {
	mu   sync.Mutex
	data map[string]string
}

func newMapCache() *mapCache {
	return &mapCache{data: make(map[string]string)}
}

func (m *mapCache) Set(_ context.Context, key string, value interface{}, _ time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = string(data)
	return nil
}

func (m *mapCache) Get(_ context.Context, key string, dest interface{}) error {
	m.mu.Lock()
	raw, ok := m.data[key]
	m.mu.Unlock()
	if !ok {
		return cache.ErrCacheMiss
	}
	return json.Unmarshal([]byte(raw), dest)
}

func (m *mapCache) DeleteByPattern(_ context.Context, pattern string) error {
	prefix := strings.TrimSuffix(pattern, "*")
	m.mu.Lock()
	defer m.mu.Unlock()
	for k := range m.data {
		if strings.HasPrefix(k, prefix) {
			delete(m.data, k)
		}
	}
	return nil
}

func (m *mapCache) Exists(_ context.Context, keys ...string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		if _, ok := m.data[k]; ok {
			return true, nil
		}
	}
	return false, nil
}

func (m *mapCache) MSet(ctx context.Context, values map[string]interface{}, ttl time.Duration) error {
	for k, v := range values {
		if err := m.Set(ctx, k, v, ttl); err != nil {
			return err
		}
	}
	return nil
}

func (m *mapCache) MGet(_ context.Context, keys ...string) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]string, len(keys))
	for _, k := range keys {
		if v, ok := m.data[k]; ok {
			out[k] = v
		}
	}
	return out, nil
}

func (m *mapCache) TryLock(_ context.Context, key string, _ time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.data[key]; ok {
		return false, nil
	}
	m.data[key] = "locked"
	return true, nil
}

func (m *mapCache) Unlock(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func sampleRecord(symbol string, hi, lo float64) DayLevels {
	return DayLevels{
		Symbol:     symbol,
		TradingDay: "2024-03-15",
		Levels: []models.KeyLevel{
			{Type: models.LevelPDH, Price: hi, Strength: 80},
			{Type: models.LevelPDL, Price: lo, Strength: 80},
		},
	}
}

func TestStoreAndSessionLevels(t *testing.T) {
	svc := New(newMapCache(), testLogger(t))
	ctx := context.Background()

	if err := svc.Store(ctx, sampleRecord("SPY", 453.2, 448.9)); err != nil {
		t.Fatalf("store: %v", err)
	}

	got := svc.SessionLevels(ctx, "SPY")
	if len(got) != 2 {
		t.Fatalf("expected 2 levels, got %d", len(got))
	}
	if got[0].Type != models.LevelPDH || got[0].Price != 453.2 {
		t.Fatalf("unexpected first level %+v", got[0])
	}
	if got[1].Type != models.LevelPDL || got[1].Strength != 80 {
		t.Fatalf("unexpected second level %+v", got[1])
	}
}

func TestSessionLevelsMissReturnsNil(t *testing.T) {
	svc := New(newMapCache(), testLogger(t))

	if got := svc.SessionLevels(context.Background(), "TSLA"); got != nil {
		t.Fatalf("expected nil on miss, got %+v", got)
	}
}

func TestStoreRequiresSymbol(t *testing.T) {
	svc := New(newMapCache(), testLogger(t))

	if err := svc.Store(context.Background(), DayLevels{TradingDay: "2024-03-15"}); err == nil {
		t.Fatal("expected error for record without symbol")
	}
}

func TestStoreBatchAndSnapshot(t *testing.T) {
	svc := New(newMapCache(), testLogger(t))
	ctx := context.Background()

	recs := []DayLevels{
		sampleRecord("SPY", 453.2, 448.9),
		sampleRecord("QQQ", 390.5, 385.1),
		{TradingDay: "2024-03-15"}, // no symbol, skipped
	}
	if err := svc.StoreBatch(ctx, recs); err != nil {
		t.Fatalf("store batch: %v", err)
	}

	snap, err := svc.Snapshot(ctx, []string{"SPY", "QQQ", "IWM"})
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if len(snap) != 2 {
		t.Fatalf("expected 2 records, got %d", len(snap))
	}
	if snap["SPY"].Levels[0].Price != 453.2 {
		t.Fatalf("unexpected SPY record %+v", snap["SPY"])
	}
	if _, ok := snap["IWM"]; ok {
		t.Fatal("IWM should be absent from snapshot")
	}
}

func TestPurgeDropsAllRecords(t *testing.T) {
	svc := New(newMapCache(), testLogger(t))
	ctx := context.Background()

	if err := svc.Store(ctx, sampleRecord("SPY", 453.2, 448.9)); err != nil {
		t.Fatalf("store: %v", err)
	}
	if err := svc.Purge(ctx); err != nil {
		t.Fatalf("purge: %v", err)
	}
	if got := svc.SessionLevels(ctx, "SPY"); got != nil {
		t.Fatalf("expected no levels after purge, got %+v", got)
	}
}
