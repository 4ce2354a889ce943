package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"SignalDesk/internal/domain/models"
	pkgch "SignalDesk/pkg/clickhouse"
	applogger "SignalDesk/pkg/logger"
)

const alertsTable = "signaldesk.setup_alerts"

// schemaStatements create the alert database and table. Idempotent.
var schemaStatements = []string{
	`CREATE DATABASE IF NOT EXISTS signaldesk`,
	`CREATE TABLE IF NOT EXISTS ` + alertsTable + ` (
        ts             DateTime64(3),
        symbol         LowCardinality(String),
        state          LowCardinality(String),
        direction      LowCardinality(String),
        level_score    Float64,
        trend_score    Float64,
        patience_score Float64,
        overall_score  Float64,
        grade          LowCardinality(String),
        price          Float64
    ) ENGINE = MergeTree()
    PARTITION BY toYYYYMM(ts)
    ORDER BY (symbol, ts)
    TTL toDateTime(ts) + INTERVAL 90 DAY`,
}

// CHAlertStore persists emitted setups in ClickHouse.
type CHAlertStore struct {
	db *sql.DB
	l  *applogger.Logger
}

func NewCHAlertStore(ch *pkgch.Client, l *applogger.Logger) *CHAlertStore {
	return &CHAlertStore{db: ch.DB(), l: l}
}

// Init creates the schema if missing.
func (s *CHAlertStore) Init(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("alert store init: %w", err)
		}
	}
	return nil
}

func (s *CHAlertStore) Store(ctx context.Context, setup *models.Setup) error {
	return s.StoreBatch(ctx, []*models.Setup{setup})
}

// StoreBatch inserts setups using multi-row VALUES to reduce round-trips.
func (s *CHAlertStore) StoreBatch(ctx context.Context, setups []*models.Setup) error {
	if len(setups) == 0 {
		return nil
	}

	const chunkSize = 1000
	for start := 0; start < len(setups); start += chunkSize {
		end := start + chunkSize
		if end > len(setups) {
			end = len(setups)
		}

		values := make([]string, 0, end-start)
		args := make([]interface{}, 0, (end-start)*10)
		for _, st := range setups[start:end] {
			if st == nil || st.Symbol == "" {
				continue
			}
			values = append(values, "(?, ?, ?, ?, ?, ?, ?, ?, ?, ?)")
			args = append(args,
				st.Timestamp,
				st.Symbol,
				string(st.State),
				string(st.Direction),
				st.Score.Level,
				st.Score.Trend,
				st.Score.Patience,
				st.Score.Overall,
				st.Grade,
				st.Price,
			)
		}
		if len(values) == 0 {
			continue
		}

		q := fmt.Sprintf(
			"INSERT INTO %s (ts, symbol, state, direction, level_score, trend_score, patience_score, overall_score, grade, price) VALUES %s",
			alertsTable, strings.Join(values, ","),
		)
		if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
			s.l.Error("clickhouse alert insert error",
				applogger.Int("rows", len(values)),
				applogger.Error(err))
			return fmt.Errorf("store alerts: %w", err)
		}
	}
	return nil
}

// Query returns setups for a symbol within [from, to] in ascending time
// order, capped at limit most-recent rows.
func (s *CHAlertStore) Query(ctx context.Context, symbol string, from, to time.Time, limit int) ([]*models.Setup, error) {
	start := time.Now()
	const qtpl = `
        SELECT ts, symbol, state, direction, level_score, trend_score, patience_score, overall_score, grade, price
        FROM %s
        WHERE symbol = ? AND ts >= ? AND ts <= ?
        ORDER BY ts DESC
        LIMIT ?
    `
	q := fmt.Sprintf(qtpl, alertsTable)
	rows, err := s.db.QueryContext(ctx, q, symbol, from, to, limit)
	if err != nil {
		s.l.Error("clickhouse alert query error",
			applogger.String("symbol", symbol),
			applogger.Error(err))
		return nil, fmt.Errorf("query alerts: %w", err)
	}
	defer rows.Close()

	out := make([]*models.Setup, 0, limit)
	for rows.Next() {
		var (
			st    models.Setup
			state string
			dir   string
		)
		if err := rows.Scan(&st.Timestamp, &st.Symbol, &state, &dir,
			&st.Score.Level, &st.Score.Trend, &st.Score.Patience, &st.Score.Overall,
			&st.Grade, &st.Price); err != nil {
			return nil, fmt.Errorf("scan alert: %w", err)
		}
		st.State = models.SetupState(state)
		st.Direction = models.Direction(dir)
		out = append(out, &st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}

	// reverse to ASC
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}

	s.l.Debug("clickhouse alert query ok",
		applogger.String("symbol", symbol),
		applogger.Int("rows", len(out)),
		applogger.Duration("duration_ms", time.Since(start)))
	return out, nil
}

func (s *CHAlertStore) Health(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *CHAlertStore) Close() error {
	return nil // pool is owned by the clickhouse client
}
