package di

import (
	"context"
	"fmt"
	"time"

	"SignalDesk/internal/domain/models"
	domrepo "SignalDesk/internal/domain/repository"
	"SignalDesk/internal/handler/api"
	mid "SignalDesk/internal/middleware"
	internalrepo "SignalDesk/internal/repository"
	"SignalDesk/internal/service/auth"
	"SignalDesk/internal/service/broadcast"
	"SignalDesk/internal/service/broker"
	icache "SignalDesk/internal/service/cache"
	"SignalDesk/internal/service/feed"
	"SignalDesk/internal/service/levels"
	"SignalDesk/internal/service/notify"
	"SignalDesk/internal/service/redistributor"
	"SignalDesk/internal/service/scheduler"
	"SignalDesk/internal/services/scoring"
	"SignalDesk/internal/usecase"
	pkgcache "SignalDesk/pkg/cache"
	pkgch "SignalDesk/pkg/clickhouse"
	"SignalDesk/pkg/config"
	xhttp "SignalDesk/pkg/http"
	pkgkafka "SignalDesk/pkg/kafka"
	"SignalDesk/pkg/logger"
	"SignalDesk/pkg/metrics"
)

// ProvideLogger creates the application logger from the log section.
func ProvideLogger(cfg *config.Config) (*logger.Logger, error) {
	lc := &logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	}
	if lc.Level == "" {
		lc.Level = "info"
	}
	if lc.Format == "" {
		lc.Format = "json"
	}
	if lc.Output == "" {
		lc.Output = "stdout"
	}
	return logger.New(lc)
}

// ProvideMetrics creates a Prometheus metrics recorder.
func ProvideMetrics() domrepo.Metrics {
	return metrics.New()
}

// ProvideBus connects the Redis pub/sub broker.
func ProvideBus(cfg *config.Config, lgr *logger.Logger) (*broker.RedisBus, error) {
	return broker.New(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, lgr)
}

// ProvideRedisCache creates the shared Redis cache connection. Its client is
// reused by the notification queue and the alerts response cache.
func ProvideRedisCache(cfg *config.Config) (*pkgcache.RedisCache, error) {
	return pkgcache.NewRedisCache(
		pkgcache.WithRedisAddr(cfg.Redis.Addr),
		pkgcache.WithRedisPassword(cfg.Redis.Password),
		pkgcache.WithRedisDB(cfg.Redis.DB),
	)
}

// ProvideLayeredCache fronts the Redis cache with an in-process layer for
// read-heavy keys like session levels.
func ProvideLayeredCache(rc *pkgcache.RedisCache) *pkgcache.LayeredCache {
	return pkgcache.NewLayeredCache(rc)
}

// ProvideClickHouseClient creates a ClickHouse client, or nil when no host is
// configured.
func ProvideClickHouseClient(cfg *config.Config) (*pkgch.Client, error) {
	if cfg.ClickHouse.Host == "" {
		return nil, nil
	}
	client, err := pkgch.NewClient(
		pkgch.WithHost(cfg.ClickHouse.Host),
		pkgch.WithPort(cfg.ClickHouse.Port),
		pkgch.WithDatabase(cfg.ClickHouse.Database),
		pkgch.WithCredentials(cfg.ClickHouse.User, cfg.ClickHouse.Password),
		pkgch.WithMaxConnections(10, 5),
		pkgch.WithHTTP(cfg.ClickHouse.UseHTTP),
		pkgch.WithAsyncInsert(cfg.ClickHouse.AsyncInsert, cfg.ClickHouse.WaitForAsync),
		pkgch.WithTimeouts(cfg.ClickHouse.DialTimeout, cfg.ClickHouse.ReadTimeout),
		pkgch.WithMaxExecutionTime(cfg.ClickHouse.MaxExecutionTime),
	)
	if err != nil {
		return nil, fmt.Errorf("clickhouse client: %w", err)
	}
	return client, nil
}

// ProvideAlertStore creates the ClickHouse alert store and ensures its
// schema. Nil when ClickHouse is not configured.
func ProvideAlertStore(ch *pkgch.Client, lgr *logger.Logger) (domrepo.AlertStore, error) {
	if ch == nil {
		return nil, nil
	}
	store := internalrepo.NewCHAlertStore(ch, lgr)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := store.Init(ctx); err != nil {
		return nil, err
	}
	return store, nil
}

// ProvideKafkaProducer creates the Kafka producer that mirrors setup events
// and carries aggregated logs. Nil when no brokers are configured.
// Options apply only when configured so zero values keep library defaults.
func ProvideKafkaProducer(cfg *config.Config, lgr *logger.Logger) (*pkgkafka.Producer, error) {
	if len(cfg.Kafka.Brokers) == 0 {
		return nil, nil
	}
	pc := cfg.Kafka.Producer
	opts := []pkgkafka.ProducerOption{
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithRequiredAcks(cfg.Kafka.RequiredAcks),
		pkgkafka.WithHashByKey(true),
	}
	if cfg.Kafka.Compression != "" {
		opts = append(opts, pkgkafka.WithCompression(cfg.Kafka.Compression))
	}
	if pc.BatchSize > 0 {
		opts = append(opts, pkgkafka.WithBatchSize(pc.BatchSize))
	}
	if pc.BatchBytes > 0 {
		opts = append(opts, pkgkafka.WithBatchBytes(pc.BatchBytes))
	}
	if pc.Linger > 0 {
		opts = append(opts, pkgkafka.WithBatchTimeout(pc.Linger))
	}
	if pc.WriteTimeout > 0 || pc.ReadTimeout > 0 {
		opts = append(opts, pkgkafka.WithTimeouts(pc.WriteTimeout, pc.ReadTimeout))
	}
	if pc.MaxAttempts > 0 {
		opts = append(opts, pkgkafka.WithMaxAttempts(pc.MaxAttempts))
	}
	if pc.Async {
		opts = append(opts, pkgkafka.WithAsync(true))
	}

	producer, err := pkgkafka.NewProducer(lgr, opts...)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return producer, nil
}

// ProvideKafkaConsumer creates the consumer that drains the mirrored alerts
// topic. Nil when brokers or the topic are not configured.
func ProvideKafkaConsumer(cfg *config.Config, lgr *logger.Logger) (*pkgkafka.Consumer, error) {
	if len(cfg.Kafka.Brokers) == 0 || cfg.Kafka.AlertsTopic == "" {
		return nil, nil
	}
	cc := cfg.Kafka.Consumer
	opts := []pkgkafka.ConsumerOption{
		pkgkafka.WithConsumerBrokers(cfg.Kafka.Brokers),
	}
	if cc.GroupID != "" {
		opts = append(opts, pkgkafka.WithConsumerGroupID(cc.GroupID))
	}
	if cc.Workers > 0 {
		opts = append(opts, pkgkafka.WithConsumerWorkers(cc.Workers))
	}
	if cc.BufferSize > 0 {
		opts = append(opts, pkgkafka.WithConsumerBufferSize(cc.BufferSize))
	}
	if cc.RetryMax > 0 {
		opts = append(opts, pkgkafka.WithConsumerRetry(cc.RetryMax, cc.BackoffMin, cc.BackoffMax))
	}
	if cc.DLQTopic != "" {
		opts = append(opts, pkgkafka.WithConsumerDLQ(cc.DLQTopic))
	}
	if cc.MinBytes > 0 && cc.MaxBytes > 0 {
		opts = append(opts, pkgkafka.WithConsumerFetch(cc.MinBytes, cc.MaxBytes))
	}

	consumer, err := pkgkafka.NewConsumer(lgr, opts...)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer: %w", err)
	}
	return consumer, nil
}

// ProvideAlertSink registers the handler that persists mirrored setup events.
func ProvideAlertSink(cfg *config.Config, store domrepo.AlertStore, met domrepo.Metrics) *usecase.SetupAlertsHandler {
	if store == nil {
		return nil
	}
	return usecase.NewSetupAlertsHandler(cfg.Kafka.AlertsTopic, store, met)
}

// ProvideMarketStream creates the upstream WebSocket feed, or nil when the
// feed is disabled.
func ProvideMarketStream(cfg *config.Config) domrepo.MarketStream {
	if !cfg.Feed.Enabled {
		return nil
	}
	return feed.NewWSClient(
		cfg.Feed.APIKey,
		cfg.Feed.WebSocketURL,
		cfg.Feed.ReconnectDelay,
		cfg.Feed.PingInterval,
	)
}

// ProvideHistory creates the REST history client used for detector warmup
// and session-level rollover.
func ProvideHistory(cfg *config.Config) domrepo.HistoryProvider {
	client := xhttp.NewClient(xhttp.WithTimeout(15 * time.Second))
	return feed.NewHistoryClient(cfg.Feed.APIKey, cfg.Feed.RESTBaseURL, client)
}

// ProvideRedistributor creates the shared fan-out layer over the broker.
func ProvideRedistributor(bus domrepo.Bus, met domrepo.Metrics, lgr *logger.Logger) *redistributor.Redistributor {
	return redistributor.New(bus, met, lgr)
}

// ProvideLevels creates the session-level store on the layered cache.
func ProvideLevels(lc *pkgcache.LayeredCache, lgr *logger.Logger) *levels.Service {
	return levels.New(lc, lgr)
}

// ProvideScorer creates the pure scoring engine.
func ProvideScorer(cfg *config.Config) usecase.Scorer {
	return scoring.NewAnalyzer(scoring.Config{
		FastEMAPeriod: cfg.Detector.EMAPeriod,
		MinBars:       cfg.Detector.WarmupBars,
	})
}

// ProvideNotifyService builds the notification queue pair on the shared
// Redis connection.
func ProvideNotifyService(cfg *config.Config, lgr *logger.Logger, rc *pkgcache.RedisCache) (*notify.Service, error) {
	return notify.NewService(lgr, rc.Client(), notify.Config{
		QueueName:      cfg.Notify.QueueName,
		Workers:        cfg.Notify.Workers,
		TelegramToken:  cfg.Notify.TelegramToken,
		TelegramChatID: cfg.Notify.TelegramChatID,
	})
}

// ProvideBroadcaster creates the broadcast gateway. The Kafka mirror engages
// only when a producer exists.
func ProvideBroadcaster(
	bus domrepo.Bus,
	producer *pkgkafka.Producer,
	nsvc *notify.Service,
	met domrepo.Metrics,
	lgr *logger.Logger,
	cfg *config.Config,
) *broadcast.Broadcaster {
	var sink broadcast.EventSink
	if producer != nil {
		sink = producer
	}
	return broadcast.New(bus, sink, nsvc.Notifier(), met, lgr, cfg.Kafka.AlertsTopic)
}

// ProvideDetector creates the setup detector over the redistributor.
func ProvideDetector(
	dist *redistributor.Redistributor,
	scorer usecase.Scorer,
	caster *broadcast.Broadcaster,
	history domrepo.HistoryProvider,
	lvls *levels.Service,
	met domrepo.Metrics,
	lgr *logger.Logger,
	cfg *config.Config,
) *usecase.SetupDetector {
	return usecase.NewSetupDetector(dist, scorer, caster, history, lvls, met, lgr,
		usecase.DetectorConfig{
			FormingThreshold: cfg.FormingThreshold(),
			ReadyThreshold:   cfg.ReadyThreshold(),
			HistorySize:      cfg.Detector.HistorySize,
			WarmupBars:       cfg.Detector.WarmupBars,
			IdleReset:        cfg.Detector.IdleReset,
		},
		cfg.Feed.Symbols,
	)
}

// ProvideMarketPublisher creates the broker publisher for feed events.
func ProvideMarketPublisher(bus domrepo.Bus, met domrepo.Metrics) *usecase.MarketPublisher {
	return usecase.NewMarketPublisher(bus, met)
}

// ProvidePipeline builds the middleware pipeline between the feed and the
// broker publisher.
func ProvidePipeline(pub *usecase.MarketPublisher, met domrepo.Metrics) *mid.RealtimePipeline {
	return mid.NewRealtimePipeline(pub, met,
		mid.WithMaxRPS(50),
		mid.WithBufferSize(2000),
	)
}

// ProvideBarBuilder aggregates trades into one-minute bars and publishes
// completed bars onto the broker.
func ProvideBarBuilder(pub *usecase.MarketPublisher, lgr *logger.Logger) *usecase.BarBuilder {
	emit := func(ctx context.Context, b *models.Bar) {
		if err := pub.PublishBar(ctx, b); err != nil {
			lgr.Warn("bar publish failed", logger.String("symbol", b.Symbol), logger.Error(err))
		}
	}
	return usecase.NewBarBuilder(time.Minute, 5*time.Second, emit)
}

// ProvideCollector creates the feed collector, or nil when the feed is
// disabled. Feed outages surface as admin alerts through the broadcaster.
func ProvideCollector(
	stream domrepo.MarketStream,
	pipe *mid.RealtimePipeline,
	builder *usecase.BarBuilder,
	caster *broadcast.Broadcaster,
	met domrepo.Metrics,
	lgr *logger.Logger,
	cfg *config.Config,
) *usecase.MarketCollector {
	if stream == nil {
		return nil
	}
	return usecase.NewMarketCollector(stream, pipe, builder, caster, met, lgr,
		cfg.Feed.Symbols, cfg.Feed.MaxReconnects)
}

// ProvideAlertQuery creates the stored-alert query use case. Nil without a
// store.
func ProvideAlertQuery(store domrepo.AlertStore) *usecase.AlertQuery {
	if store == nil {
		return nil
	}
	return usecase.NewAlertQuery(store)
}

// ProvideBytesCache creates the alerts response cache on the shared Redis
// connection.
func ProvideBytesCache(rc *pkgcache.RedisCache) icache.BytesCache {
	return icache.NewRedisCache(rc.Client())
}

// ProvideAuth creates the JWT session service. Sessions live on the plain
// Redis cache so revocation is visible to every instance immediately.
func ProvideAuth(cfg *config.Config, rc *pkgcache.RedisCache, lgr *logger.Logger) (*auth.Service, error) {
	return auth.New(cfg.Auth.JWTSecret, rc, cfg.Auth.SessionTTL, lgr)
}

// ProvideHealthHandler creates the probe endpoints.
func ProvideHealthHandler(lgr *logger.Logger, bus domrepo.Bus, store domrepo.AlertStore) *api.HealthHandler {
	return api.NewHealthHandler(lgr, bus, store)
}

// ProvideStreamHandler creates the SSE gateway handler.
func ProvideStreamHandler(
	lgr *logger.Logger,
	authSvc *auth.Service,
	dist *redistributor.Redistributor,
	met domrepo.Metrics,
	cfg *config.Config,
) *api.StreamHandler {
	return api.NewStreamHandler(lgr, authSvc, dist, met, cfg)
}

// ProvideSetupsHandler creates the watchlist and analysis endpoints.
func ProvideSetupsHandler(lgr *logger.Logger, det *usecase.SetupDetector) *api.SetupsHandler {
	return api.NewSetupsHandler(lgr, det)
}

// ProvideAlertsHandler creates the stored-alert endpoints. Nil without a
// query use case, which drops the routes.
func ProvideAlertsHandler(lgr *logger.Logger, q *usecase.AlertQuery, bc icache.BytesCache) *api.AlertsHandler {
	if q == nil {
		return nil
	}
	return api.NewAlertsHandler(lgr, q, bc)
}

// ProvideRouter assembles the HTTP surface.
func ProvideRouter(
	authSvc *auth.Service,
	health *api.HealthHandler,
	stream *api.StreamHandler,
	setups *api.SetupsHandler,
	alerts *api.AlertsHandler,
) *api.Router {
	return api.NewRouter(authSvc, health, stream, setups, alerts)
}

// ProvideScheduler creates the rollover and sweep scheduler. Rollover locks
// go through the plain Redis cache so only one instance runs it per day.
func ProvideScheduler(
	cfg *config.Config,
	det *usecase.SetupDetector,
	history domrepo.HistoryProvider,
	lvls *levels.Service,
	rc *pkgcache.RedisCache,
	lgr *logger.Logger,
	stream *api.StreamHandler,
	alerts *api.AlertsHandler,
) (*scheduler.Scheduler, error) {
	sweepers := []scheduler.Sweeper{stream.Limiter()}
	if alerts != nil {
		sweepers = append(sweepers, alerts.Limiter())
	}
	return scheduler.New(cfg, det, history, lvls, rc, lgr, sweepers...)
}
