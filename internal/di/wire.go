//go:build wireinject
// +build wireinject

package di

import (
	domrepo "SignalDesk/internal/domain/repository"
	"SignalDesk/internal/handler/api"
	"SignalDesk/internal/service/broker"
	"SignalDesk/pkg/config"
	xhttp "SignalDesk/pkg/http"
	"SignalDesk/pkg/server"

	"github.com/google/wire"
)

// InitializeApp wires up all dependencies and returns the application.
// Wire generates the implementation of this function.
func InitializeApp(cfg *config.Config) (*server.App, error) {
	wire.Build(
		// Foundation
		ProvideLogger,
		ProvideMetrics,

		// Infrastructure clients
		ProvideBus,
		ProvideRedisCache,
		ProvideLayeredCache,
		ProvideClickHouseClient,
		ProvideKafkaProducer,
		ProvideKafkaConsumer,
		wire.Bind(new(domrepo.Bus), new(*broker.RedisBus)),

		// Ports
		ProvideAlertStore,
		ProvideMarketStream,
		ProvideHistory,

		// Services
		ProvideRedistributor,
		ProvideLevels,
		ProvideScorer,
		ProvideNotifyService,
		ProvideBroadcaster,
		ProvideAuth,
		ProvideBytesCache,

		// Use cases
		ProvideDetector,
		ProvideMarketPublisher,
		ProvidePipeline,
		ProvideBarBuilder,
		ProvideCollector,
		ProvideAlertQuery,
		ProvideAlertSink,

		// HTTP surface
		ProvideHealthHandler,
		ProvideStreamHandler,
		ProvideSetupsHandler,
		ProvideAlertsHandler,
		ProvideRouter,
		wire.Bind(new(xhttp.Handler), new(*api.Router)),

		// Scheduler and application
		ProvideScheduler,
		wire.Struct(new(server.Deps), "*"),
		server.New,
	)
	return &server.App{}, nil
}
