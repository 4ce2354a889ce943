package server

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"SignalDesk/internal/service/broker"
	"SignalDesk/internal/service/notify"
	"SignalDesk/internal/service/redistributor"
	"SignalDesk/internal/service/scheduler"
	"SignalDesk/internal/usecase"
	pkgcache "SignalDesk/pkg/cache"
	pkgch "SignalDesk/pkg/clickhouse"
	"SignalDesk/pkg/config"
	xhttp "SignalDesk/pkg/http"
	pkgkafka "SignalDesk/pkg/kafka"
	applogger "SignalDesk/pkg/logger"

	"github.com/segmentio/kafka-go"
)

// Deps carries everything the application lifecycle owns. Kafka, ClickHouse,
// and the feed collector are optional; nil fields disable their subsystem.
type Deps struct {
	Config    *config.Config
	Logger    *applogger.Logger
	Router    xhttp.Handler
	Bus       *broker.RedisBus
	Cache     *pkgcache.RedisCache
	Layered   *pkgcache.LayeredCache
	Dist      *redistributor.Redistributor
	Collector *usecase.MarketCollector
	Detector  *usecase.SetupDetector
	Scheduler *scheduler.Scheduler
	Consumer  *pkgkafka.Consumer
	AlertSink *usecase.SetupAlertsHandler
	Producer  *pkgkafka.Producer
	CH        *pkgch.Client
	Notify    *notify.Service
}

// App encapsulates the entire application lifecycle.
type App struct {
	d          Deps
	log        *applogger.Logger
	httpServer *xhttp.Server
}

// New assembles the application. When a Kafka producer is present, warn and
// error logs are additionally aggregated onto the logs topic, and the alerts
// consumer gets an error-surfacing hook.
func New(d Deps) *App {
	if d.Producer != nil && d.Config.Kafka.LogsTopic != "" {
		d.Logger.AddCollector(&applogger.CollectionConfig{
			TimeInterval:   30 * time.Second,
			CountThreshold: 100,
			Topic:          d.Config.Kafka.LogsTopic,
			Publisher:      d.Producer,
		})
	}

	if d.Consumer != nil {
		d.Consumer.WithConsumerHook(pkgkafka.HookFuncs{
			Err: func(_ context.Context, topic string, _ kafka.Message, _ []byte, err error) {
				d.Logger.Error("kafka handler failed",
					applogger.String("topic", topic),
					applogger.Error(err))
			},
		})
	}

	return &App{d: d, log: d.Logger}
}

// Run starts every subsystem and blocks until a shutdown signal arrives.
func (a *App) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := a.d.Detector.Start(ctx); err != nil {
		return err
	}

	if a.d.Collector != nil {
		if err := a.d.Collector.Start(ctx); err != nil {
			return err
		}
	} else {
		a.log.Info("feed disabled, serving broker traffic only")
	}

	if a.d.Consumer != nil && a.d.AlertSink != nil {
		a.d.Consumer.RegisterHandler(a.d.AlertSink)
		go func() {
			if err := a.d.Consumer.Start(); err != nil {
				a.log.Error("kafka consumer error", applogger.Error(err))
			}
		}()
		a.log.Info("kafka consumer started", applogger.String("topic", a.d.AlertSink.Topic()))
	}

	if err := a.d.Notify.Start(); err != nil {
		return err
	}

	if err := a.d.Scheduler.Start(); err != nil {
		return err
	}

	a.httpServer = xhttp.NewServer(a.d.Router, a.serverOptions()...)
	if err := a.httpServer.Start(); err != nil {
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	a.log.Info("shutdown signal received")
	return a.shutdown(ctx)
}

func (a *App) serverOptions() []xhttp.ServerOption {
	opts := []xhttp.ServerOption{
		xhttp.WithPort(a.d.Config.Server.Port),
		xhttp.WithTimeouts(a.d.Config.Server.ReadTimeout, a.d.Config.Server.ShutdownTimeout),
		xhttp.WithSlowLog(a.log, time.Second),
	}
	if !a.d.Config.Metrics.Enabled {
		opts = append(opts, xhttp.WithMetricsPath(""))
	} else if a.d.Config.Metrics.Path != "" {
		opts = append(opts, xhttp.WithMetricsPath(a.d.Config.Metrics.Path))
	}
	return opts
}

// shutdown stops subsystems in reverse dependency order: intake first, then
// the processing stages, then the connections they write through.
func (a *App) shutdown(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, a.d.Config.Server.ShutdownTimeout)
	defer cancel()

	if err := a.httpServer.Stop(shutdownCtx); err != nil {
		a.log.Error("http shutdown error", applogger.Error(err))
	}

	a.d.Scheduler.Stop()

	if a.d.Collector != nil {
		if err := a.d.Collector.Shutdown(shutdownCtx); err != nil {
			a.log.Warn("collector stop error", applogger.Error(err))
		}
	}

	a.d.Detector.Stop()
	a.d.Dist.Close()

	if a.d.Consumer != nil {
		if err := a.d.Consumer.Stop(shutdownCtx); err != nil {
			a.log.Warn("kafka consumer stop error", applogger.Error(err))
		}
	}

	if err := a.d.Notify.Stop(shutdownCtx); err != nil {
		a.log.Warn("notify stop error", applogger.Error(err))
	}

	// Flush aggregated logs before the producer goes away.
	a.log.RemoveCollector()
	if a.d.Producer != nil {
		if err := a.d.Producer.Close(); err != nil {
			a.log.Warn("kafka producer close error", applogger.Error(err))
		}
	}

	if a.d.CH != nil {
		if err := a.d.CH.Close(); err != nil {
			a.log.Warn("clickhouse close error", applogger.Error(err))
		}
	}

	if err := a.d.Bus.Close(); err != nil {
		a.log.Warn("broker close error", applogger.Error(err))
	}
	a.d.Layered.Close()
	if err := a.d.Cache.Close(); err != nil {
		a.log.Warn("cache close error", applogger.Error(err))
	}

	a.log.Info("shutdown complete")
	return nil
}
