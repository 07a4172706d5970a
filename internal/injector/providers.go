package injector

import (
	"github.com/google/wire"

	"github.com/zeusync/behave/internal/config"
	"github.com/zeusync/behave/internal/core/bt"
	"github.com/zeusync/behave/internal/core/bt/nodes"
	"github.com/zeusync/behave/internal/core/events/bus"
	"github.com/zeusync/behave/internal/core/manager"
	"github.com/zeusync/behave/internal/core/observability/log"
	"github.com/zeusync/behave/internal/core/observability/metrics"
	"github.com/zeusync/behave/internal/server"
)

// ProviderSet wires a runnable App from a config.Config.
var ProviderSet = wire.NewSet(
	ProvideLogger,
	ProvideCollector,
	ProvideBus,
	ProvideRegistry,
	ProvideManager,
	ProvideServer,
	NewApp,
)

func ProvideLogger(cfg config.Config) (log.Log, func(), error) {
	logger, err := log.New(cfg.LoggerConfig())
	if err != nil {
		return nil, nil, err
	}
	return logger, func() { _ = logger.Sync() }, nil
}

func ProvideCollector() *metrics.Collector {
	return metrics.New(true)
}

func ProvideBus(collector *metrics.Collector) bus.EventBus {
	b := bus.New()
	b.AddObserver(collector)
	return b
}

func ProvideRegistry(cfg config.Config) (*bt.Registry, error) {
	return nodes.NewRegistry(nodes.WithProfileNodes(cfg.Features.ProfileNodes))
}

func ProvideManager(cfg config.Config, reg *bt.Registry, b bus.EventBus, collector *metrics.Collector, logger log.Log) (*manager.Manager, func(), error) {
	m := manager.New(reg, cfg.ManagerConfig(),
		manager.WithLogger(logger),
		manager.WithObserver(collector),
		manager.WithWorld(bt.NewBlackboard()),
	)
	if err := m.Attach(b); err != nil {
		return nil, nil, err
	}
	return m, func() { _ = m.Close() }, nil
}

// ProvideServer returns nil when the gateway is disabled.
func ProvideServer(cfg config.Config, b bus.EventBus, collector *metrics.Collector, logger log.Log) (*server.Server, error) {
	if !cfg.Server.Enabled {
		return nil, nil
	}
	sc := server.DefaultServerConfig()
	sc.ListenAddr = cfg.Server.Addr
	sc.Token = cfg.Server.Token
	sc.Topic = cfg.Bus.Topic
	sc.StatusTopic = cfg.Bus.StatusTopic
	return server.NewServer(sc, b, server.WithLogger(logger), server.WithMetrics(collector.Handler()))
}
