package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"OpenMCP-ChainManager/internal/api"
	"OpenMCP-ChainManager/internal/chain"
	"OpenMCP-ChainManager/internal/chainmanager"
	"OpenMCP-ChainManager/internal/config"
	"OpenMCP-ChainManager/internal/events/sink"
	"OpenMCP-ChainManager/internal/network"
	"OpenMCP-ChainManager/internal/observability/alerting"
	"OpenMCP-ChainManager/internal/observability/metrics"
	"OpenMCP-ChainManager/pkg/logger"
)

// main 是链管理守护进程的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatalf("chainmgrd 运行失败: %v", err)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.Load(config.Path())
	if err != nil {
		return err
	}
	if err := logger.Init(cfg.Logging); err != nil {
		return err
	}
	defer logger.Sync()
	lg := logger.Named("chainmgrd")

	defs, err := chain.LoadDefinitions(cfg.Chains.Definitions)
	if err != nil {
		return err
	}
	defaultChain := cfg.Chains.DefaultChain
	if defaultChain == "" {
		defaultChain = defs.DefaultChain
	}

	manager, err := chainmanager.New(ctx,
		chainmanager.WithChains(defs.Chains...),
		chainmanager.WithDefaultChain(defaultChain),
		chainmanager.WithNetworkOptions(
			network.WithHealthTimeout(cfg.Network.HealthTimeout()),
			network.WithRequestTimeout(cfg.Network.RequestTimeout()),
			network.WithPolling(cfg.Network.PollInterval(), cfg.Network.PollAttempts),
			network.WithFailover(cfg.Network.FailoverEnabled()),
			network.WithChainIDVerification(cfg.Network.VerifyChainID),
		),
	)
	if err != nil {
		return err
	}
	defer manager.Destroy()

	sinks, err := openSinks(ctx, cfg.Events)
	if err != nil {
		return err
	}
	forwarder := sink.NewForwarder(sinks, sink.WithBuffer(cfg.Events.Buffer))
	defer forwarder.Close()

	if cfg.Alerting.Enabled {
		notifiers, err := openNotifiers(cfg.Alerting)
		if err != nil {
			return err
		}
		bridge := alerting.NewBridge(alerting.NewFanout(notifiers...), alerting.WithCooldown(cfg.Alerting.Cooldown()))
		bridge.Attach(manager.Bus())
		defer bridge.Detach()
	}

	g, gctx := errgroup.WithContext(ctx)
	if len(sinks) > 0 {
		forwarder.Attach(manager.Bus())
		g.Go(func() error { return forwarder.Run(gctx) })
	}
	if cfg.Monitor.Enabled {
		monitor := network.NewMonitor(manager.Network(), network.MonitorConfig{
			Interval:    cfg.Monitor.Interval(),
			Concurrency: cfg.Monitor.Concurrency,
		}, func(h network.Health) {
			if !h.IsHealthy {
				lg.Warn("链健康检查失败", "chain_id", h.ChainID, "failures", h.FailureCount, "error", h.Error)
			}
		})
		g.Go(func() error { return monitor.Run(gctx) })
	}
	if cfg.Metrics.Address != "" {
		g.Go(func() error { return metrics.StartServer(gctx, cfg.Metrics.Address) })
	}
	server := api.NewServer(cfg.Server.Address, manager)
	g.Go(func() error { return server.Start(gctx) })

	lg.Info("chainmgrd 已启动", "address", cfg.Server.Address, "chains", len(manager.SupportedChains()),
		"current_chain", manager.CurrentChainID(), "sinks", len(sinks))

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func openSinks(ctx context.Context, cfg config.EventsConfig) ([]sink.Sink, error) {
	var sinks []sink.Sink
	fail := func(err error) ([]sink.Sink, error) {
		for _, s := range sinks {
			_ = s.Close()
		}
		return nil, err
	}

	if cfg.Redis.Enabled {
		s, err := sink.NewRedisSink(ctx, sink.RedisConfig{
			Address:  cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Channel:  cfg.Redis.Channel,
		})
		if err != nil {
			return fail(err)
		}
		sinks = append(sinks, s)
	}
	if cfg.RabbitMQ.Enabled {
		s, err := sink.NewRabbitMQSink(sink.RabbitMQConfig{
			URL:      cfg.RabbitMQ.URL,
			Exchange: cfg.RabbitMQ.Exchange,
			Durable:  cfg.RabbitMQ.Durable,
		})
		if err != nil {
			return fail(err)
		}
		sinks = append(sinks, s)
	}
	if cfg.MySQL.Enabled {
		s, err := sink.NewMySQLSink(ctx, sink.MySQLConfig{
			DSN:             cfg.MySQL.DSN,
			MaxOpenConns:    cfg.MySQL.MaxOpenConns,
			MaxIdleConns:    cfg.MySQL.MaxIdleConns,
			ConnMaxLifetime: time.Duration(cfg.MySQL.ConnMaxLifetimeSeconds) * time.Second,
		})
		if err != nil {
			return fail(err)
		}
		sinks = append(sinks, s)
	}
	return sinks, nil
}

func openNotifiers(cfg config.AlertingConfig) ([]alerting.Notifier, error) {
	notifiers := []alerting.Notifier{&alerting.LogNotifier{Logger: logger.Named("alerting")}}
	for _, hook := range cfg.Webhooks {
		n, err := alerting.NewWebhookNotifier(hook.Name, hook.URL, alerting.WebhookFormat(hook.Format),
			time.Duration(hook.TimeoutSeconds)*time.Second)
		if err != nil {
			return nil, err
		}
		notifiers = append(notifiers, n)
	}
	return notifiers, nil
}
