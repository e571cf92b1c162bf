package main

import (
	"context"

	"signal_monitor/internal/marketdata"
	"signal_monitor/internal/modules/config"
	"signal_monitor/internal/modules/health"
	"signal_monitor/internal/modules/postgres"
	"signal_monitor/internal/watcher"
	"signal_monitor/pkg/logger"
	"signal_monitor/pkg/tracing"

	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		fx.Provide(
			func(lc fx.Lifecycle) context.Context {
				ctx, cancel := context.WithCancel(context.Background())
				lc.Append(fx.Hook{
					OnStop: func(context.Context) error {
						cancel()
						return nil
					},
				})
				return ctx
			},
		),
		config.Module(),
		fx.Invoke(func(cfg *config.Config) error {
			return logger.Init(cfg.LogLevel)
		}),
		fx.Invoke(func(lc fx.Lifecycle, cfg *config.Config) error {
			_, closeTracer, err := tracing.InitTracer(tracing.Config{
				Host: cfg.JaegerHost,
				Port: cfg.JaegerPort,
			})
			if err != nil {
				return err
			}
			lc.Append(fx.Hook{
				OnStop: func(context.Context) error {
					closeTracer()
					return nil
				},
			})
			return nil
		}),
		postgres.Module(),
		marketdata.Module(),
		health.Module(),
		watcher.Module(),
	)

	// Run сам обрабатывает SIGINT/SIGTERM: штатная остановка — код 0,
	// провал старта (например, не загрузился начальный индекс) — ненулевой.
	app.Run()
}
