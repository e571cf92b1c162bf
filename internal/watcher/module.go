package watcher

import (
	"context"

	"signal_monitor/internal/marketdata"
	"signal_monitor/internal/models"
	"signal_monitor/internal/modules/config"
	"signal_monitor/internal/modules/health/service"
	"signal_monitor/internal/notify"
	"signal_monitor/internal/store"
	"signal_monitor/pkg/db"

	"go.uber.org/fx"
)

func Module() fx.Option {
	return fx.Module("watcher",
		fx.Provide(
			func(tm *db.PgTxManager) *store.Store {
				return store.New(tm)
			},
			func(cfg *config.Config) (*notify.Telegram, error) {
				return notify.NewTelegram(cfg.TelegramToken, cfg.TelegramChatID)
			},
			func(
				cfg *config.Config,
				st *store.Store,
				client *marketdata.Client,
				rest *marketdata.RestClient,
				ticks chan models.Tick,
				state *service.State,
				tg *notify.Telegram,
			) *Monitor {
				return NewMonitor(cfg, st, client, rest, ticks, state, tg)
			},
			func(tm *db.PgTxManager, m *Monitor) *store.ChangeFeed {
				return store.NewChangeFeed(tm, m.OnFeedEvent)
			},
		),
		fx.Invoke(func(
			lc fx.Lifecycle,
			m *Monitor,
			feed *store.ChangeFeed,
			ctx context.Context,
		) {
			lc.Append(fx.Hook{
				OnStart: func(_ context.Context) error {
					// без начальной загрузки запускаться нельзя
					if err := m.Start(ctx); err != nil {
						return err
					}
					go feed.Run(ctx)
					return nil
				},
				OnStop: func(_ context.Context) error {
					m.Stop()
					return nil
				},
			})
		}),
	)
}
