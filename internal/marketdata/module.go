package marketdata

import (
	"context"

	"signal_monitor/internal/models"
	"signal_monitor/internal/modules/config"

	"go.uber.org/fx"
)

func Module() fx.Option {
	return fx.Module("marketdata",
		fx.Provide(
			func() chan models.Tick {
				// общий канал тиков для стрима и фолбэк-поллера
				return make(chan models.Tick, 1024)
			},
			func(ctx context.Context, cfg *config.Config, ticks chan models.Tick) *Client {
				return NewClient(ctx, cfg, NewWSDialer(), ticks)
			},
			NewRestClient,
		),
	)
}
