package taskqueue

import (
	"context"

	"github.com/smallbiznis/entitled/internal/config"
	"go.uber.org/fx"
)

var Module = fx.Module("taskqueue",
	fx.Provide(NewRepository),
	fx.Provide(ProvideWorkerConfig),
	fx.Provide(NewWorker),
	fx.Invoke(StartWorker),
)

func ProvideWorkerConfig(cfg config.Config) WorkerConfig {
	return WorkerConfig{
		Interval:  cfg.WorkerInterval,
		BatchSize: cfg.WorkerBatchSize,
	}
}

func StartWorker(lc fx.Lifecycle, worker *Worker) {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			ctx, cancel := context.WithCancel(context.Background())

			go worker.RunForever(ctx)

			lc.Append(fx.Hook{
				OnStop: func(context.Context) error {
					cancel()
					return nil
				},
			})

			return nil
		},
	})
}
