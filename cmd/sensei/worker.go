package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/suPer8Hu/sensei/internal/store/rabbitmq"
)

func newWorkerCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Consume queued events and write dashboard briefings",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := wireApp(ctx, g.cfg, g.log, wireOptions{})
			if err != nil {
				return err
			}
			defer a.Close()

			consumer, err := rabbitmq.NewConsumer(g.cfg.RabbitURL, g.cfg.RabbitQueue, rabbitmq.ConsumerConfig{
				Concurrency: g.cfg.WorkerConcurrency,
				MaxRetries:  g.cfg.WorkerMaxRetries,
				RetryDelay:  g.cfg.WorkerRetryDelay,
			}, g.log)
			if err != nil {
				return err
			}
			defer consumer.Close()

			return consumer.Run(ctx, a.svc.RunEventJob)
		},
	}
}
