// Command api-server runs the kitchen checkout API.
package main

import (
	"context"

	"github.com/go-faster/sdk/app"
	"go.uber.org/zap"

	checkout "github.com/xenking/kitchen-checkout/internal/app"
)

func main() {
	app.Run(func(ctx context.Context, lg *zap.Logger, m *app.Telemetry) error {
		cfg, err := checkout.LoadConfig()
		if err != nil {
			return err
		}
		lg.Info("Configuration loaded",
			zap.Bool("redis", cfg.Redis.Addr != ""),
			zap.Strings("kafka_brokers", cfg.Kafka.Brokers),
			zap.String("default_category", cfg.Pricing.DefaultCategory),
		)
		return checkout.Run(ctx, lg.Named("checkout"), m, cfg)
	})
}
