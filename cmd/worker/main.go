package main

import (
	"log"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"payhuk-core/pkg/config"
	"payhuk-core/pkg/db"
	"payhuk-core/pkg/gateway"
	"payhuk-core/pkg/gen"
	"payhuk-core/pkg/logger"
	"payhuk-core/pkg/otelcol"
	"payhuk-core/pkg/redis"
	"payhuk-core/pkg/sequence"
	pkgtask "payhuk-core/pkg/task"
	"payhuk-core/services/catalog"
	"payhuk-core/services/idempotency"
	"payhuk-core/services/license"
	"payhuk-core/services/task"
)

// The worker runs the daily license expiry sweep: a scheduler enqueues it
// and the asynq server executes it.
func main() {
	opts := []fx.Option{
		config.Module,
		logger.Module,
		otelcol.Module,
		db.Module,
		redis.Module,
		gen.Module,
		gateway.Module,
		sequence.Module,
		idempotency.Module,
		pkgtask.Client,
		pkgtask.Server,
		catalog.Module,
		license.Module,
		task.Module,
		fxLogger,
	}

	if err := fx.ValidateApp(opts...); err != nil {
		log.Fatalf("fx validation failed: %v", err)
	}

	app := fx.New(opts...)

	app.Run()
}

var fxLogger = fx.WithLogger(func(cfg *config.Config, logger *zap.Logger) fxevent.Logger {
	return fxevent.NopLogger
})
