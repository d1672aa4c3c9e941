package main

import (
	"log"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"payhuk-core/internal/httpapi"
	"payhuk-core/pkg/authz"
	"payhuk-core/pkg/config"
	"payhuk-core/pkg/db"
	"payhuk-core/pkg/gateway"
	"payhuk-core/pkg/gen"
	"payhuk-core/pkg/health"
	"payhuk-core/pkg/logger"
	"payhuk-core/pkg/minio"
	"payhuk-core/pkg/otelcol"
	"payhuk-core/pkg/profiling"
	"payhuk-core/pkg/redis"
	"payhuk-core/pkg/sequence"
	"payhuk-core/pkg/server"
	"payhuk-core/services/catalog"
	"payhuk-core/services/download"
	"payhuk-core/services/idempotency"
	"payhuk-core/services/license"
	"payhuk-core/services/rates"
)

func main() {
	opts := []fx.Option{
		config.Module,
		logger.Module,
		otelcol.Module,
		profiling.Module,
		db.Module,
		redis.Module,
		minio.Module,
		gen.Module,
		gateway.Module,
		sequence.Module,
		idempotency.Module,
		authz.Module,
		catalog.Module,
		download.Module,
		license.Module,
		rates.Module,
		health.Module,
		httpapi.Module,
		server.ProvideGRPCServer,
		server.ProvideHTTPServer,
		fxLogger,
	}

	if err := fx.ValidateApp(opts...); err != nil {
		log.Fatalf("fx validation failed: %v", err)
	}

	app := fx.New(opts...)

	app.Run()
}

var fxLogger = fx.WithLogger(func(cfg *config.Config, logger *zap.Logger) fxevent.Logger {
	if cfg.AppEnv == "production" {
		return fxevent.NopLogger
	}
	return &fxevent.ZapLogger{Logger: logger}
})
