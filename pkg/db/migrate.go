package db

import (
	"payhuk-core/pkg/config"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ProvideModels contributes gorm models to the schema AutoMigrate manages.
func ProvideModels(models ...any) fx.Option {
	return fx.Provide(
		fx.Annotate(
			func() []any { return models },
			fx.ResultTags(`group:"db.models,flatten"`),
		),
	)
}

type migrateParams struct {
	fx.In
	DB     *gorm.DB
	Config *config.Config
	Models []any `group:"db.models"`
}

// AutoMigrate creates missing tables and columns when DATABASE.AUTO_MIGRATE
// is set. It never drops anything.
func AutoMigrate(p migrateParams) error {
	if !p.Config.Database.AutoMigrate || len(p.Models) == 0 {
		return nil
	}
	zap.L().Info("[DB] running auto migration", zap.Int("models", len(p.Models)))
	return p.DB.AutoMigrate(p.Models...)
}
