package license

import (
	"payhuk-core/pkg/db"

	"go.uber.org/fx"
)

var Module = fx.Module("license.module",
	fx.Provide(
		NewRepository,
		NewService,
	),
	db.ProvideModels(&License{}, &Activation{}, &Event{}),
)
