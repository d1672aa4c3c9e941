package task

import (
	"payhuk-core/pkg/db"
	"payhuk-core/pkg/taskname"
	"payhuk-core/services/license"

	"github.com/hibiken/asynq"
	"go.uber.org/fx"
)

var Module = fx.Module("task.service",
	fx.Provide(
		func(svc *license.Service) Expirer { return svc },
		NewService,
		NewScheduler,
	),
	db.ProvideModels(&Job{}),
	fx.Invoke(
		StartScheduler,
		registerHandlers,
	),
)

func registerHandlers(mux *asynq.ServeMux, svc *Service) {
	mux.HandleFunc(taskname.LicenseExpirySweep, svc.HandleLicenseSweep)
}
