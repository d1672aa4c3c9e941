package download

import (
	"payhuk-core/pkg/db"
	"payhuk-core/pkg/minio"

	"go.uber.org/fx"
)

var Module = fx.Module("download.module",
	fx.Provide(
		NewRepository,
		NewService,
		func(s *minio.Signer) URLSigner { return s },
	),
	db.ProvideModels(&DownloadToken{}, &AccessLog{}),
)
