package httpapi

import (
	"net/http"

	"payhuk-core/pkg/config"
	"payhuk-core/pkg/health"
	"payhuk-core/pkg/middleware"
	"payhuk-core/services/download"
	"payhuk-core/services/license"
	"payhuk-core/services/rates"

	"github.com/casbin/casbin/v2"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
)

var Module = fx.Module("httpapi",
	fx.Provide(
		NewHandler,
		NewRouter,
	),
)

type Handler struct {
	cfg       *config.Config
	enforcer  *casbin.Enforcer
	downloads *download.Service
	licenses  *license.Service
	rates     *rates.Cache
}

type HandlerParams struct {
	fx.In
	Config    *config.Config
	Enforcer  *casbin.Enforcer
	Downloads *download.Service
	Licenses  *license.Service
	Rates     *rates.Cache
}

func NewHandler(p HandlerParams) *Handler {
	return &Handler{
		cfg:       p.Config,
		enforcer:  p.Enforcer,
		downloads: p.Downloads,
		licenses:  p.Licenses,
		rates:     p.Rates,
	}
}

func NewRouter(cfg *config.Config, h *Handler, hs health.HealthService) *gin.Engine {
	if cfg.AppEnv == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.Tracing(cfg.AppName)...)
	r.Use(
		middleware.RequestLog(),
		middleware.Error(),
	)

	r.GET("/healthz", hs.Liveness)
	r.GET("/readyz", hs.Readiness)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := r.Group("/v1", h.identify(), h.authorize())
	{
		v1.GET("/downloads/:token", h.consumeDownload)

		v1.POST("/download-tokens", h.issueDownloadToken)
		v1.GET("/download-tokens/:id", h.getDownloadToken)
		v1.GET("/download-tokens/:id/logs", h.listAccessLogs)
		v1.POST("/download-tokens/:id/revoke", h.revokeDownloadToken)

		v1.POST("/licenses", h.generateLicense)
		v1.GET("/licenses", h.listLicenses)
		v1.POST("/licenses/confirm", h.confirmLicense)
		v1.POST("/licenses/validate", h.validateLicense)
		v1.POST("/licenses/activate", h.activateLicense)
		v1.POST("/licenses/deactivate", h.deactivateLicense)
		v1.POST("/licenses/transfer", h.transferLicense)
		v1.GET("/licenses/:key", h.getLicense)

		v1.GET("/rates", h.currentRates)
		v1.GET("/rates/convert", h.convert)

		admin := v1.Group("/admin")
		admin.GET("/licenses/:key/events", h.listLicenseEvents)
		admin.POST("/licenses/:key/suspend", h.suspendLicense)
		admin.POST("/licenses/:key/reinstate", h.reinstateLicense)
		admin.POST("/licenses/:key/expire", h.expireLicense)
		admin.POST("/licenses/sweep", h.sweepLicenses)
		admin.POST("/rates/refresh", h.refreshRates)
	}

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": gin.H{"code": "not_found", "message": "route not found"}})
	})

	return r
}
