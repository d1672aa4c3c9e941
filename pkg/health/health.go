package health

import (
	"context"
	"net/http"
	"time"

	"payhuk-core/pkg/minio"

	"github.com/gin-gonic/gin"
	"github.com/gogo/status"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health/grpc_health_v1"
	"gorm.io/gorm"
)

var Module = fx.Module("health",
	fx.Provide(ProvideHealth),
	fx.Invoke(RegisterGRPC),
)

const (
	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"
	StatusDegraded  = "degraded"

	checkTimeout = 2 * time.Second
)

type Dependency struct {
	Name     string `json:"name"`
	Status   string `json:"status"`
	Message  string `json:"message"`
	Critical bool   `json:"critical"`
}

type Health struct {
	Status  string       `json:"status"`
	Message string       `json:"message"`
	Deps    []Dependency `json:"deps"`
}

// Ready is false only when a critical dependency failed. Redis and object
// storage degrade single features; the gateway database blocks everything.
func (h *Health) Ready() bool {
	return h.Status != StatusUnhealthy
}

type HealthService interface {
	Check(ctx context.Context) *Health
	Liveness(c *gin.Context)
	Readiness(c *gin.Context)
}

type health struct {
	db      *gorm.DB
	redis   *redis.Client
	storage *minio.Signer
}

type HealthParams struct {
	fx.In
	DB      *gorm.DB      `optional:"true"`
	Redis   *redis.Client `optional:"true"`
	Storage *minio.Signer `optional:"true"`
}

func ProvideHealth(p HealthParams) HealthService {
	return &health{
		db:      p.DB,
		redis:   p.Redis,
		storage: p.Storage,
	}
}

func (h *health) Check(ctx context.Context) *Health {
	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	this := &Health{Status: StatusHealthy, Message: "OK"}

	if h.db != nil {
		this.add(probe("database", true, func() error {
			sqlDB, err := h.db.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		}))
	}

	if h.redis != nil {
		this.add(probe("redis", false, func() error {
			return h.redis.Ping(ctx).Err()
		}))
	}

	if h.storage != nil {
		this.add(probe("object_storage", false, func() error {
			return h.storage.BucketExists(ctx)
		}))
	}

	return this
}

func probe(name string, critical bool, fn func() error) Dependency {
	dep := Dependency{Name: name, Status: StatusHealthy, Message: "OK", Critical: critical}
	if err := fn(); err != nil {
		dep.Status = StatusUnhealthy
		dep.Message = err.Error()
	}
	return dep
}

func (h *Health) add(dep Dependency) {
	h.Deps = append(h.Deps, dep)
	if dep.Status == StatusHealthy {
		return
	}
	if dep.Critical {
		h.Status = StatusUnhealthy
		h.Message = dep.Name + " unavailable"
	} else if h.Status == StatusHealthy {
		h.Status = StatusDegraded
		h.Message = dep.Name + " unavailable"
	}
}

func (h *health) Liveness(c *gin.Context) {
	c.JSON(http.StatusOK, &Health{
		Status:  StatusHealthy,
		Message: "OK",
	})
}

func (h *health) Readiness(c *gin.Context) {
	this := h.Check(c.Request.Context())
	code := http.StatusOK
	if !this.Ready() {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, this)
}

type grpcHealth struct {
	grpc_health_v1.UnimplementedHealthServer
	svc HealthService
}

func (g *grpcHealth) Check(ctx context.Context, req *grpc_health_v1.HealthCheckRequest) (*grpc_health_v1.HealthCheckResponse, error) {
	if g.svc.Check(ctx).Ready() {
		return &grpc_health_v1.HealthCheckResponse{Status: grpc_health_v1.HealthCheckResponse_SERVING}, nil
	}
	return &grpc_health_v1.HealthCheckResponse{Status: grpc_health_v1.HealthCheckResponse_NOT_SERVING}, nil
}

func (g *grpcHealth) Watch(req *grpc_health_v1.HealthCheckRequest, srv grpc_health_v1.Health_WatchServer) error {
	return status.Error(codes.Unimplemented, "Watch method not implemented")
}

type grpcParams struct {
	fx.In
	Server *grpc.Server `optional:"true"`
	Health HealthService
}

func RegisterGRPC(p grpcParams) {
	if p.Server == nil {
		return
	}
	grpc_health_v1.RegisterHealthServer(p.Server, &grpcHealth{svc: p.Health})
}
