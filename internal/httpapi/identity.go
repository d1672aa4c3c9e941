package httpapi

import (
	"strings"

	"payhuk-core/pkg/authz"
	"payhuk-core/pkg/errutil"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	BuyerIDHeader        = "X-Buyer-ID"
	IdempotencyKeyHeader = "Idempotency-Key"

	identityKey = "payhuk.identity"
)

// Identity is asserted by the edge proxy that terminates authentication;
// this service only authorizes it.
type Identity struct {
	Role    string
	BuyerID string
}

func (i Identity) IsAdmin() bool { return i.Role == authz.RoleAdmin }

// Actor names the caller in audit rows.
func (i Identity) Actor() string {
	if i.BuyerID != "" {
		return i.Role + ":" + i.BuyerID
	}
	return i.Role
}

func (h *Handler) identify() gin.HandlerFunc {
	header := h.cfg.AccessControl.TrustedHeader
	if header == "" {
		header = "X-Role"
	}
	return func(c *gin.Context) {
		id := Identity{
			Role:    strings.ToLower(strings.TrimSpace(c.GetHeader(header))),
			BuyerID: strings.TrimSpace(c.GetHeader(BuyerIDHeader)),
		}
		if id.Role == "" {
			id.Role = authz.RoleAnonymous
		}
		c.Set(identityKey, id)
		c.Next()
	}
}

func (h *Handler) authorize() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := identity(c)
		ok, err := h.enforcer.Enforce(id.Role, c.Request.URL.Path, c.Request.Method)
		if err != nil {
			_ = c.Error(errutil.Internal("authorization failed", err))
			c.Abort()
			return
		}
		if !ok {
			zap.L().Debug("[Authz] denied",
				zap.String("role", id.Role),
				zap.String("method", c.Request.Method),
				zap.String("route", c.FullPath()),
			)
			if id.Role == authz.RoleAnonymous {
				_ = c.Error(errutil.Unauthorized("authentication required", nil))
			} else {
				_ = c.Error(errutil.Forbidden("not allowed for role "+id.Role, nil))
			}
			c.Abort()
			return
		}
		c.Next()
	}
}

func identity(c *gin.Context) Identity {
	if v, ok := c.Get(identityKey); ok {
		if id, ok := v.(Identity); ok {
			return id
		}
	}
	return Identity{Role: authz.RoleAnonymous}
}

// buyer returns the calling buyer, failing the request when the proxy did
// not assert one.
func buyer(c *gin.Context) (string, bool) {
	id := identity(c)
	if id.BuyerID == "" {
		_ = c.Error(errutil.Unauthorized("buyer identity required", nil, errutil.WithDetails(errutil.Detail{
			Field:   BuyerIDHeader,
			Message: "header is required",
		})))
		return "", false
	}
	return id.BuyerID, true
}

func bindJSON(c *gin.Context, req any) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		_ = c.Error(errutil.ValidationFailed("invalid request body", err, errutil.WithDetails(errutil.Detail{
			Field:   "body",
			Message: err.Error(),
		})))
		return false
	}
	return true
}
