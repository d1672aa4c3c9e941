package httpapi

import (
	"context"
	"net/http"

	"payhuk-core/pkg/errutil"
	"payhuk-core/services/license"

	"github.com/gin-gonic/gin"
)

type generateLicenseRequest struct {
	OrderID string `json:"order_id" binding:"required"`
	BuyerID string `json:"buyer_id" binding:"required"`
}

type confirmLicenseRequest struct {
	OrderID string `json:"order_id" binding:"required"`
}

type deviceRequest struct {
	LicenseKey string `json:"license_key" binding:"required"`
	DeviceID   string `json:"device_id" binding:"required"`
}

type validateRequest struct {
	LicenseKey string `json:"license_key" binding:"required"`
	DeviceID   string `json:"device_id"`
}

type transferRequest struct {
	LicenseKey string `json:"license_key" binding:"required"`
	ToBuyerID  string `json:"to_buyer_id" binding:"required"`
}

func (h *Handler) generateLicense(c *gin.Context) {
	var req generateLicenseRequest
	if !bindJSON(c, &req) {
		return
	}
	lic, err := h.licenses.GenerateLicense(c.Request.Context(), req.OrderID, req.BuyerID)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, lic)
}

func (h *Handler) confirmLicense(c *gin.Context) {
	var req confirmLicenseRequest
	if !bindJSON(c, &req) {
		return
	}
	lic, err := h.licenses.ConfirmLicense(c.Request.Context(), req.OrderID)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, lic)
}

// validateLicense answers 200 for every known outcome; the verdict is in
// the body.
func (h *Handler) validateLicense(c *gin.Context) {
	var req validateRequest
	if !bindJSON(c, &req) {
		return
	}
	res, err := h.licenses.ValidateLicense(c.Request.Context(), req.LicenseKey, req.DeviceID)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) activateLicense(c *gin.Context) {
	var req deviceRequest
	if !bindJSON(c, &req) {
		return
	}
	lic, err := h.licenses.ActivateLicense(c.Request.Context(), req.LicenseKey, req.DeviceID, c.GetHeader(IdempotencyKeyHeader))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, lic)
}

func (h *Handler) deactivateLicense(c *gin.Context) {
	var req deviceRequest
	if !bindJSON(c, &req) {
		return
	}
	lic, err := h.licenses.DeactivateLicense(c.Request.Context(), req.LicenseKey, req.DeviceID, c.GetHeader(IdempotencyKeyHeader))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, lic)
}

func (h *Handler) transferLicense(c *gin.Context) {
	from, ok := buyer(c)
	if !ok {
		return
	}
	var req transferRequest
	if !bindJSON(c, &req) {
		return
	}
	lic, err := h.licenses.TransferLicense(c.Request.Context(), req.LicenseKey, from, req.ToBuyerID, c.GetHeader(IdempotencyKeyHeader))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, lic)
}

// listLicenses lists the caller's licenses. Admins may name another buyer.
func (h *Handler) listLicenses(c *gin.Context) {
	buyerID := c.Query("buyer_id")
	if buyerID == "" || !identity(c).IsAdmin() {
		var ok bool
		if buyerID, ok = buyer(c); !ok {
			return
		}
	}
	list, err := h.licenses.ListBuyerLicenses(c.Request.Context(), buyerID)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": list})
}

func (h *Handler) getLicense(c *gin.Context) {
	lic, err := h.licenses.GetLicense(c.Request.Context(), c.Param("key"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	id := identity(c)
	if !id.IsAdmin() && lic.BuyerID != id.BuyerID {
		_ = c.Error(errutil.ErrLicenseNotFound)
		return
	}
	c.JSON(http.StatusOK, lic)
}

func (h *Handler) listLicenseEvents(c *gin.Context) {
	events, err := h.licenses.ListEvents(c.Request.Context(), c.Param("key"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": events})
}

func (h *Handler) suspendLicense(c *gin.Context) {
	h.transition(c, h.licenses.SuspendLicense)
}

func (h *Handler) reinstateLicense(c *gin.Context) {
	h.transition(c, h.licenses.ReinstateLicense)
}

func (h *Handler) expireLicense(c *gin.Context) {
	h.transition(c, h.licenses.ExpireLicense)
}

func (h *Handler) transition(c *gin.Context, fn func(ctx context.Context, key string) (*license.License, error)) {
	lic, err := fn(c.Request.Context(), c.Param("key"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, lic)
}

func (h *Handler) sweepLicenses(c *gin.Context) {
	n, err := h.licenses.ExpireOverdue(c.Request.Context())
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"expired": n})
}
