package httpapi

import (
	"net/http"
	"strings"

	"payhuk-core/pkg/db/pagination"
	"payhuk-core/pkg/errutil"
	"payhuk-core/services/download"

	"github.com/gin-gonic/gin"
)

type issueTokenRequest struct {
	ProductID string `json:"product_id" binding:"required"`
}

type tokenResponse struct {
	*download.DownloadToken
	Remaining   int    `json:"remaining"`
	DownloadURL string `json:"download_url,omitempty"`
}

func newTokenResponse(t *download.DownloadToken) tokenResponse {
	resp := tokenResponse{DownloadToken: t, Remaining: t.Remaining()}
	if t.Token != "" {
		resp.DownloadURL = "/v1/downloads/" + t.Token
	}
	return resp
}

func (h *Handler) issueDownloadToken(c *gin.Context) {
	buyerID, ok := buyer(c)
	if !ok {
		return
	}
	var req issueTokenRequest
	if !bindJSON(c, &req) {
		return
	}

	token, err := h.downloads.RequestDownloadToken(c.Request.Context(), download.IssueRequest{
		ProductID:      req.ProductID,
		BuyerID:        buyerID,
		IdempotencyKey: c.GetHeader(IdempotencyKeyHeader),
		IP:             c.ClientIP(),
	})
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.Header("Cache-Control", "no-store")
	c.JSON(http.StatusCreated, newTokenResponse(token))
}

// consumeDownload redirects browsers to the file. Clients asking for JSON
// get the presigned URL in the body instead.
func (h *Handler) consumeDownload(c *gin.Context) {
	dl, err := h.downloads.ConsumeDownloadToken(c.Request.Context(), c.Param("token"), c.ClientIP())
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.Header("Cache-Control", "no-store")
	if strings.Contains(c.GetHeader("Accept"), "application/json") {
		c.JSON(http.StatusOK, dl)
		return
	}
	c.Redirect(http.StatusFound, dl.URL)
}

func (h *Handler) getDownloadToken(c *gin.Context) {
	token, err := h.downloads.GetDownloadToken(c.Request.Context(), c.Param("id"))
	if err != nil {
		_ = c.Error(err)
		return
	}

	id := identity(c)
	if !id.IsAdmin() && token.BuyerID != id.BuyerID {
		_ = c.Error(errutil.ErrTokenNotFound)
		return
	}
	c.JSON(http.StatusOK, newTokenResponse(token))
}

func (h *Handler) listAccessLogs(c *gin.Context) {
	var page pagination.Pagination
	if err := c.ShouldBindQuery(&page); err != nil {
		_ = c.Error(errutil.ValidationFailed("invalid pagination", err))
		return
	}

	logs, info, err := h.downloads.ListAccessLogs(c.Request.Context(), c.Param("id"), page)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": logs, "page_info": info})
}

func (h *Handler) revokeDownloadToken(c *gin.Context) {
	token, err := h.downloads.RevokeDownloadToken(c.Request.Context(), c.Param("id"), identity(c).Actor())
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, newTokenResponse(token))
}
