package httpapi

import (
	"net/http"
	"strings"

	"payhuk-core/pkg/errutil"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

type convertQuery struct {
	Amount string `form:"amount" binding:"required"`
	From   string `form:"from" binding:"required"`
	To     string `form:"to" binding:"required"`
}

func (h *Handler) currentRates(c *gin.Context) {
	c.JSON(http.StatusOK, h.rates.Current())
}

func (h *Handler) convert(c *gin.Context) {
	var q convertQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		_ = c.Error(errutil.ValidationFailed("amount, from and to are required", err))
		return
	}
	amount, err := decimal.NewFromString(q.Amount)
	if err != nil {
		_ = c.Error(errutil.ValidationFailed("amount is not a number", err, errutil.WithDetails(errutil.Detail{
			Field:   "amount",
			Message: err.Error(),
		})))
		return
	}

	result, err := h.rates.Convert(amount, q.From, q.To)
	if err != nil {
		_ = c.Error(err)
		return
	}

	set := h.rates.Current()
	c.JSON(http.StatusOK, gin.H{
		"amount":     amount,
		"from":       strings.ToUpper(q.From),
		"to":         strings.ToUpper(q.To),
		"result":     result,
		"source":     set.Source,
		"fetched_at": set.FetchedAt,
	})
}

func (h *Handler) refreshRates(c *gin.Context) {
	set, err := h.rates.Refresh(c.Request.Context())
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, set)
}
