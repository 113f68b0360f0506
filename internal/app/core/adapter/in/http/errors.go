package http

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/JoeShih716/go-clients-ledger/internal/app/core/domain"
)

const ctxKeyTransaction = "ledger.transaction"

// errorResp 錯誤回應
type errorResp struct {
	Error       string           `json:"error"`
	Code        string           `json:"code"`
	Transaction *transactionResp `json:"transaction,omitempty"`
}

// classify 將 domain 錯誤對應到 HTTP 狀態碼與錯誤代碼
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrAccountNotFound), errors.Is(err, domain.ErrTransactionNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, domain.ErrInsufficientFunds):
		return http.StatusUnprocessableEntity, "insufficient_funds"
	case errors.Is(err, domain.ErrAccountClosed):
		return http.StatusUnprocessableEntity, "account_closed"
	case errors.Is(err, domain.ErrBalanceLimit):
		return http.StatusUnprocessableEntity, "balance_limit"
	case errors.Is(err, domain.ErrAccountExists),
		errors.Is(err, domain.ErrAccountNotEmpty),
		errors.Is(err, domain.ErrIdempotencyMismatch),
		errors.Is(err, domain.ErrNotReversible):
		return http.StatusConflict, "conflict"
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest, "validation"
	case errors.Is(err, domain.ErrConflictExceeded):
		return http.StatusConflict, "conflict_exceeded"
	case errors.Is(err, domain.ErrPoolExhausted):
		return http.StatusServiceUnavailable, "pool_exhausted"
	case errors.Is(err, domain.ErrStoreUnavailable):
		return http.StatusServiceUnavailable, "store_unavailable"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "timeout"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func writeError(c *gin.Context, err error) {
	status, code := classify(err)
	if code == "pool_exhausted" {
		c.Header("Retry-After", "1")
	}
	resp := errorResp{Error: err.Error(), Code: code}
	if v, ok := c.Get(ctxKeyTransaction); ok {
		if t, ok := v.(transactionResp); ok {
			resp.Transaction = &t
		}
	}
	_ = c.Error(err)
	c.JSON(status, resp)
}

func badRequest(c *gin.Context, err error) {
	_ = c.Error(err)
	c.JSON(http.StatusBadRequest, errorResp{Error: err.Error(), Code: "validation"})
}
