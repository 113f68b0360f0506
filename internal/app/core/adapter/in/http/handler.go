// Package http 帳務服務的 HTTP 介面
package http

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/JoeShih716/go-clients-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-clients-ledger/internal/app/core/usecase"
)

// LedgerService 會異動餘額的操作
type LedgerService interface {
	OpenAccount(ctx context.Context, id, owner string) (*domain.Account, error)
	CloseAccount(ctx context.Context, id string) (*domain.Account, error)
	Deposit(ctx context.Context, accountID string, amount decimal.Decimal, txID uuid.UUID) (*domain.Transaction, error)
	Withdraw(ctx context.Context, accountID string, amount decimal.Decimal, txID uuid.UUID) (*domain.Transaction, error)
	Transfer(ctx context.Context, from, to string, amount decimal.Decimal, txID uuid.UUID) (*domain.Transaction, error)
	Reverse(ctx context.Context, originalID, txID uuid.UUID) (*domain.Transaction, error)
}

// ReportService 唯讀查詢
type ReportService interface {
	Account(ctx context.Context, id string) (*domain.Account, error)
	Balance(ctx context.Context, id string) (decimal.Decimal, error)
	Transaction(ctx context.Context, id uuid.UUID) (*domain.Transaction, error)
	Statement(ctx context.Context, id string, limit, offset int) ([]domain.StatementLine, error)
	FullStatement(ctx context.Context, id string) ([]domain.StatementLine, error)
	Accounts(ctx context.Context) ([]*domain.Account, error)
	Overview(ctx context.Context, id string) (*usecase.AccountOverview, error)
	TotalBalance(ctx context.Context) (decimal.Decimal, error)
	Reconcile(ctx context.Context) (*usecase.ReconcileReport, error)
}

type Handler struct {
	ledger  LedgerService
	reports ReportService
}

func NewHandler(ledger LedgerService, reports ReportService) *Handler {
	return &Handler{ledger: ledger, reports: reports}
}

func (h *Handler) RegisterRoutes(r gin.IRouter) {
	accounts := r.Group("/accounts")
	{
		accounts.POST("", h.OpenAccount)
		accounts.GET("/:id", h.GetAccount)
		accounts.POST("/:id/close", h.CloseAccount)
		accounts.GET("/:id/balance", h.GetBalance)
		accounts.GET("/:id/statement", h.GetStatement)
		accounts.GET("/:id/statement/export", h.ExportStatement)
		accounts.GET("/:id/overview", h.GetOverview)
	}
	txs := r.Group("/transactions")
	{
		txs.POST("/deposit", h.Deposit)
		txs.POST("/withdraw", h.Withdraw)
		txs.POST("/transfer", h.Transfer)
		txs.POST("/:id/reverse", h.Reverse)
		txs.GET("/:id", h.GetTransaction)
	}
	reports := r.Group("/reports")
	{
		reports.GET("/total", h.TotalBalance)
		reports.GET("/reconcile", h.Reconcile)
		reports.GET("/accounts", h.ExportAccounts)
	}
}

type OpenAccountReq struct {
	ID    string `json:"id"`
	Owner string `json:"owner" binding:"required"`
}

type accountResp struct {
	ID        string    `json:"id"`
	Owner     string    `json:"owner"`
	Balance   string    `json:"balance"`
	Version   int64     `json:"version"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

func toAccountResp(a *domain.Account) accountResp {
	return accountResp{
		ID:        a.ID,
		Owner:     a.Owner,
		Balance:   a.Balance.String(),
		Version:   a.Version,
		Active:    a.Active,
		CreatedAt: a.CreatedAt,
	}
}

type transactionResp struct {
	ID         string    `json:"id"`
	Type       string    `json:"type"`
	Status     string    `json:"status"`
	Reason     string    `json:"reason,omitempty"`
	From       string    `json:"from_account,omitempty"`
	To         string    `json:"to_account,omitempty"`
	Amount     string    `json:"amount"`
	ReversalOf string    `json:"reversal_of,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func toTransactionResp(t *domain.Transaction) transactionResp {
	resp := transactionResp{
		ID:        t.ID.String(),
		Type:      t.Type.String(),
		Status:    string(t.Status),
		Reason:    t.Reason,
		From:      t.From,
		To:        t.To,
		Amount:    t.Amount.String(),
		CreatedAt: t.CreatedAt,
		UpdatedAt: t.UpdatedAt,
	}
	if t.ReversalOf != uuid.Nil {
		resp.ReversalOf = t.ReversalOf.String()
	}
	return resp
}

func (h *Handler) OpenAccount(c *gin.Context) {
	var req OpenAccountReq
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	acc, err := h.ledger.OpenAccount(c.Request.Context(), req.ID, req.Owner)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, toAccountResp(acc))
}

func (h *Handler) CloseAccount(c *gin.Context) {
	acc, err := h.ledger.CloseAccount(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toAccountResp(acc))
}

func (h *Handler) GetAccount(c *gin.Context) {
	acc, err := h.reports.Account(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toAccountResp(acc))
}

func (h *Handler) GetBalance(c *gin.Context) {
	id := c.Param("id")
	bal, err := h.reports.Balance(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"account_id": id, "balance": bal.String()})
}

type statementLineResp struct {
	EntryID       int64     `json:"entry_id"`
	TransactionID string    `json:"transaction_id"`
	Type          string    `json:"type"`
	BalanceBefore string    `json:"balance_before"`
	BalanceAfter  string    `json:"balance_after"`
	Delta         string    `json:"delta"`
	CreatedAt     time.Time `json:"created_at"`
}

func (h *Handler) GetStatement(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "0"))
	if err != nil {
		badRequest(c, err)
		return
	}
	offset, err := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if err != nil {
		badRequest(c, err)
		return
	}

	lines, err := h.reports.Statement(c.Request.Context(), c.Param("id"), limit, offset)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"account_id": c.Param("id"), "lines": toStatementResp(lines)})
}

func (h *Handler) GetOverview(c *gin.Context) {
	ov, err := h.reports.Overview(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"account": toAccountResp(ov.Account), "recent": toStatementResp(ov.Recent)})
}

func toStatementResp(lines []domain.StatementLine) []statementLineResp {
	out := make([]statementLineResp, 0, len(lines))
	for _, l := range lines {
		out = append(out, statementLineResp{
			EntryID:       l.ID,
			TransactionID: l.TransactionID.String(),
			Type:          l.Type.String(),
			BalanceBefore: l.BalanceBefore.String(),
			BalanceAfter:  l.BalanceAfter.String(),
			Delta:         l.Delta().String(),
			CreatedAt:     l.CreatedAt,
		})
	}
	return out
}

type MovementReq struct {
	TransactionID string `json:"transaction_id" binding:"required,uuid"`
	AccountID     string `json:"account_id" binding:"required"`
	Amount        string `json:"amount" binding:"required"`
}

type TransferReq struct {
	TransactionID string `json:"transaction_id" binding:"required,uuid"`
	From          string `json:"from_account" binding:"required"`
	To            string `json:"to_account" binding:"required"`
	Amount        string `json:"amount" binding:"required"`
}

type ReverseReq struct {
	TransactionID string `json:"transaction_id" binding:"required,uuid"`
}

func (h *Handler) Deposit(c *gin.Context) {
	h.movement(c, h.ledger.Deposit)
}

func (h *Handler) Withdraw(c *gin.Context) {
	h.movement(c, h.ledger.Withdraw)
}

type movementFunc func(ctx context.Context, accountID string, amount decimal.Decimal, txID uuid.UUID) (*domain.Transaction, error)

func (h *Handler) movement(c *gin.Context, fn movementFunc) {
	var req MovementReq
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		badRequest(c, err)
		return
	}
	t, err := fn(c.Request.Context(), req.AccountID, amount, uuid.MustParse(req.TransactionID))
	respondTransaction(c, t, err)
}

func (h *Handler) Transfer(c *gin.Context) {
	var req TransferReq
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		badRequest(c, err)
		return
	}
	t, err := h.ledger.Transfer(c.Request.Context(), req.From, req.To, amount, uuid.MustParse(req.TransactionID))
	respondTransaction(c, t, err)
}

func (h *Handler) Reverse(c *gin.Context) {
	original, err := uuid.Parse(c.Param("id"))
	if err != nil {
		badRequest(c, err)
		return
	}
	var req ReverseReq
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	t, err := h.ledger.Reverse(c.Request.Context(), original, uuid.MustParse(req.TransactionID))
	respondTransaction(c, t, err)
}

func (h *Handler) GetTransaction(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		badRequest(c, err)
		return
	}
	t, err := h.reports.Transaction(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toTransactionResp(t))
}

func (h *Handler) TotalBalance(c *gin.Context) {
	total, err := h.reports.TotalBalance(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"total_balance": total.String()})
}

type mismatchResp struct {
	AccountID string `json:"account_id"`
	Detail    string `json:"detail"`
}

func (h *Handler) Reconcile(c *gin.Context) {
	rep, err := h.reports.Reconcile(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	mismatches := make([]mismatchResp, 0, len(rep.Mismatches))
	for _, m := range rep.Mismatches {
		mismatches = append(mismatches, mismatchResp{AccountID: m.AccountID, Detail: m.Detail})
	}
	counts := make(map[string]int64, len(rep.Transactions))
	for status, n := range rep.Transactions {
		counts[string(status)] = n
	}
	c.JSON(http.StatusOK, gin.H{
		"ok":            rep.OK(),
		"accounts":      rep.Accounts,
		"total_balance": rep.TotalBalance.String(),
		"transactions":  counts,
		"mismatches":    mismatches,
	})
}

// respondTransaction 被拒絕的交易連同紀錄一起回傳
func respondTransaction(c *gin.Context, t *domain.Transaction, err error) {
	if err != nil {
		if t != nil {
			c.Set(ctxKeyTransaction, toTransactionResp(t))
		}
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toTransactionResp(t))
}
