package http

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

const (
	formatJSON = "json"
	formatCSV  = "csv"
)

var (
	accountCSVHeader   = []string{"id", "owner", "balance", "version", "active", "created_at"}
	statementCSVHeader = []string{"entry_id", "transaction_id", "type", "balance_before", "balance_after", "delta", "created_at"}
)

// exportFormat ?format=json|csv，預設 json
func exportFormat(c *gin.Context) (string, error) {
	switch f := c.DefaultQuery("format", formatJSON); f {
	case formatJSON, formatCSV:
		return f, nil
	default:
		return "", fmt.Errorf("unsupported export format %q", f)
	}
}

// ExportAccounts 匯出所有帳戶
func (h *Handler) ExportAccounts(c *gin.Context) {
	format, err := exportFormat(c)
	if err != nil {
		badRequest(c, err)
		return
	}
	accounts, err := h.reports.Accounts(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}

	resp := make([]accountResp, 0, len(accounts))
	for _, a := range accounts {
		resp = append(resp, toAccountResp(a))
	}
	if format == formatJSON {
		c.JSON(http.StatusOK, gin.H{"accounts": resp})
		return
	}

	rows := make([][]string, 0, len(resp)+1)
	rows = append(rows, accountCSVHeader)
	for _, a := range resp {
		rows = append(rows, []string{
			a.ID,
			a.Owner,
			a.Balance,
			strconv.FormatInt(a.Version, 10),
			strconv.FormatBool(a.Active),
			a.CreatedAt.UTC().Format(time.RFC3339Nano),
		})
	}
	writeCSV(c, "accounts.csv", rows)
}

// ExportStatement 匯出單一帳戶的完整對帳單，新到舊
func (h *Handler) ExportStatement(c *gin.Context) {
	format, err := exportFormat(c)
	if err != nil {
		badRequest(c, err)
		return
	}
	id := c.Param("id")
	lines, err := h.reports.FullStatement(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}

	resp := toStatementResp(lines)
	if format == formatJSON {
		c.JSON(http.StatusOK, gin.H{"account_id": id, "lines": resp})
		return
	}

	rows := make([][]string, 0, len(resp)+1)
	rows = append(rows, statementCSVHeader)
	for _, l := range resp {
		rows = append(rows, []string{
			strconv.FormatInt(l.EntryID, 10),
			l.TransactionID,
			l.Type,
			l.BalanceBefore,
			l.BalanceAfter,
			l.Delta,
			l.CreatedAt.UTC().Format(time.RFC3339Nano),
		})
	}
	writeCSV(c, "statement-"+id+".csv", rows)
}

// writeCSV 先寫進 buffer，編碼失敗時還能回傳錯誤狀態
func writeCSV(c *gin.Context, filename string, rows [][]string) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.WriteAll(rows); err != nil {
		writeError(c, err)
		return
	}
	c.Header("Content-Disposition", "attachment; filename="+strconv.Quote(filename))
	c.Data(http.StatusOK, "text/csv; charset=utf-8", buf.Bytes())
}
