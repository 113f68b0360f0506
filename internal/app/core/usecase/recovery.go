package usecase

import (
	"context"

	"github.com/google/uuid"

	"github.com/JoeShih716/go-clients-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-clients-ledger/pkg/logger"
	"github.com/JoeShih716/go-clients-ledger/pkg/pool"
)

// RecoveryReport 啟動時處理 pending 交易的結果
type RecoveryReport struct {
	Scanned       int
	Applied       int
	Rejected      int
	Unrecoverable int
	Failed        int
}

// Recover 處理上次停機時留在 pending 的交易
//
// 欄位完整的交易走一般的冪等流程重放，其餘標記為 rejected(unrecoverable)，
// 不會猜測金額或方向。Failed 代表這次沒處理完，交易維持 pending，下次啟動再試。
func (e *Engine) Recover(ctx context.Context) (RecoveryReport, error) {
	var report RecoveryReport
	log := logger.FromContext(ctx, e.log)

	var pending []*domain.Transaction
	err := e.withConn(ctx, func(conn *pool.Conn) error {
		return e.store.RunInTx(ctx, conn, func(tx Tx) error {
			var err error
			pending, err = tx.ListPendingTransactions(0)
			return err
		})
	})
	if err != nil {
		return report, err
	}
	report.Scanned = len(pending)

	for _, t := range pending {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		if err := t.Validate(); err != nil {
			if err := e.markUnrecoverable(ctx, t.ID); err != nil {
				log.Error().Err(err).Str("tx_id", t.ID.String()).Msg("recovery: mark unrecoverable failed")
				report.Failed++
				continue
			}
			log.Warn().Err(err).Str("tx_id", t.ID.String()).Msg("recovery: transaction marked unrecoverable")
			report.Unrecoverable++
			continue
		}

		intent := &domain.Transaction{
			ID:         t.ID,
			Type:       t.Type,
			From:       t.From,
			To:         t.To,
			Amount:     t.Amount,
			ReversalOf: t.ReversalOf,
		}
		res, err := e.execute(ctx, intent)
		switch {
		case err == nil:
			report.Applied++
		case res != nil && res.Status == domain.TransactionStatusRejected:
			report.Rejected++
		default:
			log.Error().Err(err).Str("tx_id", t.ID.String()).Msg("recovery: replay failed")
			report.Failed++
		}
	}

	if report.Scanned > 0 {
		log.Info().
			Int("scanned", report.Scanned).
			Int("applied", report.Applied).
			Int("rejected", report.Rejected).
			Int("unrecoverable", report.Unrecoverable).
			Int("failed", report.Failed).
			Msg("recovery finished")
	}
	return report, nil
}

func (e *Engine) markUnrecoverable(ctx context.Context, id uuid.UUID) error {
	var marked *domain.Transaction
	err := e.withConn(ctx, func(conn *pool.Conn) error {
		return e.store.RunInTx(ctx, conn, func(tx Tx) error {
			t, err := tx.LockTransaction(id)
			if err != nil {
				return err
			}
			if t.Status.IsTerminal() {
				return nil
			}
			now := e.now()
			if err := tx.UpdateTransactionStatus(id, domain.TransactionStatusPending, domain.TransactionStatusRejected, domain.ReasonUnrecoverable, now); err != nil {
				return err
			}
			t.Status = domain.TransactionStatusRejected
			t.Reason = domain.ReasonUnrecoverable
			t.UpdatedAt = now
			marked = t
			return nil
		})
	})
	if err != nil {
		return err
	}
	if marked != nil {
		e.afterCommit(marked, nil)
	}
	return nil
}
