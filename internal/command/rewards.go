package command

import (
	"context"

	"github.com/example/ec-storefront/internal/infrastructure/store"
	"go.uber.org/zap"
)

// AdjustPoints applies an administrative correction. The balance may go
// negative; the result flags it.
func (h *Handler) AdjustPoints(ctx context.Context, cmd AdjustPoints) (*PointsAdjusted, error) {
	var result *PointsAdjusted
	err := h.withRetry(ctx, "AdjustPoints", func() error {
		return h.uow.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
			posting, err := h.ledger.AdminAdjustPoints(ctx, tx.Rewards(), cmd.UserID, cmd.Amount, cmd.Reason)
			if err != nil {
				return err
			}
			if err := h.savePosting(ctx, tx.Rewards(), posting, "AdjustPoints"); err != nil {
				return err
			}
			result = &PointsAdjusted{Wallet: posting.Wallet, NegativeBalance: posting.NegativeBalance}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	h.logger.Info("reward points adjusted",
		zap.String("user_id", cmd.UserID),
		zap.String("amount", cmd.Amount.String()),
		zap.String("reason", cmd.Reason))
	return result, nil
}
