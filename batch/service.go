package batch

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/warp/finance-ledger/finance"
)

// =============================================================================
// SERVICE - one batch, one database transaction
// =============================================================================

// Service processes batches against a transactional store.
//
// Flow inside the database transaction:
//
//	Setup (load + lock budgets) -> active-budget check -> strategies
//	-> recalculate budgets -> restriction check
//	-> create -> update -> delete -> write budgets
//
// Any error rolls back everything.
type Service struct {
	DB         finance.DB
	Logger     *zap.Logger
	Strategies map[Group]Strategy
}

func NewService(db finance.DB, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{DB: db, Logger: logger, Strategies: DefaultStrategies()}
}

// ProcessBatch applies a batch atomically.
func (s *Service) ProcessBatch(ctx context.Context, b *finance.Batch, rc finance.RequestContext) error {
	if err := SanityChecks(b); err != nil {
		return err
	}
	if rc.Now.IsZero() {
		rc.Now = time.Now().UTC()
	}

	err := s.DB.WithTx(ctx, func(conn finance.Conn) error {
		h := NewHolder(conn, s.Logger)
		if err := h.Setup(ctx, b); err != nil {
			return err
		}
		if err := CheckBudgetsAreActive(h); err != nil {
			return err
		}
		if err := runStrategies(h, s.Strategies); err != nil {
			return err
		}
		for _, budget := range h.Budgets() {
			budget.Recalculate(h.Currency(budget.ID))
		}
		if err := CheckRestrictedBudgets(h); err != nil {
			return err
		}
		return s.write(ctx, conn, h, rc)
	})
	if err != nil {
		s.Logger.Info("batch rejected",
			zap.Int("create", len(b.TransactionsToCreate)),
			zap.Int("update", len(b.TransactionsToUpdate)),
			zap.Int("delete", len(b.IdsOfTransactionsToDelete)),
			zap.Error(err))
		return err
	}

	s.Logger.Debug("batch processed",
		zap.Int("create", len(b.TransactionsToCreate)),
		zap.Int("update", len(b.TransactionsToUpdate)),
		zap.Int("delete", len(b.IdsOfTransactionsToDelete)))
	return nil
}

func (s *Service) write(ctx context.Context, conn finance.Conn, h *Holder, rc finance.RequestContext) error {
	if created := h.TransactionsToCreate(); len(created) > 0 {
		rows := make([]finance.Transaction, len(created))
		for i, tr := range created {
			tr.Metadata = rc.Stamp(tr.Metadata)
			rows[i] = *tr
		}
		if err := conn.CreateTransactions(ctx, rows); err != nil {
			return fmt.Errorf("creating transactions: %w", err)
		}
	}

	if updated := h.TransactionsToUpdate(); len(updated) > 0 {
		rows := make([]finance.Transaction, len(updated))
		for i, tr := range updated {
			stored, _ := h.Existing(tr.ID)
			tr.Metadata = rc.Stamp(stored.Metadata)
			rows[i] = *tr
		}
		if err := conn.UpdateTransactions(ctx, rows); err != nil {
			return fmt.Errorf("updating transactions: %w", err)
		}
	}

	if ids := h.IDsToDelete(); len(ids) > 0 {
		if err := conn.DeleteTransactions(ctx, ids); err != nil {
			return fmt.Errorf("deleting transactions: %w", err)
		}
	}

	if budgets := h.Budgets(); len(budgets) > 0 {
		rows := make([]finance.Budget, len(budgets))
		for i, b := range budgets {
			b.Metadata = rc.Stamp(b.Metadata)
			rows[i] = *b
		}
		if err := conn.UpdateBudgets(ctx, rows); err != nil {
			return fmt.Errorf("updating budgets: %w", err)
		}
	}
	return nil
}

