/*
Package rollover implements the fiscal-year rollover workflow of a ledger.

PURPOSE:
  A rollover closes one fiscal year of a ledger and carries its budgets and
  open encumbrances into the next. It runs in two very different parts:

  PREPARATION (atomic, one database transaction):
    create rollover row -> create progress row -> close budgets (optional)

  EXECUTION (saga, every step persisted on its own):
    financial=InProgress -> financial script -> financial=<from errors>
    orders=InProgress -> ordering service -> orders / overall=<from errors>

STATE MACHINE:
  Each progress row tracks four phases independently:

    budgetsClosing, financial, orders, overall
    each one of: Not Started | In Progress | Success | Error

  A failed phase is recorded as Error together with overall=Error and the
  failure is returned. Phases that already succeeded are never undone:
  the ordering service call cannot be rolled back, so the recorded
  statuses are what a caller inspects before retrying.

DELETION:
  A rollover whose orders phase is In Progress cannot be deleted. Otherwise
  its errors, rollover budgets, progress and the rollover row itself go in
  one database transaction.

SEE ALSO:
  - progress.go: progress / error / budget helpers
  - orders/client.go: the ordering service collaborator
  - store/sqlstore/rollover.go: the financial script collaborator
*/
package rollover

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/warp/finance-ledger/finance"
)

// Service runs and deletes ledger rollovers.
type Service struct {
	DB        finance.DB
	Financial finance.FinancialRollover
	Orders    finance.OrdersRollover
	Logger    *zap.Logger

	Progress ProgressService
	Errors   ErrorService
	Budgets  BudgetService
}

func NewService(db finance.DB, financial finance.FinancialRollover, orders finance.OrdersRollover, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{DB: db, Financial: financial, Orders: orders, Logger: logger}
}

// =============================================================================
// ROLLOVER
// =============================================================================

// RolloverLedger prepares and runs a rollover. The returned rollover carries
// the generated id when the request had none; it is returned even when the
// saga fails so the caller can inspect its progress.
func (s *Service) RolloverLedger(ctx context.Context, r finance.LedgerFiscalYearRollover, rc finance.RequestContext) (*finance.LedgerFiscalYearRollover, error) {
	if err := validate(r); err != nil {
		return nil, err
	}
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.Currency == "" {
		r.Currency = finance.DefaultCurrency
	}
	if rc.Now.IsZero() {
		rc.Now = time.Now().UTC()
	}
	r.Metadata = rc.Stamp(r.Metadata)

	progress, err := s.prepare(ctx, r, rc)
	if err != nil {
		return nil, err
	}

	log := s.Logger.With(zap.String("ledgerRolloverId", r.ID), zap.String("ledgerId", r.LedgerID))
	log.Info("rollover prepared",
		zap.String("rolloverType", string(r.RolloverType)),
		zap.Bool("needCloseBudgets", r.NeedCloseBudgets))

	if err := s.start(ctx, r, progress, log); err != nil {
		log.Error("rollover failed", zap.Error(err))
		return &r, err
	}
	log.Info("rollover finished", zap.String("overallStatus", string(progress.OverallRolloverStatus)))
	return &r, nil
}

func validate(r finance.LedgerFiscalYearRollover) error {
	switch {
	case r.LedgerID == "":
		return finance.NewError(finance.ErrValidation, "missingLedgerId", "ledgerId is required")
	case r.FromFiscalYearID == "" || r.ToFiscalYearID == "":
		return finance.NewError(finance.ErrValidation, "missingFiscalYearId",
			"fromFiscalYearId and toFiscalYearId are required")
	case r.FromFiscalYearID == r.ToFiscalYearID:
		return finance.NewError(finance.ErrValidation, "sameFiscalYear",
			"a rollover must target another fiscal year",
			finance.Param("fiscalYearId", r.FromFiscalYearID))
	case r.RolloverType != finance.RolloverPreview && r.RolloverType != finance.RolloverCommit:
		return finance.NewError(finance.ErrValidation, "invalidRolloverType",
			"rolloverType must be Preview or Commit", finance.Param("rolloverType", r.RolloverType))
	}
	return nil
}

// prepare creates the rollover and progress rows and closes budgets in a
// single database transaction.
func (s *Service) prepare(ctx context.Context, r finance.LedgerFiscalYearRollover, rc finance.RequestContext) (*finance.LedgerFiscalYearRolloverProgress, error) {
	progress := finance.LedgerFiscalYearRolloverProgress{
		ID:                           uuid.NewString(),
		LedgerRolloverID:             r.ID,
		BudgetsClosingRolloverStatus: finance.RolloverSuccess,
		FinancialRolloverStatus:      finance.RolloverNotStarted,
		OrdersRolloverStatus:         finance.RolloverNotStarted,
		OverallRolloverStatus:        finance.RolloverInProgress,
		Metadata:                     rc.Stamp(nil),
	}
	if r.NeedCloseBudgets {
		progress.BudgetsClosingRolloverStatus = finance.RolloverInProgress
	}

	err := s.DB.WithTx(ctx, func(conn finance.Conn) error {
		if r.RolloverType == finance.RolloverCommit {
			exists, err := conn.CommitRolloverExists(ctx, r.LedgerID, r.FromFiscalYearID)
			if err != nil {
				return fmt.Errorf("checking for an existing rollover: %w", err)
			}
			if exists {
				return finance.NewError(finance.ErrConflict, "uniqueLedgerFiscalYearRollover",
					"a commit rollover already exists for the ledger and fiscal year",
					finance.Param("ledgerId", r.LedgerID),
					finance.Param("fromFiscalYearId", r.FromFiscalYearID))
			}
		}
		if err := conn.CreateRollover(ctx, r); err != nil {
			return fmt.Errorf("creating rollover: %w", err)
		}
		if err := s.Progress.Create(ctx, conn, progress); err != nil {
			return err
		}
		if !r.NeedCloseBudgets {
			return nil
		}
		n, err := s.Budgets.CloseBudgets(ctx, conn, r)
		if err != nil {
			return err
		}
		s.Logger.Debug("budgets closed", zap.String("ledgerRolloverId", r.ID), zap.Int("count", n))
		progress.BudgetsClosingRolloverStatus = finance.RolloverSuccess
		return s.Progress.Update(ctx, conn, progress)
	})
	if err != nil {
		return nil, err
	}
	return &progress, nil
}

// start runs the financial and orders phases. Each status change is
// persisted before the next phase begins.
func (s *Service) start(ctx context.Context, r finance.LedgerFiscalYearRollover, p *finance.LedgerFiscalYearRolloverProgress, log *zap.Logger) error {
	p.FinancialRolloverStatus = finance.RolloverInProgress
	if err := s.Progress.Update(ctx, s.DB, *p); err != nil {
		return err
	}

	if err := s.Financial.RunFinancialRollover(ctx, r); err != nil {
		p.FinancialRolloverStatus = finance.RolloverError
		p.OverallRolloverStatus = finance.RolloverError
		s.persistFailure(ctx, *p, log)
		return fmt.Errorf("financial rollover: %w", err)
	}

	status, err := s.Errors.Status(ctx, s.DB, r.ID)
	if err != nil {
		return err
	}
	p.FinancialRolloverStatus = status
	p.OrdersRolloverStatus = finance.RolloverInProgress
	if err := s.Progress.Update(ctx, s.DB, *p); err != nil {
		return err
	}
	log.Info("financial rollover finished", zap.String("financialStatus", string(status)))

	if err := s.Orders.RolloverOrders(ctx, r); err != nil {
		p.OrdersRolloverStatus = finance.RolloverError
		p.OverallRolloverStatus = finance.RolloverError
		s.persistFailure(ctx, *p, log)
		return fmt.Errorf("orders rollover: %w", err)
	}

	overall, err := s.Errors.Status(ctx, s.DB, r.ID)
	if err != nil {
		return err
	}
	p.OrdersRolloverStatus = finance.RolloverSuccess
	p.OverallRolloverStatus = overall
	return s.Progress.Update(ctx, s.DB, *p)
}

// persistFailure records a failed phase. The original failure is what the
// caller gets back, so a write error here is only logged.
func (s *Service) persistFailure(ctx context.Context, p finance.LedgerFiscalYearRolloverProgress, log *zap.Logger) {
	if err := s.Progress.Update(ctx, s.DB, p); err != nil {
		log.Error("recording rollover failure", zap.Error(err))
	}
}

// =============================================================================
// QUERIES
// =============================================================================

func (s *Service) GetProgress(ctx context.Context, rolloverID string) (*finance.LedgerFiscalYearRolloverProgress, error) {
	return s.Progress.Get(ctx, s.DB, rolloverID)
}

func (s *Service) GetErrors(ctx context.Context, rolloverID string) ([]finance.LedgerFiscalYearRolloverError, error) {
	if _, err := s.Progress.Get(ctx, s.DB, rolloverID); err != nil {
		return nil, err
	}
	return s.Errors.List(ctx, s.DB, rolloverID)
}

func (s *Service) GetBudgets(ctx context.Context, rolloverID string) ([]finance.RolloverBudget, error) {
	if _, err := s.Progress.Get(ctx, s.DB, rolloverID); err != nil {
		return nil, err
	}
	return s.Budgets.List(ctx, s.DB, rolloverID)
}

// =============================================================================
// DELETE
// =============================================================================

// DeleteRollover removes a rollover and everything it recorded. A rollover
// whose orders phase is still running is refused and left untouched.
func (s *Service) DeleteRollover(ctx context.Context, rolloverID string) error {
	return s.DB.WithTx(ctx, func(conn finance.Conn) error {
		progress, err := s.Progress.Get(ctx, conn, rolloverID)
		if err != nil {
			return err
		}
		if progress.OrdersRolloverStatus == finance.RolloverInProgress {
			return finance.NewError(finance.ErrBusinessRule, "rolloverInProgress",
				"a rollover cannot be deleted while its orders phase is in progress",
				finance.Param("ledgerRolloverId", rolloverID))
		}

		if err := conn.DeleteRolloverErrors(ctx, rolloverID); err != nil {
			return fmt.Errorf("deleting rollover errors: %w", err)
		}
		if err := conn.DeleteRolloverBudgets(ctx, rolloverID); err != nil {
			return fmt.Errorf("deleting rollover budgets: %w", err)
		}
		if err := conn.DeleteProgress(ctx, progress.ID); err != nil {
			return fmt.Errorf("deleting rollover progress: %w", err)
		}
		if err := conn.DeleteRollover(ctx, rolloverID); err != nil {
			return fmt.Errorf("deleting rollover: %w", err)
		}
		s.Logger.Info("rollover deleted", zap.String("ledgerRolloverId", rolloverID))
		return nil
	})
}
