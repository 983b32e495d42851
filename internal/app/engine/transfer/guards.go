package transfer

import (
	"time"

	"github.com/Vimbi/cryptocurrency-investments-sub000/internal/app/engine"
	"github.com/Vimbi/cryptocurrency-investments-sub000/internal/models"
)

// CheckMinAmount rejects amounts below the configured floor.
func CheckMinAmount(amount, min int64, kind string) error {
	if amount <= 0 {
		return engine.Validationf("%s amount must be positive, got %d", kind, amount)
	}
	if amount < min {
		return engine.Validationf("%s amount %d is below the minimum %d", kind, amount, min)
	}
	return nil
}

// CheckDepositCeiling rejects a deposit that would push the user's total
// funds past the platform ceiling. Total funds are the requested amount
// plus in-flight deposits, the spendable balance and the open investment
// principal.
func CheckDepositCeiling(amount, pendingDeposits, balance, invested, maxTotal int64) error {
	if maxTotal <= 0 {
		return nil
	}
	total := amount + pendingDeposits + balance + invested
	if total > maxTotal {
		return engine.Validationf("total funds %d would exceed the ceiling %d", total, maxTotal)
	}
	return nil
}

// AllowedTransition reports whether the state machine permits from → to.
func AllowedTransition(from, to models.TransferStatus) bool {
	switch from {
	case models.TransferPending:
		return to == models.TransferProcessed || to == models.TransferCompleted || to == models.TransferCanceled
	case models.TransferProcessed:
		return to == models.TransferCompleted || to == models.TransferCanceled
	default:
		return false
	}
}

// CancelGuard decides whether a user-facing cancellation may proceed.
// A transfer whose ledger row is folded into a closed statement can never
// be canceled. A transfer completed on an earlier calendar day needs the
// superadmin role; same-day reopens are open to everyone who owns it.
func CancelGuard(t *models.Transfer, foldedIntoStatement bool, role models.UserRole, now time.Time) error {
	if t.Status == models.TransferCanceled {
		return engine.Conflictf("transfer %s is already canceled", t.ID)
	}
	if foldedIntoStatement {
		return engine.Forbiddenf("transfer %s is folded into a closed statement", t.ID)
	}
	if t.Status == models.TransferCompleted {
		if t.CompletedAt == nil {
			return engine.Conflictf("transfer %s has no completion time", t.ID)
		}
		if t.CompletedAt.Before(DayStart(now)) && role != models.RoleSuperAdmin {
			return engine.Forbiddenf("transfer %s was completed on an earlier day", t.ID)
		}
	}
	return nil
}
