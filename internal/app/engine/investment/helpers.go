package investment

import (
	"sort"
	"time"

	"github.com/Vimbi/cryptocurrency-investments-sub000/internal/app/engine"
	"github.com/Vimbi/cryptocurrency-investments-sub000/internal/models"
)

// TermDates derives the accrual window from the opening time. An
// investment opened before local noon starts accruing today, otherwise
// tomorrow; the due date is inclusive, so a one day term is due on its
// start date.
func TermDates(now time.Time, termDays int) (start, due time.Time) {
	start = time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	if now.Hour() >= 12 {
		start = start.AddDate(0, 0, 1)
	}
	due = start.AddDate(0, 0, termDays-1)
	return start, due
}

// MatchProduct picks the cheapest tier whose price cap holds the total
// principal. A total above every cap is a validation failure.
func MatchProduct(products []models.Product, total int64) (*models.Product, error) {
	sorted := make([]models.Product, len(products))
	copy(sorted, products)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Price < sorted[j].Price })

	for i := range sorted {
		if total <= sorted[i].Price {
			return &sorted[i], nil
		}
	}
	return nil, engine.Validationf("amount %d exceeds the highest product tier", total)
}

// CancelFine is the referral clawback plus every unit of income already
// paid out.
func CancelFine(deposits, paidIncome, maxTotalPercentage int64) int64 {
	return engine.ApplyPercentage(deposits, maxTotalPercentage) + paidIncome
}
