package core

import "fmt"

// Reconcile merges a confirmed quantity into the record for monthIndex.
//
// The returned record has the confirmed amount, VERIFIED status and today as
// LastUpdated. FileURL is replaced only when fileRef is non-empty. current is
// never modified; the caller upserts the result.
func Reconcile(current []MonthlyReport, monthIndex int, amount float64, fileRef string, today Date) (MonthlyReport, error) {
	if !ValidMonth(monthIndex) {
		return MonthlyReport{}, fmt.Errorf("%w: month index %d out of range", ErrReconciliation, monthIndex)
	}
	if err := ValidateAmount(amount); err != nil {
		return MonthlyReport{}, err
	}

	var (
		existing MonthlyReport
		found    bool
	)
	for _, r := range current {
		if r.MonthIndex == monthIndex {
			existing, found = r, true
			break
		}
	}
	if !found {
		return MonthlyReport{}, fmt.Errorf("%w: no record for month index %d", ErrReconciliation, monthIndex)
	}

	updated := existing
	updated.KgGenerated = amount
	updated.Status = StatusVerified
	updated.LastUpdated = today
	if fileRef != "" {
		updated.FileURL = fileRef
	}
	return updated, nil
}
