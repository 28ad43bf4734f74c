package core

// CO2PerKg is the kg of CO2 avoided per kg of used cooking oil collected.
const CO2PerKg = 2.83

// LedgerSummary is a compact overview of the 12-month ledger.
type LedgerSummary struct {
	TotalKg        float64
	VerifiedMonths int
	PendingMonths  int
	CO2AvoidedKg   float64
	LastVerified   Date
}

// Summarize aggregates a ledger snapshot for read-only consumers.
func Summarize(reports []MonthlyReport) LedgerSummary {
	var s LedgerSummary
	for _, r := range reports {
		s.TotalKg += r.KgGenerated
		switch r.Status {
		case StatusVerified:
			s.VerifiedMonths++
			if r.LastUpdated.After(s.LastVerified.Time) {
				s.LastVerified = r.LastUpdated
			}
		default:
			s.PendingMonths++
		}
	}
	s.CO2AvoidedKg = s.TotalKg * CO2PerKg
	return s
}
