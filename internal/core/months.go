package core

var monthNames = [MonthsPerLedger]string{
	"Enero", "Febrero", "Marzo", "Abril", "Mayo", "Junio",
	"Julio", "Agosto", "Septiembre", "Octubre", "Noviembre", "Diciembre",
}

// MonthName returns the display name of a month index, or "" when out of range.
func MonthName(i int) string {
	if !ValidMonth(i) {
		return ""
	}
	return monthNames[i]
}
