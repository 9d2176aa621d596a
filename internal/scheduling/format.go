package scheduling

import (
	"fmt"
	"time"
)

var (
	weekdaysES = [...]string{"domingo", "lunes", "martes", "miércoles", "jueves", "viernes", "sábado"}
	monthsES   = [...]string{"enero", "febrero", "marzo", "abril", "mayo", "junio", "julio",
		"agosto", "septiembre", "octubre", "noviembre", "diciembre"}
)

// FormatTime renders the wall-clock time a patient sees, e.g. "2:00 PM".
func FormatTime(t time.Time, loc *time.Location) string {
	return t.In(loc).Format("3:04 PM")
}

// FormatDate renders e.g. "martes 16 de febrero".
func FormatDate(t time.Time, loc *time.Location) string {
	local := t.In(loc)
	return fmt.Sprintf("%s %d de %s", weekdaysES[local.Weekday()], local.Day(), monthsES[local.Month()-1])
}

// FormatLongDate renders e.g. "martes 16 de febrero, 10:00 AM".
func FormatLongDate(t time.Time, loc *time.Location) string {
	return FormatDate(t, loc) + ", " + FormatTime(t, loc)
}

// WeekdayName is the Spanish name of the weekday, used in closed-day reasons.
func WeekdayName(day time.Weekday) string {
	return weekdaysES[day]
}
