package dimension

import (
	"time"

	"mart/internal/mart"
)

// fixedHolidays are Brazil's fixed-date national holidays as month/day
// pairs. Movable feasts (Carnival, Easter) are deliberately left out;
// the flag is meant for coarse seasonality analysis, not payroll.
var fixedHolidays = map[[2]int]bool{
	{1, 1}:   true, // Confraternização Universal
	{4, 21}:  true, // Tiradentes
	{5, 1}:   true, // Dia do Trabalho
	{9, 7}:   true, // Independência
	{10, 12}: true, // Nossa Senhora Aparecida
	{11, 2}:  true, // Finados
	{11, 15}: true, // Proclamação da República
	{12, 25}: true, // Natal
}

// BuildDateRange generates one DateRow per calendar day from from
// through to inclusive, in UTC. Returns nil when to precedes from.
func BuildDateRange(from, to time.Time) []mart.DateRow {
	from = mart.Midnight(from)
	to = mart.Midnight(to)
	if to.Before(from) {
		return nil
	}

	n := int(to.Sub(from).Hours()/24) + 1
	rows := make([]mart.DateRow, 0, n)
	for d := from; !d.After(to); d = d.AddDate(0, 0, 1) {
		rows = append(rows, dateRow(d))
	}
	return rows
}

func dateRow(d time.Time) mart.DateRow {
	wd := int(d.Weekday()) // Sunday = 0
	return mart.DateRow{
		DateKey:   mart.DateKey(d),
		Date:      d,
		Day:       d.Day(),
		Month:     int(d.Month()),
		Year:      d.Year(),
		Quarter:   (int(d.Month())-1)/3 + 1,
		DayOfWeek: wd,
		IsWeekend: wd == 0 || wd == 6,
		IsHoliday: fixedHolidays[[2]int{int(d.Month()), d.Day()}],
	}
}
