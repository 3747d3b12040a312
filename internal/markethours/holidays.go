package markethours

import "time"

type day struct {
	year  int
	month time.Month
	day   int
}

// NYSE full-day closures.
var nyseHolidays = []day{
	{2026, time.January, 1},   // New Year's Day
	{2026, time.January, 19},  // Martin Luther King Jr. Day
	{2026, time.February, 16}, // Washington's Birthday
	{2026, time.April, 3},     // Good Friday
	{2026, time.May, 25},      // Memorial Day
	{2026, time.June, 19},     // Juneteenth
	{2026, time.July, 3},      // Independence Day (observed)
	{2026, time.September, 7}, // Labor Day
	{2026, time.November, 26}, // Thanksgiving
	{2026, time.December, 25}, // Christmas

	{2027, time.January, 1},
	{2027, time.January, 18},
	{2027, time.February, 15},
	{2027, time.March, 26},
	{2027, time.May, 31},
	{2027, time.June, 18}, // observed
	{2027, time.July, 5},  // observed
	{2027, time.September, 6},
	{2027, time.November, 25},
	{2027, time.December, 24}, // observed
}

// Sessions that close at 13:00 ET.
var nyseEarlyCloses = []day{
	{2026, time.November, 27},
	{2026, time.December, 24},
	{2027, time.November, 26},
}

var (
	holidaySet   map[string]bool
	earlyCloseAt map[string]bool
)

func init() {
	holidaySet = make(map[string]bool, len(nyseHolidays))
	for _, h := range nyseHolidays {
		holidaySet[dateKey(h.year, h.month, h.day)] = true
	}
	earlyCloseAt = make(map[string]bool, len(nyseEarlyCloses))
	for _, h := range nyseEarlyCloses {
		earlyCloseAt[dateKey(h.year, h.month, h.day)] = true
	}
}

// IsHoliday reports whether the date (in New York) is an NYSE holiday.
func IsHoliday(t time.Time) bool {
	et := t.In(ET)
	return holidaySet[dateKey(et.Year(), et.Month(), et.Day())]
}

// IsEarlyClose reports whether the session on t's date ends at 13:00 ET.
func IsEarlyClose(t time.Time) bool {
	et := t.In(ET)
	return earlyCloseAt[dateKey(et.Year(), et.Month(), et.Day())]
}

func dateKey(year int, month time.Month, day int) string {
	return time.Date(year, month, day, 0, 0, 0, 0, ET).Format("2006-01-02")
}
