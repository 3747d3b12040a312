// Package markethours knows the US equity regular session (NYSE/Nasdaq,
// 09:30-16:00 America/New_York, weekdays, exchange holidays and early
// closes excluded).
package markethours

import (
	"fmt"
	"time"
	_ "time/tzdata"
)

// ET is America/New_York.
var ET = mustLoad("America/New_York")

const (
	OpenHour         = 9
	OpenMinute       = 30
	CloseHour        = 16
	EarlyCloseHour   = 13
	maxDaysToNextDay = 10
)

func mustLoad(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		panic(fmt.Sprintf("markethours: %v", err))
	}
	return loc
}

// IsMarketOpen reports whether t falls inside the regular session.
func IsMarketOpen(t time.Time) bool {
	et := t.In(ET)
	if !IsTradingDay(et) {
		return false
	}
	return !et.Before(todayOpen(et)) && et.Before(TodayClose(et))
}

// IsWeekday reports whether t is Monday-Friday in New York.
func IsWeekday(t time.Time) bool {
	wd := t.In(ET).Weekday()
	return wd >= time.Monday && wd <= time.Friday
}

// IsTradingDay returns true if t is a weekday and not a holiday.
func IsTradingDay(t time.Time) bool {
	et := t.In(ET)
	return IsWeekday(et) && !IsHoliday(et)
}

func todayOpen(et time.Time) time.Time {
	return time.Date(et.Year(), et.Month(), et.Day(), OpenHour, OpenMinute, 0, 0, ET)
}

// NextOpen returns the next session open. Before today's open on a trading
// day it returns today's open.
func NextOpen(t time.Time) time.Time {
	et := t.In(ET)
	if open := todayOpen(et); et.Before(open) && IsTradingDay(et) {
		return open
	}
	d := et.AddDate(0, 0, 1)
	for i := 0; i < maxDaysToNextDay; i++ {
		if IsTradingDay(d) {
			return todayOpen(d)
		}
		d = d.AddDate(0, 0, 1)
	}
	return todayOpen(et.AddDate(0, 0, 1))
}

// TodayClose returns the close of the session on t's date (13:00 ET on early
// close days, 16:00 ET otherwise).
func TodayClose(t time.Time) time.Time {
	et := t.In(ET)
	hour := CloseHour
	if IsEarlyClose(et) {
		hour = EarlyCloseHour
	}
	return time.Date(et.Year(), et.Month(), et.Day(), hour, 0, 0, 0, ET)
}

// TimeUntilClose returns 0 when the market is closed.
func TimeUntilClose(t time.Time) time.Duration {
	if !IsMarketOpen(t) {
		return 0
	}
	return TodayClose(t).Sub(t)
}

// StatusString returns a human-readable market status.
func StatusString(t time.Time) string {
	if IsMarketOpen(t) {
		return fmt.Sprintf("market open, closes in %s", fmtDur(TimeUntilClose(t)))
	}
	next := NextOpen(t)
	et := next.In(ET)
	return fmt.Sprintf("market closed, opens %s %s ET (%s)",
		et.Weekday().String()[:3], et.Format("15:04"), fmtDur(next.Sub(t)))
}

func fmtDur(d time.Duration) string {
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	if h > 0 {
		return fmt.Sprintf("%dh%dm", h, m)
	}
	return fmt.Sprintf("%dm", m)
}
