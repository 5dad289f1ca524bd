// Package calendar classifies dates as mainland China trading days.
//
// A trading day is a weekday that is not an exchange closure. The closure
// table below follows the official SSE/SZSE holiday announcements; weekend
// make-up workdays are not trading days because the exchanges stay closed
// on them, so the weekday test alone is sufficient on that side.
package calendar

import (
	"sync"
	"time"
)

const dateLayout = "2006-01-02"

var (
	locOnce sync.Once
	loc     *time.Location
)

// Location returns the exchange timezone (Asia/Shanghai).
func Location() *time.Location {
	locOnce.Do(func() {
		var err error
		loc, err = time.LoadLocation("Asia/Shanghai")
		if err != nil {
			// No tzdata available, China has no DST
			loc = time.FixedZone("CST", 8*3600)
		}
	})
	return loc
}

// holidays maps closure dates to the holiday name.
var holidays = map[string]string{
	// 2023
	"2023-01-02": "New Year (observed)",
	"2023-01-23": "Spring Festival",
	"2023-01-24": "Spring Festival",
	"2023-01-25": "Spring Festival",
	"2023-01-26": "Spring Festival",
	"2023-01-27": "Spring Festival",
	"2023-04-05": "Qingming Festival",
	"2023-05-01": "Labour Day",
	"2023-05-02": "Labour Day",
	"2023-05-03": "Labour Day",
	"2023-06-22": "Dragon Boat Festival",
	"2023-06-23": "Dragon Boat Festival",
	"2023-09-29": "Mid-Autumn Festival",
	"2023-10-02": "National Day",
	"2023-10-03": "National Day",
	"2023-10-04": "National Day",
	"2023-10-05": "National Day",
	"2023-10-06": "National Day",

	// 2024
	"2024-01-01": "New Year",
	"2024-02-09": "Spring Festival",
	"2024-02-12": "Spring Festival",
	"2024-02-13": "Spring Festival",
	"2024-02-14": "Spring Festival",
	"2024-02-15": "Spring Festival",
	"2024-02-16": "Spring Festival",
	"2024-04-04": "Qingming Festival",
	"2024-04-05": "Qingming Festival",
	"2024-05-01": "Labour Day",
	"2024-05-02": "Labour Day",
	"2024-05-03": "Labour Day",
	"2024-06-10": "Dragon Boat Festival",
	"2024-09-16": "Mid-Autumn Festival",
	"2024-09-17": "Mid-Autumn Festival",
	"2024-10-01": "National Day",
	"2024-10-02": "National Day",
	"2024-10-03": "National Day",
	"2024-10-04": "National Day",
	"2024-10-07": "National Day",

	// 2025
	"2025-01-01": "New Year",
	"2025-01-28": "Spring Festival",
	"2025-01-29": "Spring Festival",
	"2025-01-30": "Spring Festival",
	"2025-01-31": "Spring Festival",
	"2025-02-03": "Spring Festival",
	"2025-02-04": "Spring Festival",
	"2025-04-04": "Qingming Festival",
	"2025-05-01": "Labour Day",
	"2025-05-02": "Labour Day",
	"2025-05-05": "Labour Day",
	"2025-06-02": "Dragon Boat Festival",
	"2025-10-01": "National Day",
	"2025-10-02": "National Day",
	"2025-10-03": "National Day",
	"2025-10-06": "National Day",
	"2025-10-07": "National Day",
	"2025-10-08": "National Day",

	// 2026
	"2026-01-01": "New Year",
	"2026-01-02": "New Year",
	"2026-02-16": "Spring Festival",
	"2026-02-17": "Spring Festival",
	"2026-02-18": "Spring Festival",
	"2026-02-19": "Spring Festival",
	"2026-02-20": "Spring Festival",
	"2026-04-06": "Qingming Festival (observed)",
	"2026-05-01": "Labour Day",
	"2026-05-04": "Labour Day",
	"2026-05-05": "Labour Day",
	"2026-06-19": "Dragon Boat Festival",
	"2026-09-25": "Mid-Autumn Festival",
	"2026-10-01": "National Day",
	"2026-10-02": "National Day",
	"2026-10-05": "National Day",
	"2026-10-06": "National Day",
	"2026-10-07": "National Day",
}

// IsHoliday reports whether d falls on an exchange closure date.
func IsHoliday(d time.Time) bool {
	_, ok := holidays[d.Format(dateLayout)]
	return ok
}

// HolidayName returns the closure name for d, if any.
func HolidayName(d time.Time) (string, bool) {
	name, ok := holidays[d.Format(dateLayout)]
	return name, ok
}

// IsTradingDay reports whether d is a weekday and not an exchange closure.
func IsTradingDay(d time.Time) bool {
	switch d.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	return !IsHoliday(d)
}

// TradingDaysBetween enumerates the trading days in [start, end] inclusive,
// ascending. Returns nil when start is after end.
func TradingDaysBetween(start, end time.Time) []time.Time {
	start = midnight(start)
	end = midnight(end)
	if start.After(end) {
		return nil
	}

	var days []time.Time
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		if IsTradingDay(d) {
			days = append(days, d)
		}
	}
	return days
}

// NextTradingDay returns the first trading day strictly after d.
func NextTradingDay(d time.Time) time.Time {
	for {
		d = midnight(d).AddDate(0, 0, 1)
		if IsTradingDay(d) {
			return d
		}
	}
}

// Today returns the current date at midnight in the exchange timezone.
func Today() time.Time {
	return midnight(time.Now().In(Location()))
}

func midnight(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
