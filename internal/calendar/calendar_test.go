package calendar

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestIsTradingDay_Weekend(t *testing.T) {
	// 2024-01-06 is a Saturday, 2024-01-07 a Sunday
	assert.False(t, IsTradingDay(date(2024, time.January, 6)))
	assert.False(t, IsTradingDay(date(2024, time.January, 7)))
}

func TestIsTradingDay_Holiday(t *testing.T) {
	assert.False(t, IsTradingDay(date(2024, time.January, 1)), "New Year is a closure")
	assert.False(t, IsTradingDay(date(2024, time.October, 1)), "National Day is a closure")
	assert.False(t, IsTradingDay(date(2025, time.January, 29)), "Spring Festival is a closure")
}

func TestIsTradingDay_NormalWednesday(t *testing.T) {
	assert.True(t, IsTradingDay(date(2024, time.January, 3)))
}

func TestHolidayName(t *testing.T) {
	name, ok := HolidayName(date(2024, time.June, 10))
	require.True(t, ok)
	assert.Equal(t, "Dragon Boat Festival", name)

	_, ok = HolidayName(date(2024, time.June, 11))
	assert.False(t, ok)
}

func TestTradingDaysBetween_PrunesWeekendAndHoliday(t *testing.T) {
	// 2024-01-01 is a holiday, 2024-01-06/07 a weekend
	days := TradingDaysBetween(date(2024, time.January, 1), date(2024, time.January, 7))
	require.Len(t, days, 4)

	want := []string{"2024-01-02", "2024-01-03", "2024-01-04", "2024-01-05"}
	for i, d := range days {
		assert.Equal(t, want[i], d.Format("2006-01-02"))
	}
}

func TestTradingDaysBetween_SingleDay(t *testing.T) {
	days := TradingDaysBetween(date(2024, time.January, 4), date(2024, time.January, 4))
	require.Len(t, days, 1)
	assert.Equal(t, "2024-01-04", days[0].Format("2006-01-02"))
}

func TestTradingDaysBetween_InvertedRange(t *testing.T) {
	assert.Nil(t, TradingDaysBetween(date(2024, time.January, 5), date(2024, time.January, 2)))
}

func TestNextTradingDay_SkipsWeekend(t *testing.T) {
	// Friday 2024-01-05 -> Monday 2024-01-08
	next := NextTradingDay(date(2024, time.January, 5))
	assert.Equal(t, "2024-01-08", next.Format("2006-01-02"))
}

func TestNextTradingDay_SkipsHolidayRun(t *testing.T) {
	// Friday 2024-09-13, then weekend plus Mid-Autumn closures on 16-17,
	// so the next trading day is Wednesday the 18th.
	next := NextTradingDay(date(2024, time.September, 13))
	assert.Equal(t, "2024-09-18", next.Format("2006-01-02"))
}

func TestLocation(t *testing.T) {
	l := Location()
	require.NotNil(t, l)

	// China has no DST, offset is always +8h
	_, offset := time.Date(2024, time.June, 1, 12, 0, 0, 0, l).Zone()
	assert.Equal(t, 8*3600, offset)
}
