package calendar

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCalendar_DateOfUsesOrgOffset(t *testing.T) {
	cal := New(clockwork.NewFakeClock(), DefaultOffset)

	tests := []struct {
		name    string
		instant time.Time
		want    string
	}{
		{"utc evening is next org day", time.Date(2024, 3, 10, 17, 0, 0, 0, time.UTC), "2024-03-11"},
		{"just before org midnight", time.Date(2024, 3, 10, 16, 59, 59, 0, time.UTC), "2024-03-10"},
		{"server local zone is ignored", time.Date(2024, 3, 10, 20, 0, 0, 0, time.FixedZone("X", -5*3600)), "2024-03-11"},
		{"year boundary", time.Date(2023, 12, 31, 18, 30, 0, 0, time.UTC), "2024-01-01"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, cal.DateOf(tt.instant).String())
		})
	}
}

func TestCalendar_TodayFollowsClock(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2024, 5, 1, 16, 30, 0, 0, time.UTC))
	cal := New(clock, DefaultOffset)

	assert.Equal(t, "2024-05-01", cal.Today().String())
	clock.Advance(time.Hour)
	assert.Equal(t, "2024-05-02", cal.Today().String())
	assert.Equal(t, "00:30:00", cal.ClockTime(clock.Now()))
	assert.Equal(t, "UTC+7", cal.Location().String())
}

func TestDaysBetween(t *testing.T) {
	d := func(s string) Date {
		v, err := ParseDate(s)
		require.NoError(t, err)
		return v
	}

	assert.Equal(t, 1, DaysBetween(d("2024-02-28"), d("2024-02-29")))
	assert.Equal(t, 2, DaysBetween(d("2024-02-28"), d("2024-03-01")))
	assert.Equal(t, 1, DaysBetween(d("2023-12-31"), d("2024-01-01")))
	assert.Equal(t, 0, DaysBetween(d("2024-01-01"), d("2024-01-01")))
	assert.Equal(t, -3, DaysBetween(d("2024-01-04"), d("2024-01-01")))
	assert.Equal(t, d("2024-03-01"), d("2024-02-28").AddDays(2))
	assert.True(t, d("2024-01-01").Before(d("2024-01-02")))
}

func TestDate_ScanAndValue(t *testing.T) {
	var d Date
	require.NoError(t, d.Scan("2024-07-09"))
	assert.Equal(t, "2024-07-09", d.String())

	require.NoError(t, d.Scan([]byte("2024-07-10T00:00:00Z")))
	assert.Equal(t, "2024-07-10", d.String())

	require.NoError(t, d.Scan(time.Date(2024, 7, 11, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, "2024-07-11", d.String())

	require.NoError(t, d.Scan(nil))
	assert.True(t, d.IsZero())

	v, err := d.Value()
	require.NoError(t, err)
	assert.Nil(t, v)

	assert.Error(t, d.Scan(42))
}

func TestDate_JSON(t *testing.T) {
	type wrapper struct {
		Birthday Date `json:"birthday"`
	}

	b, err := json.Marshal(wrapper{Birthday: Date{Year: 1990, Month: time.June, Day: 5}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"birthday":"1990-06-05"}`, string(b))

	var w wrapper
	require.NoError(t, json.Unmarshal([]byte(`{"birthday":null}`), &w))
	assert.True(t, w.Birthday.IsZero())

	require.NoError(t, json.Unmarshal([]byte(`{"birthday":"2001-12-24"}`), &w))
	assert.Equal(t, "12-24", w.Birthday.MonthDay())
}
