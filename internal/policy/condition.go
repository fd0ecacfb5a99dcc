package policy

import (
	"fmt"
	"math"
	"time"

	"github.com/eliteGoblin/focusd/pledge/internal/domain"
)

// earthRadiusMeters is the IUGG mean earth radius.
const earthRadiusMeters = 6371008.8

// EvaluateCondition reports whether a condition holds for the snapshot at now,
// along with a short human-readable status.
func EvaluateCondition(cond domain.Condition, snap domain.ProgressSnapshot, now time.Time) (bool, string) {
	switch c := cond.(type) {
	case domain.StepsCondition:
		met := snap.StepsToday >= c.Target
		return met, fmt.Sprintf("%d/%d steps (%d%%)", snap.StepsToday, c.Target, percent(snap.StepsToday, c.Target))

	case domain.TimeOfDayCondition:
		if minuteOfDay(now) >= c.Target.MinuteOfDay() {
			return true, fmt.Sprintf("past %s", c.Target)
		}
		return false, fmt.Sprintf("waiting for %s", c.Target)

	case domain.TimeRangeCondition:
		if InTimeRange(c.Start, c.End, now) {
			return true, fmt.Sprintf("inside %s-%s", c.Start, c.End)
		}
		return false, fmt.Sprintf("outside %s-%s", c.Start, c.End)

	case domain.WorkoutCondition:
		met := snap.WorkoutMinutesToday >= c.Minutes
		status := fmt.Sprintf("%d/%d workout min", snap.WorkoutMinutesToday, c.Minutes)
		if snap.WorkoutActive && !met {
			status += " (workout in progress)"
		}
		return met, status

	case domain.LocationCondition:
		if snap.CurrentLocation == nil {
			return false, fmt.Sprintf("location unknown (%s)", placeName(c))
		}
		d := HaversineMeters(snap.CurrentLocation.Lat, snap.CurrentLocation.Lon, c.Lat, c.Lon)
		if d <= c.RadiusMeters {
			return true, fmt.Sprintf("at %s", placeName(c))
		}
		return false, fmt.Sprintf("%s from %s", formatDistance(d), placeName(c))

	case domain.DayRolloverCondition:
		return false, "until tomorrow"

	case domain.PasswordCondition:
		return false, "password required"

	case domain.ScheduleCondition:
		day := ISOWeekday(now)
		if c.Includes(day) {
			return true, fmt.Sprintf("scheduled today (%s)", now.Weekday().String()[:3])
		}
		return false, fmt.Sprintf("not scheduled today (%s)", now.Weekday().String()[:3])
	}
	// Unreachable for the sealed set; an unknown condition never unlocks anything.
	return false, "unknown condition"
}

// InTimeRange reports whether now is within [start, end) by minute of day.
// When end <= start the range wraps past midnight.
func InTimeRange(start, end domain.ClockTime, now time.Time) bool {
	m := minuteOfDay(now)
	s, e := start.MinuteOfDay(), end.MinuteOfDay()
	if e <= s {
		return m >= s || m < e
	}
	return m >= s && m < e
}

// HaversineMeters returns the great-circle distance between two WGS84 points.
func HaversineMeters(lat1, lon1, lat2, lon2 float64) float64 {
	rLat1 := lat1 * math.Pi / 180
	rLat2 := lat2 * math.Pi / 180
	dLat := (lat2 - lat1) * math.Pi / 180
	dLon := (lon2 - lon1) * math.Pi / 180

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(rLat1)*math.Cos(rLat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	a = math.Min(1, math.Max(0, a))
	return 2 * earthRadiusMeters * math.Asin(math.Sqrt(a))
}

// ISOWeekday returns 1 for Monday through 7 for Sunday.
func ISOWeekday(t time.Time) int {
	if t.Weekday() == time.Sunday {
		return 7
	}
	return int(t.Weekday())
}

func minuteOfDay(t time.Time) int {
	return t.Hour()*60 + t.Minute()
}

func percent(have, want uint) int {
	if want == 0 || have >= want {
		return 100
	}
	return int(uint64(have) * 100 / uint64(want))
}

func placeName(c domain.LocationCondition) string {
	if c.Name != "" {
		return c.Name
	}
	return fmt.Sprintf("%.4f,%.4f", c.Lat, c.Lon)
}

func formatDistance(m float64) string {
	if m >= 1000 {
		return fmt.Sprintf("%.1f km", m/1000)
	}
	return fmt.Sprintf("%.0f m", m)
}
