package domain

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ConditionKind is the persisted tag of a condition variant.
type ConditionKind string

const (
	KindSteps       ConditionKind = "steps"
	KindTimeOfDay   ConditionKind = "time_of_day"
	KindTimeRange   ConditionKind = "time_range"
	KindWorkout     ConditionKind = "workout"
	KindLocation    ConditionKind = "location"
	KindDayRollover ConditionKind = "day_rollover"
	KindPassword    ConditionKind = "password"
	KindSchedule    ConditionKind = "schedule"
)

// Condition is a single observable predicate of a rule.
// The set of implementations is closed: only the types in this file satisfy it.
type Condition interface {
	Kind() ConditionKind
	Validate() error
	clone() Condition
	sealed()
}

// ClockTime is a wall-clock time of day with minute precision.
type ClockTime struct {
	Hour   int
	Minute int
}

// ParseClockTime parses "HH:MM" (24h).
func ParseClockTime(s string) (ClockTime, error) {
	hh, mm, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return ClockTime{}, fmt.Errorf("invalid clock time %q: want HH:MM", s)
	}
	h, err := strconv.Atoi(hh)
	if err != nil {
		return ClockTime{}, fmt.Errorf("invalid clock time %q: %w", s, err)
	}
	m, err := strconv.Atoi(mm)
	if err != nil {
		return ClockTime{}, fmt.Errorf("invalid clock time %q: %w", s, err)
	}
	ct := ClockTime{Hour: h, Minute: m}
	if err := ct.Validate(); err != nil {
		return ClockTime{}, err
	}
	return ct, nil
}

// MustClockTime is ParseClockTime for literals known to be valid.
func MustClockTime(s string) ClockTime {
	ct, err := ParseClockTime(s)
	if err != nil {
		panic(err)
	}
	return ct
}

// Validate checks the hour and minute ranges.
func (c ClockTime) Validate() error {
	if c.Hour < 0 || c.Hour > 23 || c.Minute < 0 || c.Minute > 59 {
		return fmt.Errorf("invalid clock time %02d:%02d", c.Hour, c.Minute)
	}
	return nil
}

// MinuteOfDay returns minutes since midnight.
func (c ClockTime) MinuteOfDay() int {
	return c.Hour*60 + c.Minute
}

func (c ClockTime) String() string {
	return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute)
}

// StepsCondition is met once the day's step count reaches Target.
type StepsCondition struct {
	Target uint
}

// TimeOfDayCondition is met once the current day reaches Target.
type TimeOfDayCondition struct {
	Target ClockTime
}

// TimeRangeCondition is met while the clock is within [Start, End).
// End <= Start wraps past midnight.
type TimeRangeCondition struct {
	Start ClockTime
	End   ClockTime
}

// WorkoutCondition is met once the day's workout minutes reach Minutes.
type WorkoutCondition struct {
	Minutes uint
}

// LocationCondition is met while the device is within RadiusMeters of a point.
type LocationCondition struct {
	Name         string
	Lat          float64
	Lon          float64
	RadiusMeters float64
}

// DayRolloverCondition blocks until the next day. Nothing in the engine
// satisfies it; the day-boundary reset is owned by the caller.
type DayRolloverCondition struct{}

// PasswordCondition requires an external authentication event.
type PasswordCondition struct{}

// ScheduleCondition is met on the listed ISO weekdays (1=Monday..7=Sunday).
type ScheduleCondition struct {
	Weekdays []int
}

func (StepsCondition) Kind() ConditionKind       { return KindSteps }
func (TimeOfDayCondition) Kind() ConditionKind   { return KindTimeOfDay }
func (TimeRangeCondition) Kind() ConditionKind   { return KindTimeRange }
func (WorkoutCondition) Kind() ConditionKind     { return KindWorkout }
func (LocationCondition) Kind() ConditionKind    { return KindLocation }
func (DayRolloverCondition) Kind() ConditionKind { return KindDayRollover }
func (PasswordCondition) Kind() ConditionKind    { return KindPassword }
func (ScheduleCondition) Kind() ConditionKind    { return KindSchedule }

func (StepsCondition) sealed()       {}
func (TimeOfDayCondition) sealed()   {}
func (TimeRangeCondition) sealed()   {}
func (WorkoutCondition) sealed()     {}
func (LocationCondition) sealed()    {}
func (DayRolloverCondition) sealed() {}
func (PasswordCondition) sealed()    {}
func (ScheduleCondition) sealed()    {}

func (c StepsCondition) Validate() error { return nil }

func (c TimeOfDayCondition) Validate() error { return c.Target.Validate() }

func (c TimeRangeCondition) Validate() error {
	if err := c.Start.Validate(); err != nil {
		return err
	}
	return c.End.Validate()
}

func (c WorkoutCondition) Validate() error { return nil }

func (c LocationCondition) Validate() error {
	if math.IsNaN(c.Lat) || c.Lat < -90 || c.Lat > 90 {
		return fmt.Errorf("latitude %v out of range", c.Lat)
	}
	if math.IsNaN(c.Lon) || c.Lon < -180 || c.Lon > 180 {
		return fmt.Errorf("longitude %v out of range", c.Lon)
	}
	if math.IsNaN(c.RadiusMeters) || c.RadiusMeters < 0 {
		return fmt.Errorf("radius %v must not be negative", c.RadiusMeters)
	}
	return nil
}

func (DayRolloverCondition) Validate() error { return nil }

func (PasswordCondition) Validate() error { return nil }

func (c ScheduleCondition) Validate() error {
	if len(c.Weekdays) == 0 {
		return fmt.Errorf("schedule needs at least one weekday")
	}
	for _, d := range c.Weekdays {
		if d < 1 || d > 7 {
			return fmt.Errorf("weekday %d out of range 1..7", d)
		}
	}
	return nil
}

func (c StepsCondition) clone() Condition       { return c }
func (c TimeOfDayCondition) clone() Condition   { return c }
func (c TimeRangeCondition) clone() Condition   { return c }
func (c WorkoutCondition) clone() Condition     { return c }
func (c LocationCondition) clone() Condition    { return c }
func (c DayRolloverCondition) clone() Condition { return c }
func (c PasswordCondition) clone() Condition    { return c }

func (c ScheduleCondition) clone() Condition {
	days := make([]int, len(c.Weekdays))
	copy(days, c.Weekdays)
	return ScheduleCondition{Weekdays: days}
}

// Includes reports whether the ISO weekday is scheduled.
func (c ScheduleCondition) Includes(isoWeekday int) bool {
	for _, d := range c.Weekdays {
		if d == isoWeekday {
			return true
		}
	}
	return false
}

// ParseConditionKind maps a persisted tag to a ConditionKind.
func ParseConditionKind(s string) (ConditionKind, error) {
	switch k := ConditionKind(s); k {
	case KindSteps, KindTimeOfDay, KindTimeRange, KindWorkout,
		KindLocation, KindDayRollover, KindPassword, KindSchedule:
		return k, nil
	}
	return "", fmt.Errorf("%w: condition type %q", ErrUnknownTag, s)
}
