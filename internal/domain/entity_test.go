package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseClockTime(t *testing.T) {
	tests := []struct {
		in      string
		want    ClockTime
		wantErr bool
	}{
		{"00:00", ClockTime{0, 0}, false},
		{"7:05", ClockTime{7, 5}, false},
		{" 23:59 ", ClockTime{23, 59}, false},
		{"24:00", ClockTime{}, true},
		{"12:60", ClockTime{}, true},
		{"1200", ClockTime{}, true},
		{"ab:cd", ClockTime{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseClockTime(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	assert.Equal(t, "07:05", ClockTime{7, 5}.String())
	assert.Equal(t, 7*60+5, ClockTime{7, 5}.MinuteOfDay())
}

func TestRuleValidate(t *testing.T) {
	valid := func() Rule {
		return Rule{ID: "r", Items: []string{"x"}, Mode: ModeUntil, Conditions: []Condition{PasswordCondition{}}, Enabled: true}
	}

	tests := []struct {
		name    string
		mutate  func(r *Rule)
		wantErr bool
	}{
		{"valid", func(r *Rule) {}, false},
		{"empty id", func(r *Rule) { r.ID = "" }, true},
		{"no items", func(r *Rule) { r.Items = nil }, true},
		{"bad mode", func(r *Rule) { r.Mode = "never" }, true},
		{"no conditions", func(r *Rule) { r.Conditions = nil }, true},
		{"nil condition", func(r *Rule) { r.Conditions = []Condition{nil} }, true},
		{"latitude out of range", func(r *Rule) {
			r.Conditions = []Condition{LocationCondition{Name: "x", Lat: 91, RadiusMeters: 10}}
		}, true},
		{"negative radius", func(r *Rule) {
			r.Conditions = []Condition{LocationCondition{Name: "x", RadiusMeters: -1}}
		}, true},
		{"weekday out of range", func(r *Rule) {
			r.Conditions = []Condition{ScheduleCondition{Weekdays: []int{0}}}
		}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := valid()
			tt.mutate(&r)
			err := r.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidRule)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestRuleNormalize(t *testing.T) {
	r := Rule{ID: "r", Items: []string{"x"}}
	r.Normalize()

	assert.Equal(t, ModeUntil, r.Mode)
	assert.Equal(t, []Condition{DayRolloverCondition{}}, r.Conditions)
}

func TestRuleCloneIsDeep(t *testing.T) {
	r := Rule{
		ID:         "r",
		Items:      []string{"x"},
		Conditions: []Condition{ScheduleCondition{Weekdays: []int{1, 2}}},
		Exceptions: []string{"y"},
	}
	c := r.Clone()
	c.Items[0] = "changed"
	c.Exceptions[0] = "changed"
	c.Conditions[0].(ScheduleCondition).Weekdays[0] = 7

	assert.Equal(t, "x", r.Items[0])
	assert.Equal(t, "y", r.Exceptions[0])
	assert.Equal(t, 1, r.Conditions[0].(ScheduleCondition).Weekdays[0])
}

func TestRuleDisplayItems(t *testing.T) {
	r := Rule{Items: []string{"b", "a", "b", "c", "a"}, Exceptions: []string{"z", "z", "y"}}

	assert.Equal(t, []string{"b", "a", "c"}, r.DisplayItems())
	assert.Equal(t, 2, r.ExceptionCount())
}

func TestPendingChangeTiming(t *testing.T) {
	t0 := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	p := PendingChange{RequestedAt: t0, Delay: time.Hour}

	assert.Equal(t, t0.Add(time.Hour), p.EffectiveAt())
	assert.False(t, p.IsReady(t0.Add(59*time.Minute)))
	assert.True(t, p.IsReady(t0.Add(time.Hour)))
	assert.True(t, p.IsReady(t0.Add(61*time.Minute)))
	assert.Equal(t, 30*time.Minute, p.Remaining(t0.Add(30*time.Minute)))
	assert.Equal(t, time.Duration(0), p.Remaining(t0.Add(2*time.Hour)))
}

func TestParseTags(t *testing.T) {
	_, err := ParseMode("until")
	assert.NoError(t, err)
	_, err = ParseMode("forever")
	assert.ErrorIs(t, err, ErrUnknownTag)

	_, err = ParseChangeKind("add_exception")
	assert.NoError(t, err)
	_, err = ParseChangeKind("rename")
	assert.ErrorIs(t, err, ErrUnknownTag)

	_, err = ParseConditionKind("schedule")
	assert.NoError(t, err)
	_, err = ParseConditionKind("tide")
	assert.ErrorIs(t, err, ErrUnknownTag)
}
