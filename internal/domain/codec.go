package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// RuleRecord is the persisted JSON shape of a rule.
// Items/Conditions are the current fields; BlockedItems/Condition are the
// legacy single-condition shape and are only read, never written.
type RuleRecord struct {
	ID           string            `json:"id"`
	Items        []string          `json:"items,omitempty"`
	BlockedItems []string          `json:"blocked_items,omitempty"`
	Mode         string            `json:"mode,omitempty"`
	Conditions   []ConditionRecord `json:"conditions,omitempty"`
	Condition    *ConditionRecord  `json:"condition,omitempty"`
	Exceptions   []string          `json:"exceptions"`
	Enabled      *bool             `json:"enabled,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
}

// ConditionRecord is the persisted JSON shape of a condition. Only the
// payload field matching Type is set.
type ConditionRecord struct {
	Type           string           `json:"type"`
	StepsTarget    *uint            `json:"steps_target,omitempty"`
	TimeTarget     string           `json:"time_target,omitempty"`
	TimeRange      *TimeRangeRecord `json:"time_range,omitempty"`
	WorkoutMinutes *uint            `json:"workout_minutes,omitempty"`
	Location       *LocationRecord  `json:"location,omitempty"`
	Schedule       []int            `json:"schedule,omitempty"`
}

type TimeRangeRecord struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

type LocationRecord struct {
	Name    string  `json:"name"`
	Lat     float64 `json:"lat"`
	Lon     float64 `json:"lon"`
	RadiusM float64 `json:"radius_m"`
}

// PendingRecord is the persisted JSON shape of a pending change.
type PendingRecord struct {
	ID           string      `json:"id"`
	RuleID       string      `json:"rule_id"`
	ChangeType   string      `json:"change_type"`
	OriginalRule *RuleRecord `json:"original_rule"`
	NewRule      *RuleRecord `json:"new_rule"`
	RequestedAt  time.Time   `json:"requested_at"`
	DelaySeconds int64       `json:"delay_seconds"`
}

// NewRuleRecord converts a rule to its persisted shape.
func NewRuleRecord(r Rule) RuleRecord {
	enabled := r.Enabled
	rec := RuleRecord{
		ID:         r.ID,
		Items:      cloneStrings(r.Items),
		Mode:       string(r.Mode),
		Conditions: make([]ConditionRecord, 0, len(r.Conditions)),
		Exceptions: cloneStrings(r.Exceptions),
		Enabled:    &enabled,
		CreatedAt:  r.CreatedAt.UTC(),
	}
	if rec.Exceptions == nil {
		rec.Exceptions = []string{}
	}
	for _, c := range r.Conditions {
		rec.Conditions = append(rec.Conditions, NewConditionRecord(c))
	}
	return rec
}

// NewConditionRecord converts a condition to its persisted shape.
func NewConditionRecord(c Condition) ConditionRecord {
	rec := ConditionRecord{Type: string(c.Kind())}
	switch v := c.(type) {
	case StepsCondition:
		target := v.Target
		rec.StepsTarget = &target
	case TimeOfDayCondition:
		rec.TimeTarget = v.Target.String()
	case TimeRangeCondition:
		rec.TimeRange = &TimeRangeRecord{Start: v.Start.String(), End: v.End.String()}
	case WorkoutCondition:
		minutes := v.Minutes
		rec.WorkoutMinutes = &minutes
	case LocationCondition:
		rec.Location = &LocationRecord{Name: v.Name, Lat: v.Lat, Lon: v.Lon, RadiusM: v.RadiusMeters}
	case ScheduleCondition:
		rec.Schedule = append([]int(nil), v.Weekdays...)
	case DayRolloverCondition, PasswordCondition:
	}
	return rec
}

// ToRule decodes the record, applying fail-safe defaults for missing data:
// no conditions means day_rollover, no enabled flag means enabled, no mode
// means until. Unknown tags are errors.
func (rec RuleRecord) ToRule() (Rule, error) {
	r := Rule{
		ID:        rec.ID,
		Items:     cloneStrings(rec.Items),
		Enabled:   true,
		CreatedAt: rec.CreatedAt,
	}
	if len(r.Items) == 0 {
		r.Items = cloneStrings(rec.BlockedItems)
	}
	if len(rec.Exceptions) > 0 {
		r.Exceptions = cloneStrings(rec.Exceptions)
	}
	if rec.Enabled != nil {
		r.Enabled = *rec.Enabled
	}
	if rec.Mode != "" {
		mode, err := ParseMode(rec.Mode)
		if err != nil {
			return Rule{}, fmt.Errorf("rule %s: %w", rec.ID, err)
		}
		r.Mode = mode
	}

	conds := rec.Conditions
	if len(conds) == 0 && rec.Condition != nil {
		conds = []ConditionRecord{*rec.Condition}
	}
	for i, cr := range conds {
		c, err := cr.ToCondition()
		if err != nil {
			return Rule{}, fmt.Errorf("rule %s condition %d: %w", rec.ID, i, err)
		}
		r.Conditions = append(r.Conditions, c)
	}

	r.Normalize()
	if err := r.Validate(); err != nil {
		return Rule{}, err
	}
	return r, nil
}

// ToCondition decodes a single condition record.
func (rec ConditionRecord) ToCondition() (Condition, error) {
	kind, err := ParseConditionKind(rec.Type)
	if err != nil {
		return nil, err
	}
	switch kind {
	case KindSteps:
		if rec.StepsTarget == nil {
			return nil, fmt.Errorf("steps condition missing steps_target")
		}
		return StepsCondition{Target: *rec.StepsTarget}, nil
	case KindTimeOfDay:
		t, err := ParseClockTime(rec.TimeTarget)
		if err != nil {
			return nil, fmt.Errorf("time_of_day condition: %w", err)
		}
		return TimeOfDayCondition{Target: t}, nil
	case KindTimeRange:
		if rec.TimeRange == nil {
			return nil, fmt.Errorf("time_range condition missing time_range")
		}
		start, err := ParseClockTime(rec.TimeRange.Start)
		if err != nil {
			return nil, fmt.Errorf("time_range start: %w", err)
		}
		end, err := ParseClockTime(rec.TimeRange.End)
		if err != nil {
			return nil, fmt.Errorf("time_range end: %w", err)
		}
		return TimeRangeCondition{Start: start, End: end}, nil
	case KindWorkout:
		if rec.WorkoutMinutes == nil {
			return nil, fmt.Errorf("workout condition missing workout_minutes")
		}
		return WorkoutCondition{Minutes: *rec.WorkoutMinutes}, nil
	case KindLocation:
		if rec.Location == nil {
			return nil, fmt.Errorf("location condition missing location")
		}
		l := rec.Location
		return LocationCondition{Name: l.Name, Lat: l.Lat, Lon: l.Lon, RadiusMeters: l.RadiusM}, nil
	case KindDayRollover:
		return DayRolloverCondition{}, nil
	case KindPassword:
		return PasswordCondition{}, nil
	case KindSchedule:
		return ScheduleCondition{Weekdays: append([]int(nil), rec.Schedule...)}, nil
	}
	return nil, fmt.Errorf("%w: condition type %q", ErrUnknownTag, rec.Type)
}

// NewPendingRecord converts a pending change to its persisted shape.
func NewPendingRecord(p PendingChange) PendingRecord {
	rec := PendingRecord{
		ID:           p.ID,
		RuleID:       p.RuleID,
		ChangeType:   string(p.Kind),
		RequestedAt:  p.RequestedAt.UTC(),
		DelaySeconds: delaySeconds(p.Delay),
	}
	if p.Original != nil {
		o := NewRuleRecord(*p.Original)
		rec.OriginalRule = &o
	}
	if p.Candidate != nil {
		c := NewRuleRecord(*p.Candidate)
		rec.NewRule = &c
	}
	return rec
}

// delaySeconds rounds up so a stored entry never becomes ready early.
func delaySeconds(d time.Duration) int64 {
	return int64((d + time.Second - 1) / time.Second)
}

// ToPendingChange decodes the record.
func (rec PendingRecord) ToPendingChange() (PendingChange, error) {
	kind, err := ParseChangeKind(rec.ChangeType)
	if err != nil {
		return PendingChange{}, fmt.Errorf("pending change %s: %w", rec.ID, err)
	}
	p := PendingChange{
		ID:          rec.ID,
		RuleID:      rec.RuleID,
		Kind:        kind,
		RequestedAt: rec.RequestedAt,
		Delay:       time.Duration(rec.DelaySeconds) * time.Second,
	}
	if rec.OriginalRule != nil {
		o, err := rec.OriginalRule.ToRule()
		if err != nil {
			return PendingChange{}, fmt.Errorf("pending change %s original: %w", rec.ID, err)
		}
		p.Original = &o
	}
	if rec.NewRule != nil {
		c, err := rec.NewRule.ToRule()
		if err != nil {
			return PendingChange{}, fmt.Errorf("pending change %s candidate: %w", rec.ID, err)
		}
		p.Candidate = &c
	}
	return p, nil
}

// MarshalRule encodes a rule as JSON.
func MarshalRule(r Rule) ([]byte, error) {
	return json.Marshal(NewRuleRecord(r))
}

// UnmarshalRule decodes a rule from current or legacy JSON.
func UnmarshalRule(data []byte) (Rule, error) {
	var rec RuleRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return Rule{}, fmt.Errorf("failed to decode rule: %w", err)
	}
	return rec.ToRule()
}

// MarshalPendingChange encodes a pending change as JSON.
func MarshalPendingChange(p PendingChange) ([]byte, error) {
	return json.Marshal(NewPendingRecord(p))
}

// UnmarshalPendingChange decodes a pending change from JSON.
func UnmarshalPendingChange(data []byte) (PendingChange, error) {
	var rec PendingRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return PendingChange{}, fmt.Errorf("failed to decode pending change: %w", err)
	}
	return rec.ToPendingChange()
}
