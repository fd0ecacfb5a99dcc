package infra

import (
	"time"

	"github.com/eliteGoblin/focusd/pledge/internal/domain"
)

var testTime = time.Date(2026, 10, 16, 8, 0, 0, 0, time.UTC)

// sampleRule returns a valid rule with one condition of every kind.
func sampleRule(id string) domain.Rule {
	return domain.Rule{
		ID:    id,
		Items: []string{"com.example.social", "video.example"},
		Mode:  domain.ModeUntil,
		Conditions: []domain.Condition{
			domain.StepsCondition{Target: 8000},
			domain.TimeOfDayCondition{Target: domain.MustClockTime("17:30")},
			domain.TimeRangeCondition{Start: domain.MustClockTime("22:00"), End: domain.MustClockTime("06:00")},
			domain.WorkoutCondition{Minutes: 20},
			domain.LocationCondition{Name: "office", Lat: -33.8688, Lon: 151.2093, RadiusMeters: 250},
			domain.DayRolloverCondition{},
			domain.PasswordCondition{},
			domain.ScheduleCondition{Weekdays: []int{6, 7}},
		},
		Exceptions: []string{"com.example.messages"},
		Enabled:    true,
		CreatedAt:  testTime,
	}
}

// samplePending returns a pending weakening of sampleRule(ruleID).
func samplePending(id, ruleID string, requestedAt time.Time) domain.PendingChange {
	original := sampleRule(ruleID)
	candidate := original.Clone()
	candidate.Conditions[0] = domain.StepsCondition{Target: 4000}
	return domain.PendingChange{
		ID:          id,
		RuleID:      ruleID,
		Kind:        domain.ChangeWeaken,
		Original:    &original,
		Candidate:   &candidate,
		RequestedAt: requestedAt,
		Delay:       time.Hour,
	}
}
