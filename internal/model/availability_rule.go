package model

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
)

// AvailabilityRule представляет недельный шаблон доступности площадки
type AvailabilityRule struct {
	ID          int64     `json:"id,omitempty"`
	PropertyID  uuid.UUID `json:"property_id,omitempty"`
	DayOfWeek   int       `json:"day_of_week"` // 0 = Sunday, 6 = Saturday
	StartTime   ClockTime `json:"start_time"`
	EndTime     ClockTime `json:"end_time"`
	IsAvailable bool      `json:"is_available"`
}

// Weekday возвращает день недели правила
func (r AvailabilityRule) Weekday() time.Weekday {
	return time.Weekday(r.DayOfWeek)
}

// Window материализует правило на конкретную дату
func (r AvailabilityRule) Window(day time.Time) (time.Time, time.Time) {
	return r.StartTime.On(day), r.EndTime.On(day)
}

// ValidateRules проверяет набор правил одной площадки: диапазоны и отсутствие пересечений в пределах дня
func ValidateRules(rules []AvailabilityRule) error {
	byDay := make(map[int][]AvailabilityRule)
	for i, r := range rules {
		if r.DayOfWeek < 0 || r.DayOfWeek > 6 {
			return NewValidationError(fmt.Sprintf("rule %d: day_of_week must be 0-6, got %d", i, r.DayOfWeek))
		}
		if r.StartTime < 0 || r.EndTime > endOfDay {
			return NewValidationError(fmt.Sprintf("rule %d: time out of range", i))
		}
		if r.StartTime >= r.EndTime {
			return NewValidationError(fmt.Sprintf("rule %d: start_time %s must be before end_time %s", i, r.StartTime, r.EndTime))
		}
		byDay[r.DayOfWeek] = append(byDay[r.DayOfWeek], r)
	}

	for day, dayRules := range byDay {
		sort.Slice(dayRules, func(i, j int) bool { return dayRules[i].StartTime < dayRules[j].StartTime })
		for i := 1; i < len(dayRules); i++ {
			if dayRules[i].StartTime < dayRules[i-1].EndTime {
				return NewValidationError(fmt.Sprintf("rules overlap on day %d: %s-%s and %s-%s", day,
					dayRules[i-1].StartTime, dayRules[i-1].EndTime, dayRules[i].StartTime, dayRules[i].EndTime))
			}
		}
	}
	return nil
}
