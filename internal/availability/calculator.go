// Package availability разворачивает недельные правила площадки в конкретные слоты.
// Пакет не делает I/O: все входные данные передаются вызывающим.
package availability

import (
	"sort"
	"time"

	"github.com/Freeeeeet/space_booking/internal/model"
)

// Calculator считает слоты по правилам и существующим броням.
// Granularity режет окно правила на слоты фиксированной длины; 0 - один слот на правило.
type Calculator struct {
	Granularity time.Duration
}

func NewCalculator(granularity time.Duration) *Calculator {
	if granularity < 0 {
		granularity = 0
	}
	return &Calculator{Granularity: granularity}
}

// Calculate возвращает доступность по каждому календарному дню в [rangeStart, rangeEnd] включительно.
// Дни считаются в часовом поясе rangeStart. Отменённые брони игнорируются.
func (c *Calculator) Calculate(rangeStart, rangeEnd time.Time, rules []model.AvailabilityRule, bookings []model.Booking) []model.DayAvailability {
	if rangeEnd.Before(rangeStart) {
		return []model.DayAvailability{}
	}

	loc := rangeStart.Location()
	byDay := groupRules(rules)
	active := activeBookings(bookings)

	first := startOfDay(rangeStart)
	last := startOfDay(rangeEnd.In(loc))

	days := make([]model.DayAvailability, 0, int(last.Sub(first).Hours()/24)+1)
	for d := first; !d.After(last); d = time.Date(d.Year(), d.Month(), d.Day()+1, 0, 0, 0, 0, loc) {
		day := model.DayAvailability{Date: d, TimeSlots: []model.TimeSlot{}}

		for _, rule := range byDay[d.Weekday()] {
			for _, slot := range c.materialize(d, rule) {
				slot.IsAvailable = rule.IsAvailable && !overlapsAny(active, slot.StartTime, slot.EndTime)
				day.TimeSlots = append(day.TimeSlots, slot)
			}
		}

		day.IsFullyBooked = isFullyBooked(day.TimeSlots)
		days = append(days, day)
	}
	return days
}

// materialize превращает правило в слоты на дату d
func (c *Calculator) materialize(d time.Time, rule model.AvailabilityRule) []model.TimeSlot {
	start, end := rule.Window(d)
	if c.Granularity == 0 {
		return []model.TimeSlot{{Date: d, StartTime: start, EndTime: end}}
	}

	var slots []model.TimeSlot
	for s := start; s.Before(end); s = s.Add(c.Granularity) {
		e := s.Add(c.Granularity)
		if e.After(end) {
			e = end
		}
		slots = append(slots, model.TimeSlot{Date: d, StartTime: s, EndTime: e})
	}
	return slots
}

// CoveredByRule проверяет что [start, end) целиком внутри одного доступного окна правила.
// start и end должны быть в часовом поясе площадки.
func CoveredByRule(rules []model.AvailabilityRule, start, end time.Time) bool {
	day := startOfDay(start)
	for _, rule := range rules {
		if !rule.IsAvailable || rule.Weekday() != day.Weekday() {
			continue
		}
		ws, we := rule.Window(day)
		if !start.Before(ws) && !end.After(we) {
			return true
		}
	}
	return false
}

// isFullyBooked: день без слотов не считается занятым - бронировать просто нечего
func isFullyBooked(slots []model.TimeSlot) bool {
	if len(slots) == 0 {
		return false
	}
	for _, s := range slots {
		if s.IsAvailable {
			return false
		}
	}
	return true
}

func groupRules(rules []model.AvailabilityRule) map[time.Weekday][]model.AvailabilityRule {
	byDay := make(map[time.Weekday][]model.AvailabilityRule, 7)
	for _, r := range rules {
		byDay[r.Weekday()] = append(byDay[r.Weekday()], r)
	}
	for _, dayRules := range byDay {
		sort.Slice(dayRules, func(i, j int) bool { return dayRules[i].StartTime < dayRules[j].StartTime })
	}
	return byDay
}

func activeBookings(bookings []model.Booking) []model.Booking {
	active := make([]model.Booking, 0, len(bookings))
	for _, b := range bookings {
		if b.Status.IsActive() {
			active = append(active, b)
		}
	}
	return active
}

func overlapsAny(bookings []model.Booking, start, end time.Time) bool {
	for i := range bookings {
		if bookings[i].Overlaps(start, end) {
			return true
		}
	}
	return false
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
