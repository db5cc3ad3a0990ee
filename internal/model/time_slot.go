package model

import "time"

// TimeSlot - вычисляемый слот, в БД не хранится
type TimeSlot struct {
	Date        time.Time `json:"date"`
	StartTime   time.Time `json:"start_time"`
	EndTime     time.Time `json:"end_time"`
	IsAvailable bool      `json:"is_available"`
}

type DayAvailability struct {
	Date          time.Time  `json:"date"`
	TimeSlots     []TimeSlot `json:"time_slots"`
	IsFullyBooked bool       `json:"is_fully_booked"`
}
