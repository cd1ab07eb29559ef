package class

import (
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Class describes a recurring class as configured by class management.
// This engine only reads it: the recurrence rule, capacity and active
// range decide which occurrences exist and how many seats they carry.
type Class struct {
	ID              int64
	ClubID          int64
	Name            string
	DaysOfWeek      []time.Weekday // recurrence rule
	StartTime       string         // time of day, "HH:MM" or "HH:MM:SS"
	DurationMinutes int
	Capacity        int
	CreditFunded    bool // seats are paid for with bono credits
	Active          bool
	StartDate       time.Time
	EndDate         sql.NullTime
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// OccursOn reports whether the class has an occurrence on the given date.
// The date is compared at day granularity; callers must pass a normalized
// (midnight UTC) date.
func (c *Class) OccursOn(date time.Time) bool {
	if !c.Active {
		return false
	}
	if date.Before(day(c.StartDate)) {
		return false
	}
	if c.EndDate.Valid && date.After(day(c.EndDate.Time)) {
		return false
	}
	for _, wd := range c.DaysOfWeek {
		if wd == date.Weekday() {
			return true
		}
	}
	return false
}

// StartClock parses StartTime into minutes since midnight.
func (c *Class) StartClock() (int, error) {
	parts := strings.Split(c.StartTime, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, fmt.Errorf("invalid start time %q", c.StartTime)
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, fmt.Errorf("invalid start time %q", c.StartTime)
	}
	min, err := strconv.Atoi(parts[1])
	if err != nil || min < 0 || min > 59 {
		return 0, fmt.Errorf("invalid start time %q", c.StartTime)
	}
	return hour*60 + min, nil
}

// StartsAt returns the full start timestamp of the occurrence on date.
func (c *Class) StartsAt(date time.Time) (time.Time, error) {
	clock, err := c.StartClock()
	if err != nil {
		return time.Time{}, err
	}
	d := day(date)
	return d.Add(time.Duration(clock) * time.Minute), nil
}

func day(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// Day normalizes a timestamp to its UTC date, the granularity at which
// occurrences are keyed throughout the engine.
func Day(t time.Time) time.Time { return day(t.UTC()) }
