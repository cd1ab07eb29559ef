package class

import (
	"database/sql"
	"testing"
	"time"
)

func baseClass() *Class {
	return &Class{
		ID:         1,
		Name:       "Salsa intermedio",
		DaysOfWeek: []time.Weekday{time.Tuesday, time.Thursday},
		StartTime:  "18:00",
		Capacity:   12,
		Active:     true,
		StartDate:  time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestOccursOn(t *testing.T) {
	c := baseClass()
	cases := []struct {
		name string
		date time.Time
		want bool
	}{
		{"scheduled weekday", time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC), true},  // Tuesday
		{"second weekday", time.Date(2026, 9, 3, 0, 0, 0, 0, time.UTC), true},     // Thursday
		{"off-schedule weekday", time.Date(2026, 9, 2, 0, 0, 0, 0, time.UTC), false}, // Wednesday
		{"before start date", time.Date(2026, 7, 28, 0, 0, 0, 0, time.UTC), false},
		{"first scheduled date", time.Date(2026, 8, 4, 0, 0, 0, 0, time.UTC), true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := c.OccursOn(tc.date); got != tc.want {
				t.Errorf("OccursOn(%s) = %v, want %v", tc.date.Format("2006-01-02"), got, tc.want)
			}
		})
	}
}

func TestOccursOn_InactiveClass(t *testing.T) {
	c := baseClass()
	c.Active = false
	if c.OccursOn(time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)) {
		t.Error("inactive class must have no occurrences")
	}
}

func TestOccursOn_EndDate(t *testing.T) {
	c := baseClass()
	c.EndDate = sql.NullTime{Time: time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC), Valid: true}

	if !c.OccursOn(time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)) {
		t.Error("the end date itself is still inside the active range")
	}
	if c.OccursOn(time.Date(2026, 9, 8, 0, 0, 0, 0, time.UTC)) {
		t.Error("dates past the end date must have no occurrences")
	}
}

func TestStartClock(t *testing.T) {
	cases := []struct {
		in      string
		want    int
		wantErr bool
	}{
		{"18:00", 1080, false},
		{"00:10", 10, false},
		{"09:30:00", 570, false}, // postgres time columns scan with seconds
		{"23:59", 1439, false},
		{"24:00", 0, true},
		{"18", 0, true},
		{"", 0, true},
		{"ab:cd", 0, true},
	}
	for _, tc := range cases {
		c := &Class{StartTime: tc.in}
		got, err := c.StartClock()
		if tc.wantErr {
			if err == nil {
				t.Errorf("StartClock(%q): expected error", tc.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("StartClock(%q): unexpected error %v", tc.in, err)
			continue
		}
		if got != tc.want {
			t.Errorf("StartClock(%q) = %d, want %d", tc.in, got, tc.want)
		}
	}
}

func TestStartsAt(t *testing.T) {
	c := baseClass()
	got, err := c.StartsAt(time.Date(2026, 9, 1, 15, 42, 7, 0, time.UTC))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := time.Date(2026, 9, 1, 18, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("StartsAt = %s, want %s", got, want)
	}
}

func TestDay_NormalizesToUTCMidnight(t *testing.T) {
	loc := time.FixedZone("CET", 3600)
	in := time.Date(2026, 9, 1, 0, 30, 0, 0, loc) // 2026-08-31 23:30 UTC
	got := Day(in)
	want := time.Date(2026, 8, 31, 0, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("Day = %s, want %s", got, want)
	}
}

func TestHasPlaceholderContact(t *testing.T) {
	e := &StudentEnrollment{Phone: sql.NullString{String: PlaceholderContact, Valid: true}}
	if !e.HasPlaceholderContact() {
		t.Error("expected placeholder contact detected")
	}
	e.Phone.String = "+34600000001"
	if e.HasPlaceholderContact() {
		t.Error("real phone must not count as placeholder")
	}
	e.Phone.Valid = false
	if e.HasPlaceholderContact() {
		t.Error("missing phone must not count as placeholder")
	}
}
