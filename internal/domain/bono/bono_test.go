package bono

import (
	"database/sql"
	"testing"
	"time"
)

func TestUsageTypeCovers(t *testing.T) {
	cases := []struct {
		usageType UsageType
		waitlist  bool
		want      bool
	}{
		{UsageFixed, false, true},
		{UsageFixed, true, false},
		{UsageWaitlist, false, false},
		{UsageWaitlist, true, true},
		{UsageBoth, false, true},
		{UsageBoth, true, true},
	}
	for _, tc := range cases {
		if got := tc.usageType.Covers(tc.waitlist); got != tc.want {
			t.Errorf("%s.Covers(waitlist=%v) = %v, want %v", tc.usageType, tc.waitlist, got, tc.want)
		}
	}
}

func TestCompatibleTypes(t *testing.T) {
	for _, waitlist := range []bool{false, true} {
		for _, ut := range CompatibleTypes(waitlist) {
			if !ut.Covers(waitlist) {
				t.Errorf("CompatibleTypes(%v) returned %s which does not cover the flow", waitlist, ut)
			}
		}
	}
	if got := len(CompatibleTypes(false)); got != 2 {
		t.Errorf("expected 2 types for the fixed flow, got %d", got)
	}
}

func TestExpired(t *testing.T) {
	now := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)

	open := &Bono{}
	if open.Expired(now) {
		t.Error("a bono without expiry never expires")
	}

	b := &Bono{ExpiresAt: sql.NullTime{Time: now.Add(time.Minute), Valid: true}}
	if b.Expired(now) {
		t.Error("not expired before expires_at")
	}

	// The expiry instant itself is already outside the valid range.
	b.ExpiresAt.Time = now
	if !b.Expired(now) {
		t.Error("expired exactly at expires_at")
	}
	b.ExpiresAt.Time = now.Add(-time.Hour)
	if !b.Expired(now) {
		t.Error("expired after expires_at")
	}
}
