package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"club_attendance_engine/internal/domain/attendance"
	"club_attendance_engine/internal/domain/class"
	"club_attendance_engine/internal/domain/notify"

	"github.com/sirupsen/logrus"
)

// occurrence is one selected (class, date) pair with its start timestamp.
type occurrence struct {
	class    *class.Class
	date     time.Time
	startsAt time.Time
}

// ReminderService selects which occurrences must receive a reminder "now"
// and fans the message out to their rosters.
//
// The selection is a pure function of now: reminders go to occurrences
// starting inside the half-open window [now+lead, now+lead+period). The
// window is exactly one period long and windows of consecutive runs tile
// the day without gaps or overlap, so every occurrence crosses exactly
// one window boundary exactly once and single delivery needs no persisted
// flag in the common case. The claim on the pending_notifications key is
// the safety net for restarts and overlapping runs only.
type ReminderService struct {
	classRepo      class.Repository
	attendanceRepo attendance.Repository
	notifications  notify.Repository
	dispatcher     *Dispatcher
	period         time.Duration // must equal the trigger interval
	lead           time.Duration // how far ahead of start the reminder goes out
	logger         *logrus.Entry
}

func NewReminderService(
	cr class.Repository,
	ar attendance.Repository,
	nr notify.Repository,
	d *Dispatcher,
	period, lead time.Duration,
	logger *logrus.Entry,
) *ReminderService {
	return &ReminderService{
		classRepo:      cr,
		attendanceRepo: ar,
		notifications:  nr,
		dispatcher:     d,
		period:         period,
		lead:           lead,
		logger:         logger,
	}
}

// Run executes one scheduler pass for the given instant.
func (s *ReminderService) Run(ctx context.Context, now time.Time) error {
	windowStart := now.UTC().Add(s.lead)
	windowEnd := windowStart.Add(s.period)

	selected, err := s.selectOccurrences(ctx, windowStart, windowEnd)
	if err != nil {
		return err
	}
	if len(selected) == 0 {
		return nil
	}
	s.logger.WithFields(logrus.Fields{
		"window_start": windowStart.Format(time.RFC3339),
		"window_end":   windowEnd.Format(time.RFC3339),
		"occurrences":  len(selected),
	}).Info("Reminder window selected occurrences")

	for _, occ := range selected {
		s.remindOccurrence(ctx, occ)
	}
	return nil
}

// selectOccurrences finds every active, non-cancelled occurrence whose
// start falls inside [windowStart, windowEnd). A window near midnight
// spans two dates, so the time-of-day interval is split per date.
func (s *ReminderService) selectOccurrences(ctx context.Context, windowStart, windowEnd time.Time) ([]occurrence, error) {
	type segment struct {
		date     time.Time
		from, to int // minutes since midnight, half-open [from, to)
	}

	startDay := class.Day(windowStart)
	endDay := class.Day(windowEnd)
	fromMin := windowStart.Hour()*60 + windowStart.Minute()
	toMin := windowEnd.Hour()*60 + windowEnd.Minute()

	var segments []segment
	if startDay.Equal(endDay) {
		segments = []segment{{date: startDay, from: fromMin, to: toMin}}
	} else {
		segments = []segment{{date: startDay, from: fromMin, to: 24 * 60}}
		if toMin > 0 {
			segments = append(segments, segment{date: endDay, from: 0, to: toMin})
		}
	}

	var selected []occurrence
	for _, seg := range segments {
		classes, err := s.classRepo.ListActiveByWeekday(ctx, seg.date.Weekday())
		if err != nil {
			return nil, fmt.Errorf("failed to list classes for %s: %w", seg.date.Weekday(), err)
		}
		for _, cl := range classes {
			if !cl.OccursOn(seg.date) {
				continue
			}
			clock, err := cl.StartClock()
			if err != nil {
				s.logger.WithError(err).WithField("class_id", cl.ID).Warn("Class has invalid start time, skipping")
				continue
			}
			if clock < seg.from || clock >= seg.to {
				continue
			}
			cancelled, err := s.classRepo.IsOccurrenceCancelled(ctx, cl.ID, seg.date)
			if err != nil {
				return nil, fmt.Errorf("failed to check cancellation for class %d: %w", cl.ID, err)
			}
			if cancelled {
				continue
			}
			startsAt, err := cl.StartsAt(seg.date)
			if err != nil {
				continue
			}
			selected = append(selected, occurrence{class: cl, date: seg.date, startsAt: startsAt})
		}
	}
	return selected, nil
}

// remindOccurrence fans one reminder out to the occurrence's active,
// non-absent roster. Each recipient is claimed, resolved and delivered in
// isolation: one unreachable or failing recipient never touches the rest.
func (s *ReminderService) remindOccurrence(ctx context.Context, occ occurrence) {
	log := s.logger.WithFields(logrus.Fields{
		"class_id":   occ.class.ID,
		"class_date": occ.date.Format("2006-01-02"),
	})

	roster, err := s.attendanceRepo.ListActiveRoster(ctx, occ.class.ID, occ.date)
	if err != nil {
		log.WithError(err).Error("Failed to load roster for reminder")
		return
	}
	if len(roster) == 0 {
		return
	}

	params := notify.Params{
		"class": occ.class.Name,
		"date":  occ.date.Format("02/01/2006"),
		"time":  occ.startsAt.Format("15:04"),
	}
	sent := 0
	for _, p := range roster {
		rec := &notify.Record{
			ClassID:        occ.class.ID,
			EnrollmentID:   p.EnrollmentID,
			OccurrenceDate: occ.date,
			Kind:           notify.KindReminder,
			ScheduledFor:   occ.startsAt,
		}
		claimed, err := s.notifications.Claim(ctx, rec)
		if err != nil {
			log.WithError(err).WithField("enrollment_id", p.EnrollmentID).Error("Failed to claim reminder record")
			continue
		}
		if !claimed {
			continue // already sent, failed or claimed by an overlapping run
		}

		messageID, err := s.dispatcher.DeliverTo(ctx, p.EnrollmentID, notify.KindReminder, params)
		if err != nil {
			recipientLog := log.WithField("enrollment_id", p.EnrollmentID)
			if errors.Is(err, ErrNoChannel) {
				recipientLog.Warn("Recipient unreachable, skipping reminder")
			} else {
				recipientLog.WithError(err).Error("Failed to deliver reminder")
			}
			if markErr := s.notifications.MarkFailed(ctx, rec.ID, err.Error()); markErr != nil {
				recipientLog.WithError(markErr).Error("Failed to record reminder failure")
			}
			continue
		}
		if err := s.notifications.MarkSent(ctx, rec.ID, messageID); err != nil {
			log.WithError(err).Error("Failed to record reminder delivery")
			continue
		}
		sent++
	}
	log.WithFields(logrus.Fields{"recipients": len(roster), "sent": sent}).Info("Reminder fan-out complete")
}
