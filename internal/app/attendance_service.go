package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"club_attendance_engine/internal/domain/attendance"
	"club_attendance_engine/internal/domain/class"
	idb "club_attendance_engine/internal/infra/database"

	"github.com/sirupsen/logrus"
)

// Custom application-level errors for the attendance service
var ErrAlreadyLocked = fmt.Errorf("attendance confirmation window has passed")
var ErrParticipantRemoved = fmt.Errorf("participant is no longer active in the class")
var ErrClassFull = fmt.Errorf("class occurrence has no free seats")
var ErrNoOccurrence = fmt.Errorf("class has no occurrence on that date")

// AttendanceService owns the roster and the absence-confirmation state
// machine. Confirming an absence may hand the freed seat to the waitlist;
// that promotion is best-effort from the member's point of view and never
// fails the confirmation itself.
type AttendanceService struct {
	attendanceRepo attendance.Repository
	classRepo      class.Repository
	waitlist       *WaitlistService
	cutoff         time.Duration // how long before start the occurrence locks
	autoPromote    bool
	logger         *logrus.Entry
	now            func() time.Time
}

func NewAttendanceService(
	ar attendance.Repository,
	cr class.Repository,
	ws *WaitlistService,
	cutoff time.Duration,
	autoPromote bool,
	logger *logrus.Entry,
) *AttendanceService {
	return &AttendanceService{
		attendanceRepo: ar,
		classRepo:      cr,
		waitlist:       ws,
		cutoff:         cutoff,
		autoPromote:    autoPromote,
		logger:         logger,
		now:            time.Now,
	}
}

// ListActiveRoster returns the participants expected at the occurrence:
// active, not removed, absence not confirmed for the date.
func (s *AttendanceService) ListActiveRoster(ctx context.Context, classID int64, date time.Time) ([]*attendance.Participant, error) {
	return s.attendanceRepo.ListActiveRoster(ctx, classID, date)
}

// ConfirmAbsence marks the participant absent for the occurrence and
// frees their seat. It fails with ErrAlreadyLocked once the cutoff has
// passed, whether or not the lock sweep already stamped the row.
func (s *AttendanceService) ConfirmAbsence(ctx context.Context, participantID int64, date time.Time) error {
	p, _, err := s.loadForEdit(ctx, participantID, date)
	if err != nil {
		return err
	}

	if _, err := s.attendanceRepo.SetAbsence(ctx, participantID, date, true); err != nil {
		if errors.Is(err, idb.ErrConfirmationLocked) {
			return ErrAlreadyLocked
		}
		return fmt.Errorf("failed to confirm absence: %w", err)
	}
	s.logger.WithFields(logrus.Fields{
		"participant_id": participantID,
		"class_id":       p.ClassID,
		"class_date":     class.Day(date).Format("2006-01-02"),
	}).Info("Absence confirmed, seat opened")

	if s.autoPromote {
		if err := s.waitlist.PromoteNext(ctx, p.ClassID, date); err != nil {
			if !errors.Is(err, ErrNoPendingEntries) {
				// Promotion problems are an operator concern, never the
				// confirming member's.
				s.logger.WithError(err).WithFields(logrus.Fields{
					"class_id":   p.ClassID,
					"class_date": class.Day(date).Format("2006-01-02"),
				}).Error("Failed to promote waitlist candidate for opened seat")
			}
		}
	}
	return nil
}

// RevokeAbsence undoes a confirmed absence before the cutoff, as long as
// the seat was not already refilled: the member only gets back in when
// the occurrence still has capacity.
func (s *AttendanceService) RevokeAbsence(ctx context.Context, participantID int64, date time.Time) error {
	p, cl, err := s.loadForEdit(ctx, participantID, date)
	if err != nil {
		return err
	}

	occupied, err := s.attendanceRepo.CountActiveRoster(ctx, p.ClassID, date)
	if err != nil {
		return fmt.Errorf("failed to count roster: %w", err)
	}
	if occupied >= cl.Capacity {
		return ErrClassFull
	}

	if _, err := s.attendanceRepo.SetAbsence(ctx, participantID, date, false); err != nil {
		if errors.Is(err, idb.ErrConfirmationLocked) {
			return ErrAlreadyLocked
		}
		return fmt.Errorf("failed to revoke absence: %w", err)
	}
	s.logger.WithFields(logrus.Fields{
		"participant_id": participantID,
		"class_id":       p.ClassID,
		"class_date":     class.Day(date).Format("2006-01-02"),
	}).Info("Absence revoked, seat re-occupied")
	return nil
}

// LockDueConfirmations is the time-driven sweep: every confirmation whose
// occurrence is inside the cutoff window becomes immutable. The last
// write before the sweep wins; after it, edits fail with ErrAlreadyLocked.
func (s *AttendanceService) LockDueConfirmations(ctx context.Context) (int64, error) {
	deadline := s.now().UTC().Add(s.cutoff)
	n, err := s.attendanceRepo.LockDue(ctx, deadline)
	if err != nil {
		return 0, fmt.Errorf("failed to lock due confirmations: %w", err)
	}
	if n > 0 {
		s.logger.WithField("locked", n).Info("Locked absence confirmations inside cutoff")
	}
	return n, nil
}

// loadForEdit fetches the participant and class and applies the checks
// shared by both absence edits: the participant must still be active, the
// class must occur on the date, and the cutoff must not have passed. The
// time check here covers occurrences the sweep has not visited yet; the
// repository's locked guard covers the rows it has.
func (s *AttendanceService) loadForEdit(ctx context.Context, participantID int64, date time.Time) (*attendance.Participant, *class.Class, error) {
	p, err := s.attendanceRepo.GetParticipant(ctx, participantID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load participant %d: %w", participantID, err)
	}
	if p.Status != attendance.StatusActive {
		return nil, nil, ErrParticipantRemoved
	}

	cl, err := s.classRepo.GetClass(ctx, p.ClassID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load class %d: %w", p.ClassID, err)
	}
	if !cl.OccursOn(class.Day(date)) {
		return nil, nil, ErrNoOccurrence
	}

	startsAt, err := cl.StartsAt(date)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid class start time: %w", err)
	}
	if !s.now().UTC().Before(startsAt.Add(-s.cutoff)) {
		return nil, nil, ErrAlreadyLocked
	}
	return p, cl, nil
}
