package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"club_attendance_engine/internal/domain/attendance"
	"club_attendance_engine/internal/domain/class"
	"club_attendance_engine/internal/domain/notify"
	"club_attendance_engine/internal/domain/waitlist"
	idb "club_attendance_engine/internal/infra/database"

	"github.com/sirupsen/logrus"
)

// Custom application-level errors for the waitlist service
var ErrNoPendingEntries = fmt.Errorf("no pending waitlist entries for the occurrence")
var ErrAlreadyEnrolled = fmt.Errorf("student already holds an active seat in the class")

// WaitlistService resolves waitlist requests into acceptance or expiry.
// The atomicity of a promotion lives in the repository; this service adds
// the business checks around it and the post-commit notification fan-out,
// which is strictly best-effort — a promotion is never rolled back
// because a message failed to send.
type WaitlistService struct {
	waitlistRepo   waitlist.Repository
	classRepo      class.Repository
	attendanceRepo attendance.Repository
	notifications  notify.Repository
	dispatcher     *Dispatcher
	logger         *logrus.Entry
	now            func() time.Time
}

func NewWaitlistService(
	wr waitlist.Repository,
	cr class.Repository,
	ar attendance.Repository,
	nr notify.Repository,
	d *Dispatcher,
	logger *logrus.Entry,
) *WaitlistService {
	return &WaitlistService{
		waitlistRepo:   wr,
		classRepo:      cr,
		attendanceRepo: ar,
		notifications:  nr,
		dispatcher:     d,
		logger:         logger,
		now:            time.Now,
	}
}

// Join creates a pending entry for the occurrence. Students already holding
// an active seat in the class cannot queue for a second one.
func (s *WaitlistService) Join(ctx context.Context, classID int64, date time.Time, enrollmentID int64) (*waitlist.Entry, error) {
	cl, err := s.classRepo.GetClass(ctx, classID)
	if err != nil {
		return nil, fmt.Errorf("failed to load class %d: %w", classID, err)
	}
	day := class.Day(date)
	if !cl.OccursOn(day) {
		return nil, ErrNoOccurrence
	}
	cancelled, err := s.classRepo.IsOccurrenceCancelled(ctx, classID, day)
	if err != nil {
		return nil, fmt.Errorf("failed to check occurrence cancellation: %w", err)
	}
	if cancelled {
		return nil, ErrNoOccurrence
	}
	if _, err := s.attendanceRepo.FindActiveParticipant(ctx, classID, enrollmentID); err == nil {
		return nil, ErrAlreadyEnrolled
	} else if !errors.Is(err, idb.ErrParticipantNotFound) {
		return nil, fmt.Errorf("failed to check class membership: %w", err)
	}

	entry := &waitlist.Entry{
		ClassID:      classID,
		ClassDate:    day,
		EnrollmentID: enrollmentID,
		Status:       waitlist.StatusPending,
		RequestedAt:  s.now().UTC(),
	}
	if err := s.waitlistRepo.Create(ctx, entry); err != nil {
		return nil, err
	}
	s.logger.WithFields(logrus.Fields{
		"waitlist_id":   entry.ID,
		"class_id":      classID,
		"class_date":    day.Format("2006-01-02"),
		"enrollment_id": enrollmentID,
	}).Info("Waitlist entry created")
	return entry, nil
}

// Accept promotes the given entry. Participant creation, the credit debit
// for credit-funded classes, the acceptance itself and the expiry of
// every pending sibling happen as one atomic unit in the repository; any
// error there, including an ineligible debit, leaves nothing changed.
// After commit the winner and every expired sibling are notified.
func (s *WaitlistService) Accept(ctx context.Context, entryID int64) (*waitlist.AcceptResult, error) {
	entry, err := s.waitlistRepo.GetByID(ctx, entryID)
	if err != nil {
		return nil, err
	}
	cl, err := s.classRepo.GetClass(ctx, entry.ClassID)
	if err != nil {
		return nil, fmt.Errorf("failed to load class %d: %w", entry.ClassID, err)
	}

	result, err := s.waitlistRepo.Accept(ctx, entryID, cl.CreditFunded)
	if err != nil {
		if errors.Is(err, idb.ErrNoEligibleBono) {
			return nil, ErrNoEligibleBono
		}
		return nil, err
	}

	log := s.logger.WithFields(logrus.Fields{
		"waitlist_id": entryID,
		"class_id":    entry.ClassID,
		"class_date":  class.Day(entry.ClassDate).Format("2006-01-02"),
		"expired":     len(result.Expired),
	})
	if result.Debit != nil {
		log = log.WithFields(logrus.Fields{
			"bono_id":   result.Debit.Bono.ID,
			"remaining": result.Debit.Bono.RemainingClasses,
		})
	}
	log.Info("Waitlist entry accepted")

	params := notify.Params{"class": cl.Name, "date": class.Day(entry.ClassDate).Format("02/01/2006")}
	s.notifyOutcome(ctx, result.Winner, notify.KindWaitlistAccepted, params)
	for _, loser := range result.Expired {
		s.notifyOutcome(ctx, loser, notify.KindWaitlistExpired, params)
	}
	return result, nil
}

// Reject is a single-entry terminal transition; siblings are untouched.
func (s *WaitlistService) Reject(ctx context.Context, entryID int64) (*waitlist.Entry, error) {
	entry, err := s.waitlistRepo.Reject(ctx, entryID)
	if err != nil {
		return nil, err
	}
	s.logger.WithFields(logrus.Fields{
		"waitlist_id": entryID,
		"class_id":    entry.ClassID,
	}).Info("Waitlist entry rejected")

	cl, err := s.classRepo.GetClass(ctx, entry.ClassID)
	if err != nil {
		s.logger.WithError(err).Warn("Could not load class for rejection notice")
		return entry, nil
	}
	params := notify.Params{"class": cl.Name, "date": class.Day(entry.ClassDate).Format("02/01/2006")}
	s.notifyOutcome(ctx, entry, notify.KindWaitlistRejected, params)
	return entry, nil
}

// PromoteNext accepts the earliest-requested pending entry for the
// occurrence, the default tie-break for a freed seat.
func (s *WaitlistService) PromoteNext(ctx context.Context, classID int64, date time.Time) error {
	pending, err := s.waitlistRepo.ListPending(ctx, classID, date)
	if err != nil {
		return fmt.Errorf("failed to list pending entries: %w", err)
	}
	if len(pending) == 0 {
		return ErrNoPendingEntries
	}
	_, err = s.Accept(ctx, pending[0].ID)
	return err
}

// ListPending exposes the queue for the operator surface.
func (s *WaitlistService) ListPending(ctx context.Context, classID int64, date time.Time) ([]*waitlist.Entry, error) {
	return s.waitlistRepo.ListPending(ctx, classID, date)
}

// notifyOutcome claims the de-dup key and delivers one outcome message.
// Every failure mode here is logged and swallowed: recipients never block
// each other and never undo the domain change that triggered them.
func (s *WaitlistService) notifyOutcome(ctx context.Context, entry *waitlist.Entry, kind notify.Kind, params notify.Params) {
	log := s.logger.WithFields(logrus.Fields{
		"waitlist_id":   entry.ID,
		"enrollment_id": entry.EnrollmentID,
		"kind":          kind,
	})

	rec := &notify.Record{
		ClassID:        entry.ClassID,
		EnrollmentID:   entry.EnrollmentID,
		OccurrenceDate: class.Day(entry.ClassDate),
		Kind:           kind,
		ScheduledFor:   s.now().UTC(),
	}
	claimed, err := s.notifications.Claim(ctx, rec)
	if err != nil {
		log.WithError(err).Error("Failed to claim notification record")
		return
	}
	if !claimed {
		log.Debug("Notification already recorded for key, skipping")
		return
	}

	messageID, err := s.dispatcher.DeliverTo(ctx, entry.EnrollmentID, kind, params)
	if err != nil {
		if errors.Is(err, ErrNoChannel) {
			log.Warn("Recipient unreachable, skipping")
		} else {
			log.WithError(err).Error("Failed to deliver waitlist notification")
		}
		if markErr := s.notifications.MarkFailed(ctx, rec.ID, err.Error()); markErr != nil {
			log.WithError(markErr).Error("Failed to record notification failure")
		}
		return
	}
	if err := s.notifications.MarkSent(ctx, rec.ID, messageID); err != nil {
		log.WithError(err).Error("Failed to record notification delivery")
	}
}
