package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"club_attendance_engine/internal/domain/bono"
	"club_attendance_engine/internal/domain/class"
	"club_attendance_engine/internal/domain/notify"
	idb "club_attendance_engine/internal/infra/database"

	"github.com/sirupsen/logrus"
)

// Custom application-level errors for the bono service
var ErrNoEligibleBono = fmt.Errorf("student has no bono eligible for this debit")
var ErrAlreadyReverted = fmt.Errorf("bono usage was already reverted")

// BonoService is the prepaid-credit ledger: atomic debits matched to
// seats, idempotent reverts, operator cancellation and the expiry sweep.
type BonoService struct {
	bonoRepo      bono.Repository
	classRepo     class.Repository
	notifications notify.Repository
	dispatcher    *Dispatcher
	logger        *logrus.Entry
	now           func() time.Time
}

func NewBonoService(
	br bono.Repository,
	cr class.Repository,
	nr notify.Repository,
	d *Dispatcher,
	logger *logrus.Entry,
) *BonoService {
	return &BonoService{
		bonoRepo:      br,
		classRepo:     cr,
		notifications: nr,
		dispatcher:    d,
		logger:        logger,
		now:           time.Now,
	}
}

// Assign creates a bono for a student from a billing template snapshot.
// The template values are copied here once and never consulted again.
func (s *BonoService) Assign(ctx context.Context, enrollmentID int64, name string, totalClasses int, priceCents int64, usageType bono.UsageType, expiresAt *time.Time) (*bono.Bono, error) {
	if totalClasses <= 0 {
		return nil, fmt.Errorf("bono must carry at least one class credit")
	}
	b := &bono.Bono{
		EnrollmentID:     enrollmentID,
		Name:             name,
		TotalClasses:     totalClasses,
		RemainingClasses: totalClasses,
		PricePaidCents:   priceCents,
		UsageType:        usageType,
		Status:           bono.StatusActivo,
	}
	if expiresAt != nil {
		b.ExpiresAt.Time, b.ExpiresAt.Valid = expiresAt.UTC(), true
	}
	if err := s.bonoRepo.Create(ctx, b); err != nil {
		return nil, err
	}
	s.logger.WithFields(logrus.Fields{
		"bono_id":       b.ID,
		"enrollment_id": enrollmentID,
		"total":         totalClasses,
		"usage_type":    usageType,
	}).Info("Bono assigned")
	return b, nil
}

// Debit charges one credit for the given flow. Candidates are walked
// soonest-expiry-first and each attempt is a guarded compare-and-swap, so
// two concurrent debits can race on the same bono and exactly one wins;
// the loser simply moves to the next candidate or comes up empty.
func (s *BonoService) Debit(ctx context.Context, req bono.DebitRequest) (*bono.DebitResult, error) {
	candidates, err := s.bonoRepo.ListEligible(ctx, req.EnrollmentID, bono.CompatibleTypes(req.IsWaitlist), s.now().UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to list eligible bonos: %w", err)
	}
	for _, candidate := range candidates {
		res, ok, err := s.bonoRepo.TryDebit(ctx, candidate.ID, req)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue // drained by a concurrent debit, try the next one
		}
		s.logger.WithFields(logrus.Fields{
			"bono_id":       res.Bono.ID,
			"usage_id":      res.Usage.ID,
			"enrollment_id": req.EnrollmentID,
			"remaining":     res.Bono.RemainingClasses,
			"waitlist":      req.IsWaitlist,
		}).Info("Bono debited")
		return res, nil
	}
	return nil, ErrNoEligibleBono
}

// Revert restores the credit of a usage line. The second call for the
// same usage fails with ErrAlreadyReverted and credits nothing.
func (s *BonoService) Revert(ctx context.Context, usageID int64, reason string) (*bono.Usage, error) {
	u, err := s.bonoRepo.Revert(ctx, usageID, reason)
	if err != nil {
		if errors.Is(err, idb.ErrUsageAlreadyReverted) {
			s.logger.WithField("usage_id", usageID).Warn("Double revert attempt, ignoring")
			return nil, ErrAlreadyReverted
		}
		return nil, err
	}
	s.logger.WithFields(logrus.Fields{
		"usage_id": usageID,
		"bono_id":  u.BonoID,
		"reason":   reason,
	}).Info("Bono usage reverted")
	return u, nil
}

// Cancel is the terminal operator action. The owner is told once.
func (s *BonoService) Cancel(ctx context.Context, bonoID int64) (*bono.Bono, error) {
	b, err := s.bonoRepo.Cancel(ctx, bonoID)
	if err != nil {
		return nil, err
	}
	s.logger.WithFields(logrus.Fields{
		"bono_id":       bonoID,
		"enrollment_id": b.EnrollmentID,
	}).Info("Bono cancelled")

	rec := &notify.Record{
		// Not tied to an occurrence; the bono ID fills the class slot of the
		// de-dup key so two cancellations for one student on the same day
		// never collide.
		ClassID:        bonoID,
		EnrollmentID:   b.EnrollmentID,
		OccurrenceDate: class.Day(s.now().UTC()),
		Kind:           notify.KindBonoCancelled,
		ScheduledFor:   s.now().UTC(),
	}
	claimed, err := s.notifications.Claim(ctx, rec)
	if err != nil {
		s.logger.WithError(err).Error("Failed to claim cancellation notice")
		return b, nil
	}
	if !claimed {
		s.logger.WithField("bono_id", bonoID).Debug("Cancellation notice already recorded, skipping")
		return b, nil
	}
	messageID, err := s.dispatcher.DeliverTo(ctx, b.EnrollmentID, notify.KindBonoCancelled, notify.Params{"bono": b.Name})
	if err != nil {
		s.logger.WithError(err).Warn("Could not deliver cancellation notice")
		if markErr := s.notifications.MarkFailed(ctx, rec.ID, err.Error()); markErr != nil {
			s.logger.WithError(markErr).Error("Failed to record cancellation notice failure")
		}
		return b, nil
	}
	if err := s.notifications.MarkSent(ctx, rec.ID, messageID); err != nil {
		s.logger.WithError(err).Error("Failed to record cancellation notice delivery")
	}
	return b, nil
}

// ListByStudent exposes a student's bonos for the operator surface.
func (s *BonoService) ListByStudent(ctx context.Context, enrollmentID int64) ([]*bono.Bono, error) {
	return s.bonoRepo.ListByEnrollment(ctx, enrollmentID)
}

// ExpireDue relabels stale activo bonos to expirado. Debit eligibility
// checks expires_at directly, so the sweep only keeps stored statuses in
// line with what debits already enforce.
func (s *BonoService) ExpireDue(ctx context.Context) (int64, error) {
	n, err := s.bonoRepo.ExpireDue(ctx, s.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to expire bonos: %w", err)
	}
	if n > 0 {
		s.logger.WithField("expired", n).Info("Relabelled expired bonos")
	}
	return n, nil
}
