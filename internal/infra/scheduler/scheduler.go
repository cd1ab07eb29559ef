package scheduler

import (
	"context"
	"time"

	"club_attendance_engine/internal/app"
	"club_attendance_engine/internal/infra/config"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

const jobTimeout = 5 * time.Minute

// Scheduler drives the three periodic jobs: the class reminder tick,
// the absence cutoff lock sweep and the bono expiry sweep.
type Scheduler struct {
	cronEngine        *cron.Cron
	reminderService   *app.ReminderService
	attendanceService *app.AttendanceService
	bonoService       *app.BonoService
	cfg               *config.AppConfig
	logger            *logrus.Entry
}

func NewScheduler(
	reminderService *app.ReminderService,
	attendanceService *app.AttendanceService,
	bonoService *app.BonoService,
	cfg *config.AppConfig,
	baseLogger *logrus.Entry,
) *Scheduler {
	return &Scheduler{
		cronEngine:        cron.New(),
		reminderService:   reminderService,
		attendanceService: attendanceService,
		bonoService:       bonoService,
		cfg:               cfg,
		logger:            baseLogger.WithField("component", "scheduler"),
	}
}

func (s *Scheduler) Start(ctx context.Context) error {
	if _, err := s.cronEngine.AddFunc(s.cfg.CronSpecReminder, func() {
		s.runReminderTick(ctx)
	}); err != nil {
		return err
	}
	if _, err := s.cronEngine.AddFunc(s.cfg.CronSpecLockSweep, func() {
		s.runLockSweep(ctx)
	}); err != nil {
		return err
	}
	if _, err := s.cronEngine.AddFunc(s.cfg.CronSpecExpireSweep, func() {
		s.runExpireSweep(ctx)
	}); err != nil {
		return err
	}

	s.cronEngine.Start()
	s.logger.WithFields(logrus.Fields{
		"reminder_spec":     s.cfg.CronSpecReminder,
		"lock_sweep_spec":   s.cfg.CronSpecLockSweep,
		"expire_sweep_spec": s.cfg.CronSpecExpireSweep,
	}).Info("Scheduler started")
	return nil
}

// Stop halts the cron engine and waits for any in-flight job to finish.
func (s *Scheduler) Stop() {
	stopCtx := s.cronEngine.Stop()
	<-stopCtx.Done()
	s.logger.Info("Scheduler stopped")
}

func (s *Scheduler) runReminderTick(ctx context.Context) {
	jobCtx, cancel := context.WithTimeout(ctx, jobTimeout)
	defer cancel()

	jobLogger := s.logger.WithField("job", "reminder_tick")
	jobLogger.Debug("Running reminder tick")
	if err := s.reminderService.Run(jobCtx, time.Now()); err != nil {
		jobLogger.WithError(err).Error("Reminder tick failed")
	}
}

func (s *Scheduler) runLockSweep(ctx context.Context) {
	jobCtx, cancel := context.WithTimeout(ctx, jobTimeout)
	defer cancel()

	jobLogger := s.logger.WithField("job", "lock_sweep")
	locked, err := s.attendanceService.LockDueConfirmations(jobCtx)
	if err != nil {
		jobLogger.WithError(err).Error("Lock sweep failed")
		return
	}
	if locked > 0 {
		jobLogger.WithField("locked", locked).Info("Locked due absence confirmations")
	}
}

func (s *Scheduler) runExpireSweep(ctx context.Context) {
	jobCtx, cancel := context.WithTimeout(ctx, jobTimeout)
	defer cancel()

	jobLogger := s.logger.WithField("job", "expire_sweep")
	expired, err := s.bonoService.ExpireDue(jobCtx)
	if err != nil {
		jobLogger.WithError(err).Error("Bono expiry sweep failed")
		return
	}
	if expired > 0 {
		jobLogger.WithField("expired", expired).Info("Relabelled expired bonos")
	}
}
