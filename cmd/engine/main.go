package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"club_attendance_engine/internal/app"
	"club_attendance_engine/internal/domain/notify"
	"club_attendance_engine/internal/infra/config"
	idb "club_attendance_engine/internal/infra/database"
	"club_attendance_engine/internal/infra/logger"
	"club_attendance_engine/internal/infra/messaging"
	"club_attendance_engine/internal/infra/scheduler"
	"club_attendance_engine/internal/infra/telegram"

	"github.com/sirupsen/logrus"
	"gopkg.in/telebot.v3"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("FATAL: Could not load application configuration: %v", err)
	}

	logger.Init(cfg)
	mainLogger := logger.Log.WithField("component", "main")
	mainLogger.WithFields(logrus.Fields{
		"log_level":   cfg.LogLevel,
		"environment": cfg.Environment,
		"operator_id": cfg.OperatorTelegramID,
	}).Info("Configuration loaded")

	// Initialize Database Connection
	db, err := idb.NewPostgresConnection(cfg.DatabaseURL, cfg.DBMaxConns)
	if err != nil {
		mainLogger.Fatalf("FATAL: Could not connect to database: %v", err)
	}
	defer db.Close()
	mainLogger.Info("Database connection established successfully")

	// Initialize Repositories
	classRepo := idb.NewPostgresClassRepository(db)
	attendanceRepo := idb.NewPostgresAttendanceRepository(db)
	bonoRepo := idb.NewPostgresBonoRepository(db)
	waitlistRepo := idb.NewPostgresWaitlistRepository(db)
	notificationRepo := idb.NewPostgresNotificationRepository(db)
	mainLogger.Info("Repositories initialized")

	// Initialize Telegram Bot
	pref := telebot.Settings{
		Token:  cfg.TelegramToken,
		Poller: &telebot.LongPoller{Timeout: 10 * time.Second},
		OnError: func(err error, c telebot.Context) { // Global error handler
			entry := logger.Log.WithField("component", "telebot").WithError(err)
			if c != nil && c.Sender() != nil && c.Chat() != nil {
				entry = entry.WithFields(logrus.Fields{
					"message":   c.Text(),
					"sender_id": c.Sender().ID,
					"chat_id":   c.Chat().ID,
				})
			}
			entry.Error("Telegram handler error")
		},
	}
	bot, err := telebot.NewBot(pref)
	if err != nil {
		mainLogger.Fatalf("FATAL: Could not create Telegram bot: %v", err)
	}

	// Delivery providers. Email stays disabled unless Resend is configured.
	providers := map[notify.ChannelKind]notify.Provider{
		notify.ChannelWhatsApp: messaging.NewWhatsAppProvider(cfg.WhatsAppGatewayURL, cfg.WhatsAppToken, cfg.SendTimeout),
		notify.ChannelTelegram: telegram.NewTelebotAdapter(bot),
	}
	if cfg.ResendAPIKey != "" {
		providers[notify.ChannelEmail] = messaging.NewEmailProvider(cfg.ResendAPIKey, cfg.EmailFrom)
	}
	dispatcher := app.NewDispatcher(classRepo, providers, logger.Log.WithField("component", "dispatcher"),
		cfg.SendMaxRetries, cfg.SendBackoffBase)

	// Initialize Services
	waitlistService := app.NewWaitlistService(waitlistRepo, classRepo, attendanceRepo, notificationRepo, dispatcher,
		logger.Log.WithField("component", "waitlist_service"))
	attendanceService := app.NewAttendanceService(attendanceRepo, classRepo, waitlistService,
		cfg.AbsenceCutoff, cfg.AutoPromote, logger.Log.WithField("component", "attendance_service"))
	bonoService := app.NewBonoService(bonoRepo, classRepo, notificationRepo, dispatcher,
		logger.Log.WithField("component", "bono_service"))
	reminderService := app.NewReminderService(classRepo, attendanceRepo, notificationRepo, dispatcher,
		cfg.ReminderPeriod, cfg.ReminderLead, logger.Log.WithField("component", "reminder_service"))
	mainLogger.Info("Services initialized")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Start Scheduler
	jobScheduler := scheduler.NewScheduler(reminderService, attendanceService, bonoService, cfg, logger.Log.WithField("component", "app"))
	if err := jobScheduler.Start(ctx); err != nil {
		mainLogger.Fatalf("FATAL: Could not start scheduler: %v", err)
	}

	// Register Handlers
	telegram.RegisterOperatorHandlers(ctx, bot, waitlistService, bonoService, attendanceService,
		notificationRepo, cfg.OperatorTelegramID, logger.Log.WithField("component", "telegram_handlers"))
	mainLogger.Info("Operator command handlers registered")

	mainLogger.Info("Application setup complete. Bot and Scheduler are starting...")

	// Start bot in a goroutine so it doesn't block graceful shutdown handling
	go bot.Start()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	mainLogger.Info("Shutting down application...")
	cancel()
	jobScheduler.Stop()
	bot.Stop()
	mainLogger.Info("Application shut down gracefully")
}
