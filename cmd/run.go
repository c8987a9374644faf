package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	log "github.com/sirupsen/logrus"

	"palomas/config"
	"palomas/database"
	"palomas/events"
	"palomas/infrastructure"
	"palomas/infrastructure/metrics"
	"palomas/jobs"
	"palomas/repository"
	"palomas/service"
)

// Services bundles the ledger operations exposed to callers
type Services struct {
	Users     service.UserService
	Balances  service.BalanceService
	Ledger    service.LedgerService
	Transfers service.TransferService
	Escrows   service.EscrowService
	Payments  service.PaymentService
	Merits    service.MeritService
}

// NewServices constructs every service over one unit of work factory
func NewServices(uowFactory service.UnitOfWorkFactory, cfg *config.Config) *Services {
	return &Services{
		Users:     service.NewUserService(uowFactory, cfg),
		Balances:  service.NewBalanceService(uowFactory, cfg),
		Ledger:    service.NewLedgerService(uowFactory, cfg),
		Transfers: service.NewTransferService(uowFactory, cfg),
		Escrows:   service.NewEscrowService(uowFactory, cfg),
		Payments:  service.NewPaymentService(uowFactory, cfg),
		Merits:    service.NewMeritService(uowFactory, cfg),
	}
}

// ConfigureLogging applies the configured level and picks JSON output outside development
func ConfigureLogging(cfg *config.Config) {
	level, err := log.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.WithError(err).Warnf("Unknown log level %q, using info", cfg.LogLevel)
		level = log.InfoLevel
	}
	log.SetLevel(level)
	log.SetOutput(os.Stdout)

	if cfg.Environment == "production" {
		log.SetFormatter(&log.JSONFormatter{})
	} else {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}
}

// Run initializes and starts the ledger service
func Run(ctx context.Context) error {
	cfg := config.Get()
	ConfigureLogging(cfg)
	log.WithField("environment", cfg.Environment).Info("Starting palomas ledger...")

	db, err := database.NewConnection(ctx, database.ConstructDatabaseURL(cfg.DatabaseURL, cfg.DatabaseName))
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()
	log.Info("Database connection established")

	eventBus := events.NewBus()
	metrics.SubscribeBalanceChanges(eventBus)
	uowFactory := repository.NewUnitOfWorkFactory(db, eventBus, cfg.LockTimeout)
	services := NewServices(uowFactory, cfg)
	log.Info("Services initialized")

	if cfg.NATSServers != "" {
		natsClient := infrastructure.NewNATSClient(cfg.NATSServers)
		if err := natsClient.Connect(ctx); err != nil {
			return fmt.Errorf("failed to connect to NATS: %w", err)
		}
		defer func() {
			if err := natsClient.Close(); err != nil {
				log.WithError(err).Error("Error closing NATS connection")
			}
		}()
		if err := natsClient.EnsureStream(cfg.NATSSubjectPrefix); err != nil {
			return fmt.Errorf("failed to ensure NATS stream: %w", err)
		}
		infrastructure.NewEventForwarder(natsClient, cfg.NATSSubjectPrefix).Register(eventBus)
		log.WithField("prefix", cfg.NATSSubjectPrefix).Info("Forwarding ledger events to NATS")
	}

	var overdueNotifier jobs.OverdueNotifier
	if cfg.DiscordToken != "" {
		session, err := infrastructure.NewDiscordSession(cfg.DiscordToken)
		if err != nil {
			return err
		}
		defer func() {
			if err := session.Close(); err != nil {
				log.WithError(err).Error("Error closing Discord session")
			}
		}()
		notifier := infrastructure.NewDisputeNotifier(session, cfg.DiscordAlertChannelID)
		notifier.Register(eventBus)
		overdueNotifier = notifier
		log.WithField("channelID", cfg.DiscordAlertChannelID).Info("Dispute alerts enabled")
	}

	scheduler := jobs.NewScheduler()
	if err := scheduler.Add(cfg.SweepSchedule, jobs.NewExpirySweeper(services.Ledger)); err != nil {
		return err
	}
	if err := scheduler.Add(cfg.OverdueSchedule, jobs.NewOverdueMonitor(services.Escrows, overdueNotifier)); err != nil {
		return err
	}
	if err := scheduler.Add(cfg.ReconcileSchedule, jobs.NewBalanceReconciler(services.Balances)); err != nil {
		return err
	}
	scheduler.Start()

	var metricsServer *http.Server
	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		metricsServer = &http.Server{
			Addr:              cfg.MetricsAddr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			log.WithField("addr", cfg.MetricsAddr).Info("Serving metrics")
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.WithError(err).Error("Metrics server failed")
			}
		}()
	}

	log.Info("Ledger is running")
	<-ctx.Done()
	log.Info("Shutting down ledger...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	scheduler.Stop(shutdownCtx)
	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			log.WithError(err).Error("Error shutting down metrics server")
		}
	}

	log.Info("Shutdown completed")
	return nil
}
