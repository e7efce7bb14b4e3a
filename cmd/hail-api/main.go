// README: Entry point; loads config, wires services, starts HTTP server and background loops.
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"hail/internal/config"
	httptransport "hail/internal/http"
	"hail/internal/infra"
	"hail/internal/logging"
	"hail/internal/modules/assignment"
	"hail/internal/modules/booking"
	"hail/internal/modules/driver"
	"hail/internal/modules/location"
	"hail/internal/modules/payment"
	"hail/internal/modules/pricing"
	"hail/internal/modules/rematch"
	"hail/internal/notify"
)

func main() {
	cfg := config.Load()
	logger := logging.New(cfg.ServiceName, cfg.LogLevel)
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Firebase.ProjectID == "" {
		log.Fatal("HAIL_FIREBASE_PROJECT_ID is required")
	}
	verifier, err := infra.NewFirebaseVerifier(ctx, cfg.Firebase.ProjectID, cfg.Firebase.CredentialsFile)
	if err != nil {
		logger.Fatal("firebase init", zap.Error(err))
	}

	if cfg.DB.Migrate {
		if err := infra.RunMigrations(cfg.DB.DSN); err != nil {
			logger.Fatal("migrations", zap.Error(err))
		}
	}

	dbPool, err := infra.NewDB(ctx, cfg.DB.DSN, cfg.DB.MaxConns)
	if err != nil {
		logger.Fatal("postgres init", zap.Error(err))
	}
	defer dbPool.Close()

	redisClient := infra.NewRedis(cfg.Redis.Addr, cfg.Redis.Password)
	defer redisClient.Close()

	wsRegistry := notify.NewWSRegistry()
	var fcm *notify.FCMClient
	if cfg.FCM.Endpoint != "" {
		fcm = notify.NewFCMClient(cfg.FCM.Endpoint, cfg.FCM.Key)
	}
	gateway := notify.NewPushGateway(wsRegistry, fcm, logger)

	var alerter notify.Alerter = &notify.LogAlerter{Log: logger}
	if cfg.Telegram.BotToken != "" {
		tg, err := notify.NewTelegramAlerter(cfg.Telegram.BotToken, cfg.Telegram.OperatorID, logger)
		if err != nil {
			logger.Warn("telegram init failed, falling back to log alerts", zap.Error(err))
		} else {
			alerter = tg
		}
	}

	pricingSvc := pricing.NewService(pricing.NewStore(dbPool))

	bookingStore := booking.NewStore(dbPool)
	bookingSvc := booking.NewService(bookingStore, pricingSvc, gateway, logger)

	driverStore := driver.NewStore(dbPool)
	driverSvc := driver.NewService(driverStore, bookingStore, logger)

	assignSvc := assignment.NewService(assignment.NewStore(dbPool), gateway, logger)

	var producer location.Publisher
	if len(cfg.Kafka.Brokers) > 0 {
		kp := location.NewKafkaProducer(cfg.Kafka.Brokers, cfg.Kafka.LocationTopic)
		defer kp.Close()
		producer = kp
	}
	limiter := location.NewLimiter(location.NewRedisCounter(redisClient), cfg.Location.UpdatesPerMinute)
	locationSvc := location.NewService(driverStore, location.NewGeoStore(redisClient), limiter, producer, cfg.Rematch.CandidateRadiusKm, logger)

	scheduler := rematch.NewScheduler(cfg.Rematch, bookingStore, assignSvc, bookingSvc, locationSvc, alerter, logger)

	var processor payment.Processor
	if cfg.Stripe.APIKey != "" {
		processor = payment.NewStripeProcessor(cfg.Stripe.APIKey)
	} else {
		logger.Warn("stripe key not configured, card payments disabled")
	}
	paymentSvc := payment.NewService(bookingStore, processor, bookingSvc, scheduler, logger)

	router := httptransport.NewRouter(httptransport.ServerDeps{
		Booking:    bookingSvc,
		Drivers:    driverSvc,
		Assignment: assignSvc,
		Payment:    paymentSvc,
		Location:   locationSvc,
		Rematch:    scheduler,
		Verifier:   verifier,
		WSRegistry: wsRegistry,
		Log:        logger,
	})

	server := &http.Server{Addr: cfg.HTTP.Addr, Handler: router}

	go func() {
		if err := scheduler.Resume(ctx); err != nil {
			logger.Error("resume searches", zap.Error(err))
		}
	}()
	go driverSvc.RunCleanupSweep(ctx, cfg.Cleanup.Interval)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown", zap.Error(err))
		}
	}()

	logger.Info("listening", zap.String("addr", cfg.HTTP.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal("serve", zap.Error(err))
	}
}
