package main

import (
	"context"
	"crypto/tls"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/servly/servly-platform/cmd/mainconfig"
	"github.com/servly/servly-platform/internal/api/router"
	"github.com/servly/servly-platform/internal/appointments"
	"github.com/servly/servly-platform/internal/availability"
	appconfig "github.com/servly/servly-platform/internal/config"
	"github.com/servly/servly-platform/internal/identity"
	"github.com/servly/servly-platform/internal/idempotency"
	"github.com/servly/servly-platform/internal/messaging"
	"github.com/servly/servly-platform/internal/notify"
	"github.com/servly/servly-platform/internal/observability/metrics"
	"github.com/servly/servly-platform/internal/providers"
	"github.com/servly/servly-platform/internal/reviews"
	"github.com/servly/servly-platform/internal/storage"
	"github.com/servly/servly-platform/pkg/logging"
)

func main() {
	_ = godotenv.Load()

	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)
	logger.Info("starting servly-platform API server",
		"env", cfg.Env,
		"port", cfg.Port,
	)

	awsCfg, err := mainconfig.LoadAWSConfig(context.Background(), cfg)
	if err != nil {
		logger.Error("failed to load AWS config", "error", err)
		os.Exit(1)
	}

	dynamoClient := dynamodb.NewFromConfig(awsCfg)
	templatesRepo := availability.NewRepository(dynamoClient, cfg.TemplatesTable, logger.Component("availability"))
	appointmentsRepo := appointments.NewRepository(dynamoClient, cfg.AppointmentsTable, logger.Component("appointments"))
	providersRepo := providers.NewRepository(dynamoClient, cfg.ProvidersTable, logger.Component("providers"))
	reviewsRepo := reviews.NewRepository(dynamoClient, cfg.ReviewsTable, logger.Component("reviews"))
	messagingRepo := messaging.NewRepository(dynamoClient, cfg.ThreadsTable, cfg.MessagesTable, logger.Component("messaging"))

	blobs := storage.NewBlobStore(s3.NewFromConfig(awsCfg), cfg.MediaBucket, cfg.MediaBaseURL, logger.Component("storage"))
	if !blobs.Enabled() {
		logger.Warn("media bucket not configured, uploads disabled")
	}

	var push notify.PushGateway
	if gw := notify.NewSQSPushGateway(sqs.NewFromConfig(awsCfg), cfg.PushQueueURL, logger.Component("notify")); gw != nil {
		push = gw
	} else {
		logger.Warn("push queue not configured, push notifications disabled")
	}

	var email notify.EmailSender = notify.NewStubEmailSender(logger.Component("notify"))
	switch cfg.EmailProvider {
	case "ses":
		if sender := notify.NewSESSender(sesv2.NewFromConfig(awsCfg), notify.SESConfig{
			FromEmail: cfg.EmailFromAddress,
			FromName:  cfg.EmailFromName,
		}, logger.Component("notify")); sender != nil {
			email = sender
		}
	case "sendgrid":
		if sender := notify.NewSendGridSender(notify.SendGridConfig{
			APIKey:    cfg.SendGridAPIKey,
			FromEmail: cfg.EmailFromAddress,
			FromName:  cfg.EmailFromName,
		}, logger.Component("notify")); sender != nil {
			email = sender
		}
	}

	var contacts notify.Directory
	if dir := notify.NewContactDirectory(dynamoClient, cfg.ContactsTable, logger.Component("notify")); dir != nil {
		contacts = dir
	} else {
		logger.Warn("contacts table not configured, email notifications disabled")
	}
	notifier := notify.NewService(push, email, contacts, logger.Component("notify"))

	redisOpts := &redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	}
	if cfg.RedisTLS {
		redisOpts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	redisClient := redis.NewClient(redisOpts)
	guard := idempotency.NewRedisGuard(redisClient, cfg.ConfirmGuardTTL, logger.Component("idempotency"))

	bookingMetrics := metrics.NewBookingMetrics(nil)
	ident := identity.ContextProvider{}

	bookingService := appointments.NewService(templatesRepo, appointmentsRepo, ident, logger.Component("appointments")).
		WithGuard(guard).
		WithNotifier(notifier).
		WithMetrics(bookingMetrics)

	routerCfg := &router.Config{
		Logger: logger,
		ProvidersHandler: providers.NewHandler(
			providersRepo, blobs, ident, logger.Component("providers")),
		AvailabilityHandler: availability.NewHandler(
			templatesRepo, providersRepo, ident, logger.Component("availability")).
			WithMetrics(bookingMetrics),
		AppointmentsHandler: appointments.NewHandler(
			bookingService, templatesRepo, logger.Component("appointments")),
		ReviewsHandler: reviews.NewHandler(
			reviewsRepo, providersRepo, ident, logger.Component("reviews")),
		MessagingHandler: messaging.NewHandler(
			messagingRepo, providersRepo, blobs, notifier, ident, logger.Component("messaging")),
		AuthJWTSecret:      cfg.AuthJWTSecret,
		MetricsHandler:     promhttp.Handler(),
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		RateLimitPerSecond: cfg.RateLimitPerSecond,
		RateLimitBurst:     cfg.RateLimitBurst,
	}
	r := router.New(routerCfg)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}
	if err := redisClient.Close(); err != nil {
		logger.Warn("failed to close redis client", "error", err)
	}

	logger.Info("server stopped")
}
