package main

import (
	"context"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v80"
	"github.com/yashrajoria/pix-payment-service/common/auth"
	apperrors "github.com/yashrajoria/pix-payment-service/common/errors"
	"github.com/yashrajoria/pix-payment-service/common/logger"
	"github.com/yashrajoria/pix-payment-service/common/middleware"
	"github.com/yashrajoria/pix-payment-service/config"
	"github.com/yashrajoria/pix-payment-service/controllers"
	"github.com/yashrajoria/pix-payment-service/database"
	"github.com/yashrajoria/pix-payment-service/kafka"
	"github.com/yashrajoria/pix-payment-service/models"
	aws_pkg "github.com/yashrajoria/pix-payment-service/pkg/aws"
	"github.com/yashrajoria/pix-payment-service/providers"
	"github.com/yashrajoria/pix-payment-service/routes"
	"github.com/yashrajoria/pix-payment-service/services"
	"go.uber.org/zap"
)

func main() {
	decimal.MarshalJSONWithoutQuotes = true
	ctx := context.Background()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	var awsCfg sdkaws.Config
	if cfg.NeedsAWS() {
		awsCfg, err = aws_pkg.LoadConfig(ctx, aws_pkg.Settings{
			Region:          cfg.AWSRegion,
			Endpoint:        cfg.AWSEndpoint,
			AccessKeyID:     cfg.AWSAccessKeyID,
			SecretAccessKey: cfg.AWSSecretKey,
		})
		if err != nil {
			log.Fatalf("Failed to load AWS config: %v", err)
		}
	}

	var logSink io.Writer
	if cfg.LogGroup != "" {
		cwLogs, err := aws_pkg.NewCloudWatchLogsClient(ctx, awsCfg, cfg.LogGroup, cfg.ServiceName)
		if err != nil {
			log.Printf("CloudWatch Logs unavailable, logging to stdout only: %v", err)
		} else {
			logSink = cwLogs
			defer cwLogs.Close() //nolint:errcheck
		}
	}

	zapLogger, err := logger.New(cfg.Env, logSink)
	if err != nil {
		log.Fatalf("Failed to init logger: %v", err)
	}
	defer zapLogger.Sync() //nolint:errcheck

	if cfg.AWSUseSecrets {
		if err := cfg.ApplySecrets(ctx, aws_pkg.NewSecretsClient(awsCfg)); err != nil {
			zapLogger.Fatal("Failed to load secrets", zap.Error(err))
		}
	}
	if err := cfg.Validate(); err != nil {
		zapLogger.Fatal("Invalid configuration", zap.Error(err))
	}
	if cfg.SkipsWebhookVerification() {
		zapLogger.Warn("SECURITY: webhook signature verification is DISABLED (WEBHOOK_INSECURE_SKIP_VERIFY=true, no webhook secret)")
	}

	stores, err := database.OpenStores(ctx, cfg, awsCfg, zapLogger)
	if err != nil {
		zapLogger.Fatal("Failed to open stores", zap.Error(err))
	}
	defer stores.Close() //nolint:errcheck

	metrics := aws_pkg.NewMetricsClient(awsCfg, cfg.MetricsNamespace, cfg.MetricsEnabled)

	events, closeEvents := buildEventPublisher(cfg, awsCfg, zapLogger)
	defer closeEvents()

	guard := services.NoopGuard()
	if cfg.RedisURL != "" {
		redisClient, err := database.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			zapLogger.Warn("Redis unavailable, webhook delivery guard disabled", zap.Error(err))
		} else {
			defer redisClient.Close() //nolint:errcheck
			guard = services.NewRedisDeliveryGuard(redisClient, cfg.DeliveryGuardTTL, zapLogger)
		}
	}

	processor, sources := buildProcessor(cfg)
	zapLogger.Info("Payment processor selected", zap.String("processor", processor.Name()))

	lifecycle := services.NewLifecycle(stores.Orders, stores.Sales, events, metrics, zapLogger)
	orderService := services.NewOrderService(stores.Orders, processor, lifecycle, zapLogger)
	webhookService := services.NewWebhookService(stores.Orders, sources, lifecycle, guard, zapLogger)

	var dispatcher services.Dispatcher
	switch cfg.WebhookDispatch {
	case config.DispatchSQS:
		sqsDispatcher := services.NewSQSDispatcher(aws_pkg.NewSQSQueue(awsCfg, cfg.WebhookQueueURL, zapLogger), webhookService, zapLogger)
		sqsDispatcher.Start(ctx)
		dispatcher = sqsDispatcher
	default:
		dispatcher = services.NewWorkerPoolDispatcher(webhookService,
			cfg.WebhookWorkers, cfg.WebhookQueueSize, cfg.WebhookTaskTimeout, metrics, zapLogger)
	}

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.RequestID())
	r.Use(middleware.RequestLogger(zapLogger, "/health"))
	r.Use(middleware.SecurityHeaders())
	r.Use(middleware.CORSMiddleware(cfg.AllowedOrigins))
	r.Use(middleware.MetricsMiddleware(metrics, cfg.ServiceName))
	r.Use(apperrors.ErrorMiddleware(zapLogger))

	// 30-second request timeout
	r.Use(func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 30*time.Second)
		defer cancel()
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	})

	routes.RegisterRoutes(r,
		controllers.NewOrderController(orderService),
		controllers.NewWebhookController(dispatcher, cfg.SkipsWebhookVerification(), zapLogger),
		controllers.NewHealthController(cfg.ServiceName, processor.Name()),
		routes.Options{
			Auth:               auth.NewTokenParser(cfg.JWTSecret),
			TrustGatewayUserID: cfg.TrustGatewayUserID,
			RateLimitPerMinute: cfg.RateLimitPerMinute,
			RateLimitBurst:     cfg.RateLimitBurst,
			EnableStripe:       cfg.Processor == config.ProcessorStripe,
		},
	)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zapLogger.Fatal("Server failed", zap.Error(err))
		}
	}()

	zapLogger.Info("PIX payment service started",
		zap.String("port", cfg.Port),
		zap.String("store", cfg.StoreDriver),
		zap.String("webhook_dispatch", cfg.WebhookDispatch),
	)
	<-quit
	zapLogger.Info("Shutting down PIX payment service...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zapLogger.Error("Server forced to shutdown", zap.Error(err))
	}
	if err := dispatcher.Shutdown(shutdownCtx); err != nil {
		zapLogger.Error("Webhook dispatcher did not drain", zap.Error(err))
	}
	zapLogger.Info("Server exited cleanly")
}

// buildProcessor returns the configured processor and the webhook sources
// that report on its charges.
func buildProcessor(cfg *config.Config) (providers.PaymentProcessor, map[string]services.WebhookSource) {
	if cfg.Processor == config.ProcessorStripe {
		backend := stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{
			HTTPClient:        &http.Client{Timeout: cfg.ProcessorTimeout},
			MaxNetworkRetries: stripe.Int64(0),
		})
		p := providers.NewStripeProcessor(cfg.StripeSecretKey, backend)
		return p, map[string]services.WebhookSource{
			models.SourceStripe: {Parser: services.NewStripeParser(cfg.StripeWebhookSecret), Processor: p},
		}
	}

	var opts []providers.MercadoPagoOption
	if cfg.MercadoPagoBaseURL != "" {
		opts = append(opts, providers.WithMercadoPagoBaseURL(cfg.MercadoPagoBaseURL))
	}
	if cfg.NotificationURL != "" {
		opts = append(opts, providers.WithNotificationURL(cfg.NotificationURL))
	}
	p := providers.NewMercadoPagoProcessor(cfg.MercadoPagoAccessToken, cfg.ProcessorTimeout, opts...)
	return p, map[string]services.WebhookSource{
		models.SourceMercadoPago: {Parser: services.NewMercadoPagoParser(services.NewSignatureVerifier(cfg.WebhookSecret)), Processor: p},
	}
}

func buildEventPublisher(cfg *config.Config, awsCfg sdkaws.Config, zapLogger *zap.Logger) (services.EventPublisher, func()) {
	switch cfg.EventsBackend {
	case config.EventsSNS:
		return services.NewSNSEventPublisher(aws_pkg.NewSNSClient(awsCfg), cfg.EventsTopicARN), func() {}
	case config.EventsKafka:
		producer := kafka.NewPaymentEventProducer(cfg.KafkaBrokers, cfg.KafkaTopic, zapLogger)
		return producer, func() {
			if err := producer.Close(); err != nil {
				zapLogger.Warn("Failed to close Kafka producer", zap.Error(err))
			}
		}
	default:
		return services.NoopPublisher(), func() {}
	}
}
