package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	StoreMongo    = "mongo"
	StorePostgres = "postgres"
	StoreDynamoDB = "dynamodb"

	ProcessorMercadoPago = "mercadopago"
	ProcessorStripe      = "stripe"

	DispatchInline = "inline"
	DispatchSQS    = "sqs"

	EventsNone  = "none"
	EventsSNS   = "sns"
	EventsKafka = "kafka"
)

type Config struct {
	Env         string
	Port        string
	ServiceName string
	LogGroup    string

	AllowedOrigins     []string
	RateLimitPerMinute int
	RateLimitBurst     int
	JWTSecret          string
	TrustGatewayUserID bool

	StoreDriver       string
	MongoURI          string
	MongoDatabase     string
	PostgresUser      string
	PostgresPassword  string
	PostgresDB        string
	PostgresHost      string
	PostgresPort      string
	PostgresSSLMode   string
	PostgresTimeZone  string
	DynamoOrdersTable string
	DynamoSalesTable  string

	Processor              string
	ProcessorTimeout       time.Duration
	MercadoPagoAccessToken string
	MercadoPagoBaseURL     string
	NotificationURL        string
	StripeSecretKey        string
	StripeWebhookSecret    string

	WebhookSecret             string
	WebhookInsecureSkipVerify bool
	WebhookDispatch           string
	WebhookQueueURL           string
	WebhookWorkers            int
	WebhookQueueSize          int
	WebhookTaskTimeout        time.Duration

	RedisURL         string
	DeliveryGuardTTL time.Duration

	EventsBackend  string
	EventsTopicARN string
	KafkaBrokers   []string
	KafkaTopic     string

	AWSRegion        string
	AWSEndpoint      string
	AWSAccessKeyID   string
	AWSSecretKey     string
	AWSUseSecrets    bool
	AWSSecretName    string
	MetricsEnabled   bool
	MetricsNamespace string
}

// LoadConfig reads the environment, after loading a .env file if present.
// Call Validate once secrets have been applied.
func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Env:         getEnv("APP_ENV", "development"),
		Port:        getEnv("PORT", "8080"),
		ServiceName: getEnv("SERVICE_NAME", "pix-payment-service"),
		LogGroup:    os.Getenv("CLOUDWATCH_LOG_GROUP"),

		AllowedOrigins:     splitList(getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:3000")),
		RateLimitPerMinute: getEnvInt("RATE_LIMIT_PER_MINUTE", 120),
		RateLimitBurst:     getEnvInt("RATE_LIMIT_BURST", 20),
		JWTSecret:          os.Getenv("JWT_SECRET"),
		TrustGatewayUserID: getEnvBool("TRUST_GATEWAY_USER_ID", false),

		StoreDriver:       strings.ToLower(getEnv("STORE_DRIVER", StoreMongo)),
		MongoURI:          getEnv("MONGO_URI", "mongodb://localhost:27017"),
		MongoDatabase:     getEnv("MONGO_DATABASE", "pix_payments"),
		PostgresUser:      os.Getenv("POSTGRES_USER"),
		PostgresPassword:  os.Getenv("POSTGRES_PASSWORD"),
		PostgresDB:        os.Getenv("POSTGRES_DB"),
		PostgresHost:      os.Getenv("POSTGRES_HOST"),
		PostgresPort:      getEnv("POSTGRES_PORT", "5432"),
		PostgresSSLMode:   getEnv("POSTGRES_SSLMODE", "disable"),
		PostgresTimeZone:  getEnv("POSTGRES_TIMEZONE", "America/Sao_Paulo"),
		DynamoOrdersTable: getEnv("DYNAMODB_ORDERS_TABLE", "pix-orders"),
		DynamoSalesTable:  getEnv("DYNAMODB_SALES_TABLE", "pix-sales"),

		Processor:              strings.ToLower(getEnv("PAYMENT_PROCESSOR", ProcessorMercadoPago)),
		ProcessorTimeout:       getEnvDuration("PROCESSOR_TIMEOUT", 5*time.Second),
		MercadoPagoAccessToken: os.Getenv("MERCADOPAGO_ACCESS_TOKEN"),
		MercadoPagoBaseURL:     os.Getenv("MERCADOPAGO_BASE_URL"),
		NotificationURL:        os.Getenv("WEBHOOK_NOTIFICATION_URL"),
		StripeSecretKey:        os.Getenv("STRIPE_API_KEY"),
		StripeWebhookSecret:    os.Getenv("STRIPE_WEBHOOK_SECRET"),

		WebhookSecret:             os.Getenv("WEBHOOK_SECRET"),
		WebhookInsecureSkipVerify: getEnvBool("WEBHOOK_INSECURE_SKIP_VERIFY", false),
		WebhookDispatch:           strings.ToLower(getEnv("WEBHOOK_DISPATCH", DispatchInline)),
		WebhookQueueURL:           os.Getenv("WEBHOOK_QUEUE_URL"),
		WebhookWorkers:            getEnvInt("WEBHOOK_WORKERS", 4),
		WebhookQueueSize:          getEnvInt("WEBHOOK_QUEUE_SIZE", 256),
		WebhookTaskTimeout:        getEnvDuration("WEBHOOK_TASK_TIMEOUT", 30*time.Second),

		RedisURL:         os.Getenv("REDIS_URL"),
		DeliveryGuardTTL: getEnvDuration("DELIVERY_GUARD_TTL", 24*time.Hour),

		EventsBackend:  strings.ToLower(getEnv("EVENTS_BACKEND", EventsNone)),
		EventsTopicARN: os.Getenv("PAYMENT_SNS_TOPIC_ARN"),
		KafkaBrokers:   splitList(os.Getenv("KAFKA_BROKERS")),
		KafkaTopic:     getEnv("KAFKA_TOPIC", "payment-events"),

		AWSRegion:        getEnv("AWS_REGION", "sa-east-1"),
		AWSEndpoint:      os.Getenv("AWS_ENDPOINT"),
		AWSAccessKeyID:   os.Getenv("AWS_ACCESS_KEY_ID"),
		AWSSecretKey:     os.Getenv("AWS_SECRET_ACCESS_KEY"),
		AWSUseSecrets:    getEnvBool("AWS_USE_SECRETS", false),
		AWSSecretName:    getEnv("AWS_SECRET_NAME", "pix-payment-service"),
		MetricsEnabled:   getEnvBool("METRICS_ENABLED", false),
		MetricsNamespace: getEnv("METRICS_NAMESPACE", "PixPayments"),
	}
	return cfg, nil
}

// SecretSource returns a JSON secret as a flat map.
// *aws.SecretsClient satisfies it.
type SecretSource interface {
	GetSecretJSON(ctx context.Context, name string) (map[string]string, error)
}

// ApplySecrets overrides credentials with values from the configured secret.
// Keys use the environment variable names.
func (c *Config) ApplySecrets(ctx context.Context, src SecretSource) error {
	values, err := src.GetSecretJSON(ctx, c.AWSSecretName)
	if err != nil {
		return fmt.Errorf("load secret %s: %w", c.AWSSecretName, err)
	}

	targets := map[string]*string{
		"MERCADOPAGO_ACCESS_TOKEN": &c.MercadoPagoAccessToken,
		"WEBHOOK_SECRET":           &c.WebhookSecret,
		"STRIPE_API_KEY":           &c.StripeSecretKey,
		"STRIPE_WEBHOOK_SECRET":    &c.StripeWebhookSecret,
		"JWT_SECRET":               &c.JWTSecret,
		"MONGO_URI":                &c.MongoURI,
		"POSTGRES_USER":            &c.PostgresUser,
		"POSTGRES_PASSWORD":        &c.PostgresPassword,
		"REDIS_URL":                &c.RedisURL,
	}
	for key, dst := range targets {
		if v, ok := values[key]; ok && v != "" {
			*dst = v
		}
	}
	return nil
}

// Validate checks that the selected drivers have what they need.
func (c *Config) Validate() error {
	var errs []error

	switch c.StoreDriver {
	case StoreMongo:
		if c.MongoURI == "" {
			errs = append(errs, errors.New("MONGO_URI is required for the mongo store"))
		}
	case StorePostgres:
		if c.PostgresUser == "" || c.PostgresPassword == "" || c.PostgresDB == "" || c.PostgresHost == "" {
			errs = append(errs, errors.New("POSTGRES_USER, POSTGRES_PASSWORD, POSTGRES_DB and POSTGRES_HOST are required for the postgres store"))
		}
	case StoreDynamoDB:
		if c.DynamoOrdersTable == "" || c.DynamoSalesTable == "" {
			errs = append(errs, errors.New("DYNAMODB_ORDERS_TABLE and DYNAMODB_SALES_TABLE are required for the dynamodb store"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver))
	}

	switch c.Processor {
	case ProcessorMercadoPago:
		if c.MercadoPagoAccessToken == "" {
			errs = append(errs, errors.New("MERCADOPAGO_ACCESS_TOKEN is required"))
		}
		if c.WebhookSecret == "" && !c.WebhookInsecureSkipVerify {
			errs = append(errs, errors.New("WEBHOOK_SECRET is required unless WEBHOOK_INSECURE_SKIP_VERIFY=true"))
		}
	case ProcessorStripe:
		if c.StripeSecretKey == "" {
			errs = append(errs, errors.New("STRIPE_API_KEY is required"))
		}
		if c.StripeWebhookSecret == "" && !c.WebhookInsecureSkipVerify {
			errs = append(errs, errors.New("STRIPE_WEBHOOK_SECRET is required unless WEBHOOK_INSECURE_SKIP_VERIFY=true"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown PAYMENT_PROCESSOR %q", c.Processor))
	}

	if c.WebhookInsecureSkipVerify && c.IsProduction() {
		errs = append(errs, errors.New("WEBHOOK_INSECURE_SKIP_VERIFY is not allowed in production"))
	}

	switch c.WebhookDispatch {
	case DispatchInline:
	case DispatchSQS:
		if c.WebhookQueueURL == "" {
			errs = append(errs, errors.New("WEBHOOK_QUEUE_URL is required when WEBHOOK_DISPATCH=sqs"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown WEBHOOK_DISPATCH %q", c.WebhookDispatch))
	}

	switch c.EventsBackend {
	case EventsNone:
	case EventsSNS:
		if c.EventsTopicARN == "" {
			errs = append(errs, errors.New("PAYMENT_SNS_TOPIC_ARN is required when EVENTS_BACKEND=sns"))
		}
	case EventsKafka:
		if len(c.KafkaBrokers) == 0 {
			errs = append(errs, errors.New("KAFKA_BROKERS is required when EVENTS_BACKEND=kafka"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown EVENTS_BACKEND %q", c.EventsBackend))
	}

	if c.ProcessorTimeout <= 0 {
		errs = append(errs, errors.New("PROCESSOR_TIMEOUT must be positive"))
	}

	return errors.Join(errs...)
}

// SkipsWebhookVerification reports whether deliveries for the configured
// processor are accepted unsigned: the skip flag is set and no secret is
// available to verify with.
func (c *Config) SkipsWebhookVerification() bool {
	if !c.WebhookInsecureSkipVerify {
		return false
	}
	switch c.Processor {
	case ProcessorMercadoPago:
		return c.WebhookSecret == ""
	case ProcessorStripe:
		return c.StripeWebhookSecret == ""
	}
	return false
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// NeedsAWS reports whether any AWS client must be built.
func (c *Config) NeedsAWS() bool {
	return c.StoreDriver == StoreDynamoDB ||
		c.WebhookDispatch == DispatchSQS ||
		c.EventsBackend == EventsSNS ||
		c.AWSUseSecrets ||
		c.MetricsEnabled ||
		c.LogGroup != ""
}

// PostgresDSN builds the gorm/pgx connection string.
func (c *Config) PostgresDSN() string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=%s TimeZone=%s",
		c.PostgresHost, c.PostgresUser, c.PostgresPassword, c.PostgresDB,
		c.PostgresPort, c.PostgresSSLMode, c.PostgresTimeZone)
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return v
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v, err := strconv.ParseBool(os.Getenv(key)); err == nil {
		return v
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v, err := time.ParseDuration(os.Getenv(key)); err == nil {
		return v
	}
	return fallback
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
