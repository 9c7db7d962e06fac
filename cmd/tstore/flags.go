package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/antonminaichev/tstore/internal/fulfillment"
	"github.com/caarlos0/env"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

type Config struct {
	Address  string `env:"RUN_ADDRESS" envDefault:"localhost:8080"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"INFO"`
	LogFile  string `env:"LOG_FILE"`

	DatabaseConnection string `env:"DATABASE_URI"`

	RedisAddr      string        `env:"REDIS_ADDR"`
	RedisPassword  string        `env:"REDIS_PASSWORD"`
	IdempotencyTTL time.Duration `env:"IDEMPOTENCY_TTL" envDefault:"24h"`

	RabbitURL string `env:"RABBITMQ_URL"`

	KafkaBrokers     string `env:"KAFKA_BROKERS"`
	KafkaGroup       string `env:"KAFKA_GROUP" envDefault:"tstore-fulfillment"`
	KafkaStatusTopic string `env:"KAFKA_STATUS_TOPIC" envDefault:"fulfillment.status"`

	JWTSecret string        `env:"JWT_SECRET" envDefault:"dontexposethis"`
	JWTTTL    time.Duration `env:"JWT_TTL" envDefault:"24h"`

	PaymentAPIURL           string        `env:"PAYMENT_API_URL" envDefault:"https://api.stripe.com"`
	PaymentSecretKey        string        `env:"PAYMENT_SECRET_KEY"`
	PaymentWebhookSecret    string        `env:"PAYMENT_WEBHOOK_SECRET"`
	PaymentWebhookTolerance time.Duration `env:"PAYMENT_WEBHOOK_TOLERANCE" envDefault:"5m"`

	PartnerAPIURL         string        `env:"PARTNER_API_URL" envDefault:"https://order.gelatoapis.com"`
	PartnerAPIKey         string        `env:"PARTNER_API_KEY"`
	PartnerTimeout        time.Duration `env:"PARTNER_TIMEOUT" envDefault:"15s"`
	PartnerShipmentMethod string        `env:"PARTNER_SHIPMENT_METHOD" envDefault:"express"`
	BrandLabelInsideURL   string        `env:"BRAND_LABEL_INSIDE_URL"`

	ReturnName     string `env:"RETURN_NAME"`
	ReturnLine1    string `env:"RETURN_LINE1"`
	ReturnLine2    string `env:"RETURN_LINE2"`
	ReturnCity     string `env:"RETURN_CITY"`
	ReturnState    string `env:"RETURN_STATE"`
	ReturnPostCode string `env:"RETURN_POSTCODE"`
	ReturnCountry  string `env:"RETURN_COUNTRY" envDefault:"US"`
	ReturnEmail    string `env:"RETURN_EMAIL"`
	ReturnPhone    string `env:"RETURN_PHONE"`

	MailAPIURL  string `env:"MAIL_API_URL" envDefault:"https://api.resend.com"`
	MailAPIKey  string `env:"MAIL_API_KEY"`
	MailFrom    string `env:"MAIL_FROM" envDefault:"orders@example.com"`
	MailReplyTo string `env:"MAIL_REPLY_TO"`

	PollerEnabled bool          `env:"FULFILLMENT_POLLER_ENABLED" envDefault:"true"`
	PollWorkers   int           `env:"FULFILLMENT_WORKERS" envDefault:"2"`
	PollInterval  time.Duration `env:"FULFILLMENT_POLL_INTERVAL" envDefault:"5m"`
	PollBatchSize int           `env:"FULFILLMENT_BATCH_SIZE" envDefault:"50"`
	PollLookback  time.Duration `env:"FULFILLMENT_LOOKBACK" envDefault:"168h"`
}

// NewConfig reads .env (if present) and the environment. Flags are bound on
// top of it by bindFlags, so the command line wins.
func NewConfig() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func bindFlags(cmd *cobra.Command, cfg *Config) {
	fs := cmd.PersistentFlags()
	fs.StringVarP(&cfg.Address, "address", "a", cfg.Address, "{Host:port} for server")
	fs.StringVarP(&cfg.LogLevel, "log-level", "l", cfg.LogLevel, "Log level")
	fs.StringVarP(&cfg.DatabaseConnection, "database", "d", cfg.DatabaseConnection, "Database connection string")
	fs.IntVarP(&cfg.PollWorkers, "workers", "w", cfg.PollWorkers, "Size of the fulfillment poller pool")
	fs.DurationVarP(&cfg.PollInterval, "interval", "i", cfg.PollInterval, "Fulfillment poll interval (e.g. 5m)")
}

// Validate checks what every command needs; serve additionally needs the payment keys.
func (c *Config) Validate(serve bool) error {
	var errs []error
	if c.DatabaseConnection == "" {
		errs = append(errs, errors.New("DATABASE_URI must be set"))
	}
	if c.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET must be set"))
	}
	if serve {
		if c.PaymentSecretKey == "" {
			errs = append(errs, errors.New("PAYMENT_SECRET_KEY must be set"))
		}
		if c.PaymentWebhookSecret == "" {
			errs = append(errs, errors.New("PAYMENT_WEBHOOK_SECRET must be set"))
		}
	}
	if c.PollWorkers <= 0 {
		errs = append(errs, fmt.Errorf("workers must be positive, got %d", c.PollWorkers))
	}
	return errors.Join(errs...)
}

func (c *Config) Brokers() []string {
	var out []string
	for _, b := range strings.Split(c.KafkaBrokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}

func (c *Config) PollerConfig() fulfillment.PollerConfig {
	return fulfillment.PollerConfig{
		Workers:     c.PollWorkers,
		Interval:    c.PollInterval,
		BatchSize:   c.PollBatchSize,
		Lookback:    c.PollLookback,
		CallTimeout: c.PartnerTimeout,
	}
}

func (c *Config) SubmitConfig() fulfillment.SubmitConfig {
	first, last, _ := strings.Cut(strings.TrimSpace(c.ReturnName), " ")
	return fulfillment.SubmitConfig{
		ShipmentMethodUID: c.PartnerShipmentMethod,
		BrandLabelURL:     c.BrandLabelInsideURL,
		ReturnAddress: fulfillment.PartnerAddress{
			CompanyName:  c.ReturnName,
			FirstName:    first,
			LastName:     last,
			AddressLine1: c.ReturnLine1,
			AddressLine2: c.ReturnLine2,
			State:        c.ReturnState,
			City:         c.ReturnCity,
			PostCode:     c.ReturnPostCode,
			Country:      strings.ToUpper(c.ReturnCountry),
			Email:        c.ReturnEmail,
			Phone:        c.ReturnPhone,
		},
	}
}
