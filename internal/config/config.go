// Package config defines the global configuration structure for the service.
// Configuration is loaded once at process initialization and is immutable
// thereafter. It follows 12-Factor App principles by strictly separating
// code from configuration.
//
// Values are resolved from the OS environment, optionally seeded from a
// dotenv file. Any missing required value or invalid format causes the
// application to fail immediately on startup (fail fast).
package config

import (
	"time"

	"polarsync/internal/types"
)

// SecretString is an alias for types.SecretString, the redacted secret type used
// throughout configuration to prevent accidental logging of sensitive values.
type SecretString = types.SecretString

// Config is the top-level configuration struct for the service.
// It is populated once during process initialization and never modified.
// Sub-components receive only the specific config subsets they require.
type Config struct {
	// System Metadata
	Environment string `envconfig:"APP_ENV" validate:"required,oneof=local dev staging prod"`
	Service     string `envconfig:"SERVICE_NAME" default:"polarsync"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	// Domain Configurations
	Server        ServerConfig
	Database      DatabaseConfig
	Polar         PolarConfig
	Email         EmailConfig
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server and public URL configuration.
type ServerConfig struct {
	Port string `envconfig:"PORT" default:"8080"`
	// Public URL for checkout success redirects (no trailing slash).
	SuccessURL string `envconfig:"CHECKOUT_SUCCESS_URL" validate:"required,url"`
}

// DatabaseConfig holds database connection and pool tuning parameters.
type DatabaseConfig struct {
	URL SecretString `envconfig:"DATABASE_URL" validate:"required,url"`

	// Tuning Parameters
	MaxConns          int           `envconfig:"DB_MAX_CONNS" default:"10"`
	MinConns          int           `envconfig:"DB_MIN_CONNS" default:"2"`
	MaxConnLifetime   time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`
	AcquireTimeout    time.Duration `envconfig:"DB_ACQUIRE_TIMEOUT" default:"2s"`
	HealthCheckPeriod time.Duration `envconfig:"DB_HEALTH_CHECK_PERIOD" default:"1m"`
}

// PolarConfig holds the payment provider credentials and webhook secret.
type PolarConfig struct {
	AccessToken   SecretString `envconfig:"POLAR_ACCESS_TOKEN" validate:"required"`
	WebhookSecret SecretString `envconfig:"POLAR_WEBHOOK_SECRET"`
	// Server selects the provider environment ("production" or "sandbox").
	Server string `envconfig:"POLAR_SERVER" default:"production" validate:"oneof=production sandbox"`
}

// EmailConfig holds email delivery provider credentials.
type EmailConfig struct {
	SendGridAPIKey SecretString `envconfig:"SENDGRID_API_KEY"`
	FromAddress    string       `envconfig:"EMAIL_FROM_ADDRESS" default:"receipts@polarsync.dev"`
	FromName       string       `envconfig:"EMAIL_FROM_NAME" default:"Polarsync Receipts"`
	TemplateID     string       `envconfig:"EMAIL_RECEIPT_TEMPLATE_ID"`
	Enabled        bool         `envconfig:"FEATURE_ENABLE_EMAIL" default:"true"`
}

// ObservabilityConfig holds telemetry and monitoring settings.
type ObservabilityConfig struct {
	MetricNamespace string `envconfig:"METRIC_NAMESPACE" default:"Polarsync"`
	EnableMetrics   bool   `envconfig:"ENABLE_METRICS" default:"true"`
	AWSRegion       string `envconfig:"AWS_REGION" default:"us-east-1"`
}
