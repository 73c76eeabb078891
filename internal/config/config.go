package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"go.uber.org/fx"
)

// Module provides application configuration.
var Module = fx.Provide(Load)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	HTTPAddr    string

	OTLPEndpoint string

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int

	Billing   BillingConfig
	Bootstrap BootstrapConfig
}

// BootstrapConfig controls startup seeding for local and self-hosted
// deployments.
type BootstrapConfig struct {
	// EnsureDefaultOrg creates the default organization when missing.
	EnsureDefaultOrg bool

	// SeedDemoData loads a small demo portfolio so a fresh install can
	// generate invoices immediately.
	SeedDemoData bool
}

// BillingConfig holds billing and correction workflow knobs.
type BillingConfig struct {
	// ChangeReasonMinLen/MaxLen bound the free-text reason required on
	// every meter reading correction.
	ChangeReasonMinLen int
	ChangeReasonMaxLen int

	// MaxPeriodDays caps the length of a billing period.
	MaxPeriodDays int

	// DueDays is added to the period end to derive an invoice due date.
	DueDays int

	// BulkChunkSize bounds how many occupants are loaded per batch during
	// bulk invoice generation.
	BulkChunkSize int
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		AppName:     getenv("APP_SERVICE", "utiliko-billing"),
		AppVersion:  getenv("APP_VERSION", "0.1.0"),
		Environment: getenv("ENVIRONMENT", "development"),
		HTTPAddr:    getenv("HTTP_ADDR", ":8080"),

		OTLPEndpoint: getenv("OTLP_ENDPOINT", "localhost:4317"),

		DBType:            getenv("DB_TYPE", "postgres"),
		DBHost:            getenv("DB_HOST", "localhost"),
		DBPort:            getenv("DB_PORT", "5432"),
		DBName:            getenv("DB_NAME", "utiliko"),
		DBUser:            getenv("DB_USER", "utiliko"),
		DBPassword:        getenv("DB_PASSWORD", ""),
		DBSSLMode:         getenv("DB_SSLMODE", "disable"),
		DBMaxIdleConn:     getenvInt("DB_MAX_IDLE_CONN", 5),
		DBMaxOpenConn:     getenvInt("DB_MAX_OPEN_CONN", 25),
		DBConnMaxLifetime: getenvInt("DB_CONN_MAX_LIFETIME", 3600),
		DBConnMaxIdleTime: getenvInt("DB_CONN_MAX_IDLE_TIME", 600),

		Billing: BillingConfig{
			ChangeReasonMinLen: getenvInt("BILLING_REASON_MIN_LEN", 10),
			ChangeReasonMaxLen: getenvInt("BILLING_REASON_MAX_LEN", 500),
			MaxPeriodDays:      getenvInt("BILLING_MAX_PERIOD_DAYS", 366),
			DueDays:            getenvInt("BILLING_DUE_DAYS", 14),
			BulkChunkSize:      getenvInt("BILLING_BULK_CHUNK_SIZE", 10),
		},

		Bootstrap: BootstrapConfig{
			EnsureDefaultOrg: getenvBool("BOOTSTRAP_ENSURE_DEFAULT_ORG", true),
			SeedDemoData:     getenvBool("BOOTSTRAP_SEED_DEMO_DATA", false),
		},
	}
}

func getenv(key, def string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return def
}

func getenvBool(key string, def bool) bool {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return def
	}
	return parsed
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}
