package config

import (
	"fmt"
	"log"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Credential store backends
const (
	StoreMemory   = "memory"
	StoreFile     = "file"
	StorePostgres = "postgres"
)

// Config holds console configuration
type Config struct {
	Port                string
	APIBaseURL          string
	APITimeout          time.Duration
	CredentialStore     string // memory, file, postgres
	CredentialFile      string
	CredentialSecret    string
	CredentialNamespace string
	DatabaseURL         string
	RabbitMQURL         string // empty disables session event publishing
	LoginRatePerMinute  float64
	LoginBurst          int
	Environment         string // development, staging, production
}

// Load loads configuration from environment variables and validates it
func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	cfg := &Config{
		Port:                getEnv("PORT", "8080"),
		APIBaseURL:          getEnv("API_BASE_URL", "http://localhost:5000/api"),
		APITimeout:          getDuration("API_TIMEOUT", 10*time.Second),
		CredentialStore:     getEnv("CREDENTIAL_STORE", StoreFile),
		CredentialFile:      getEnv("CREDENTIAL_FILE", "./data/credentials.bin"),
		CredentialSecret:    getEnv("CREDENTIAL_SECRET", ""),
		CredentialNamespace: getEnv("CREDENTIAL_NAMESPACE", hostname()),
		DatabaseURL:         getEnv("DATABASE_URL", ""),
		RabbitMQURL:         getEnv("RABBITMQ_URL", ""),
		LoginRatePerMinute:  getFloat("LOGIN_RATE_PER_MINUTE", 5),
		LoginBurst:          getInt("LOGIN_BURST", 5),
		Environment:         getEnv("ENVIRONMENT", "development"),
	}

	if err := cfg.Validate(); err != nil {
		log.Fatalf("Configuration validation failed: %v", err)
	}

	return cfg
}

// Validate checks configuration for security and correctness
func (c *Config) Validate() error {
	u, err := url.Parse(c.APIBaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("API_BASE_URL must be an absolute URL (got %q)", c.APIBaseURL)
	}

	switch c.CredentialStore {
	case StoreMemory, StoreFile:
	case StorePostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when CREDENTIAL_STORE=postgres")
		}
		if c.CredentialNamespace == "" {
			return fmt.Errorf("CREDENTIAL_NAMESPACE is required when CREDENTIAL_STORE=postgres")
		}
	default:
		return fmt.Errorf("CREDENTIAL_STORE must be one of memory, file, postgres (got %q)", c.CredentialStore)
	}

	if c.CredentialStore == StoreFile && c.CredentialFile == "" {
		return fmt.Errorf("CREDENTIAL_FILE is required when CREDENTIAL_STORE=file")
	}

	if c.LoginRatePerMinute <= 0 || c.LoginBurst <= 0 {
		return fmt.Errorf("LOGIN_RATE_PER_MINUTE and LOGIN_BURST must be positive")
	}

	if c.IsProduction() {
		if c.CredentialSecret == "" || c.CredentialSecret == "change-this-in-production" {
			return fmt.Errorf("CREDENTIAL_SECRET must be set to a strong random value in production")
		}
		if len(c.CredentialSecret) < 32 {
			return fmt.Errorf("CREDENTIAL_SECRET must be at least 32 characters in production (got %d)", len(c.CredentialSecret))
		}
		if u.Scheme != "https" {
			log.Println("WARNING: API_BASE_URL should use HTTPS in production")
		}
	} else if c.CredentialSecret == "" {
		c.CredentialSecret = "dev-secret-not-for-production"
		log.Println("Using default CREDENTIAL_SECRET for development")
	}

	return nil
}

// IsProduction returns true if running in production environment
func (c *Config) IsProduction() bool {
	return c.Environment == "production" || c.Environment == "prod"
}

// IsDevelopment returns true if running in development environment
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development" || c.Environment == "dev" || c.Environment == ""
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		log.Printf("Invalid %s=%q, using %s", key, value, defaultValue)
		return defaultValue
	}
	return d
}

func getFloat(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		log.Printf("Invalid %s=%q, using %v", key, value, defaultValue)
		return defaultValue
	}
	return f
}

func getInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		log.Printf("Invalid %s=%q, using %d", key, value, defaultValue)
		return defaultValue
	}
	return n
}

func hostname() string {
	name, err := os.Hostname()
	if err != nil {
		return "default"
	}
	return name
}
