package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Database DatabaseConfig
	Server   ServerConfig
	Auth     AuthConfig
	Twofa    TwofaConfig
	Notifier NotifierConfig
}

type DatabaseConfig struct {
	Host              string
	Port              int
	User              string
	Password          string
	Name              string
	SSLMode           string
	MaxConns          int32
	MinConns          int32
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
}

type ServerConfig struct {
	Port           string
	Env            string
	LogLevel       string
	AllowedOrigins []string
}

type AuthConfig struct {
	// JWTSecret verifies access tokens minted by the external auth
	// service; this service never signs tokens.
	JWTSecret string
	// ServiceKey gates the login-flow endpoints called by the auth service.
	ServiceKey string
	// CallbackSecret gates the decision callbacks from the messaging bridge.
	CallbackSecret string
}

type TwofaConfig struct {
	Issuer             string
	SetupTTL           time.Duration
	PendingChangeTTL   time.Duration
	LoginChallengeTTL  time.Duration
	StatusGrace        time.Duration
	MaxVerifyAttempts  int
	VerifyWindow       int
	StorePurgeInterval time.Duration
}

type NotifierConfig struct {
	AWSRegion   string
	FromAddress string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	env := getEnv("ENV", "development")

	jwtSecret := getEnv("JWT_SECRET", "")
	if jwtSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}
	serviceKey := getEnv("SERVICE_KEY", "")
	if serviceKey == "" {
		return nil, fmt.Errorf("SERVICE_KEY is required")
	}
	callbackSecret := getEnv("CALLBACK_SECRET", "")
	if callbackSecret == "" {
		return nil, fmt.Errorf("CALLBACK_SECRET is required")
	}

	cfg := &Config{
		Database: DatabaseConfig{
			Host:              getEnv("DB_HOST", "localhost"),
			Port:              getEnvAsInt("DB_PORT", 5432),
			User:              getEnv("DB_USER", "postgres"),
			Password:          getEnv("DB_PASSWORD", ""),
			Name:              getEnv("DB_NAME", "warden"),
			SSLMode:           getEnv("DB_SSLMODE", "disable"),
			MaxConns:          int32(getEnvAsInt("DB_MAX_CONNS", 25)),
			MinConns:          int32(getEnvAsInt("DB_MIN_CONNS", 5)),
			MaxConnLifetime:   getEnvAsDuration("DB_MAX_CONN_LIFETIME", 5*time.Minute),
			MaxConnIdleTime:   getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 1*time.Minute),
			HealthCheckPeriod: getEnvAsDuration("DB_HEALTH_CHECK_PERIOD", 1*time.Minute),
		},
		Server: ServerConfig{
			Port:           getEnv("PORT", "8080"),
			Env:            env,
			LogLevel:       getEnv("LOG_LEVEL", "info"),
			AllowedOrigins: parseAllowedOrigins(env),
		},
		Auth: AuthConfig{
			JWTSecret:      jwtSecret,
			ServiceKey:     serviceKey,
			CallbackSecret: callbackSecret,
		},
		Twofa: TwofaConfig{
			Issuer:             getEnv("TWOFA_ISSUER", "Openclave"),
			SetupTTL:           getEnvAsDuration("TWOFA_SETUP_TTL", 5*time.Minute),
			PendingChangeTTL:   getEnvAsDuration("TWOFA_PENDING_CHANGE_TTL", 5*time.Minute),
			LoginChallengeTTL:  getEnvAsDuration("TWOFA_LOGIN_CHALLENGE_TTL", 10*time.Minute),
			StatusGrace:        getEnvAsDuration("TWOFA_STATUS_GRACE", 5*time.Minute),
			MaxVerifyAttempts:  getEnvAsInt("TWOFA_MAX_VERIFY_ATTEMPTS", 5),
			VerifyWindow:       getEnvAsInt("TWOFA_VERIFY_WINDOW", 1),
			StorePurgeInterval: getEnvAsDuration("TWOFA_STORE_PURGE_INTERVAL", 1*time.Minute),
		},
		Notifier: NotifierConfig{
			AWSRegion:   getEnv("AWS_REGION", "us-east-1"),
			FromAddress: getEnv("NOTIFIER_FROM_ADDRESS", "no-reply@openclave.io"),
		},
	}

	if cfg.Database.Password == "" {
		return nil, fmt.Errorf("DB_PASSWORD is required")
	}

	if err := validateSecret("JWT_SECRET", jwtSecret, env); err != nil {
		return nil, err
	}
	if err := validateSecret("SERVICE_KEY", serviceKey, env); err != nil {
		return nil, err
	}
	if err := validateSecret("CALLBACK_SECRET", callbackSecret, env); err != nil {
		return nil, err
	}

	if cfg.Twofa.MaxVerifyAttempts < 1 {
		return nil, fmt.Errorf("TWOFA_MAX_VERIFY_ATTEMPTS must be at least 1")
	}
	if cfg.Twofa.VerifyWindow < 0 || cfg.Twofa.VerifyWindow > 2 {
		return nil, fmt.Errorf("TWOFA_VERIFY_WINDOW must be between 0 and 2")
	}

	return cfg, nil
}

// validateSecret enforces minimum strength for shared secrets
func validateSecret(name, secret, env string) error {
	minLength := 16
	if env == "production" {
		minLength = 32
	}

	if len(secret) < minLength {
		return fmt.Errorf("%s must be at least %d characters in %s environment (got %d)",
			name, minLength, env, len(secret))
	}

	weakSecrets := []string{
		"secret", "test", "password", "12345", "changeme",
		"admin", "root", "default", "example",
	}

	secretLower := strings.ToLower(secret)
	for _, weak := range weakSecrets {
		if secretLower == weak {
			return fmt.Errorf("%s cannot be a common weak value", name)
		}
	}

	return nil
}

func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

func getEnv(key, defaultVal string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultVal
}

func parseAllowedOrigins(env string) []string {
	if env == "production" {
		originsStr := getEnv("ALLOWED_ORIGINS", "")
		if originsStr == "" {
			return []string{}
		}
		origins := strings.Split(originsStr, ",")
		for i, origin := range origins {
			origins[i] = strings.TrimSpace(origin)
		}
		return origins
	}

	// Development: allow localhost variants
	return []string{
		"http://localhost:3000",
		"http://localhost:8080",
		"http://localhost:5173",
		"http://127.0.0.1:3000",
		"http://127.0.0.1:8080",
		"http://127.0.0.1:5173",
	}
}
