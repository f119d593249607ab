package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const envPrefix = "PMDASH_"

// parseEnv overlays PMDASH_* environment variables. Unset or empty
// variables are ignored; malformed numbers and durations are errors.
func parseEnv(c *Config) error {
	var errs []error
	collect := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	envString("HTTP_ADDR", &c.HTTPAddr)
	envString("GRPC_ADDR", &c.GRPCAddr)
	envString("LOG_LEVEL", &c.LogLevel)
	envString("FRONTEND_URL", &c.FrontendURL)
	collect(envDuration("SHUTDOWN_TIMEOUT", &c.ShutdownTimeout))

	envString("USER_STORE", &c.UserStore)
	envString("TRANSIENT_STORE", &c.TransientStore)
	envString("DATABASE_DSN", &c.DatabaseDSN)
	envString("SQLITE_PATH", &c.SQLitePath)
	envString("S3_BUCKET", &c.S3Bucket)
	envString("S3_KEY", &c.S3Key)
	envString("S3_REGION", &c.S3Region)
	envString("S3_BASE_ENDPOINT", &c.S3BaseEndpoint)
	envString("S3_ACCESS_KEY", &c.S3AccessKey)
	envString("S3_SECRET_KEY", &c.S3SecretKey)
	envString("REDIS_ADDR", &c.RedisAddr)
	envString("REDIS_PASSWORD", &c.RedisPassword)
	collect(envInt("REDIS_DB", &c.RedisDB))

	envString("JWT_SECRET", &c.JWTSecret)
	envString("JWT_ISSUER", &c.JWTIssuer)
	collect(envDuration("SESSION_TTL", &c.SessionTTL))
	collect(envDuration("RESET_TOKEN_TTL", &c.ResetTokenTTL))
	collect(envDuration("CHALLENGE_TTL", &c.ChallengeTTL))
	envString("SECRETS_KEY", &c.SecretsKey)

	envString("PASSWORD_HASHER", &c.PasswordHasher)
	collect(envInt("BCRYPT_COST", &c.BcryptCost))
	envString("OTP_ISSUER", &c.OTPIssuer)
	collect(envInt("OTP_SKEW", &c.OTPSkew))

	envString("ADMIN_USERNAME", &c.DefaultAdminUsername)
	envString("ADMIN_PASSWORD", &c.DefaultAdminPassword)
	envString("ADMIN_EMAIL", &c.DefaultAdminEmail)

	envString("NOTIFIER", &c.Notifier)
	envString("SMTP_HOST", &c.SMTPHost)
	collect(envInt("SMTP_PORT", &c.SMTPPort))
	envString("SMTP_USER", &c.SMTPUser)
	envString("SMTP_PASSWORD", &c.SMTPPassword)
	envString("SMTP_FROM", &c.SMTPFrom)
	envCSV("KAFKA_BROKERS", &c.KafkaBrokers)
	envString("KAFKA_TOPIC", &c.KafkaTopic)
	collect(envInt("NOTIFY_QUEUE_SIZE", &c.NotifyQueueSize))
	collect(envInt("NOTIFY_WORKERS", &c.NotifyWorkers))

	return errors.Join(errs...)
}

func envString(key string, dst *string) {
	if v := os.Getenv(envPrefix + key); v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) error {
	v := os.Getenv(envPrefix + key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s%s: %w", envPrefix, key, err)
	}
	*dst = n
	return nil
}

func envDuration(key string, dst *time.Duration) error {
	v := os.Getenv(envPrefix + key)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("%s%s: %w", envPrefix, key, err)
	}
	*dst = d
	return nil
}

func envCSV(key string, dst *[]string) {
	v := os.Getenv(envPrefix + key)
	if v == "" {
		return
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) > 0 {
		*dst = out
	}
}
