package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/dmitrijs2005/pmdash/internal/flagx"
	"github.com/dmitrijs2005/pmdash/internal/timex"
)

// JsonConfig is the on-disk shape of the config file. Durations accept
// either "90s"-style strings or integer nanoseconds. Zero values leave the
// current setting untouched.
type JsonConfig struct {
	HTTPAddr        string         `json:"http_addr"`
	GRPCAddr        string         `json:"grpc_addr"`
	LogLevel        string         `json:"log_level"`
	FrontendURL     string         `json:"frontend_url"`
	ShutdownTimeout timex.Duration `json:"shutdown_timeout"`

	UserStore      string `json:"user_store"`
	TransientStore string `json:"transient_store"`
	DatabaseDSN    string `json:"database_dsn"`
	SQLitePath     string `json:"sqlite_path"`
	S3Bucket       string `json:"s3_bucket"`
	S3Key          string `json:"s3_key"`
	S3Region       string `json:"s3_region"`
	S3BaseEndpoint string `json:"s3_base_endpoint"`
	S3AccessKey    string `json:"s3_access_key"`
	S3SecretKey    string `json:"s3_secret_key"`
	RedisAddr      string `json:"redis_addr"`
	RedisPassword  string `json:"redis_password"`
	RedisDB        int    `json:"redis_db"`

	JWTSecret     string         `json:"jwt_secret"`
	JWTIssuer     string         `json:"jwt_issuer"`
	SessionTTL    timex.Duration `json:"session_ttl"`
	ResetTokenTTL timex.Duration `json:"reset_token_ttl"`
	ChallengeTTL  timex.Duration `json:"challenge_ttl"`
	SecretsKey    string         `json:"secrets_key"`

	PasswordHasher string `json:"password_hasher"`
	BcryptCost     int    `json:"bcrypt_cost"`
	OTPIssuer      string `json:"otp_issuer"`
	OTPSkew        int    `json:"otp_skew"`

	DefaultAdminUsername string `json:"default_admin_username"`
	DefaultAdminPassword string `json:"default_admin_password"`
	DefaultAdminEmail    string `json:"default_admin_email"`

	Notifier        string   `json:"notifier"`
	SMTPHost        string   `json:"smtp_host"`
	SMTPPort        int      `json:"smtp_port"`
	SMTPUser        string   `json:"smtp_user"`
	SMTPPassword    string   `json:"smtp_password"`
	SMTPFrom        string   `json:"smtp_from"`
	KafkaBrokers    []string `json:"kafka_brokers"`
	KafkaTopic      string   `json:"kafka_topic"`
	NotifyQueueSize int      `json:"notify_queue_size"`
	NotifyWorkers   int      `json:"notify_workers"`
}

// parseJson overlays values from the file named by -c/-config (or
// $PMDASH_CONFIG). No path means nothing to do.
func parseJson(config *Config, args []string) error {
	path := flagx.ConfigPath(args)
	if path == "" {
		return nil
	}

	file, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}

	c := &JsonConfig{}
	if err := json.Unmarshal(file, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}

	setString(&config.HTTPAddr, c.HTTPAddr)
	setString(&config.GRPCAddr, c.GRPCAddr)
	setString(&config.LogLevel, c.LogLevel)
	setString(&config.FrontendURL, c.FrontendURL)
	setDuration(&config.ShutdownTimeout, c.ShutdownTimeout)

	setString(&config.UserStore, c.UserStore)
	setString(&config.TransientStore, c.TransientStore)
	setString(&config.DatabaseDSN, c.DatabaseDSN)
	setString(&config.SQLitePath, c.SQLitePath)
	setString(&config.S3Bucket, c.S3Bucket)
	setString(&config.S3Key, c.S3Key)
	setString(&config.S3Region, c.S3Region)
	setString(&config.S3BaseEndpoint, c.S3BaseEndpoint)
	setString(&config.S3AccessKey, c.S3AccessKey)
	setString(&config.S3SecretKey, c.S3SecretKey)
	setString(&config.RedisAddr, c.RedisAddr)
	setString(&config.RedisPassword, c.RedisPassword)
	setInt(&config.RedisDB, c.RedisDB)

	setString(&config.JWTSecret, c.JWTSecret)
	setString(&config.JWTIssuer, c.JWTIssuer)
	setDuration(&config.SessionTTL, c.SessionTTL)
	setDuration(&config.ResetTokenTTL, c.ResetTokenTTL)
	setDuration(&config.ChallengeTTL, c.ChallengeTTL)
	setString(&config.SecretsKey, c.SecretsKey)

	setString(&config.PasswordHasher, c.PasswordHasher)
	setInt(&config.BcryptCost, c.BcryptCost)
	setString(&config.OTPIssuer, c.OTPIssuer)
	setInt(&config.OTPSkew, c.OTPSkew)

	setString(&config.DefaultAdminUsername, c.DefaultAdminUsername)
	setString(&config.DefaultAdminPassword, c.DefaultAdminPassword)
	setString(&config.DefaultAdminEmail, c.DefaultAdminEmail)

	setString(&config.Notifier, c.Notifier)
	setString(&config.SMTPHost, c.SMTPHost)
	setInt(&config.SMTPPort, c.SMTPPort)
	setString(&config.SMTPUser, c.SMTPUser)
	setString(&config.SMTPPassword, c.SMTPPassword)
	setString(&config.SMTPFrom, c.SMTPFrom)
	if len(c.KafkaBrokers) > 0 {
		config.KafkaBrokers = c.KafkaBrokers
	}
	setString(&config.KafkaTopic, c.KafkaTopic)
	setInt(&config.NotifyQueueSize, c.NotifyQueueSize)
	setInt(&config.NotifyWorkers, c.NotifyWorkers)

	return nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}

func setDuration(dst *time.Duration, v timex.Duration) {
	if v.Duration != 0 {
		*dst = v.Duration
	}
}
