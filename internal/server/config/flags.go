package config

import (
	"flag"
	"io"

	"github.com/dmitrijs2005/pmdash/internal/flagx"
)

// parseFlags applies the server command-line flags:
//
//	-http string        HTTP bind address (":3001")
//	-grpc string        gRPC bind address (":50051")
//	-log-level string   debug, info, warn, error
//	-user-store string  memory, postgres, sqlite, s3
//	-transient string   memory, redis, postgres
//	-d string           PostgreSQL DSN
//	-sqlite string      sqlite database file
//	-redis string       redis address
//	-s string           JWT HMAC secret
//	-notifier string    log, smtp, kafka
//	-frontend string    frontend base URL used in reset links and CORS
//
// Other arguments are filtered out first so -c/-config never trips the parser.
func parseFlags(config *Config, args []string) error {
	args = flagx.FilterArgs(args, []string{
		"-http", "-grpc", "-log-level", "-user-store", "-transient",
		"-d", "-sqlite", "-redis", "-s", "-notifier", "-frontend",
	})

	fs := flag.NewFlagSet("server", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	fs.StringVar(&config.HTTPAddr, "http", config.HTTPAddr, "HTTP bind address")
	fs.StringVar(&config.GRPCAddr, "grpc", config.GRPCAddr, "gRPC bind address")
	fs.StringVar(&config.LogLevel, "log-level", config.LogLevel, "log level")
	fs.StringVar(&config.UserStore, "user-store", config.UserStore, "credential store backend")
	fs.StringVar(&config.TransientStore, "transient", config.TransientStore, "transient store backend")
	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")
	fs.StringVar(&config.SQLitePath, "sqlite", config.SQLitePath, "sqlite database file")
	fs.StringVar(&config.RedisAddr, "redis", config.RedisAddr, "redis address")
	fs.StringVar(&config.JWTSecret, "s", config.JWTSecret, "JWT secret key")
	fs.StringVar(&config.Notifier, "notifier", config.Notifier, "notification sender")
	fs.StringVar(&config.FrontendURL, "frontend", config.FrontendURL, "frontend base URL")

	return fs.Parse(args)
}
