// Package config reads the server's environment. A .env file in the working
// directory is loaded first when present; real environment variables win.
package config

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"innkeep/internal/delivery"
	"innkeep/internal/events"
	"innkeep/internal/mail"
)

// RedisConfig holds Redis connection settings for the escalation stream.
// An empty URL disables the stream sink.
type RedisConfig struct {
	URL                string
	Stream             string
	DialTimeout        *time.Duration
	ReadTimeout        *time.Duration
	WriteTimeout       *time.Duration
	PoolSize           *int
	MinIdleConns       *int
	MaxRetries         *int
	HealthcheckTimeout time.Duration
	StreamMaxLen       int64
	EnableOTel         bool
	TLSConfig          *tls.Config
}

func (c RedisConfig) Enabled() bool { return c.URL != "" }

// GatewayConfig throttles and guards calls to the payment gateway.
type GatewayConfig struct {
	RateLimitInterval time.Duration
	RateLimitBurst    int
	BreakerFailures   int
	BreakerCooldown   time.Duration
}

// HTTPConfig holds the back-office API address and its ingress rate limit.
type HTTPConfig struct {
	Addr              string
	RateLimitInterval time.Duration
	RateLimitBurst    int
}

// GRPCConfig holds the address of the gRPC health endpoint.
type GRPCConfig struct {
	Addr string
}

// ObservabilityConfig holds the HTTP address for the metrics endpoint.
type ObservabilityConfig struct {
	Addr string
}

type LogConfig struct {
	Level  string
	Format string
}

// Config is everything the server needs to start.
type Config struct {
	DatabaseURL    string
	EscalationPath string
	SupportContact string
	AppEnv         string
	Redis          RedisConfig
	Mail           mail.Config
	Kafka          events.Config
	Delivery       delivery.Config
	Gateway        GatewayConfig
	HTTP           HTTPConfig
	GRPC           GRPCConfig
	Observability  ObservabilityConfig
	Log            LogConfig
}

// LoadDotEnv loads path into the environment without overriding existing
// variables. A missing file is not an error.
func LoadDotEnv(path string) error {
	if path == "" {
		path = ".env"
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return godotenv.Load(path)
}

// Load reads the full server configuration from env.
func Load() (Config, error) {
	cfg := Config{
		DatabaseURL:    strings.TrimSpace(os.Getenv("DATABASE_URL")),
		EscalationPath: strings.TrimSpace(os.Getenv("ESCALATION_BOLT_PATH")),
		SupportContact: strings.TrimSpace(os.Getenv("SUPPORT_CONTACT")),
		AppEnv:         strings.TrimSpace(os.Getenv("APP_ENV")),
	}

	var err error
	if cfg.Redis, err = LoadRedis(); err != nil {
		return cfg, err
	}
	if cfg.Mail, err = LoadMail(); err != nil {
		return cfg, err
	}
	if cfg.Kafka, err = LoadKafka(); err != nil {
		return cfg, err
	}
	if cfg.Delivery, err = delivery.LoadConfigFromEnv(); err != nil {
		return cfg, err
	}
	if cfg.Gateway, err = LoadGateway(); err != nil {
		return cfg, err
	}
	if cfg.HTTP, err = LoadHTTP(); err != nil {
		return cfg, err
	}
	if cfg.GRPC, err = LoadGRPC(); err != nil {
		return cfg, err
	}
	if cfg.Observability, err = LoadObservability(); err != nil {
		return cfg, err
	}
	cfg.Log = LoadLog()
	return cfg, nil
}

// LoadRedis reads Redis config from env. Without REDIS_URL the remaining
// variables are ignored.
func LoadRedis() (RedisConfig, error) {
	cfg := RedisConfig{
		URL:    strings.TrimSpace(os.Getenv("REDIS_URL")),
		Stream: strings.TrimSpace(os.Getenv("REDIS_STREAM")),
	}
	if cfg.URL == "" {
		return cfg, nil
	}

	var err error
	if cfg.DialTimeout, err = optionalDuration("REDIS_DIAL_TIMEOUT"); err != nil {
		return cfg, err
	}
	if cfg.ReadTimeout, err = optionalDuration("REDIS_READ_TIMEOUT"); err != nil {
		return cfg, err
	}
	if cfg.WriteTimeout, err = optionalDuration("REDIS_WRITE_TIMEOUT"); err != nil {
		return cfg, err
	}
	if cfg.PoolSize, err = optionalInt("REDIS_POOL_SIZE"); err != nil {
		return cfg, err
	}
	if cfg.MinIdleConns, err = optionalInt("REDIS_MIN_IDLE_CONNS"); err != nil {
		return cfg, err
	}
	if cfg.MaxRetries, err = optionalInt("REDIS_MAX_RETRIES"); err != nil {
		return cfg, err
	}

	if cfg.HealthcheckTimeout, err = durationOr("REDIS_HEALTHCHECK_TIMEOUT", 2*time.Second); err != nil {
		return cfg, err
	}
	if cfg.StreamMaxLen, err = int64Or("REDIS_STREAM_MAXLEN", 10000); err != nil {
		return cfg, err
	}

	if cfg.EnableOTel, err = optionalBool("REDIS_OTEL"); err != nil {
		return cfg, err
	}

	if cfg.TLSConfig, err = loadRedisTLSFromEnv(); err != nil {
		return cfg, err
	}

	return cfg, nil
}

// LoadMail reads SMTP settings. Without SMTP_HOST mail is only logged.
func LoadMail() (mail.Config, error) {
	cfg := mail.Config{
		Host:     strings.TrimSpace(os.Getenv("SMTP_HOST")),
		Username: strings.TrimSpace(os.Getenv("SMTP_USERNAME")),
		Password: os.Getenv("SMTP_PASSWORD"),
		From:     strings.TrimSpace(os.Getenv("SMTP_FROM")),
	}
	if cfg.Host == "" {
		return cfg, nil
	}
	if cfg.From == "" {
		return cfg, errors.New("SMTP_FROM is required when SMTP_HOST is set")
	}

	var err error
	if cfg.Port, err = intOr("SMTP_PORT", 587); err != nil {
		return cfg, err
	}
	if cfg.TLS, err = optionalBool("SMTP_TLS"); err != nil {
		return cfg, err
	}
	if cfg.Timeout, err = durationOr("SMTP_TIMEOUT", 10*time.Second); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LoadKafka reads outcome event settings. Without KAFKA_BROKERS events are dropped.
func LoadKafka() (events.Config, error) {
	cfg := events.Config{
		Brokers:  events.SplitBrokers(os.Getenv("KAFKA_BROKERS")),
		Topic:    strings.TrimSpace(os.Getenv("KAFKA_TOPIC")),
		ClientID: strings.TrimSpace(os.Getenv("KAFKA_CLIENT_ID")),
	}
	var err error
	if cfg.TLS, err = optionalBool("KAFKA_TLS"); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LoadGateway reads payment gateway throttling settings.
func LoadGateway() (GatewayConfig, error) {
	cfg := GatewayConfig{}
	var err error
	if cfg.RateLimitInterval, err = durationOr("GATEWAY_RATE_LIMIT_INTERVAL", 100*time.Millisecond); err != nil {
		return cfg, err
	}
	if cfg.RateLimitBurst, err = intOr("GATEWAY_RATE_LIMIT_BURST", 5); err != nil {
		return cfg, err
	}
	if cfg.BreakerFailures, err = intOr("GATEWAY_BREAKER_FAILURES", 5); err != nil {
		return cfg, err
	}
	if cfg.BreakerCooldown, err = durationOr("GATEWAY_BREAKER_COOLDOWN", 30*time.Second); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LoadHTTP reads the back-office API address and ingress rate limit.
func LoadHTTP() (HTTPConfig, error) {
	cfg := HTTPConfig{Addr: stringOr("HTTP_ADDR", ":8080")}
	var err error
	if cfg.RateLimitInterval, err = durationOr("HTTP_RATE_LIMIT_INTERVAL", 10*time.Millisecond); err != nil {
		return cfg, err
	}
	if cfg.RateLimitBurst, err = intOr("HTTP_RATE_LIMIT_BURST", 50); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LoadGRPC reads the gRPC health server address.
func LoadGRPC() (GRPCConfig, error) {
	return GRPCConfig{Addr: stringOr("GRPC_ADDR", ":50051")}, nil
}

// LoadObservability reads metrics HTTP server address from env.
func LoadObservability() (ObservabilityConfig, error) {
	return ObservabilityConfig{Addr: stringOr("OBS_ADDR", ":9090")}, nil
}

func LoadLog() LogConfig {
	return LogConfig{
		Level:  stringOr("LOG_LEVEL", "info"),
		Format: stringOr("LOG_FORMAT", "json"),
	}
}

func loadRedisTLSFromEnv() (*tls.Config, error) {
	caFile := strings.TrimSpace(os.Getenv("REDIS_TLS_CA_FILE"))
	certFile := strings.TrimSpace(os.Getenv("REDIS_TLS_CERT_FILE"))
	keyFile := strings.TrimSpace(os.Getenv("REDIS_TLS_KEY_FILE"))
	serverName := strings.TrimSpace(os.Getenv("REDIS_TLS_SERVER_NAME"))
	insecureStr := strings.TrimSpace(os.Getenv("REDIS_TLS_INSECURE_SKIP_VERIFY"))

	if caFile == "" && certFile == "" && keyFile == "" && serverName == "" && insecureStr == "" {
		return nil, nil
	}
	if (certFile == "") != (keyFile == "") {
		return nil, errors.New("REDIS_TLS_CERT_FILE and REDIS_TLS_KEY_FILE must be set together")
	}

	tlsConfig := &tls.Config{
		MinVersion: tls.VersionTLS12,
		ServerName: serverName,
	}

	if insecureStr != "" {
		insecure, err := strconv.ParseBool(insecureStr)
		if err != nil {
			return nil, fmt.Errorf("REDIS_TLS_INSECURE_SKIP_VERIFY: %w", err)
		}
		tlsConfig.InsecureSkipVerify = insecure
	}

	if caFile != "" {
		pemData, err := os.ReadFile(caFile)
		if err != nil {
			return nil, fmt.Errorf("read REDIS_TLS_CA_FILE: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pemData) {
			return nil, errors.New("REDIS_TLS_CA_FILE contains no valid certificates")
		}
		tlsConfig.RootCAs = pool
	}

	if certFile != "" {
		cert, err := tls.LoadX509KeyPair(certFile, keyFile)
		if err != nil {
			return nil, fmt.Errorf("load redis TLS keypair: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}

	return tlsConfig, nil
}

func stringOr(name, fallback string) string {
	if raw := strings.TrimSpace(os.Getenv(name)); raw != "" {
		return raw
	}
	return fallback
}

func optionalDuration(name string) (*time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return nil, nil
	}
	val, err := time.ParseDuration(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	if val < 0 {
		return nil, fmt.Errorf("%s must be >= 0", name)
	}
	return &val, nil
}

func durationOr(name string, fallback time.Duration) (time.Duration, error) {
	val, err := optionalDuration(name)
	if err != nil || val == nil {
		return fallback, err
	}
	return *val, nil
}

func optionalInt(name string) (*int, error) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return nil, nil
	}
	val, err := strconv.Atoi(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	if val < 0 {
		return nil, fmt.Errorf("%s must be >= 0", name)
	}
	return &val, nil
}

func intOr(name string, fallback int) (int, error) {
	val, err := optionalInt(name)
	if err != nil || val == nil {
		return fallback, err
	}
	return *val, nil
}

func int64Or(name string, fallback int64) (int64, error) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback, nil
	}
	val, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", name, err)
	}
	if val < 0 {
		return 0, fmt.Errorf("%s must be >= 0", name)
	}
	return val, nil
}

func optionalBool(name string) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return false, nil
	}
	val, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("%s: %w", name, err)
	}
	return val, nil
}
