package config

import (
	"errors"
	"time"
)

// Config holds server configuration values.
type Config struct {
	Addr              string        `mapstructure:"addr" yaml:"addr"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout" yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`

	LogLevel  string `mapstructure:"log_level" yaml:"log_level"`
	LogFormat string `mapstructure:"log_format" yaml:"log_format"`

	DatabasePath string `mapstructure:"database_path" yaml:"database_path"`

	JWTSecret   string        `mapstructure:"jwt_secret" yaml:"jwt_secret"`
	JWTIssuer   string        `mapstructure:"jwt_issuer" yaml:"jwt_issuer"`
	JWTAudience string        `mapstructure:"jwt_audience" yaml:"jwt_audience"`
	JWTTTL      time.Duration `mapstructure:"jwt_ttl" yaml:"jwt_ttl"`

	HandshakeTimeout  time.Duration `mapstructure:"handshake_timeout" yaml:"handshake_timeout"`
	OutboundQueueSize int           `mapstructure:"outbound_queue_size" yaml:"outbound_queue_size"`
	WSRateLimit       int           `mapstructure:"ws_rate_limit" yaml:"ws_rate_limit"` // messages per minute, 0 disables
	MaxMessageLength  int           `mapstructure:"max_message_length" yaml:"max_message_length"`

	TypingTTL           time.Duration `mapstructure:"typing_ttl" yaml:"typing_ttl"`
	TypingSweepInterval time.Duration `mapstructure:"typing_sweep_interval" yaml:"typing_sweep_interval"`

	PersistRetries    uint64        `mapstructure:"persist_retries" yaml:"persist_retries"`
	PersistBackoff    time.Duration `mapstructure:"persist_backoff" yaml:"persist_backoff"`
	PersistMaxBackoff time.Duration `mapstructure:"persist_max_backoff" yaml:"persist_max_backoff"`
}

// Default returns configuration with reasonable starter defaults.
func Default() Config {
	return Config{
		Addr:              ":8080",
		ReadHeaderTimeout: 5 * time.Second,
		ShutdownTimeout:   5 * time.Second,

		LogLevel:  "info",
		LogFormat: "console",

		DatabasePath: "wirechat.db",

		JWTSecret:   "change-me",
		JWTIssuer:   "wirechat",
		JWTAudience: "wirechat-clients",
		JWTTTL:      24 * time.Hour,

		HandshakeTimeout:  10 * time.Second,
		OutboundQueueSize: 64,
		WSRateLimit:       120,
		MaxMessageLength:  4000,

		TypingTTL:           5 * time.Second,
		TypingSweepInterval: time.Second,

		PersistRetries:    3,
		PersistBackoff:    50 * time.Millisecond,
		PersistMaxBackoff: time.Second,
	}
}

// Validate reports configuration that cannot work.
func (c Config) Validate() error {
	var errs []error
	if c.Addr == "" {
		errs = append(errs, errors.New("addr is required"))
	}
	if c.JWTSecret == "" {
		errs = append(errs, errors.New("jwt_secret is required"))
	}
	if c.DatabasePath == "" {
		errs = append(errs, errors.New("database_path is required"))
	}
	if c.OutboundQueueSize < 0 {
		errs = append(errs, errors.New("outbound_queue_size must not be negative"))
	}
	if c.WSRateLimit < 0 {
		errs = append(errs, errors.New("ws_rate_limit must not be negative"))
	}
	return errors.Join(errs...)
}

// UpdateFrom overwrites non-zero values from other config into receiver.
func (c *Config) UpdateFrom(other Config) {
	if other.Addr != "" {
		c.Addr = other.Addr
	}
	if other.ReadHeaderTimeout != 0 {
		c.ReadHeaderTimeout = other.ReadHeaderTimeout
	}
	if other.ShutdownTimeout != 0 {
		c.ShutdownTimeout = other.ShutdownTimeout
	}
	if other.LogLevel != "" {
		c.LogLevel = other.LogLevel
	}
	if other.LogFormat != "" {
		c.LogFormat = other.LogFormat
	}
	if other.DatabasePath != "" {
		c.DatabasePath = other.DatabasePath
	}
	if other.JWTSecret != "" {
		c.JWTSecret = other.JWTSecret
	}
	if other.JWTIssuer != "" {
		c.JWTIssuer = other.JWTIssuer
	}
	if other.JWTAudience != "" {
		c.JWTAudience = other.JWTAudience
	}
	if other.JWTTTL != 0 {
		c.JWTTTL = other.JWTTTL
	}
	if other.HandshakeTimeout != 0 {
		c.HandshakeTimeout = other.HandshakeTimeout
	}
	if other.OutboundQueueSize != 0 {
		c.OutboundQueueSize = other.OutboundQueueSize
	}
	if other.WSRateLimit != 0 {
		c.WSRateLimit = other.WSRateLimit
	}
	if other.MaxMessageLength != 0 {
		c.MaxMessageLength = other.MaxMessageLength
	}
	if other.TypingTTL != 0 {
		c.TypingTTL = other.TypingTTL
	}
	if other.TypingSweepInterval != 0 {
		c.TypingSweepInterval = other.TypingSweepInterval
	}
	if other.PersistRetries != 0 {
		c.PersistRetries = other.PersistRetries
	}
	if other.PersistBackoff != 0 {
		c.PersistBackoff = other.PersistBackoff
	}
	if other.PersistMaxBackoff != 0 {
		c.PersistMaxBackoff = other.PersistMaxBackoff
	}
}
