package bridge

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/0xmhha/checko-go/internal/config"
	"github.com/0xmhha/checko-go/internal/constants"
)

// Config holds bridge server configuration
type Config struct {
	Host string
	Port int

	// PagePath is the WebSocket path pages connect to
	PagePath string

	// UIPath is the WebSocket path popup surfaces connect to
	UIPath string

	// RPCPath accepts one-shot HTTP requests
	RPCPath string

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	// ShutdownTimeout bounds graceful shutdown
	ShutdownTimeout time.Duration

	EnableCORS     bool
	AllowedOrigins []string

	// RateLimitPerSecond limits requests per client IP, 0 disables limiting
	RateLimitPerSecond float64
	RateLimitBurst     int
}

// DefaultConfig returns a default bridge server configuration
func DefaultConfig() *Config {
	return &Config{
		Host:            constants.DefaultBridgeHost,
		Port:            constants.DefaultBridgePort,
		PagePath:        constants.DefaultPagePath,
		UIPath:          constants.DefaultUIPath,
		RPCPath:         constants.DefaultRPCPath,
		ReadTimeout:     constants.DefaultReadTimeout,
		WriteTimeout:    constants.DefaultWriteTimeout,
		IdleTimeout:     constants.DefaultIdleTimeout,
		ShutdownTimeout: constants.DefaultShutdownTimeout,
		EnableCORS:      true,
		AllowedOrigins:  []string{"*"},
		RateLimitBurst:  constants.DefaultRateLimitBurst,
	}
}

// ConfigFrom builds a server configuration from the bridge section of the
// application configuration
func ConfigFrom(c *config.BridgeConfig) *Config {
	cfg := DefaultConfig()
	cfg.Host = c.Host
	cfg.Port = c.Port
	cfg.PagePath = c.PagePath
	cfg.UIPath = c.UIPath
	cfg.RPCPath = c.RPCPath
	cfg.EnableCORS = c.EnableCORS
	cfg.AllowedOrigins = c.AllowedOrigins
	cfg.RateLimitPerSecond = c.RateLimitPerSecond
	if c.RateLimitBurst > 0 {
		cfg.RateLimitBurst = c.RateLimitBurst
	}
	if c.ReadTimeout > 0 {
		cfg.ReadTimeout = c.ReadTimeout
	}
	if c.WriteTimeout > 0 {
		cfg.WriteTimeout = c.WriteTimeout
	}
	return cfg
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Host == "" {
		return errors.New("host cannot be empty")
	}
	if c.Port < 0 || c.Port > constants.MaxPort {
		return fmt.Errorf("port must be between 0 and %d", constants.MaxPort)
	}
	if c.PagePath == "" || c.UIPath == "" || c.RPCPath == "" {
		return errors.New("page, ui and rpc paths are required")
	}
	if c.PagePath == c.UIPath {
		return errors.New("page and ui paths must differ")
	}
	if c.ReadTimeout <= 0 || c.WriteTimeout <= 0 || c.IdleTimeout <= 0 {
		return errors.New("timeouts must be positive")
	}
	if c.ShutdownTimeout <= 0 {
		return errors.New("shutdown timeout must be positive")
	}
	if c.RateLimitPerSecond < 0 {
		return errors.New("rate limit cannot be negative")
	}
	if c.RateLimitPerSecond > 0 && c.RateLimitBurst <= 0 {
		return errors.New("rate limit burst must be positive")
	}
	return nil
}

// Address returns the listen address
func (c *Config) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}
