package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/0xmhha/checko-go/internal/constants"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the broker
type Config struct {
	Log          LogConfig          `yaml:"log"`
	Database     DatabaseConfig     `yaml:"database"`
	Bridge       BridgeConfig       `yaml:"bridge"`
	Popup        PopupConfig        `yaml:"popup"`
	Node         NodeConfig         `yaml:"node"`
	Subscription SubscriptionConfig `yaml:"subscription"`
	Network      NetworkConfig      `yaml:"network"`
	Relay        RelayConfig        `yaml:"relay"`
	Metrics      MetricsConfig      `yaml:"metrics"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DatabaseConfig holds wallet store configuration
type DatabaseConfig struct {
	Path string `yaml:"path"`
	// CacheSize is the pebble block cache in MB
	CacheSize int  `yaml:"cache_size"`
	ReadOnly  bool `yaml:"readonly"`
}

// BridgeConfig holds the page/UI bridge server configuration
type BridgeConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	// PagePath is the WebSocket path pages connect to
	PagePath string `yaml:"page_path"`
	// UIPath is the WebSocket path popup surfaces connect to
	UIPath string `yaml:"ui_path"`
	// UIOrigins are the handshake origins accepted on UIPath
	UIOrigins []string `yaml:"ui_origins"`
	// UIToken is a shared secret a popup surface may present instead of an allowed origin
	UIToken string `yaml:"ui_token"`
	// RPCPath accepts one-shot HTTP requests
	RPCPath        string   `yaml:"rpc_path"`
	EnableCORS     bool     `yaml:"enable_cors"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	// RateLimitPerSecond limits requests per client IP, 0 disables limiting
	RateLimitPerSecond float64       `yaml:"rate_limit_per_second"`
	RateLimitBurst     int           `yaml:"rate_limit_burst"`
	ReadTimeout        time.Duration `yaml:"read_timeout"`
	WriteTimeout       time.Duration `yaml:"write_timeout"`
	// KeepaliveInterval is how often connected peers receive a ping frame
	KeepaliveInterval time.Duration `yaml:"keepalive_interval"`
}

// PopupConfig holds confirmation popup configuration
type PopupConfig struct {
	// URL is passed to the launch command as its last argument
	URL string `yaml:"url"`
	// LaunchCommand opens a popup surface, empty means waiting for one to connect
	LaunchCommand []string `yaml:"launch_command"`
	// ConnectTimeout bounds how long a launched popup may take to connect
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	// SettleDelay is the wait before sending a request to a newly created popup
	SettleDelay time.Duration `yaml:"settle_delay"`
}

// NodeConfig holds GraphQL node client configuration
type NodeConfig struct {
	Timeout time.Duration `yaml:"timeout"`
}

// SubscriptionConfig holds notification subscription configuration
type SubscriptionConfig struct {
	// Interval is the reconciliation period
	Interval            time.Duration `yaml:"interval"`
	ReconnectMinBackoff time.Duration `yaml:"reconnect_min_backoff"`
	ReconnectMaxBackoff time.Duration `yaml:"reconnect_max_backoff"`
}

// NetworkConfig describes the network written to the store when none is selected
type NetworkConfig struct {
	Name      string `yaml:"name"`
	RPCSchema string `yaml:"rpc_schema"`
	WSSchema  string `yaml:"ws_schema"`
	Host      string `yaml:"host"`
	Port      int    `yaml:"port"`
	Path      string `yaml:"path"`
}

// RelayConfig holds optional relays of notification events
type RelayConfig struct {
	Redis RedisConfig `yaml:"redis"`
}

// RedisConfig holds Redis relay settings
type RedisConfig struct {
	// Enabled indicates whether events are published to Redis
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password,omitempty"`
	DB       int    `yaml:"db"`
	// ChannelPrefix is prepended to the per-topic channel name
	ChannelPrefix string        `yaml:"channel_prefix"`
	DialTimeout   time.Duration `yaml:"dial_timeout"`
}

// MetricsConfig holds prometheus configuration
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Namespace string `yaml:"namespace"`
}

// NewConfig creates a new Config with default values
func NewConfig() *Config {
	cfg := &Config{}
	cfg.SetDefaults()
	return cfg
}

// SetDefaults sets default values for the configuration
func (c *Config) SetDefaults() {
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}

	if c.Database.Path == "" {
		c.Database.Path = constants.DefaultDatabasePath
	}
	if c.Database.CacheSize == 0 {
		c.Database.CacheSize = constants.DefaultCacheSize
	}

	// Bridge defaults
	if c.Bridge.Host == "" {
		c.Bridge.Host = constants.DefaultBridgeHost
	}
	if c.Bridge.Port == 0 {
		c.Bridge.Port = constants.DefaultBridgePort
	}
	if c.Bridge.PagePath == "" {
		c.Bridge.PagePath = constants.DefaultPagePath
	}
	if c.Bridge.UIPath == "" {
		c.Bridge.UIPath = constants.DefaultUIPath
	}
	if c.Bridge.UIOrigins == nil {
		c.Bridge.UIOrigins = []string{constants.DefaultUIOrigin}
	}
	if c.Bridge.RPCPath == "" {
		c.Bridge.RPCPath = constants.DefaultRPCPath
	}
	if c.Bridge.AllowedOrigins == nil {
		c.Bridge.AllowedOrigins = []string{"*"}
	}
	if c.Bridge.RateLimitBurst == 0 {
		c.Bridge.RateLimitBurst = constants.DefaultRateLimitBurst
	}
	if c.Bridge.ReadTimeout == 0 {
		c.Bridge.ReadTimeout = constants.DefaultReadTimeout
	}
	if c.Bridge.WriteTimeout == 0 {
		c.Bridge.WriteTimeout = constants.DefaultWriteTimeout
	}
	if c.Bridge.KeepaliveInterval == 0 {
		c.Bridge.KeepaliveInterval = constants.DefaultKeepaliveInterval
	}

	// Popup defaults
	if c.Popup.ConnectTimeout == 0 {
		c.Popup.ConnectTimeout = constants.DefaultPopupConnectTimeout
	}
	if c.Popup.SettleDelay == 0 {
		c.Popup.SettleDelay = constants.DefaultSettleDelay
	}

	if c.Node.Timeout == 0 {
		c.Node.Timeout = constants.DefaultNodeTimeout
	}

	// Subscription defaults
	if c.Subscription.Interval == 0 {
		c.Subscription.Interval = constants.DefaultReconcileInterval
	}
	if c.Subscription.ReconnectMinBackoff == 0 {
		c.Subscription.ReconnectMinBackoff = constants.DefaultReconnectMinBackoff
	}
	if c.Subscription.ReconnectMaxBackoff == 0 {
		c.Subscription.ReconnectMaxBackoff = constants.DefaultReconnectMaxBackoff
	}

	// Network defaults
	if c.Network.Name == "" {
		c.Network.Name = constants.DefaultNetworkName
	}
	if c.Network.RPCSchema == "" {
		c.Network.RPCSchema = "http"
	}
	if c.Network.WSSchema == "" {
		c.Network.WSSchema = "ws"
	}
	if c.Network.Host == "" {
		c.Network.Host = constants.DefaultNetworkHost
	}
	if c.Network.Port == 0 {
		c.Network.Port = constants.DefaultNetworkPort
	}

	// Relay defaults
	if c.Relay.Redis.ChannelPrefix == "" {
		c.Relay.Redis.ChannelPrefix = constants.DefaultRelayChannelPrefix
	}
	if c.Relay.Redis.DialTimeout == 0 {
		c.Relay.Redis.DialTimeout = constants.DefaultRelayDialTimeout
	}

	if c.Metrics.Namespace == "" {
		c.Metrics.Namespace = constants.DefaultMetricsNamespace
	}
}

// LoadFromEnv loads configuration from environment variables
// Environment variables take precedence over file configuration
func (c *Config) LoadFromEnv() error {
	// Log configuration
	if level := os.Getenv("CHECKO_LOG_LEVEL"); level != "" {
		c.Log.Level = level
	}
	if format := os.Getenv("CHECKO_LOG_FORMAT"); format != "" {
		c.Log.Format = format
	}

	// Database configuration
	if path := os.Getenv("CHECKO_DB_PATH"); path != "" {
		c.Database.Path = path
	}
	if cache := os.Getenv("CHECKO_DB_CACHE_SIZE"); cache != "" {
		val, err := strconv.Atoi(cache)
		if err != nil {
			return fmt.Errorf("invalid CHECKO_DB_CACHE_SIZE: %w", err)
		}
		c.Database.CacheSize = val
	}
	if readonly := os.Getenv("CHECKO_DB_READONLY"); readonly != "" {
		val, err := strconv.ParseBool(readonly)
		if err != nil {
			return fmt.Errorf("invalid CHECKO_DB_READONLY: %w", err)
		}
		c.Database.ReadOnly = val
	}

	// Bridge configuration
	if host := os.Getenv("CHECKO_BRIDGE_HOST"); host != "" {
		c.Bridge.Host = host
	}
	if port := os.Getenv("CHECKO_BRIDGE_PORT"); port != "" {
		val, err := strconv.Atoi(port)
		if err != nil {
			return fmt.Errorf("invalid CHECKO_BRIDGE_PORT: %w", err)
		}
		c.Bridge.Port = val
	}
	if enableCORS := os.Getenv("CHECKO_BRIDGE_CORS_ENABLED"); enableCORS != "" {
		val, err := strconv.ParseBool(enableCORS)
		if err != nil {
			return fmt.Errorf("invalid CHECKO_BRIDGE_CORS_ENABLED: %w", err)
		}
		c.Bridge.EnableCORS = val
	}
	if allowedOrigins := os.Getenv("CHECKO_BRIDGE_CORS_ALLOWED_ORIGINS"); allowedOrigins != "" {
		origins := splitList(allowedOrigins)
		if len(origins) == 0 {
			origins = []string{"*"}
		}
		c.Bridge.AllowedOrigins = origins
	}
	if rps := os.Getenv("CHECKO_BRIDGE_RATE_LIMIT"); rps != "" {
		val, err := strconv.ParseFloat(rps, 64)
		if err != nil {
			return fmt.Errorf("invalid CHECKO_BRIDGE_RATE_LIMIT: %w", err)
		}
		c.Bridge.RateLimitPerSecond = val
	}
	if burst := os.Getenv("CHECKO_BRIDGE_RATE_BURST"); burst != "" {
		val, err := strconv.Atoi(burst)
		if err != nil {
			return fmt.Errorf("invalid CHECKO_BRIDGE_RATE_BURST: %w", err)
		}
		c.Bridge.RateLimitBurst = val
	}

	if uiOrigins := os.Getenv("CHECKO_BRIDGE_UI_ORIGINS"); uiOrigins != "" {
		c.Bridge.UIOrigins = splitList(uiOrigins)
	}
	if token := os.Getenv("CHECKO_BRIDGE_UI_TOKEN"); token != "" {
		c.Bridge.UIToken = token
	}

	// Popup configuration
	if url := os.Getenv("CHECKO_POPUP_URL"); url != "" {
		c.Popup.URL = url
	}
	if command := os.Getenv("CHECKO_POPUP_LAUNCH_COMMAND"); command != "" {
		c.Popup.LaunchCommand = strings.Fields(command)
	}
	if delay := os.Getenv("CHECKO_POPUP_SETTLE_DELAY"); delay != "" {
		duration, err := time.ParseDuration(delay)
		if err != nil {
			return fmt.Errorf("invalid CHECKO_POPUP_SETTLE_DELAY: %w", err)
		}
		c.Popup.SettleDelay = duration
	}
	if timeout := os.Getenv("CHECKO_POPUP_CONNECT_TIMEOUT"); timeout != "" {
		duration, err := time.ParseDuration(timeout)
		if err != nil {
			return fmt.Errorf("invalid CHECKO_POPUP_CONNECT_TIMEOUT: %w", err)
		}
		c.Popup.ConnectTimeout = duration
	}

	// Node configuration
	if timeout := os.Getenv("CHECKO_NODE_TIMEOUT"); timeout != "" {
		duration, err := time.ParseDuration(timeout)
		if err != nil {
			return fmt.Errorf("invalid CHECKO_NODE_TIMEOUT: %w", err)
		}
		c.Node.Timeout = duration
	}

	// Subscription configuration
	if interval := os.Getenv("CHECKO_SUBSCRIPTION_INTERVAL"); interval != "" {
		duration, err := time.ParseDuration(interval)
		if err != nil {
			return fmt.Errorf("invalid CHECKO_SUBSCRIPTION_INTERVAL: %w", err)
		}
		c.Subscription.Interval = duration
	}

	// Network configuration
	if name := os.Getenv("CHECKO_NETWORK_NAME"); name != "" {
		c.Network.Name = name
	}
	if host := os.Getenv("CHECKO_NETWORK_HOST"); host != "" {
		c.Network.Host = host
	}
	if port := os.Getenv("CHECKO_NETWORK_PORT"); port != "" {
		val, err := strconv.Atoi(port)
		if err != nil {
			return fmt.Errorf("invalid CHECKO_NETWORK_PORT: %w", err)
		}
		c.Network.Port = val
	}
	if schema := os.Getenv("CHECKO_NETWORK_RPC_SCHEMA"); schema != "" {
		c.Network.RPCSchema = schema
	}
	if schema := os.Getenv("CHECKO_NETWORK_WS_SCHEMA"); schema != "" {
		c.Network.WSSchema = schema
	}

	// Relay configuration
	if enabled := os.Getenv("CHECKO_RELAY_REDIS_ENABLED"); enabled != "" {
		val, err := strconv.ParseBool(enabled)
		if err != nil {
			return fmt.Errorf("invalid CHECKO_RELAY_REDIS_ENABLED: %w", err)
		}
		c.Relay.Redis.Enabled = val
	}
	if addr := os.Getenv("CHECKO_RELAY_REDIS_ADDR"); addr != "" {
		c.Relay.Redis.Addr = addr
	}
	if password := os.Getenv("CHECKO_RELAY_REDIS_PASSWORD"); password != "" {
		c.Relay.Redis.Password = password
	}
	if db := os.Getenv("CHECKO_RELAY_REDIS_DB"); db != "" {
		val, err := strconv.Atoi(db)
		if err != nil {
			return fmt.Errorf("invalid CHECKO_RELAY_REDIS_DB: %w", err)
		}
		c.Relay.Redis.DB = val
	}

	if enabled := os.Getenv("CHECKO_METRICS_ENABLED"); enabled != "" {
		val, err := strconv.ParseBool(enabled)
		if err != nil {
			return fmt.Errorf("invalid CHECKO_METRICS_ENABLED: %w", err)
		}
		c.Metrics.Enabled = val
	}

	return nil
}

func splitList(value string) []string {
	items := make([]string, 0)
	for _, item := range strings.Split(value, ",") {
		item = strings.TrimSpace(item)
		if item != "" {
			items = append(items, item)
		}
	}
	return items
}

// LoadFromFile loads configuration from a YAML file
func (c *Config) LoadFromFile(filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.Log.Level] {
		return fmt.Errorf("invalid log level %q, must be one of: debug, info, warn, error", c.Log.Level)
	}

	validLogFormats := map[string]bool{
		"json":    true,
		"console": true,
	}
	if !validLogFormats[c.Log.Format] {
		return fmt.Errorf("invalid log format %q, must be one of: json, console", c.Log.Format)
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database path is required")
	}

	if c.Bridge.Port < constants.MinPort || c.Bridge.Port > constants.MaxPort {
		return fmt.Errorf("invalid bridge port %d", c.Bridge.Port)
	}
	if c.Bridge.RateLimitPerSecond < 0 {
		return fmt.Errorf("bridge rate limit cannot be negative")
	}
	if c.Bridge.PagePath == c.Bridge.UIPath {
		return fmt.Errorf("bridge page and ui paths must differ")
	}
	for _, origin := range c.Bridge.UIOrigins {
		if origin == "" || origin == "*" {
			return fmt.Errorf("invalid bridge ui origin %q", origin)
		}
	}
	if len(c.Bridge.UIOrigins) == 0 && c.Bridge.UIToken == "" {
		return fmt.Errorf("bridge ui requires ui_origins or ui_token")
	}

	if c.Popup.SettleDelay < 0 {
		return fmt.Errorf("popup settle delay cannot be negative")
	}
	if c.Node.Timeout <= 0 {
		return fmt.Errorf("node timeout must be positive")
	}
	if c.Subscription.Interval <= 0 {
		return fmt.Errorf("subscription interval must be positive")
	}
	if c.Subscription.ReconnectMinBackoff > c.Subscription.ReconnectMaxBackoff {
		return fmt.Errorf("reconnect min backoff exceeds max backoff")
	}

	validRPCSchemas := map[string]bool{"http": true, "https": true}
	if !validRPCSchemas[c.Network.RPCSchema] {
		return fmt.Errorf("invalid network rpc schema %q, must be one of: http, https", c.Network.RPCSchema)
	}
	validWSSchemas := map[string]bool{"ws": true, "wss": true}
	if !validWSSchemas[c.Network.WSSchema] {
		return fmt.Errorf("invalid network ws schema %q, must be one of: ws, wss", c.Network.WSSchema)
	}
	if c.Network.Port < constants.MinPort || c.Network.Port > constants.MaxPort {
		return fmt.Errorf("invalid network port %d", c.Network.Port)
	}

	if c.Relay.Redis.Enabled && c.Relay.Redis.Addr == "" {
		return fmt.Errorf("redis relay enabled but no address configured")
	}

	return nil
}

// Load is a convenience method that loads configuration in the following order:
// 1. Set defaults
// 2. Load from file (if provided)
// 3. Load from environment variables (override file)
// 4. Validate
func Load(configFile string) (*Config, error) {
	cfg := NewConfig()

	if configFile != "" {
		if err := cfg.LoadFromFile(configFile); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	if err := cfg.LoadFromEnv(); err != nil {
		return nil, fmt.Errorf("failed to load config from environment: %w", err)
	}

	// Set defaults for any missing values
	cfg.SetDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}
