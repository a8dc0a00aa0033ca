package constants

import "time"

// Bridge Server Constants
const (
	// DefaultBridgeHost is the default bridge server host
	DefaultBridgeHost = "localhost"

	// DefaultBridgePort is the default bridge server port
	DefaultBridgePort = 8765

	// MinPort is the minimum valid port number
	MinPort = 1

	// MaxPort is the maximum valid port number
	MaxPort = 65535

	// DefaultReadTimeout is the default HTTP read timeout
	DefaultReadTimeout = 15 * time.Second

	// DefaultWriteTimeout is the default HTTP write timeout
	DefaultWriteTimeout = 15 * time.Second

	// DefaultIdleTimeout is the default HTTP idle timeout
	DefaultIdleTimeout = 60 * time.Second

	// DefaultShutdownTimeout is the default graceful shutdown timeout
	DefaultShutdownTimeout = 30 * time.Second

	// DefaultRateLimitPerSecond is the default rate limit (requests per second)
	DefaultRateLimitPerSecond = 100

	// DefaultRateLimitBurst is the default rate limit burst size
	DefaultRateLimitBurst = 200

	// DefaultKeepaliveInterval is how often connected peers receive a ping frame
	DefaultKeepaliveInterval = 3 * time.Second
)

// Bridge Paths
const (
	// DefaultPagePath is the WebSocket endpoint for page (content script) peers
	DefaultPagePath = "/ws/page"

	// DefaultUIPath is the WebSocket endpoint for popup UI peers
	DefaultUIPath = "/ws/ui"

	// DefaultRPCPath is the one-shot HTTP endpoint for requests
	DefaultRPCPath = "/rpc"

	// DefaultUIOrigin is the handshake origin accepted from popup surfaces
	DefaultUIOrigin = "chrome-extension://checko"
)

// Bridge Channels
const (
	// ChannelData carries inbound requests from pages
	ChannelData = "data"

	// ChannelPopupNew asks the UI to confirm a request
	ChannelPopupNew = "popup.new"

	// ChannelPopupUpdate reports an executed request to the UI
	ChannelPopupUpdate = "popup.update"

	// ChannelPopupClosed is sent by the UI when a popup is dismissed
	ChannelPopupClosed = "popup.closed"

	// ChannelSubscription delivers notification events to subscribed pages
	ChannelSubscription = "linera_subscription"

	// ChannelPing is the keepalive frame
	ChannelPing = "ping"

	// ChannelReply carries the answer to a frame, correlated by frame id
	ChannelReply = "reply"
)

// Confirmation Constants
const (
	// DefaultSettleDelay is the wait before sending popup.new to a freshly created popup
	DefaultSettleDelay = 1 * time.Second

	// DefaultPopupConnectTimeout bounds how long a launched popup may take to connect
	DefaultPopupConnectTimeout = 10 * time.Second
)

// Subscription Constants
const (
	// DefaultReconcileInterval is the subscription reconciliation period
	DefaultReconcileInterval = 1 * time.Second

	// DefaultReconnectMinBackoff is the first retry delay of the streaming client
	DefaultReconnectMinBackoff = 500 * time.Millisecond

	// DefaultReconnectMaxBackoff caps the retry delay of the streaming client
	DefaultReconnectMaxBackoff = 30 * time.Second

	// TopicInitialized is the synthetic topic dispatched when a chain is first subscribed
	TopicInitialized = "Initialized"

	// NotificationsSubscription is the GraphQL document subscribed per chain
	NotificationsSubscription = "subscription notifications($chainId: String!) { notifications(chainId: $chainId) }"
)

// Node Constants
const (
	// DefaultNodeTimeout is the default GraphQL HTTP request timeout
	DefaultNodeTimeout = 30 * time.Second

	// DefaultNetworkName is the name of the bootstrap network
	DefaultNetworkName = "Linera Testnet"

	// DefaultNetworkHost is the host of the bootstrap network
	DefaultNetworkHost = "localhost"

	// DefaultNetworkPort is the port of the bootstrap network
	DefaultNetworkPort = 8080
)

// Storage Constants
const (
	// DefaultDatabasePath is the default pebble directory
	DefaultDatabasePath = "./data/checko"

	// DefaultCacheSize is the default pebble block cache in MB
	DefaultCacheSize = 64

	// DefaultMaxOpenFiles is the default pebble open file limit
	DefaultMaxOpenFiles = 500

	// DefaultWriteBuffer is the default memtable size in MB
	DefaultWriteBuffer = 16
)

// Relay Constants
const (
	// DefaultRelayChannelPrefix prefixes Redis channels carrying relayed notifications
	DefaultRelayChannelPrefix = "checko:notifications"

	// DefaultRelayDialTimeout is the default Redis dial timeout
	DefaultRelayDialTimeout = 5 * time.Second
)

// Metrics Constants
const (
	// DefaultMetricsNamespace is the prometheus namespace of every collector
	DefaultMetricsNamespace = "checko"
)
