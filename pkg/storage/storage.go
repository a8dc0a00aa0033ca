package storage

import (
	"context"
	"errors"
)

// Common errors
var (
	// ErrNotFound is returned when a key is not found
	ErrNotFound = errors.New("not found")

	// ErrInvalidKey is returned when a key component is empty
	ErrInvalidKey = errors.New("invalid key")

	// ErrInvalidData is returned when a record cannot be decoded
	ErrInvalidData = errors.New("invalid data")

	// ErrClosed is returned when operating on a closed storage
	ErrClosed = errors.New("storage closed")

	// ErrReadOnly is returned when attempting to write to a read-only storage
	ErrReadOnly = errors.New("storage is read-only")
)

// NetworkReader resolves node endpoints from the selected network
type NetworkReader interface {
	// SelectedNetwork returns the network currently in use
	SelectedNetwork(ctx context.Context) (*Network, error)

	// RPCEndpoint returns the GraphQL HTTP endpoint, or "" when no network is usable
	RPCEndpoint(ctx context.Context) (string, error)

	// SubscriptionEndpoint returns the GraphQL WebSocket endpoint, or "" when no network is usable
	SubscriptionEndpoint(ctx context.Context) (string, error)
}

// AccountReader resolves the accounts and chains an origin may act through
type AccountReader interface {
	// Microchains returns every microchain id known to the wallet
	Microchains(ctx context.Context) ([]string, error)

	// OriginPublicKeys returns the public keys bound to an origin, in binding order
	OriginPublicKeys(ctx context.Context, origin string) ([]string, error)

	// RPCMicrochain returns the microchain an origin uses for a public key, or ""
	RPCMicrochain(ctx context.Context, origin, publicKey string) (string, error)

	// SelectedOwner returns the wallet's selected owner
	SelectedOwner(ctx context.Context) (*Owner, error)

	// Authenticated reports whether an origin is authorized for a method
	Authenticated(ctx context.Context, origin, method string) (bool, error)
}

// OperationWriter records operations waiting for block inclusion
type OperationWriter interface {
	CreateChainOperation(ctx context.Context, op *ChainOperation) error
	CreateOperationBlobs(ctx context.Context, operationID string, blobs []string) error
}

// Config holds the pebble configuration
type Config struct {
	// Path to the database directory
	Path string

	// Cache size in MB (default: 64)
	Cache int

	// MaxOpenFiles is the maximum number of open files (default: 500)
	MaxOpenFiles int

	// WriteBuffer size in MB (default: 16)
	WriteBuffer int

	// DisableWAL disables write-ahead log (not recommended)
	DisableWAL bool

	// ReadOnly opens the database in read-only mode
	ReadOnly bool

	// CompactionConcurrency for background compaction (default: 1)
	CompactionConcurrency int
}

// DefaultConfig returns a default configuration for a wallet sized store
func DefaultConfig(path string) *Config {
	return &Config{
		Path:                  path,
		Cache:                 64,
		MaxOpenFiles:          500,
		WriteBuffer:           16,
		CompactionConcurrency: 1,
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Path == "" {
		return errors.New("path cannot be empty")
	}
	if c.Cache < 0 {
		return errors.New("cache size cannot be negative")
	}
	if c.MaxOpenFiles < 0 {
		return errors.New("max open files cannot be negative")
	}
	if c.WriteBuffer < 0 {
		return errors.New("write buffer size cannot be negative")
	}
	if c.CompactionConcurrency < 1 {
		return errors.New("compaction concurrency must be at least 1")
	}
	return nil
}
