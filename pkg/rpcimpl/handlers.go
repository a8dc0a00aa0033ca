// Package rpcimpl implements the terminal handlers of the dispatch pipeline
package rpcimpl

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/0xmhha/checko-go/internal/logger"
	"github.com/0xmhha/checko-go/pkg/client"
	"github.com/0xmhha/checko-go/pkg/codec"
	"github.com/0xmhha/checko-go/pkg/engine"
	"github.com/0xmhha/checko-go/pkg/rpc"
	"github.com/0xmhha/checko-go/pkg/storage"
	"github.com/0xmhha/checko-go/pkg/subscription"
)

// Store is the part of the wallet store the handlers use
type Store interface {
	storage.NetworkReader
	storage.AccountReader
	storage.OperationWriter
	Authorize(ctx context.Context, origin, method string) error
	Revoke(ctx context.Context, origin, method string) error
}

// Broadcaster pushes fire-and-forget messages to every connected page
type Broadcaster interface {
	Broadcast(channel string, payload any)
}

// HandlerFunc executes one method
type HandlerFunc func(ctx context.Context, req *rpc.Request, message string) (any, error)

// Config holds the collaborators of the handlers
type Config struct {
	Store    Store
	Client   *client.Client
	Codec    codec.ChainCodec
	Registry *subscription.Registry
	Bridge   Broadcaster
	Logger   *zap.Logger
}

// Handlers dispatches executed requests to the method implementations
type Handlers struct {
	store    Store
	client   *client.Client
	codec    codec.ChainCodec
	registry *subscription.Registry
	bridge   Broadcaster
	logger   *zap.Logger

	table map[rpc.Method]HandlerFunc
	newID func() string
}

var _ engine.Handler = (*Handlers)(nil)

// New creates the handler table
func New(cfg *Config) (*Handlers, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if cfg.Client == nil {
		return nil, fmt.Errorf("client cannot be nil")
	}
	if cfg.Registry == nil {
		return nil, fmt.Errorf("registry cannot be nil")
	}
	if cfg.Bridge == nil {
		return nil, fmt.Errorf("bridge cannot be nil")
	}

	chainCodec := cfg.Codec
	if chainCodec == nil {
		chainCodec = codec.New()
	}

	h := &Handlers{
		store:    cfg.Store,
		client:   cfg.Client,
		codec:    chainCodec,
		registry: cfg.Registry,
		bridge:   cfg.Bridge,
		logger:   logger.WithComponent(logger.OrNop(cfg.Logger), "rpcimpl"),
		newID:    uuid.NewString,
	}

	h.table = map[rpc.Method]HandlerFunc{
		rpc.MethodPing:              h.ping,
		rpc.MethodGetProviderState:  h.providerState,
		rpc.MethodRequestAccounts:   h.requestAccounts,
		rpc.MethodAccounts:          h.accounts,
		rpc.MethodRevokePermissions: h.revokePermissions,
		rpc.MethodGetBalance:        h.balance,
		rpc.MethodGraphQLQuery:      h.graphqlQuery,
		rpc.MethodGraphQLMutation:   h.graphqlMutation,
		rpc.MethodSubscribe:         h.subscribe,
		rpc.MethodUnsubscribe:       h.unsubscribe,
	}
	return h, nil
}

// Handle runs the implementation of req's method
func (h *Handlers) Handle(ctx context.Context, req *rpc.Request, message string) (any, error) {
	fn, ok := h.table[req.Request.Method]
	if !ok {
		return nil, fmt.Errorf("%w: %s", rpc.ErrUnsupported, req.Request.Method)
	}
	return fn(ctx, req, message)
}

// requestLog is the request logger Respond put in ctx, or one built from req
func (h *Handlers) requestLog(ctx context.Context, req *rpc.Request) *zap.Logger {
	return logger.ForComponent(ctx, "rpcimpl",
		logger.WithRequest(h.logger, req.Origin, string(req.Request.Method), req.Request.ID))
}

// Supported reports whether m has an implementation
func (h *Handlers) Supported(m rpc.Method) bool {
	_, ok := h.table[m]
	return ok
}
