// Package engine runs page requests through the dispatch pipeline:
// pre-interceptors, middlewares (the confirmation gate among them), the
// terminal handler and, for mutations, the post-execution notifier.
package engine

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/0xmhha/checko-go/internal/logger"
	"github.com/0xmhha/checko-go/pkg/rpc"
)

// Interceptor inspects or enriches a request before any middleware runs.
// An error aborts the pipeline.
type Interceptor func(ctx context.Context, req *rpc.Request) error

// Middleware runs after the interceptors. The returned message is handed to
// the next middleware and finally to the terminal handler.
type Middleware func(ctx context.Context, req *rpc.Request) (string, error)

// Handler executes a request once every stage accepted it
type Handler interface {
	Handle(ctx context.Context, req *rpc.Request, message string) (any, error)
}

// HandlerFunc adapts a function to Handler
type HandlerFunc func(ctx context.Context, req *rpc.Request, message string) (any, error)

// Handle calls f
func (f HandlerFunc) Handle(ctx context.Context, req *rpc.Request, message string) (any, error) {
	return f(ctx, req, message)
}

// AccountSource lists the public keys an origin is bound to, first key first
type AccountSource interface {
	OriginPublicKeys(ctx context.Context, origin string) ([]string, error)
}

// Engine is the request dispatch pipeline
type Engine struct {
	interceptors []Interceptor
	middlewares  []Middleware
	handler      Handler
	notifier     *Notifier
	accounts     AccountSource
	base         *zap.Logger
	logger       *zap.Logger
	metrics      *Metrics
}

// Option configures an Engine
type Option func(*Engine)

// WithInterceptors replaces the pre-interceptor chain
func WithInterceptors(interceptors ...Interceptor) Option {
	return func(e *Engine) { e.interceptors = interceptors }
}

// WithMiddlewares replaces the middleware chain
func WithMiddlewares(middlewares ...Middleware) Option {
	return func(e *Engine) { e.middlewares = middlewares }
}

// WithNotifier reports mutation outcomes to the UI
func WithNotifier(n *Notifier) Option {
	return func(e *Engine) { e.notifier = n }
}

// WithAccounts sets the source of default public keys for GraphQL methods
func WithAccounts(a AccountSource) Option {
	return func(e *Engine) { e.accounts = a }
}

// WithLogger sets the engine logger
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithMetrics enables Prometheus metrics
func WithMetrics(m *Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// New creates an engine dispatching to handler
func New(handler Handler, opts ...Option) (*Engine, error) {
	if handler == nil {
		return nil, fmt.Errorf("handler cannot be nil")
	}

	e := &Engine{handler: handler}
	for _, opt := range opts {
		opt(e)
	}
	e.base = logger.OrNop(e.logger)
	e.logger = logger.WithComponent(e.base, "engine")
	return e, nil
}

// Execute runs req through the whole pipeline and returns the handler
// result. eth_sign returns the message produced by the middlewares.
func (e *Engine) Execute(ctx context.Context, req *rpc.Request) (any, error) {
	spec, ok := rpc.Lookup(req.Request.Method)
	if !ok {
		return nil, fmt.Errorf("%w: %s", rpc.ErrInvalidMethod, req.Request.Method)
	}

	req.Request.EnsureParams()
	if spec.GraphQL {
		e.defaultPublicKey(ctx, req)
	}

	for _, interceptor := range e.interceptors {
		if err := interceptor(ctx, req); err != nil {
			return nil, err
		}
	}

	var message string
	for _, middleware := range e.middlewares {
		var err error
		message, err = middleware(ctx, req)
		if err != nil {
			return nil, err
		}
	}

	if req.Request.Method == rpc.MethodSign {
		return message, nil
	}

	result, err := e.handler.Handle(ctx, req, message)
	if spec.Mutating && !req.Silent && e.notifier != nil {
		return e.notifier.Notify(ctx, req, result, err)
	}
	return result, err
}

// defaultPublicKey fills params.publicKey with the origin's first bound key
func (e *Engine) defaultPublicKey(ctx context.Context, req *rpc.Request) {
	if e.accounts == nil || req.PublicKey() != "" {
		return
	}
	if _, ok := req.Request.Object(); !ok {
		return
	}

	keys, err := e.accounts.OriginPublicKeys(ctx, req.Origin)
	if err != nil {
		logger.ForComponent(ctx, "engine", e.logger).Warn("failed to resolve origin accounts",
			zap.String("origin", req.Origin),
			zap.Error(err),
		)
		return
	}
	if len(keys) > 0 {
		_ = req.Request.SetParam(rpc.ParamPublicKey, keys[0])
	}
}

// Respond executes req and maps the outcome to its wire response. It is the
// handler bound to the bridge's data channel.
func (e *Engine) Respond(ctx context.Context, req *rpc.Request) *rpc.Response {
	start := time.Now()
	defer e.metrics.begin()()
	// stages read the request logger from ctx and add their own component
	reqLog := logger.WithRequest(e.base, req.Origin, string(req.Request.Method), req.Request.ID)
	log := logger.WithComponent(reqLog, "engine")

	result, err := e.Execute(logger.WithLogger(ctx, reqLog), req)
	e.metrics.observe(req.Request.Method, err, time.Since(start))

	if err != nil {
		log.Info("request failed", zap.Error(err), zap.Duration("duration", time.Since(start)))
		return rpc.NewError(err)
	}
	log.Debug("request executed", zap.Duration("duration", time.Since(start)))
	return rpc.NewResult(result)
}
