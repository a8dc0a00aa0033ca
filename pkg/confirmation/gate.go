package confirmation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/0xmhha/checko-go/internal/constants"
	"github.com/0xmhha/checko-go/internal/logger"
	"github.com/0xmhha/checko-go/pkg/rpc"
)

// ErrDuplicateConfirmation is returned when a confirmation for the same
// request id is already waiting on the user
var ErrDuplicateConfirmation = errors.New("confirmation already pending for request")

// PopupManager brings up the confirmation surface for a request.
// onClosed is invoked when the surface is dismissed; created reports whether
// a new surface had to be opened.
type PopupManager interface {
	ShowPopup(ctx context.Context, requestID int64, onClosed func()) (created bool, err error)
}

// Sender delivers a message to the UI and returns its reply
type Sender interface {
	Send(ctx context.Context, channel string, payload any) (json.RawMessage, error)
}

// Authenticator reports whether an origin already authorized a method
type Authenticator interface {
	Authenticated(ctx context.Context, origin, method string) (bool, error)
}

// Config holds gate configuration
type Config struct {
	// SettleDelay is applied before popup.new when the popup was just created
	SettleDelay time.Duration
}

// DefaultConfig returns the default gate configuration
func DefaultConfig() *Config {
	return &Config{SettleDelay: constants.DefaultSettleDelay}
}

// Gate decides whether a request needs the user's approval and runs the
// popup round-trip when it does
type Gate struct {
	popups      PopupManager
	sender      Sender
	auth        Authenticator
	settleDelay time.Duration
	logger      *zap.Logger
	metrics     *Metrics

	mu      sync.Mutex
	pending map[int64]*pending
}

type outcome struct {
	message string
	err     error
}

// pending is one confirmation waiting on the user. The first settlement wins.
type pending struct {
	requestID int64
	result    chan outcome
	done      chan struct{}
	once      sync.Once
}

func newPending(requestID int64) *pending {
	return &pending{
		requestID: requestID,
		result:    make(chan outcome, 1),
		done:      make(chan struct{}),
	}
}

func (p *pending) settle(o outcome) bool {
	settled := false
	p.once.Do(func() {
		p.result <- o
		close(p.done)
		settled = true
	})
	return settled
}

// NewGate creates a confirmation gate. auth may be nil, in which case no
// origin counts as authenticated.
func NewGate(cfg *Config, popups PopupManager, sender Sender, auth Authenticator, log *zap.Logger) (*Gate, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if popups == nil {
		return nil, fmt.Errorf("popup manager cannot be nil")
	}
	if sender == nil {
		return nil, fmt.Errorf("sender cannot be nil")
	}

	return &Gate{
		popups:      popups,
		sender:      sender,
		auth:        auth,
		settleDelay: cfg.SettleDelay,
		logger:      logger.WithComponent(logger.OrNop(log), "confirmation"),
		pending:     make(map[int64]*pending),
	}, nil
}

// SetMetrics enables Prometheus metrics for the gate
func (g *Gate) SetMetrics(metrics *Metrics) {
	g.metrics = metrics
}

// NeedsConfirmation applies the method's confirmation policy
func (g *Gate) NeedsConfirmation(ctx context.Context, req *rpc.Request) (bool, error) {
	spec, ok := rpc.Lookup(req.Request.Method)
	if !ok {
		return true, nil
	}

	switch spec.Confirmation {
	case rpc.ConfirmNever:
		return false, nil
	case rpc.ConfirmUnlessAuthenticated:
		if g.auth == nil {
			return true, nil
		}
		authenticated, err := g.auth.Authenticated(ctx, req.Origin, string(req.Request.Method))
		if err != nil {
			return false, fmt.Errorf("failed to check authentication: %w", err)
		}
		return !authenticated, nil
	default:
		return true, nil
	}
}

// Handle is the gate in middleware form: requests that need no confirmation
// pass with an empty message
func (g *Gate) Handle(ctx context.Context, req *rpc.Request) (string, error) {
	need, err := g.NeedsConfirmation(ctx, req)
	if err != nil {
		return "", err
	}
	if !need {
		g.metrics.record(outcomeSkipped, 0)
		return "", nil
	}
	return g.Confirm(ctx, req)
}

// Confirm shows the popup for req and waits until the user approves, denies
// or dismisses it. Approval returns the UI message.
func (g *Gate) Confirm(ctx context.Context, req *rpc.Request) (string, error) {
	start := time.Now()
	log := logger.ForComponent(ctx, "confirmation",
		logger.WithRequest(g.logger, req.Origin, string(req.Request.Method), req.Request.ID))

	p, err := g.register(req.Request.ID)
	if err != nil {
		g.metrics.record(outcomeError, time.Since(start))
		return "", err
	}
	defer g.remove(p)

	created, err := g.popups.ShowPopup(ctx, p.requestID, func() {
		if p.settle(outcome{err: rpc.ErrRejectedByUser}) {
			log.Info("confirmation dismissed")
		}
	})
	if err != nil {
		g.metrics.record(outcomeError, time.Since(start))
		return "", fmt.Errorf("failed to show popup: %w", err)
	}

	askCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go g.ask(askCtx, req, p, created, log)

	select {
	case o := <-p.result:
		g.metrics.record(classify(o.err), time.Since(start))
		return o.message, o.err
	case <-ctx.Done():
		p.settle(outcome{err: ctx.Err()})
		g.metrics.record(outcomeError, time.Since(start))
		return "", ctx.Err()
	}
}

// ask sends popup.new once the popup had time to settle and settles p with the answer
func (g *Gate) ask(ctx context.Context, req *rpc.Request, p *pending, created bool, log *zap.Logger) {
	if created && g.settleDelay > 0 {
		timer := time.NewTimer(g.settleDelay)
		select {
		case <-timer.C:
		case <-p.done:
			timer.Stop()
			return
		case <-ctx.Done():
			timer.Stop()
			return
		}
	}

	raw, err := g.sender.Send(ctx, constants.ChannelPopupNew, &rpc.PopupRequest{
		Type:    rpc.PopupConfirmation,
		Request: req,
	})
	if err != nil {
		p.settle(outcome{err: fmt.Errorf("confirmation request failed: %w", err)})
		return
	}

	var reply rpc.ConfirmationReply
	if err := json.Unmarshal(raw, &reply); err != nil {
		p.settle(outcome{err: fmt.Errorf("%w: malformed confirmation reply: %v", rpc.ErrInvalidParams, err)})
		return
	}

	if !reply.Approved {
		if p.settle(outcome{err: rpc.Denied(reply.Message)}) {
			log.Info("confirmation denied", zap.String("message", reply.Message))
		}
		return
	}
	if p.settle(outcome{message: reply.Message}) {
		log.Debug("confirmation approved")
	}
}

func (g *Gate) register(requestID int64) (*pending, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.pending[requestID]; ok {
		return nil, fmt.Errorf("%w: %d", ErrDuplicateConfirmation, requestID)
	}
	p := newPending(requestID)
	g.pending[requestID] = p
	return p, nil
}

func (g *Gate) remove(p *pending) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.pending[p.requestID] == p {
		delete(g.pending, p.requestID)
	}
}

// Pending returns the number of confirmations waiting on the user
func (g *Gate) Pending() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.pending)
}
