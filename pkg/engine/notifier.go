package engine

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/0xmhha/checko-go/internal/constants"
	"github.com/0xmhha/checko-go/internal/logger"
	"github.com/0xmhha/checko-go/pkg/rpc"
)

// Sender delivers a message to the UI and returns its reply
type Sender interface {
	Send(ctx context.Context, channel string, payload any) (json.RawMessage, error)
}

// Notifier reports executed mutations to the UI and lets it veto the result
type Notifier struct {
	sender Sender
	logger *zap.Logger
}

// NewNotifier creates a notifier sending popup.update through sender
func NewNotifier(sender Sender, log *zap.Logger) *Notifier {
	return &Notifier{
		sender: sender,
		logger: logger.WithComponent(logger.OrNop(log), "notifier"),
	}
}

// Notify sends the execution outcome to the UI and waits for the ack.
// When execErr is set the UI is still told and execErr is returned whatever
// the ack says. Otherwise a non-zero ack code turns into rpc.ErrVetoedByUI.
func (n *Notifier) Notify(ctx context.Context, req *rpc.Request, result any, execErr error) (any, error) {
	update := &rpc.PopupRequest{
		Type:    rpc.PopupExecution,
		Request: req,
	}
	if execErr == nil {
		update.PrivData = result
	}

	raw, err := n.sender.Send(ctx, constants.ChannelPopupUpdate, update)
	if execErr != nil {
		if err != nil {
			logger.ForComponent(ctx, "notifier", n.logger).Warn("failed to report execution failure", zap.Error(err))
		}
		return nil, execErr
	}
	if err != nil {
		return nil, fmt.Errorf("execution update failed: %w", err)
	}

	var reply rpc.PopupReply
	if err := json.Unmarshal(raw, &reply); err != nil {
		return nil, fmt.Errorf("%w: malformed execution ack: %v", rpc.ErrInvalidParams, err)
	}
	if reply.Code != 0 {
		return nil, rpc.Vetoed(reply.Message)
	}
	return result, nil
}
