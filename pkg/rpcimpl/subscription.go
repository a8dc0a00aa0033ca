package rpcimpl

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/0xmhha/checko-go/internal/constants"
	"github.com/0xmhha/checko-go/pkg/rpc"
	"github.com/0xmhha/checko-go/pkg/subscription"
)

// SubscriptionPayload is pushed to pages on the linera_subscription channel
type SubscriptionPayload struct {
	SubscriptionID subscription.SubscriptionID `json:"subscriptionId"`
	Payload        json.RawMessage             `json:"payload"`
}

type subscribeParams struct {
	PublicKey string   `json:"publicKey,omitempty"`
	Topics    []string `json:"topics"`
}

// subscribe registers the page for the given topics. Events are forwarded
// only when they concern the microchain the origin acts through.
func (h *Handlers) subscribe(ctx context.Context, req *rpc.Request, _ string) (any, error) {
	var params subscribeParams
	if err := req.Request.DecodeParams(&params); err != nil {
		return nil, err
	}
	if len(params.Topics) == 0 {
		return nil, fmt.Errorf("%w: invalid topics", rpc.ErrInvalidParams)
	}

	origin := req.Origin
	log := h.requestLog(ctx, req).With(zap.Strings("topics", params.Topics))

	id := h.registry.Subscribe(params.Topics, func(id subscription.SubscriptionID, event subscription.Event) {
		// Events arrive on the notification loop, detached from the subscribing request
		microchain, err := h.store.RPCMicrochain(context.Background(), origin, params.PublicKey)
		if err != nil {
			log.Warn("failed to resolve subscriber microchain", zap.Error(err))
			return
		}
		if microchain == "" {
			log.Debug("subscriber has no microchain", zap.String("subscription_id", string(id)))
			return
		}
		if event.ChainID != microchain {
			return
		}

		h.bridge.Broadcast(constants.ChannelSubscription, &SubscriptionPayload{
			SubscriptionID: id,
			Payload:        event.Payload,
		})
	})

	log.Debug("page subscribed", zap.String("subscription_id", string(id)))
	return string(id), nil
}

// unsubscribe takes the subscription id as the first positional param
func (h *Handlers) unsubscribe(_ context.Context, req *rpc.Request, _ string) (any, error) {
	params, _ := req.Request.Array()
	if len(params) == 0 {
		return nil, fmt.Errorf("%w: invalid subscription id", rpc.ErrInvalidParams)
	}
	id, ok := params[0].(string)
	if !ok || id == "" {
		return nil, fmt.Errorf("%w: invalid subscription id", rpc.ErrInvalidParams)
	}

	h.registry.Unsubscribe(subscription.SubscriptionID(id))
	return id, nil
}
