package rpcimpl

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/0xmhha/checko-go/pkg/client"
	"github.com/0xmhha/checko-go/pkg/rpc"
	"github.com/0xmhha/checko-go/pkg/storage"
)

const balanceQuery = `query balance($chainId: ChainId!, $owner: AccountOwner) {
  balance(chainId: $chainId, owner: $owner)
}`

// ProviderState is the result of metamask_getProviderState
type ProviderState struct {
	IsUnlocked     bool     `json:"isUnlocked"`
	Accounts       []string `json:"accounts"`
	ChainID        string   `json:"chainId"`
	NetworkVersion string   `json:"networkVersion"`
}

type balanceParams struct {
	ChainID   string `json:"chainId,omitempty"`
	PublicKey string `json:"publicKey,omitempty"`
}

func (h *Handlers) ping(context.Context, *rpc.Request, string) (any, error) {
	return "pong", nil
}

func (h *Handlers) providerState(ctx context.Context, req *rpc.Request, _ string) (any, error) {
	keys, err := h.store.OriginPublicKeys(ctx, req.Origin)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve origin accounts: %w", err)
	}

	state := &ProviderState{IsUnlocked: true, Accounts: nonNil(keys)}
	if len(keys) > 0 {
		if state.ChainID, err = h.store.RPCMicrochain(ctx, req.Origin, keys[0]); err != nil {
			return nil, fmt.Errorf("failed to resolve microchain: %w", err)
		}
	}

	network, err := h.store.SelectedNetwork(ctx)
	switch {
	case errors.Is(err, storage.ErrNotFound):
	case err != nil:
		return nil, fmt.Errorf("failed to resolve network: %w", err)
	default:
		state.NetworkVersion = network.Name
	}
	return state, nil
}

// requestAccounts runs after the user approved the origin, so the approval is
// remembered before the accounts are returned
func (h *Handlers) requestAccounts(ctx context.Context, req *rpc.Request, _ string) (any, error) {
	if err := h.store.Authorize(ctx, req.Origin, string(req.Request.Method)); err != nil {
		return nil, fmt.Errorf("failed to authorize origin: %w", err)
	}
	h.requestLog(ctx, req).Info("origin authorized")

	keys, err := h.originKeys(ctx, req.Origin)
	if err != nil {
		return nil, err
	}
	return keys, nil
}

// revokePermissions forgets approvals of the origin. Params name permissions as
// [{"eth_accounts": {}}]; without params every remembered approval is dropped.
func (h *Handlers) revokePermissions(ctx context.Context, req *rpc.Request, _ string) (any, error) {
	revoked, err := revokedMethods(&req.Request)
	if err != nil {
		return nil, err
	}
	for _, m := range revoked {
		if err := h.store.Revoke(ctx, req.Origin, string(m)); err != nil {
			return nil, fmt.Errorf("failed to revoke %s: %w", m, err)
		}
	}

	names := make([]string, len(revoked))
	for i, m := range revoked {
		names[i] = string(m)
	}
	h.requestLog(ctx, req).Info("origin permissions revoked", zap.Strings("methods", names))
	return nil, nil
}

func revokedMethods(call *rpc.Call) ([]rpc.Method, error) {
	var permissions []map[string]any
	if obj, ok := call.Object(); ok {
		permissions = []map[string]any{obj}
	} else if call.Params != nil {
		if err := call.DecodeParams(&permissions); err != nil {
			return nil, err
		}
	}

	remembered := rpc.Remembered()
	named := make(map[rpc.Method]bool)
	for _, perm := range permissions {
		for name := range perm {
			m := rpc.Method(name)
			if m == rpc.MethodAccounts {
				m = rpc.MethodRequestAccounts
			}
			if spec, ok := rpc.Lookup(m); !ok || spec.Confirmation != rpc.ConfirmUnlessAuthenticated {
				return nil, fmt.Errorf("%w: unknown permission %s", rpc.ErrInvalidParams, name)
			}
			named[m] = true
		}
	}
	if len(named) == 0 {
		return remembered, nil
	}

	var out []rpc.Method
	for _, m := range remembered {
		if named[m] {
			out = append(out, m)
		}
	}
	return out, nil
}

func (h *Handlers) accounts(ctx context.Context, req *rpc.Request, _ string) (any, error) {
	keys, err := h.store.OriginPublicKeys(ctx, req.Origin)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve origin accounts: %w", err)
	}
	return nonNil(keys), nil
}

// originKeys returns the keys bound to origin, or the selected owner's key
func (h *Handlers) originKeys(ctx context.Context, origin string) ([]string, error) {
	keys, err := h.store.OriginPublicKeys(ctx, origin)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve origin accounts: %w", err)
	}
	if len(keys) > 0 {
		return keys, nil
	}

	owner, err := h.store.SelectedOwner(ctx)
	if errors.Is(err, storage.ErrNotFound) {
		return []string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve selected owner: %w", err)
	}
	return []string{owner.Address}, nil
}

// balance queries the node service for the balance of an account on a chain.
// The account defaults to the origin's first key and the chain to the one the
// origin acts through.
func (h *Handlers) balance(ctx context.Context, req *rpc.Request, _ string) (any, error) {
	var params balanceParams
	if _, ok := req.Request.Object(); ok {
		if err := req.Request.DecodeParams(&params); err != nil {
			return nil, err
		}
	}

	if params.PublicKey == "" {
		keys, err := h.originKeys(ctx, req.Origin)
		if err != nil {
			return nil, err
		}
		if len(keys) == 0 {
			return nil, fmt.Errorf("%w: invalid account", rpc.ErrInvalidParams)
		}
		params.PublicKey = keys[0]
	}

	if params.ChainID == "" {
		microchain, err := h.store.RPCMicrochain(ctx, req.Origin, params.PublicKey)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve microchain: %w", err)
		}
		if microchain == "" {
			return nil, fmt.Errorf("%w: invalid microchain", rpc.ErrInvalidParams)
		}
		params.ChainID = microchain
	}

	owner, err := storage.OwnerFromPublicKey(params.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", rpc.ErrInvalidParams, err)
	}

	endpoint, err := h.store.RPCEndpoint(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve graphql endpoint: %w", err)
	}

	return h.client.Execute(ctx, endpoint, &client.Request{
		Query: balanceQuery,
		Variables: map[string]any{
			"chainId": params.ChainID,
			"owner":   owner,
		},
	})
}

func nonNil(keys []string) []string {
	if keys == nil {
		return []string{}
	}
	return keys
}
