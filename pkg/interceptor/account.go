// Package interceptor holds the pre-interceptors run before the middleware chain
package interceptor

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/0xmhha/checko-go/internal/logger"
	"github.com/0xmhha/checko-go/pkg/engine"
	"github.com/0xmhha/checko-go/pkg/rpc"
	"github.com/0xmhha/checko-go/pkg/storage"
)

// Accounts resolves the account a request acts through
type Accounts interface {
	OriginPublicKeys(ctx context.Context, origin string) ([]string, error)
	SelectedOwner(ctx context.Context) (*storage.Owner, error)
}

// Account fills params.publicKey of GraphQL methods that omit it: the
// origin's first bound key wins, the wallet's selected owner is the fallback.
// Having no account at all is left for the handler to reject.
func Account(accounts Accounts, log *zap.Logger) engine.Interceptor {
	log = logger.WithComponent(logger.OrNop(log), "account-interceptor")

	return func(ctx context.Context, req *rpc.Request) error {
		spec, ok := rpc.Lookup(req.Request.Method)
		if !ok || !spec.GraphQL || req.PublicKey() != "" {
			return nil
		}
		if _, ok := req.Request.Object(); !ok {
			return nil
		}

		keys, err := accounts.OriginPublicKeys(ctx, req.Origin)
		if err != nil {
			return fmt.Errorf("failed to resolve origin accounts: %w", err)
		}
		if len(keys) > 0 {
			return req.Request.SetParam(rpc.ParamPublicKey, keys[0])
		}

		owner, err := accounts.SelectedOwner(ctx)
		if errors.Is(err, storage.ErrNotFound) {
			log.Debug("no account for request", zap.String("origin", req.Origin))
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to resolve selected owner: %w", err)
		}
		return req.Request.SetParam(rpc.ParamPublicKey, owner.Address)
	}
}

// RequireOrigin rejects requests that do not say where they come from
func RequireOrigin() engine.Interceptor {
	return func(_ context.Context, req *rpc.Request) error {
		if req.Origin == "" {
			return fmt.Errorf("%w: missing origin", rpc.ErrInvalidParams)
		}
		return nil
	}
}
