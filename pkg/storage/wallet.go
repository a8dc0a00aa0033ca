package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cockroachdb/pebble"
	"go.uber.org/zap"
)

var (
	_ NetworkReader   = (*PebbleStorage)(nil)
	_ AccountReader   = (*PebbleStorage)(nil)
	_ OperationWriter = (*PebbleStorage)(nil)
)

// ============================================================================
// Networks
// ============================================================================

// SaveNetwork stores a network. Saving a selected network deselects every other one.
func (s *PebbleStorage) SaveNetwork(ctx context.Context, n *Network) error {
	if n == nil || n.Name == "" {
		return fmt.Errorf("%w: network name is required", ErrInvalidKey)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if n.Selected {
		if err := s.clearSelectedNetwork(ctx, n.Name); err != nil {
			return err
		}
	}
	return s.putJSON(NetworkKey(n.Name), n)
}

// SelectNetwork marks the named network as the one in use
func (s *PebbleStorage) SelectNetwork(ctx context.Context, name string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	var n Network
	if err := s.getJSON(NetworkKey(name), &n); err != nil {
		return fmt.Errorf("failed to get network %q: %w", name, err)
	}
	if err := s.clearSelectedNetwork(ctx, name); err != nil {
		return err
	}
	n.Selected = true
	return s.putJSON(NetworkKey(name), &n)
}

func (s *PebbleStorage) clearSelectedNetwork(ctx context.Context, keep string) error {
	networks, err := s.Networks(ctx)
	if err != nil {
		return err
	}
	for _, other := range networks {
		if other.Name == keep || !other.Selected {
			continue
		}
		other.Selected = false
		if err := s.putJSON(NetworkKey(other.Name), other); err != nil {
			return fmt.Errorf("failed to deselect network %q: %w", other.Name, err)
		}
	}
	return nil
}

// Networks returns every stored network ordered by name
func (s *PebbleStorage) Networks(ctx context.Context) ([]*Network, error) {
	var networks []*Network
	err := s.iterate(ctx, []byte(prefixNetwork), func(_, value []byte) (bool, error) {
		var n Network
		if err := decode(value, &n); err != nil {
			return false, err
		}
		networks = append(networks, &n)
		return true, nil
	})
	return networks, err
}

// SelectedNetwork returns the network currently in use, or ErrNotFound
func (s *PebbleStorage) SelectedNetwork(ctx context.Context) (*Network, error) {
	networks, err := s.Networks(ctx)
	if err != nil {
		return nil, err
	}
	for _, n := range networks {
		if n.Selected {
			return n, nil
		}
	}
	return nil, ErrNotFound
}

// EnsureNetwork stores n as the selected preset network when no network is selected yet
func (s *PebbleStorage) EnsureNetwork(ctx context.Context, n *Network) (bool, error) {
	if _, err := s.SelectedNetwork(ctx); err == nil {
		return false, nil
	} else if !errors.Is(err, ErrNotFound) {
		return false, err
	}

	seeded := *n
	seeded.Selected = true
	seeded.Preset = true
	if err := s.SaveNetwork(ctx, &seeded); err != nil {
		return false, err
	}
	s.logger.Info("bootstrap network stored",
		zap.String("name", seeded.Name),
		zap.String("rpc", seeded.RPCURL()),
	)
	return true, nil
}

// RPCEndpoint returns the GraphQL HTTP endpoint of the selected network, or ""
func (s *PebbleStorage) RPCEndpoint(ctx context.Context) (string, error) {
	n, err := s.SelectedNetwork(ctx)
	if errors.Is(err, ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return n.RPCURL(), nil
}

// SubscriptionEndpoint returns the GraphQL WebSocket endpoint of the selected network, or ""
func (s *PebbleStorage) SubscriptionEndpoint(ctx context.Context) (string, error) {
	n, err := s.SelectedNetwork(ctx)
	if errors.Is(err, ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return n.WSURL(), nil
}

// ============================================================================
// Owners and microchains
// ============================================================================

// CreateOwner stores an account for a hex public key and returns it with its derived owner
func (s *PebbleStorage) CreateOwner(ctx context.Context, publicKey, name string, selected bool) (*Owner, error) {
	owner, err := OwnerFromPublicKey(publicKey)
	if err != nil {
		return nil, err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if selected {
		owners, err := s.Owners(ctx)
		if err != nil {
			return nil, err
		}
		for _, o := range owners {
			if o.Selected && o.Address != publicKey {
				o.Selected = false
				if err := s.putJSON(OwnerKey(o.Address), o); err != nil {
					return nil, err
				}
			}
		}
	}

	o := &Owner{Address: publicKey, Owner: owner, Name: name, Selected: selected}
	if err := s.putJSON(OwnerKey(publicKey), o); err != nil {
		return nil, err
	}
	return o, nil
}

// Owners returns every account of the wallet
func (s *PebbleStorage) Owners(ctx context.Context) ([]*Owner, error) {
	var owners []*Owner
	err := s.iterate(ctx, []byte(prefixOwner), func(_, value []byte) (bool, error) {
		var o Owner
		if err := decode(value, &o); err != nil {
			return false, err
		}
		owners = append(owners, &o)
		return true, nil
	})
	return owners, err
}

// SelectedOwner returns the selected account, or ErrNotFound
func (s *PebbleStorage) SelectedOwner(ctx context.Context) (*Owner, error) {
	owners, err := s.Owners(ctx)
	if err != nil {
		return nil, err
	}
	for _, o := range owners {
		if o.Selected {
			return o, nil
		}
	}
	return nil, ErrNotFound
}

// CreateMicrochain stores a followed microchain
func (s *PebbleStorage) CreateMicrochain(ctx context.Context, chainID, name string, isDefault bool) error {
	if chainID == "" {
		return fmt.Errorf("%w: microchain id is required", ErrInvalidKey)
	}
	return s.putJSON(MicrochainKey(chainID), &Microchain{Microchain: chainID, Name: name, Default: isDefault})
}

// Microchains returns the id of every followed microchain
func (s *PebbleStorage) Microchains(ctx context.Context) ([]string, error) {
	var chains []string
	err := s.iterate(ctx, []byte(prefixMicrochain), func(_, value []byte) (bool, error) {
		var m Microchain
		if err := decode(value, &m); err != nil {
			return false, err
		}
		chains = append(chains, m.Microchain)
		return true, nil
	})
	return chains, err
}

// AddMicrochainOwner links a microchain to an owner
func (s *PebbleStorage) AddMicrochainOwner(ctx context.Context, chainID, owner string) error {
	if chainID == "" || owner == "" {
		return fmt.Errorf("%w: microchain and owner are required", ErrInvalidKey)
	}
	return s.putJSON(MicrochainOwnerKey(chainID, owner), &MicrochainOwner{Microchain: chainID, Owner: owner})
}

// MicrochainOwners returns the owners of a microchain
func (s *PebbleStorage) MicrochainOwners(ctx context.Context, chainID string) ([]string, error) {
	var owners []string
	err := s.iterate(ctx, MicrochainOwnerPrefix(chainID), func(_, value []byte) (bool, error) {
		var mo MicrochainOwner
		if err := decode(value, &mo); err != nil {
			return false, err
		}
		owners = append(owners, mo.Owner)
		return true, nil
	})
	return owners, err
}

// ============================================================================
// Origin bindings and authorizations
// ============================================================================

// BindOriginMicrochain records which microchain an origin acts through for a public key
func (s *PebbleStorage) BindOriginMicrochain(ctx context.Context, origin, publicKey, microchain string) error {
	if origin == "" || publicKey == "" || microchain == "" {
		return fmt.Errorf("%w: origin, public key and microchain are required", ErrInvalidKey)
	}

	if err := s.ensureWritable(); err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	key := OriginMicrochainKey(origin, publicKey)
	exists, err := s.has(key)
	if err != nil {
		return err
	}

	batch := s.db.NewBatch()
	defer batch.Close()

	record, err := encode(&OriginMicrochain{Origin: origin, PublicKey: publicKey, Microchain: microchain})
	if err != nil {
		return err
	}
	if err := batch.Set(key, record, nil); err != nil {
		return err
	}

	if !exists {
		seq, err := s.countPrefix(ctx, OriginKeySeqPrefix(origin))
		if err != nil {
			return err
		}
		if err := batch.Set(OriginKeySeqKey(origin, seq), []byte(publicKey), nil); err != nil {
			return err
		}
	}

	return batch.Commit(pebble.Sync)
}

// RPCMicrochain returns the microchain bound to an origin's public key, or ""
func (s *PebbleStorage) RPCMicrochain(ctx context.Context, origin, publicKey string) (string, error) {
	var binding OriginMicrochain
	err := s.getJSON(OriginMicrochainKey(origin, publicKey), &binding)
	if errors.Is(err, ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return binding.Microchain, nil
}

// OriginPublicKeys returns the public keys bound to an origin in binding order
func (s *PebbleStorage) OriginPublicKeys(ctx context.Context, origin string) ([]string, error) {
	var keys []string
	err := s.iterate(ctx, OriginKeySeqPrefix(origin), func(_, value []byte) (bool, error) {
		keys = append(keys, string(value))
		return true, nil
	})
	return keys, err
}

// Authorize records that an origin no longer needs confirmation for a method
func (s *PebbleStorage) Authorize(ctx context.Context, origin, method string) error {
	if origin == "" || method == "" {
		return fmt.Errorf("%w: origin and method are required", ErrInvalidKey)
	}
	return s.putJSON(AuthKey(origin, method), map[string]int64{"authorizedAt": time.Now().Unix()})
}

// Revoke removes an authorization
func (s *PebbleStorage) Revoke(ctx context.Context, origin, method string) error {
	if err := s.ensureWritable(); err != nil {
		return err
	}
	return s.db.Delete(AuthKey(origin, method), pebble.Sync)
}

// Authenticated reports whether an origin is authorized for a method
func (s *PebbleStorage) Authenticated(ctx context.Context, origin, method string) (bool, error) {
	return s.has(AuthKey(origin, method))
}

// ============================================================================
// Chain operations
// ============================================================================

// CreateChainOperation records an operation waiting for block inclusion
func (s *PebbleStorage) CreateChainOperation(ctx context.Context, op *ChainOperation) error {
	if op == nil || op.OperationID == "" {
		return fmt.Errorf("%w: operation id is required", ErrInvalidKey)
	}
	if op.State == "" {
		op.State = OperationCreated
	}
	if op.CreatedAt == 0 {
		op.CreatedAt = time.Now().UnixMilli()
	}
	return s.putJSON(OperationKey(op.OperationID), op)
}

// ChainOperation returns a recorded operation
func (s *PebbleStorage) ChainOperation(ctx context.Context, operationID string) (*ChainOperation, error) {
	var op ChainOperation
	if err := s.getJSON(OperationKey(operationID), &op); err != nil {
		return nil, err
	}
	return &op, nil
}

// ChainOperations returns recorded operations in the given states, every operation when none are given
func (s *PebbleStorage) ChainOperations(ctx context.Context, states ...OperationState) ([]*ChainOperation, error) {
	want := make(map[OperationState]bool, len(states))
	for _, st := range states {
		want[st] = true
	}

	var ops []*ChainOperation
	err := s.iterate(ctx, []byte(prefixOperation), func(_, value []byte) (bool, error) {
		var op ChainOperation
		if err := decode(value, &op); err != nil {
			return false, err
		}
		if len(want) == 0 || want[op.State] {
			ops = append(ops, &op)
		}
		return true, nil
	})
	return ops, err
}

// UpdateOperationState moves an operation to a new state
func (s *PebbleStorage) UpdateOperationState(ctx context.Context, operationID string, state OperationState) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	op, err := s.ChainOperation(ctx, operationID)
	if err != nil {
		return err
	}
	op.State = state
	return s.putJSON(OperationKey(operationID), op)
}

// CreateOperationBlobs stores the blobs an operation depends on, atomically
func (s *PebbleStorage) CreateOperationBlobs(ctx context.Context, operationID string, blobs []string) error {
	if operationID == "" {
		return fmt.Errorf("%w: operation id is required", ErrInvalidKey)
	}
	if err := s.ensureWritable(); err != nil {
		return err
	}
	if len(blobs) == 0 {
		return nil
	}

	batch := s.db.NewBatch()
	defer batch.Close()

	for i, blob := range blobs {
		if err := batch.Set(OperationBlobKey(operationID, i), []byte(blob), nil); err != nil {
			return fmt.Errorf("failed to stage blob %d: %w", i, err)
		}
	}
	return batch.Commit(pebble.Sync)
}

// OperationBlobs returns the blobs of an operation in insertion order
func (s *PebbleStorage) OperationBlobs(ctx context.Context, operationID string) ([]string, error) {
	var blobs []string
	err := s.iterate(ctx, OperationBlobPrefix(operationID), func(_, value []byte) (bool, error) {
		blobs = append(blobs, string(value))
		return true, nil
	})
	return blobs, err
}

func (s *PebbleStorage) countPrefix(ctx context.Context, prefix []byte) (uint64, error) {
	var n uint64
	err := s.iterate(ctx, prefix, func(_, _ []byte) (bool, error) {
		n++
		return true, nil
	})
	return n, err
}
