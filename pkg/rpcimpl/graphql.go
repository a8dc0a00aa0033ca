package rpcimpl

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/0xmhha/checko-go/internal/logger"
	"github.com/0xmhha/checko-go/pkg/client"
	"github.com/0xmhha/checko-go/pkg/rpc"
	"github.com/0xmhha/checko-go/pkg/storage"
)

// graphqlParams are the params of linera_graphqlQuery, linera_graphqlMutation
// and linera_subscribe
type graphqlParams struct {
	ApplicationID string        `json:"applicationId,omitempty"`
	PublicKey     string        `json:"publicKey,omitempty"`
	Query         *graphqlQuery `json:"query,omitempty"`
	Topics        []string      `json:"topics,omitempty"`
}

type graphqlQuery struct {
	Query         string         `json:"query"`
	Variables     map[string]any `json:"variables,omitempty"`
	OperationName string         `json:"operationName,omitempty"`

	// ApplicationOperationBytes is the serialized application operation,
	// either a byte array or a string holding one
	ApplicationOperationBytes json.RawMessage `json:"applicationOperationBytes,omitempty"`

	// BlobBytes are published together with a system operation
	BlobBytes []json.RawMessage `json:"blobBytes,omitempty"`
}

// MutationResult is returned for recorded operations
type MutationResult struct {
	OperationID string `json:"operationId"`

	// Operation is the serialized system operation, empty for application operations
	Operation string `json:"operation,omitempty"`
}

// graphqlTarget resolves the params and the microchain a GraphQL request acts on
func (h *Handlers) graphqlTarget(ctx context.Context, req *rpc.Request) (*graphqlParams, string, error) {
	var params graphqlParams
	if err := req.Request.DecodeParams(&params); err != nil {
		return nil, "", err
	}
	if params.Query == nil || strings.TrimSpace(params.Query.Query) == "" {
		return nil, "", fmt.Errorf("%w: invalid query", rpc.ErrInvalidParams)
	}

	microchain, err := h.store.RPCMicrochain(ctx, req.Origin, params.PublicKey)
	if err != nil {
		return nil, "", fmt.Errorf("failed to resolve microchain: %w", err)
	}
	if microchain == "" {
		return nil, "", fmt.Errorf("%w: invalid microchain", rpc.ErrInvalidParams)
	}

	if params.Query.Variables == nil {
		params.Query.Variables = map[string]any{}
	}
	return &params, microchain, nil
}

// graphqlQuery executes the query against the node and returns the payload
// under the operation's result key
func (h *Handlers) graphqlQuery(ctx context.Context, req *rpc.Request, _ string) (any, error) {
	params, microchain, err := h.graphqlTarget(ctx, req)
	if err != nil {
		return nil, err
	}

	endpoint, err := h.store.RPCEndpoint(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve graphql endpoint: %w", err)
	}
	if endpoint == "" {
		return nil, fmt.Errorf("%w: invalid graphql endpoint", rpc.ErrUpstream)
	}

	return h.client.Execute(ctx, client.ApplicationURL(endpoint, microchain, params.ApplicationID), &client.Request{
		Query:         params.Query.Query,
		Variables:     params.Query.Variables,
		OperationName: params.Query.OperationName,
	})
}

// graphqlMutation records the mutation as a pending chain operation.
// Application mutations carry their serialized operation; system mutations
// are converted by the codec.
func (h *Handlers) graphqlMutation(ctx context.Context, req *rpc.Request, _ string) (any, error) {
	params, microchain, err := h.graphqlTarget(ctx, req)
	if err != nil {
		return nil, err
	}
	if params.ApplicationID != "" {
		return h.applicationMutation(ctx, microchain, params)
	}
	return h.systemMutation(ctx, microchain, params)
}

func (h *Handlers) applicationMutation(ctx context.Context, microchain string, params *graphqlParams) (any, error) {
	opBytes, err := operationBytes(params.Query.ApplicationOperationBytes)
	if err != nil {
		return nil, err
	}

	operation, err := json.Marshal(map[string]any{
		"User": map[string]any{
			"applicationId": params.ApplicationID,
			"bytes":         opBytes,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode operation: %w", err)
	}

	// Application operations are recorded without blobs
	id := h.newID()
	if err := h.recordOperation(ctx, id, microchain, string(operation), params); err != nil {
		return nil, err
	}
	return &MutationResult{OperationID: id}, nil
}

func (h *Handlers) systemMutation(ctx context.Context, microchain string, params *graphqlParams) (any, error) {
	operation, err := h.codec.DeserializeOperation(ctx, params.Query.Query, params.Query.Variables)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", rpc.ErrInvalidParams, err)
	}

	id := h.newID()
	blobs := make([]string, 0, len(params.Query.BlobBytes))
	for _, blob := range params.Query.BlobBytes {
		blobs = append(blobs, string(blob))
	}
	if err := h.store.CreateOperationBlobs(ctx, id, blobs); err != nil {
		return nil, fmt.Errorf("failed to store operation blobs: %w", err)
	}

	if err := h.recordOperation(ctx, id, microchain, operation, params); err != nil {
		return nil, err
	}
	return &MutationResult{OperationID: id, Operation: operation}, nil
}

func (h *Handlers) recordOperation(ctx context.Context, id, microchain, operation string, params *graphqlParams) error {
	variables, err := json.Marshal(params.Query.Variables)
	if err != nil {
		return fmt.Errorf("failed to encode variables: %w", err)
	}

	op := &storage.ChainOperation{
		OperationID:      id,
		Microchain:       microchain,
		OperationType:    storage.OperationTypeAnonymous,
		ApplicationID:    params.ApplicationID,
		ApplicationType:  string(storage.OperationTypeAnonymous),
		Operation:        operation,
		GraphQLQuery:     params.Query.Query,
		GraphQLVariables: string(variables),
		State:            storage.OperationCreated,
	}
	if err := h.store.CreateChainOperation(ctx, op); err != nil {
		return fmt.Errorf("failed to record operation: %w", err)
	}

	logger.ForComponent(ctx, "rpcimpl", h.logger).Info("chain operation recorded",
		zap.String("operation_id", id),
		zap.String("chain_id", microchain),
		zap.String("application_id", params.ApplicationID),
	)
	return nil
}

// operationBytes decodes the serialized application operation. Numbers stay
// json.Number so the byte values reach the record untouched.
func operationBytes(raw json.RawMessage) ([]any, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return nil, fmt.Errorf("%w: invalid application operation", rpc.ErrInvalidParams)
	}

	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, fmt.Errorf("%w: invalid application operation: %v", rpc.ErrInvalidParams, err)
		}
		raw = []byte(s)
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var out []any
	if err := dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: invalid application operation: %v", rpc.ErrInvalidParams, err)
	}
	return out, nil
}
