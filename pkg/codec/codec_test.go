package codec

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeserializeOperation(t *testing.T) {
	tests := []struct {
		name      string
		query     string
		variables map[string]any
		want      string
	}{
		{
			name:  "literal arguments",
			query: `mutation { transfer(owner: "o1", amount: "1.5", nonce: 7, urgent: true) }`,
			want:  `{"System":{"Transfer":{"owner":"o1","amount":"1.5","nonce":7,"urgent":true}}}`,
		},
		{
			name:      "variables",
			query:     `mutation Transfer($owner: String!, $amount: Amount!) { transfer(owner: $owner, amount: $amount) }`,
			variables: map[string]any{"owner": "o2", "amount": json.Number("100000000000000000000")},
			want:      `{"System":{"Transfer":{"owner":"o2","amount":100000000000000000000}}}`,
		},
		{
			name:  "nested values",
			query: `mutation { openChain(config: {owners: ["a", "b"], weight: 1.25}, kind: SINGLE) }`,
			want:  `{"System":{"OpenChain":{"config":{"owners":["a","b"],"weight":1.25},"kind":"SINGLE"}}}`,
		},
		{
			name:  "no arguments",
			query: `mutation { closeChain }`,
			want:  `{"System":{"CloseChain":{}}}`,
		},
	}

	c := New()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := c.DeserializeOperation(context.Background(), tt.query, tt.variables)
			require.NoError(t, err)
			assert.JSONEq(t, tt.want, got)
		})
	}
}

func TestDeserializeOperationErrors(t *testing.T) {
	c := New()
	ctx := context.Background()

	_, err := c.DeserializeOperation(ctx, `mutation {`, nil)
	assert.ErrorIs(t, err, ErrInvalidDocument)

	_, err = c.DeserializeOperation(ctx, `query { balance }`, nil)
	assert.ErrorIs(t, err, ErrInvalidDocument)

	_, err = c.DeserializeOperation(ctx, `mutation { a b }`, nil)
	assert.ErrorIs(t, err, ErrInvalidDocument)

	_, err = c.DeserializeOperation(ctx, `mutation($x: String) { transfer(owner: $x) }`, map[string]any{})
	assert.ErrorIs(t, err, ErrMissingVariable)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = c.DeserializeOperation(cancelled, `mutation { closeChain }`, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSerializeSignedBlock(t *testing.T) {
	c := New()

	got, err := c.SerializeSignedBlock(context.Background(), json.RawMessage("{ \"height\": 1,\n \"chainId\": \"c\" }"))
	require.NoError(t, err)

	decoded, err := hexutil.Decode(got)
	require.NoError(t, err)
	assert.Equal(t, `{"height":1,"chainId":"c"}`, string(decoded))

	_, err = c.SerializeSignedBlock(context.Background(), json.RawMessage("{"))
	assert.ErrorIs(t, err, ErrInvalidDocument)
}
