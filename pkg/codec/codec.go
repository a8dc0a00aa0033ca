// Package codec converts between the GraphQL form of chain operations and
// the serialized form recorded for the block signer.
package codec

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"unicode"
	"unicode/utf8"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/graphql-go/graphql/language/ast"
	"github.com/graphql-go/graphql/language/parser"
)

// Errors returned by the codec
var (
	ErrInvalidDocument  = errors.New("invalid operation document")
	ErrMissingVariable  = errors.New("missing variable")
	ErrUnsupportedValue = errors.New("unsupported value")
)

// ChainCodec converts operations and blocks to their chain representation
type ChainCodec interface {
	DeserializeOperation(ctx context.Context, query string, variables map[string]any) (string, error)
	SerializeSignedBlock(ctx context.Context, block json.RawMessage) (string, error)
}

// GraphQLCodec maps a single-field system mutation to a System operation:
//
//	mutation { transfer(owner: "a", amount: "1.5") }  ->  {"System":{"Transfer":{"owner":"a","amount":"1.5"}}}
type GraphQLCodec struct{}

var _ ChainCodec = GraphQLCodec{}

// New returns the default codec
func New() GraphQLCodec {
	return GraphQLCodec{}
}

// DeserializeOperation resolves the mutation's variables and returns the
// operation as compact JSON
func (GraphQLCodec) DeserializeOperation(ctx context.Context, query string, variables map[string]any) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	doc, err := parser.Parse(parser.ParseParams{Source: query})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}

	var def *ast.OperationDefinition
	for _, node := range doc.Definitions {
		if d, ok := node.(*ast.OperationDefinition); ok && d.Operation == ast.OperationTypeMutation {
			def = d
			break
		}
	}
	if def == nil {
		return "", fmt.Errorf("%w: no mutation", ErrInvalidDocument)
	}
	if def.SelectionSet == nil || len(def.SelectionSet.Selections) != 1 {
		return "", fmt.Errorf("%w: mutation must select exactly one field", ErrInvalidDocument)
	}
	field, ok := def.SelectionSet.Selections[0].(*ast.Field)
	if !ok || field.Name == nil {
		return "", fmt.Errorf("%w: mutation must select a field", ErrInvalidDocument)
	}

	args := make(map[string]any, len(field.Arguments))
	for _, arg := range field.Arguments {
		v, err := valueOf(arg.Value, variables)
		if err != nil {
			return "", fmt.Errorf("argument %s: %w", arg.Name.Value, err)
		}
		args[arg.Name.Value] = v
	}

	op := map[string]any{
		"System": map[string]any{
			upperFirst(field.Name.Value): args,
		},
	}
	out, err := json.Marshal(op)
	if err != nil {
		return "", fmt.Errorf("failed to encode operation: %w", err)
	}
	return string(out), nil
}

// SerializeSignedBlock returns the 0x-prefixed hex encoding of the compacted block JSON
func (GraphQLCodec) SerializeSignedBlock(ctx context.Context, block json.RawMessage) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if err := json.Compact(&buf, block); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	return hexutil.Encode(buf.Bytes()), nil
}

func valueOf(value ast.Value, variables map[string]any) (any, error) {
	switch v := value.(type) {
	case *ast.Variable:
		val, ok := variables[v.Name.Value]
		if !ok {
			return nil, fmt.Errorf("%w: $%s", ErrMissingVariable, v.Name.Value)
		}
		return val, nil
	case *ast.IntValue:
		return json.Number(v.Value), nil
	case *ast.FloatValue:
		if _, err := strconv.ParseFloat(v.Value, 64); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnsupportedValue, err)
		}
		return json.Number(v.Value), nil
	case *ast.StringValue:
		return v.Value, nil
	case *ast.BooleanValue:
		return v.Value, nil
	case *ast.EnumValue:
		return v.Value, nil
	case *ast.ListValue:
		list := make([]any, 0, len(v.Values))
		for _, item := range v.Values {
			iv, err := valueOf(item, variables)
			if err != nil {
				return nil, err
			}
			list = append(list, iv)
		}
		return list, nil
	case *ast.ObjectValue:
		obj := make(map[string]any, len(v.Fields))
		for _, f := range v.Fields {
			fv, err := valueOf(f.Value, variables)
			if err != nil {
				return nil, err
			}
			obj[f.Name.Value] = fv
		}
		return obj, nil
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedValue, value)
	}
}

func upperFirst(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + s[size:]
}
