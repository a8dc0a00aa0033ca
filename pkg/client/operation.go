package client

import (
	"errors"
	"fmt"
	"unicode"
	"unicode/utf8"

	"github.com/graphql-go/graphql/language/ast"
	"github.com/graphql-go/graphql/language/parser"
)

// ErrInvalidOperation is returned for documents without a usable operation
var ErrInvalidOperation = errors.New("invalid operation")

// OperationKind is the GraphQL operation type
type OperationKind string

const (
	KindQuery        OperationKind = ast.OperationTypeQuery
	KindMutation     OperationKind = ast.OperationTypeMutation
	KindSubscription OperationKind = ast.OperationTypeSubscription
)

// Operation describes the executable operation of a GraphQL document
type Operation struct {
	Kind OperationKind
	Name string

	// Fields are the top-level response keys (aliases win over field names)
	Fields []string

	definition *ast.OperationDefinition
}

// ParseOperation parses query and selects the operation named operationName,
// or the first operation when operationName is empty.
func ParseOperation(query, operationName string) (*Operation, error) {
	doc, err := parser.Parse(parser.ParseParams{Source: query})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidOperation, err)
	}

	for _, node := range doc.Definitions {
		def, ok := node.(*ast.OperationDefinition)
		if !ok {
			continue
		}
		name := ""
		if def.Name != nil {
			name = def.Name.Value
		}
		if operationName != "" && name != operationName {
			continue
		}

		op := &Operation{
			Kind:       OperationKind(def.Operation),
			Name:       name,
			definition: def,
		}
		if def.SelectionSet != nil {
			for _, sel := range def.SelectionSet.Selections {
				field, ok := sel.(*ast.Field)
				if !ok || field.Name == nil {
					continue
				}
				key := field.Name.Value
				if field.Alias != nil && field.Alias.Value != "" {
					key = field.Alias.Value
				}
				op.Fields = append(op.Fields, key)
			}
		}
		return op, nil
	}

	if operationName != "" {
		return nil, fmt.Errorf("%w: operation %q not found", ErrInvalidOperation, operationName)
	}
	return nil, fmt.Errorf("%w: no operation in document", ErrInvalidOperation)
}

// ResultKey is the key of the response data the caller is interested in:
// the operation name with a lower-case first letter, or the first top-level
// field for anonymous operations.
func (o *Operation) ResultKey() string {
	if o.Name != "" {
		return LowerFirst(o.Name)
	}
	if len(o.Fields) > 0 {
		return o.Fields[0]
	}
	return ""
}

// Definition returns the parsed operation
func (o *Operation) Definition() *ast.OperationDefinition {
	return o.definition
}

// LowerFirst lower-cases the first rune of s
func LowerFirst(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToLower(r)) + s[size:]
}
