package storage

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/crypto/sha3"
)

// Network is a node the wallet can talk to
type Network struct {
	Name      string `json:"name"`
	RPCSchema string `json:"rpcSchema"`
	WSSchema  string `json:"wsSchema"`
	Host      string `json:"host"`
	Port      int    `json:"port"`
	Path      string `json:"path"`
	Selected  bool   `json:"selected"`
	Preset    bool   `json:"preset"`
}

// RPCURL returns the GraphQL HTTP endpoint of the network, or "" when incomplete
func (n *Network) RPCURL() string {
	if n.RPCSchema == "" || n.Host == "" || n.Port == 0 {
		return ""
	}
	url := fmt.Sprintf("%s://%s:%d", n.RPCSchema, n.Host, n.Port)
	if len(n.Path) > 1 {
		url += "/" + n.Path
	}
	return url
}

// WSURL returns the GraphQL WebSocket endpoint of the network, or "" when incomplete
func (n *Network) WSURL() string {
	if n.WSSchema == "" || n.Host == "" || n.Port == 0 {
		return ""
	}
	url := fmt.Sprintf("%s://%s:%d/ws", n.WSSchema, n.Host, n.Port)
	if len(n.Path) > 1 {
		url += "/" + n.Path
	}
	return url
}

// Owner is an account key held by the wallet
type Owner struct {
	// Address is the hex encoded public key
	Address string `json:"address"`
	// Owner is the chain-level owner derived from the public key
	Owner    string `json:"owner"`
	Name     string `json:"name"`
	Selected bool   `json:"selected"`
}

// OwnerFromPublicKey derives the chain owner of a hex encoded public key:
// sha3-256 over "PublicKey::" followed by the key bytes.
func OwnerFromPublicKey(publicKey string) (string, error) {
	raw := common.FromHex(publicKey)
	if len(raw) == 0 {
		return "", fmt.Errorf("%w: empty public key", ErrInvalidKey)
	}
	h := sha3.New256()
	h.Write([]byte("PublicKey::"))
	h.Write(raw)
	return common.Bytes2Hex(h.Sum(nil)), nil
}

// Microchain is a chain the wallet follows
type Microchain struct {
	Microchain string `json:"microchain"`
	Name       string `json:"name"`
	Default    bool   `json:"default"`
}

// MicrochainOwner links a microchain to one of its owners
type MicrochainOwner struct {
	Microchain string `json:"microchain"`
	Owner      string `json:"owner"`
}

// OriginMicrochain binds an origin's public key to the microchain it acts through
type OriginMicrochain struct {
	Origin     string `json:"origin"`
	PublicKey  string `json:"publicKey"`
	Microchain string `json:"microchain"`
}

// OperationState tracks a chain operation through block inclusion
type OperationState string

const (
	OperationCreated   OperationState = "CREATED"
	OperationExecuting OperationState = "EXECUTING"
	OperationExecuted  OperationState = "EXECUTED"
	OperationConfirmed OperationState = "CONFIRMED"
	OperationFailed    OperationState = "FAILED"
)

// OperationType classifies what produced an operation
type OperationType string

const (
	OperationTypeAnonymous OperationType = "ANONYMOUS"
)

// ChainOperation is an operation waiting to be put in a block by the signer
type ChainOperation struct {
	OperationID     string        `json:"operationId"`
	Microchain      string        `json:"microchain"`
	OperationType   OperationType `json:"operationType"`
	ApplicationID   string        `json:"applicationId,omitempty"`
	ApplicationType string        `json:"applicationType,omitempty"`
	// Operation is the JSON encoded operation
	Operation        string         `json:"operation"`
	GraphQLQuery     string         `json:"graphqlQuery"`
	GraphQLVariables string         `json:"graphqlVariables"`
	State            OperationState `json:"state"`
	CreatedAt        int64          `json:"createdAt"`
}
