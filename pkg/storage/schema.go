package storage

import (
	"fmt"
	"net/url"
)

// Key prefixes for different record types
const (
	prefixNetwork         = "/data/network/"
	prefixOwner           = "/data/owner/"
	prefixMicrochain      = "/data/microchain/"
	prefixMicrochainOwner = "/data/microchainowner/"
	prefixOperation       = "/data/operation/"
	prefixOperationBlob   = "/data/operationblob/"

	// Origin bindings: origin -> publicKey -> microchain
	prefixIdxOriginMicrochain = "/index/originmicrochain/"

	// Origin authorizations: origin -> method
	prefixIdxAuth = "/index/auth/"

	// Binding order per origin: origin -> seq -> publicKey
	prefixIdxOriginKeySeq = "/index/originkeyseq/"
)

// segment escapes a key component so that "/" inside origins or ids cannot
// collide with the key separator
func segment(s string) string {
	return url.PathEscape(s)
}

// NetworkKey returns the key for a network
// Format: /data/network/{name}
func NetworkKey(name string) []byte {
	return []byte(prefixNetwork + segment(name))
}

// OwnerKey returns the key for an owner
// Format: /data/owner/{publicKey}
func OwnerKey(publicKey string) []byte {
	return []byte(prefixOwner + segment(publicKey))
}

// MicrochainKey returns the key for a microchain
// Format: /data/microchain/{chainId}
func MicrochainKey(chainID string) []byte {
	return []byte(prefixMicrochain + segment(chainID))
}

// MicrochainOwnerKey returns the key linking a microchain to an owner
// Format: /data/microchainowner/{chainId}/{owner}
func MicrochainOwnerKey(chainID, owner string) []byte {
	return []byte(prefixMicrochainOwner + segment(chainID) + "/" + segment(owner))
}

// MicrochainOwnerPrefix returns the prefix of every owner of a microchain
func MicrochainOwnerPrefix(chainID string) []byte {
	return []byte(prefixMicrochainOwner + segment(chainID) + "/")
}

// OperationKey returns the key for a chain operation
// Format: /data/operation/{operationId}
func OperationKey(operationID string) []byte {
	return []byte(prefixOperation + segment(operationID))
}

// OperationBlobKey returns the key for one blob of an operation
// Format: /data/operationblob/{operationId}/{index}
func OperationBlobKey(operationID string, index int) []byte {
	return []byte(fmt.Sprintf("%s%s/%08d", prefixOperationBlob, segment(operationID), index))
}

// OperationBlobPrefix returns the prefix of every blob of an operation
func OperationBlobPrefix(operationID string) []byte {
	return []byte(prefixOperationBlob + segment(operationID) + "/")
}

// OriginMicrochainKey returns the key binding an origin's public key to a microchain
// Format: /index/originmicrochain/{origin}/{publicKey}
func OriginMicrochainKey(origin, publicKey string) []byte {
	return []byte(prefixIdxOriginMicrochain + segment(origin) + "/" + segment(publicKey))
}

// OriginKeySeqKey returns the key recording binding order of an origin's public keys
// Format: /index/originkeyseq/{origin}/{seq}
func OriginKeySeqKey(origin string, seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%s/%020d", prefixIdxOriginKeySeq, segment(origin), seq))
}

// OriginKeySeqPrefix returns the prefix of the binding order of an origin
func OriginKeySeqPrefix(origin string) []byte {
	return []byte(prefixIdxOriginKeySeq + segment(origin) + "/")
}

// AuthKey returns the key authorizing an origin for a method
// Format: /index/auth/{origin}/{method}
func AuthKey(origin, method string) []byte {
	return []byte(prefixIdxAuth + segment(origin) + "/" + segment(method))
}
