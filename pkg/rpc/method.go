package rpc

import "sort"

// Method is the name of an RPC method as sent by the page
type Method string

// Wallet methods understood by the broker
const (
	MethodAddEthereumChain       Method = "wallet_addEthereumChain"
	MethodAccounts               Method = "eth_accounts"
	MethodDecrypt                Method = "eth_decrypt"
	MethodChainID                Method = "eth_chainId"
	MethodGetEncryptionPublicKey Method = "eth_getEncryptionPublicKey"
	MethodGetBlockByNumber       Method = "eth_getBlockByNumber"
	MethodRequestAccounts        Method = "eth_requestAccounts"
	MethodSign                   Method = "eth_sign"
	MethodSignTransaction        Method = "eth_signTransaction"
	MethodSignTypedData          Method = "eth_signTypedData"
	MethodSignTypedDataV1        Method = "eth_signTypedData_v1"
	MethodSignTypedDataV3        Method = "eth_signTypedData_v3"
	MethodSignTypedDataV4        Method = "eth_signTypedData_v4"
	MethodGetProviderState       Method = "metamask_getProviderState"
	MethodLogWeb3ShimUsage       Method = "metamask_logWeb3ShimUsage"
	MethodPersonalSign           Method = "personal_sign"
	MethodSendDomainMetadata     Method = "metamask_sendDomainMetadata"
	MethodSwitchEthereumChain    Method = "wallet_switchEthereumChain"
	MethodTransaction            Method = "transaction"
	MethodRequestPermissions     Method = "wallet_requestPermissions"
	MethodRevokePermissions      Method = "wallet_revokePermissions"
	MethodWatchAsset             Method = "wallet_watchAsset"
	MethodPing                   Method = "checko_ping"
	MethodSubscribe              Method = "linera_subscribe"
	MethodUnsubscribe            Method = "linera_unsubscribe"
	MethodGraphQLMutation        Method = "linera_graphqlMutation"
	MethodGraphQLQuery           Method = "linera_graphqlQuery"
	MethodGetBalance             Method = "eth_getBalance"
)

// Confirmation is the user confirmation policy of a method.
// The zero value requires confirmation, so a method registered without an
// explicit policy is always confirmed.
type Confirmation int

const (
	// ConfirmAlways always shows the confirmation popup
	ConfirmAlways Confirmation = iota
	// ConfirmNever never shows the confirmation popup
	ConfirmNever
	// ConfirmUnlessAuthenticated skips the popup once the origin is authorized for the method
	ConfirmUnlessAuthenticated
)

// String returns the policy name
func (c Confirmation) String() string {
	switch c {
	case ConfirmNever:
		return "never"
	case ConfirmUnlessAuthenticated:
		return "unless_authenticated"
	default:
		return "always"
	}
}

// MethodSpec describes how the pipeline treats a method
type MethodSpec struct {
	Method       Method
	Confirmation Confirmation

	// GraphQL marks methods that carry a GraphQL document and act on behalf of an account
	GraphQL bool

	// Mutating marks methods whose outcome is reported back to the UI after execution
	Mutating bool
}

var methods = map[Method]MethodSpec{
	MethodAddEthereumChain:       {Method: MethodAddEthereumChain},
	MethodAccounts:               {Method: MethodAccounts},
	MethodDecrypt:                {Method: MethodDecrypt},
	MethodChainID:                {Method: MethodChainID},
	MethodGetEncryptionPublicKey: {Method: MethodGetEncryptionPublicKey},
	MethodGetBlockByNumber:       {Method: MethodGetBlockByNumber},
	MethodRequestAccounts:        {Method: MethodRequestAccounts, Confirmation: ConfirmUnlessAuthenticated},
	MethodSign:                   {Method: MethodSign, Confirmation: ConfirmAlways},
	MethodSignTransaction:        {Method: MethodSignTransaction},
	MethodSignTypedData:          {Method: MethodSignTypedData},
	MethodSignTypedDataV1:        {Method: MethodSignTypedDataV1},
	MethodSignTypedDataV3:        {Method: MethodSignTypedDataV3},
	MethodSignTypedDataV4:        {Method: MethodSignTypedDataV4},
	MethodGetProviderState:       {Method: MethodGetProviderState, Confirmation: ConfirmNever},
	MethodLogWeb3ShimUsage:       {Method: MethodLogWeb3ShimUsage},
	MethodPersonalSign:           {Method: MethodPersonalSign},
	MethodSendDomainMetadata:     {Method: MethodSendDomainMetadata},
	MethodSwitchEthereumChain:    {Method: MethodSwitchEthereumChain},
	MethodTransaction:            {Method: MethodTransaction},
	MethodRequestPermissions:     {Method: MethodRequestPermissions},
	MethodRevokePermissions:      {Method: MethodRevokePermissions, Confirmation: ConfirmNever},
	MethodWatchAsset:             {Method: MethodWatchAsset},
	MethodPing:                   {Method: MethodPing, Confirmation: ConfirmNever},
	MethodSubscribe:              {Method: MethodSubscribe, Confirmation: ConfirmNever, GraphQL: true},
	MethodUnsubscribe:            {Method: MethodUnsubscribe, Confirmation: ConfirmNever},
	MethodGraphQLMutation: {
		Method:       MethodGraphQLMutation,
		Confirmation: ConfirmUnlessAuthenticated,
		GraphQL:      true,
		Mutating:     true,
	},
	MethodGraphQLQuery: {Method: MethodGraphQLQuery, Confirmation: ConfirmNever, GraphQL: true},
	MethodGetBalance:   {Method: MethodGetBalance, Confirmation: ConfirmNever},
}

// Lookup returns the registry entry of a method
func Lookup(m Method) (MethodSpec, bool) {
	spec, ok := methods[m]
	return spec, ok
}

// Registered reports whether m is a known method
func Registered(m Method) bool {
	_, ok := methods[m]
	return ok
}

// Remembered returns the methods whose approval is stored per origin, in lexical order
func Remembered() []Method {
	var out []Method
	for _, m := range Methods() {
		if methods[m].Confirmation == ConfirmUnlessAuthenticated {
			out = append(out, m)
		}
	}
	return out
}

// Methods returns every registered method in lexical order
func Methods() []Method {
	out := make([]Method, 0, len(methods))
	for m := range methods {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
