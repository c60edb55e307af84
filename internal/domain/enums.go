package domain

// CallType identifies the kind of EVM call recorded in an InternalTx.
type CallType string

const (
	CallTypeCall         CallType = "CALL"
	CallTypeDelegateCall CallType = "DELEGATECALL"
	CallTypeStaticCall   CallType = "STATICCALL"
	CallTypeCreate       CallType = "CREATE"
	CallTypeCreate2      CallType = "CREATE2"
)

// Operation is the Safe transaction operation kind: a plain call or a
// delegatecall into another contract (e.g. MultiSend).
type Operation int

const (
	OperationCall Operation = iota
	OperationDelegateCall
)

// SignatureType classifies a MultisigConfirmation's signature.
type SignatureType string

const (
	SignatureTypeEOA              SignatureType = "EOA"
	SignatureTypeApprovedHash     SignatureType = "APPROVED_HASH"
	SignatureTypeContractSig      SignatureType = "CONTRACT_SIGNATURE"
	SignatureTypeEthSign          SignatureType = "ETH_SIGN"
)

// TokenType classifies a token contract once enough evidence has been
// observed to tell ERC-20 and ERC-721 apart.
type TokenType string

const (
	TokenTypeERC20   TokenType = "ERC20"
	TokenTypeERC721  TokenType = "ERC721"
	TokenTypeUnknown TokenType = "UNKNOWN"
)

// IndexerKind is the enum key of the IndexingStatus singleton table.
type IndexerKind int

const (
	IndexerERC20721Events IndexerKind = iota
	IndexerProxyFactories
	IndexerSafeEvents
	IndexerInternalTxTraces
)

func (k IndexerKind) String() string {
	switch k {
	case IndexerERC20721Events:
		return "ERC20_721_EVENTS"
	case IndexerProxyFactories:
		return "PROXY_FACTORIES"
	case IndexerSafeEvents:
		return "SAFE_EVENTS"
	case IndexerInternalTxTraces:
		return "INTERNAL_TX_TRACES"
	default:
		return "UNKNOWN"
	}
}

// WebhookEventType enumerates the outbound webhook event types from
// spec.md section 6.
type WebhookEventType string

const (
	EventExecutedMultisigTransaction WebhookEventType = "EXECUTED_MULTISIG_TRANSACTION"
	EventPendingMultisigTransaction  WebhookEventType = "PENDING_MULTISIG_TRANSACTION"
	EventNewConfirmation             WebhookEventType = "NEW_CONFIRMATION"
	EventIncomingToken               WebhookEventType = "INCOMING_TOKEN"
	EventOutgoingToken                WebhookEventType = "OUTGOING_TOKEN"
	EventIncomingEther               WebhookEventType = "INCOMING_ETHER"
	EventOutgoingEther               WebhookEventType = "OUTGOING_ETHER"
	EventModuleTransaction           WebhookEventType = "MODULE_TRANSACTION"
	EventDeletedMultisigTransaction  WebhookEventType = "DELETED_MULTISIG_TRANSACTION"
	EventReorgDetected               WebhookEventType = "REORG_DETECTED"
)
