// Package domain holds the entities and invariants of the indexed Safe
// chain state, independent of how they are persisted or transported.
package domain

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Block is a durable record of an observed block header.
type Block struct {
	Number     uint64
	Hash       common.Hash
	ParentHash common.Hash
	Timestamp  time.Time
	Confirmed  bool
}

// EthereumTx is a durable record of an observed EVM transaction and its
// receipt.
type EthereumTx struct {
	Hash              common.Hash
	BlockNumber       uint64
	TransactionIndex  uint
	From              common.Address
	To                *common.Address
	Value             *big.Int
	Input             []byte
	Nonce             uint64
	Status            uint64
	GasUsed           uint64
	Type              uint8
	GasPrice          *big.Int
	MaxFeePerGas      *big.Int
	MaxPriorityFee    *big.Int
	Logs              []EthereumLog
}

// EthereumLog is a single log entry attached to an EthereumTx. BlockNumber,
// TxHash and TxIndex are populated on logs returned by RPCClient.GetLogs,
// where a log is not yet attached to any particular EthereumTx value.
type EthereumLog struct {
	LogIndex    uint
	Address     common.Address
	Topics      []common.Hash
	Data        []byte
	BlockNumber uint64
	TxHash      common.Hash
	TxIndex     uint
}

// TraceAddress is the dotted path of a call inside a transaction's call
// tree, e.g. []int{0, 2} for the third subcall of the first subcall.
type TraceAddress []int

// InternalTx is a single call recorded by the trace indexer.
type InternalTx struct {
	TxHash       common.Hash
	TraceAddress TraceAddress
	BlockNumber  uint64
	TxIndex      uint
	From         common.Address
	To           *common.Address
	Value        *big.Int
	Input        []byte
	Output       []byte
	CallType     CallType
	Error        string
}

// Decodable reports whether this trace is eligible to be decoded as a
// Safe call: its containing transaction succeeded, the trace itself did
// not error, and it carries non-empty calldata.
func (t *InternalTx) Decodable(txSucceeded bool) bool {
	return txSucceeded && t.Error == "" && len(t.Input) > 0
}

// InternalTxDecoded is a decoded Safe-targeted call awaiting replay.
type InternalTxDecoded struct {
	TxHash       common.Hash
	TraceAddress TraceAddress
	BlockNumber  uint64
	TxIndex      uint
	Safe         common.Address
	FunctionName string
	Arguments    map[string]interface{}
	Processed    bool
	// Caller is the trace's msg.sender (InternalTx.From), needed by the
	// state machine's approveHash transition to attribute the
	// confirmation to an owner. The events indexer leaves this zero and
	// instead surfaces the owner as an "owner" argument, since
	// ApproveHash's event already indexes it.
	Caller common.Address
	// Success reports whether this specific call succeeded, for module
	// transactions (Multisig Reconciliation records failed module calls
	// too). InternalTxIndexer only ever enqueues calls whose own trace
	// didn't error (see InternalTx.Decodable), so it always sets this
	// true; SafeEventsIndexer has no per-call success signal to offer
	// for anything but execTransaction (whose ExecutionSuccess/Failure
	// event it already distinguishes via FunctionName) and also leaves
	// it true.
	Success bool
}

// ERC20Transfer is a single ERC-20 Transfer event touching a known Safe.
type ERC20Transfer struct {
	TxHash      common.Hash
	LogIndex    uint
	BlockNumber uint64
	Token       common.Address
	From        common.Address
	To          common.Address
	Value       *big.Int
}

// ERC721Transfer is a single ERC-721 Transfer event touching a known Safe.
type ERC721Transfer struct {
	TxHash      common.Hash
	LogIndex    uint
	BlockNumber uint64
	Token       common.Address
	From        common.Address
	To          common.Address
	TokenID     *big.Int
}

// ToERC721 converts an ERC20Transfer row after a token has been
// reclassified, preserving (txHash, logIndex, from, to) and mapping
// value into tokenId.
func (t ERC20Transfer) ToERC721() ERC721Transfer {
	return ERC721Transfer{
		TxHash:      t.TxHash,
		LogIndex:    t.LogIndex,
		BlockNumber: t.BlockNumber,
		Token:       t.Token,
		From:        t.From,
		To:          t.To,
		TokenID:     new(big.Int).Set(t.Value),
	}
}

// ToERC20 converts an ERC721Transfer row after a token has been
// reclassified, preserving (txHash, logIndex, from, to) and mapping
// tokenId into value.
func (t ERC721Transfer) ToERC20() ERC20Transfer {
	return ERC20Transfer{
		TxHash:      t.TxHash,
		LogIndex:    t.LogIndex,
		BlockNumber: t.BlockNumber,
		Token:       t.Token,
		From:        t.From,
		To:          t.To,
		Value:       new(big.Int).Set(t.TokenID),
	}
}

// TokenInfo is the operator-editable classification of a token contract,
// consulted and updated by the ERC-20/721 reclassification operation.
type TokenInfo struct {
	Address   common.Address
	TokenType TokenType
	Decimals  uint8
}

// SafeContract is a deployed Safe proxy, first observed either via a
// ProxyCreation event or a directly observed setup call.
type SafeContract struct {
	Address         common.Address
	DeploymentTx    common.Hash
	DeploymentBlock uint64
	Version         string
	// MasterCopy is the singleton the proxy was deployed against, when
	// known from a ProxyCreation event's singleton field. Zero when the
	// Safe was first observed via a setup() call with no factory event
	// (e.g. a pre-factory deployment, or a chain indexed in events mode
	// without ever seeing the ProxyCreation log).
	MasterCopy common.Address
}

// SafeState is the set of fields that make up a Safe's configuration at
// a point in its call history. It is shared by SafeStatus (an immutable
// snapshot) and SafeLastStatus (the mutable latest pointer).
type SafeState struct {
	Owners            []common.Address
	Threshold         uint64
	MasterCopy        common.Address
	FallbackHandler   common.Address
	Guard             common.Address
	EnabledModules    []common.Address
	Nonce             uint64
}

// Clone returns a deep copy so transition functions never mutate shared
// slices in place.
func (s SafeState) Clone() SafeState {
	out := s
	out.Owners = append([]common.Address(nil), s.Owners...)
	out.EnabledModules = append([]common.Address(nil), s.EnabledModules...)
	return out
}

// HasOwner reports whether owner is a current owner of the Safe.
func (s SafeState) HasOwner(owner common.Address) bool {
	for _, o := range s.Owners {
		if o == owner {
			return true
		}
	}
	return false
}

// SafeStatus is an immutable snapshot of SafeState taken after applying
// one nonce-changing or configuration-changing decoded call.
type SafeStatus struct {
	Safe       common.Address
	Nonce      uint64
	InternalTx InternalTxRef
	State      SafeState
}

// InternalTxRef identifies the decoded call that produced a SafeStatus
// snapshot.
type InternalTxRef struct {
	TxHash       common.Hash
	TraceAddress TraceAddress
	BlockNumber  uint64
}

// SafeLastStatus is the single row per known Safe reflecting the last
// applied SafeStatus.
type SafeLastStatus struct {
	Safe  common.Address
	State SafeState
}

// MultisigTransaction binds a client-proposed Safe transaction to its
// eventual on-chain execution.
type MultisigTransaction struct {
	SafeTxHash     common.Hash
	Safe           common.Address
	To             common.Address
	Value          *big.Int
	Data           []byte
	Operation      Operation
	SafeTxGas      *big.Int
	BaseGas        *big.Int
	GasPrice       *big.Int
	GasToken       common.Address
	RefundReceiver common.Address
	Nonce          uint64
	Signatures     []byte
	Origin         string
	Trusted        bool
	EthereumTx     *common.Hash
	// BlockNumber is the block of EthereumTx, zero when unexecuted. It
	// is populated by a join at read time, never stored redundantly on
	// this row, so it always reflects the current execution (or lack
	// of one) after a reorg rewind clears EthereumTx.
	BlockNumber uint64
}

// Executed reports whether this proposal has a matching on-chain
// execution.
func (m *MultisigTransaction) Executed() bool {
	return m.EthereumTx != nil
}

// MultisigConfirmation is a single owner's attestation to a safeTxHash.
type MultisigConfirmation struct {
	SafeTxHash    common.Hash
	Owner         common.Address
	Signature     []byte
	SignatureType SignatureType
	EthereumTx    *common.Hash
	CreatedAt     time.Time
}

// ModuleTransaction is a single execTransactionFromModule[Return] call.
type ModuleTransaction struct {
	TxHash       common.Hash
	Safe         common.Address
	Module       common.Address
	TraceAddress TraceAddress
	BlockNumber  uint64
	To           common.Address
	Value        *big.Int
	Data         []byte
	Operation    Operation
	Success      bool
}

// SafeContractDelegate authorizes an address to propose transactions on
// behalf of a delegator-owner, either scoped to one Safe or global.
type SafeContractDelegate struct {
	Safe      *common.Address
	Delegator common.Address
	Delegate  common.Address
	Label     string
	Expiry    *time.Time
}

// Expired reports whether the delegate's TTL has elapsed as of now.
func (d SafeContractDelegate) Expired(now time.Time) bool {
	return d.Expiry != nil && now.After(*d.Expiry)
}

// IndexingStatus is the singleton cursor row per indexer kind.
type IndexingStatus struct {
	Kind        IndexerKind
	BlockNumber uint64
}
