// Package query implements the Query Layer (spec.md §3, §4.5;
// SPEC_FULL.md §4.10): read-only aggregations over the derived stores
// — per-Safe balances, transfer history, and the cursor-paginated
// "all transactions" merge.
package query

import (
	"context"
	"fmt"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/common"

	"github.com/safe-global/safe-transaction-service-sub001/internal/domain"
	"github.com/safe-global/safe-transaction-service-sub001/internal/ports"
)

// Service answers read-only queries over a Safe's indexed state.
type Service struct {
	rpc       ports.RPCClient
	multisig  ports.MultisigRepository
	transfers ports.TransferRepository
}

func NewService(rpc ports.RPCClient, multisig ports.MultisigRepository, transfers ports.TransferRepository) *Service {
	return &Service{rpc: rpc, multisig: multisig, transfers: transfers}
}

// Balance is one token (or native-currency) balance held by a Safe.
type Balance struct {
	// Token is the zero address for the Safe's native-currency balance.
	Token    common.Address
	TokenType domain.TokenType
	Balance  *big.Int
}

// balanceOfSelector is keccak256("balanceOf(address)")[:4].
var balanceOfSelector = [4]byte{0x70, 0xa0, 0x82, 0x31}

// Balances returns safe's current native balance plus its current
// balance of every ERC-20 token it has ever received or sent, each read
// live via eth_call/eth_getBalance rather than summed from indexed
// transfers — transfers record history, not a trustworthy running
// total (a transfer missed by a still-catching-up indexer would
// silently understate it).
func (s *Service) Balances(ctx context.Context, safe common.Address) ([]Balance, error) {
	head, err := s.rpc.HeadBlockNumber(ctx)
	if err != nil {
		return nil, fmt.Errorf("query: failed to read chain head: %w", err)
	}

	native, err := s.rpc.Balance(ctx, safe, head)
	if err != nil {
		return nil, fmt.Errorf("query: failed to read native balance for %s: %w", safe, err)
	}
	out := []Balance{{Token: common.Address{}, TokenType: domain.TokenTypeUnknown, Balance: native}}

	tokens, err := s.erc20TokensHeld(ctx, safe)
	if err != nil {
		return nil, err
	}
	for _, token := range tokens {
		bal, err := s.erc20BalanceOf(ctx, token, safe, head)
		if err != nil {
			return nil, fmt.Errorf("query: failed to read balanceOf(%s) for %s: %w", safe, token, err)
		}
		info, err := s.transfers.TokenInfo(ctx, token)
		if err != nil {
			return nil, fmt.Errorf("query: failed to load token info for %s: %w", token, err)
		}
		tokenType := domain.TokenTypeERC20
		if info != nil {
			tokenType = info.TokenType
		}
		out = append(out, Balance{Token: token, TokenType: tokenType, Balance: bal})
	}
	return out, nil
}

// erc20TokensHeld derives the distinct set of token contracts safe has
// ever transferred, as a candidate list to balance-check live.
func (s *Service) erc20TokensHeld(ctx context.Context, safe common.Address) ([]common.Address, error) {
	transfers, err := s.transfers.ERC20TransfersForSafe(ctx, safe)
	if err != nil {
		return nil, fmt.Errorf("query: failed to list erc20 transfers for %s: %w", safe, err)
	}
	seen := make(map[common.Address]bool)
	var tokens []common.Address
	for _, t := range transfers {
		if !seen[t.Token] {
			seen[t.Token] = true
			tokens = append(tokens, t.Token)
		}
	}
	return tokens, nil
}

func (s *Service) erc20BalanceOf(ctx context.Context, token, owner common.Address, block uint64) (*big.Int, error) {
	data := append(balanceOfSelector[:], common.LeftPadBytes(owner.Bytes(), 32)...)
	raw, err := s.rpc.Call(ctx, token, data, block)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return new(big.Int), nil
	}
	return new(big.Int).SetBytes(raw), nil
}

// entryKind tags an "all transactions" merge entry with its source.
type entryKind string

const (
	entryMultisig entryKind = "MULTISIG_TRANSACTION"
	entryModule   entryKind = "MODULE_TRANSACTION"
	entryERC20    entryKind = "ERC20_TRANSFER"
	entryERC721   entryKind = "ERC721_TRANSFER"
)

// Entry is one item in the "all transactions" merged timeline.
type Entry struct {
	Kind        entryKind
	BlockNumber uint64
	// LogIndex orders entries within the same block; for transfers it
	// is the event's own log index, for multisig/module transactions
	// it is 0 since only one such entry exists per transaction hash.
	LogIndex uint
	Multisig *domain.MultisigTransaction
	Module   *domain.ModuleTransaction
	ERC20    *domain.ERC20Transfer
	ERC721   *domain.ERC721Transfer
}

// AllTransactions returns the union of executed MultisigTransactions,
// ModuleTransactions, and ERC-20/721 transfers touching safe, ordered
// by (blockNumber DESC, logIndex DESC) per spec.md §4.5. cursor is the
// zero-based offset into that ordering; limit bounds the page size.
//
// Native-currency transfers are not part of this merge: unlike
// ERC-20/721 transfers, they are never indexed into their own typed
// store (spec.md's Data Model carries no NativeTransfer entity), so
// there is nothing here to merge them from.
func (s *Service) AllTransactions(ctx context.Context, safe common.Address, cursor, limit int) ([]Entry, error) {
	multisigTxs, err := s.multisig.TransactionsForSafe(ctx, safe)
	if err != nil {
		return nil, fmt.Errorf("query: failed to list multisig transactions for %s: %w", safe, err)
	}
	moduleTxs, err := s.multisig.ModuleTransactionsForSafe(ctx, safe)
	if err != nil {
		return nil, fmt.Errorf("query: failed to list module transactions for %s: %w", safe, err)
	}
	erc20, err := s.transfers.ERC20TransfersForSafe(ctx, safe)
	if err != nil {
		return nil, fmt.Errorf("query: failed to list erc20 transfers for %s: %w", safe, err)
	}
	erc721, err := s.transfers.ERC721TransfersForSafe(ctx, safe)
	if err != nil {
		return nil, fmt.Errorf("query: failed to list erc721 transfers for %s: %w", safe, err)
	}

	var entries []Entry
	for i := range multisigTxs {
		t := multisigTxs[i]
		if !t.Executed() {
			continue
		}
		entries = append(entries, Entry{Kind: entryMultisig, BlockNumber: t.BlockNumber, Multisig: &t})
	}
	for i := range moduleTxs {
		m := moduleTxs[i]
		entries = append(entries, Entry{Kind: entryModule, BlockNumber: m.BlockNumber, Module: &m})
	}
	for i := range erc20 {
		t := erc20[i]
		entries = append(entries, Entry{Kind: entryERC20, BlockNumber: t.BlockNumber, LogIndex: t.LogIndex, ERC20: &t})
	}
	for i := range erc721 {
		t := erc721[i]
		entries = append(entries, Entry{Kind: entryERC721, BlockNumber: t.BlockNumber, LogIndex: t.LogIndex, ERC721: &t})
	}

	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].BlockNumber != entries[j].BlockNumber {
			return entries[i].BlockNumber > entries[j].BlockNumber
		}
		return entries[i].LogIndex > entries[j].LogIndex
	})

	if cursor >= len(entries) {
		return nil, nil
	}
	end := cursor + limit
	if end > len(entries) || limit <= 0 {
		end = len(entries)
	}
	return entries[cursor:end], nil
}
