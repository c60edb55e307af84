package abidecoder

import (
	"fmt"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/safe-global/safe-transaction-service-sub001/internal/domain"
)

// eventEntry describes one recognized Safe contract event: its synthetic
// function name (the SafeEventsIndexer enqueues these exactly like a
// decoded trace) and the go-ethereum abi.Arguments used to unpack the
// event's non-indexed data word(s). Indexed topics are read directly,
// since every indexed Safe event parameter is an address or bytes32.
type eventEntry struct {
	name        string
	indexed     []string
	data        abi.Arguments
}

var eventRegistry = map[common.Hash]eventEntry{}

func registerEvent(signature, name string, indexed []string, data ...abi.Argument) {
	hash := crypto.Keccak256Hash([]byte(signature))
	eventRegistry[hash] = eventEntry{name: name, indexed: indexed, data: abi.Arguments(data)}
}

func init() {
	registerEvent("SafeSetup(address,address[],uint256,address,address)", "setup", []string{"initiator"},
		arg("owners", "address[]"),
		arg("threshold", "uint256"),
		arg("initializer", "address"),
		arg("fallbackHandler", "address"),
	)
	registerEvent("AddedOwner(address)", "addOwnerWithThreshold", nil,
		arg("owner", "address"),
	)
	registerEvent("RemovedOwner(address)", "removeOwner", nil,
		arg("owner", "address"),
	)
	registerEvent("ChangedThreshold(uint256)", "changeThreshold", nil,
		arg("_threshold", "uint256"),
	)
	registerEvent("ChangedMasterCopy(address)", "changeMasterCopy", nil,
		arg("_masterCopy", "address"),
	)
	registerEvent("ChangedFallbackHandler(address)", "setFallbackHandler", nil,
		arg("handler", "address"),
	)
	registerEvent("ChangedGuard(address)", "setGuard", nil,
		arg("guard", "address"),
	)
	registerEvent("EnabledModule(address)", "enableModule", nil,
		arg("module", "address"),
	)
	registerEvent("DisabledModule(address)", "disableModule", nil,
		arg("module", "address"),
	)
	registerEvent("ApproveHash(bytes32,address)", "approveHash", []string{"hashToApprove", "owner"})
	registerEvent("ExecutionSuccess(bytes32,uint256)", "executionSuccess", nil,
		arg("txHash", "bytes32"),
		arg("payment", "uint256"),
	)
	registerEvent("ExecutionFailure(bytes32,uint256)", "executionFailure", nil,
		arg("txHash", "bytes32"),
		arg("payment", "uint256"),
	)
	registerEvent("ExecutionFromModuleSuccess(address)", "executionFromModuleSuccess", []string{"module"})
	registerEvent("ExecutionFromModuleFailure(address)", "executionFromModuleFailure", []string{"module"})
	registerEvent("SignMsg(bytes32)", "signMsg", nil,
		arg("msgHash", "bytes32"),
	)
}

// EventTopics returns every topic hash this registry recognizes, for use
// as the OR'd topic-0 filter the SafeEventsIndexer passes to GetLogs.
func EventTopics() []common.Hash {
	topics := make([]common.Hash, 0, len(eventRegistry))
	for h := range eventRegistry {
		topics = append(topics, h)
	}
	return topics
}

// DecodeEvent converts a Safe contract log into the synthetic
// (name, params) pair the Decoded-Call Queue stores, given the event's
// topics (topic[0] is the event signature hash) and data word(s).
// ok is false for a topic this registry doesn't recognize.
func DecodeEvent(topics []common.Hash, data []byte) (domain.DecodedCall, bool, error) {
	if len(topics) == 0 {
		return domain.DecodedCall{}, false, nil
	}
	e, found := eventRegistry[topics[0]]
	if !found {
		return domain.DecodedCall{}, false, nil
	}

	params := make(map[string]domain.Value, len(e.indexed)+len(e.data))
	for i, name := range e.indexed {
		topicIdx := i + 1
		if topicIdx >= len(topics) {
			return domain.DecodedCall{}, false, fmt.Errorf("event %s: missing indexed topic %d", e.name, i)
		}
		params[name] = topicToValue(topics[topicIdx])
	}

	if len(e.data) > 0 {
		values, err := e.data.Unpack(data)
		if err != nil {
			return domain.DecodedCall{}, false, fmt.Errorf("failed to unpack %s event data: %w", e.name, err)
		}
		raw := make(map[string]interface{}, len(values))
		for i, v := range values {
			if i < len(e.data) {
				raw[e.data[i].Name] = v
			}
		}
		for k, v := range toValueMap(raw) {
			params[k] = v
		}
	}

	return domain.DecodedCall{Name: e.name, Params: params}, true, nil
}

// topicToValue interprets an indexed Safe-event topic as either an
// address (right-aligned in the 32-byte word) or a raw bytes32 (the
// ApproveHash event's approvedHash).
func topicToValue(topic common.Hash) domain.Value {
	b := topic.Bytes()
	isAddress := true
	for _, c := range b[:12] {
		if c != 0 {
			isAddress = false
			break
		}
	}
	if isAddress {
		return domain.Value{Kind: domain.ValueAddress, Address: common.BytesToAddress(b)}
	}
	return domain.Value{Kind: domain.ValueBytes, Bytes: b}
}
