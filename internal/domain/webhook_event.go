package domain

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// WebhookEvent is the outbound envelope described in spec.md section 6:
// one JSON event per derived-state change, delivered at-least-once.
type WebhookEvent struct {
	EventID     string                 `json:"eventId,omitempty"`
	Type        WebhookEventType       `json:"type"`
	Safe        common.Address         `json:"safe"`
	Payload     map[string]interface{} `json:"payload"`
	BlockNumber uint64                 `json:"blockNumber"`
}

// DedupKey returns the idempotency key a consumer should key deliveries
// on: safeTxHash when present, else (txHash, logIndex), else
// (type, blockNumber) for events with neither (e.g. REORG_DETECTED,
// whose payload carries only a block number).
func (e WebhookEvent) DedupKey() string {
	if v, ok := e.Payload["safeTxHash"]; ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	if txHash, ok := e.Payload["txHash"].(string); ok && txHash != "" {
		return fmt.Sprintf("%s:%v", txHash, e.Payload["logIndex"])
	}
	return fmt.Sprintf("%s:%d", e.Type, e.BlockNumber)
}
