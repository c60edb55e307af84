package domain

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDedupKey_PrefersSafeTxHash(t *testing.T) {
	e := WebhookEvent{Payload: map[string]interface{}{"safeTxHash": "0xabc", "txHash": "0xdef", "logIndex": 3}}
	require.Equal(t, "0xabc", e.DedupKey())
}

func TestDedupKey_FallsBackToTxHashAndLogIndex(t *testing.T) {
	e := WebhookEvent{Payload: map[string]interface{}{"txHash": "0xdef", "logIndex": 3}}
	require.Equal(t, "0xdef:3", e.DedupKey())
}

func TestDedupKey_IgnoresEmptySafeTxHash(t *testing.T) {
	e := WebhookEvent{Payload: map[string]interface{}{"safeTxHash": "", "txHash": "0xdef", "logIndex": 0}}
	require.Equal(t, "0xdef:0", e.DedupKey())
}

func TestDedupKey_FallsBackToTypeAndBlockWhenNoHashAvailable(t *testing.T) {
	e1 := WebhookEvent{Type: EventReorgDetected, BlockNumber: 100}
	e2 := WebhookEvent{Type: EventReorgDetected, BlockNumber: 200}
	require.Equal(t, "REORG_DETECTED:100", e1.DedupKey())
	require.NotEqual(t, e1.DedupKey(), e2.DedupKey(), "distinct reorgs at different heights must not collapse to the same dedup key")
}
