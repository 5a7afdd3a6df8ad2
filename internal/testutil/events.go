package testutil

import (
	"encoding/json"
	"fmt"

	"github.com/roach88/statefold/internal/ir"
)

// Event builds an event with a JSON payload and a transaction hash derived
// from its position.
func Event(name string, payload any, block, logIndex uint64) ir.Event {
	raw, err := json.Marshal(payload)
	if err != nil {
		panic(fmt.Sprintf("testutil.Event: %v", err))
	}
	return ir.Event{
		Name:            name,
		Payload:         raw,
		BlockNumber:     block,
		LogIndex:        logIndex,
		TransactionHash: fmt.Sprintf("0x%x%04x", block, logIndex),
	}
}
