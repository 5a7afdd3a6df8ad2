package ir

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
)

// ErrMalformedEvent is returned when an event cannot be placed in the
// (blockNumber, logIndex) order because one of those fields is missing.
var ErrMalformedEvent = errors.New("malformed event")

// Event is a single contract log as observed from the chain.
// Events are immutable once observed.
type Event struct {
	// Name is the event name (e.g. "Add", "Transfer").
	Name string `json:"event"`

	// Payload is the decoded value-bag of the event. Its shape is owned by
	// the reducer.
	Payload json.RawMessage `json:"payload,omitempty"`

	BlockNumber     uint64 `json:"blockNumber"`
	LogIndex        uint64 `json:"logIndex"`
	TransactionHash string `json:"transactionHash,omitempty"`

	// Address is the emitting contract. Empty for the application's own contract.
	Address string `json:"address,omitempty"`
}

// Position is the ordering key of an event.
type Position struct {
	BlockNumber uint64
	LogIndex    uint64
}

// Key is the identity of an event, used to drop duplicates delivered by
// overlapping sources.
type Key struct {
	BlockNumber     uint64
	LogIndex        uint64
	TransactionHash string
}

// String renders the key as block:logIndex:txHash.
func (k Key) String() string {
	return fmt.Sprintf("%d:%d:%s", k.BlockNumber, k.LogIndex, k.TransactionHash)
}

// Position returns the ordering key of the event.
func (e Event) Position() Position {
	return Position{BlockNumber: e.BlockNumber, LogIndex: e.LogIndex}
}

// Key returns the identity key of the event.
func (e Event) Key() Key {
	return Key{BlockNumber: e.BlockNumber, LogIndex: e.LogIndex, TransactionHash: e.TransactionHash}
}

// DecodePayload unmarshals the payload into v.
func (e Event) DecodePayload(v any) error {
	if len(e.Payload) == 0 {
		return fmt.Errorf("event %s at %d: empty payload", e.Name, e.BlockNumber)
	}
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("event %s at %d: decode payload: %w", e.Name, e.BlockNumber, err)
	}
	return nil
}

// ComparePositions orders positions by block number, then log index.
func ComparePositions(a, b Position) int {
	switch {
	case a.BlockNumber < b.BlockNumber:
		return -1
	case a.BlockNumber > b.BlockNumber:
		return 1
	case a.LogIndex < b.LogIndex:
		return -1
	case a.LogIndex > b.LogIndex:
		return 1
	}
	return 0
}

// SortEvents sorts events in place by (blockNumber, logIndex).
// The sort is stable so events sharing a position keep their arrival order.
func SortEvents(events []Event) {
	slices.SortStableFunc(events, func(a, b Event) int {
		return ComparePositions(a.Position(), b.Position())
	})
}

// wireEvent mirrors the host wire format. Pointers distinguish a missing
// blockNumber/logIndex from a zero value.
type wireEvent struct {
	Event           string          `json:"event"`
	Payload         json.RawMessage `json:"payload"`
	ReturnValues    json.RawMessage `json:"returnValues"`
	BlockNumber     *json.Number    `json:"blockNumber"`
	LogIndex        *json.Number    `json:"logIndex"`
	TransactionHash string          `json:"transactionHash"`
	Address         string          `json:"address"`
}

// UnmarshalJSON decodes the host wire format. Hosts send either "payload" or
// the web3-style "returnValues"; block numbers may arrive as numbers or
// numeric strings. Missing blockNumber or logIndex yields ErrMalformedEvent.
func (e *Event) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var w wireEvent
	if err := dec.Decode(&w); err != nil {
		return fmt.Errorf("decode event: %w", err)
	}
	if w.BlockNumber == nil {
		return fmt.Errorf("%w: %q has no blockNumber", ErrMalformedEvent, w.Event)
	}
	if w.LogIndex == nil {
		return fmt.Errorf("%w: %q has no logIndex", ErrMalformedEvent, w.Event)
	}

	block, err := parseUint(*w.BlockNumber)
	if err != nil {
		return fmt.Errorf("%w: blockNumber: %v", ErrMalformedEvent, err)
	}
	logIndex, err := parseUint(*w.LogIndex)
	if err != nil {
		return fmt.Errorf("%w: logIndex: %v", ErrMalformedEvent, err)
	}

	payload := w.Payload
	if len(payload) == 0 {
		payload = w.ReturnValues
	}

	*e = Event{
		Name:            w.Event,
		Payload:         payload,
		BlockNumber:     block,
		LogIndex:        logIndex,
		TransactionHash: w.TransactionHash,
		Address:         w.Address,
	}
	return nil
}

// ParseEvents decodes a JSON array of events.
func ParseEvents(data []byte) ([]Event, error) {
	var events []Event
	if err := json.Unmarshal(data, &events); err != nil {
		return nil, err
	}
	if events == nil {
		events = []Event{}
	}
	return events, nil
}

// parseUint accepts a JSON number or a numeric string ("4385398").
func parseUint(n json.Number) (uint64, error) {
	s := string(n)
	if len(s) >= 2 && s[0] == '"' {
		s = s[1 : len(s)-1]
	}
	return ParseBlockNumber(s)
}
