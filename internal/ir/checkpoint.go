package ir

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Checkpoint is a persisted pair of derived state and the last block whose
// events are fully reflected in that state.
//
// State stays raw JSON: the store never inspects it. A JSON null state means
// the reducer has not produced a state yet.
type Checkpoint struct {
	State       json.RawMessage `json:"state"`
	BlockNumber uint64          `json:"blockNumber"`
}

// HasState reports whether the checkpoint carries a non-null state.
func (c Checkpoint) HasState() bool {
	trimmed := bytes.TrimSpace(c.State)
	return len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null"))
}

// MarshalJSON always writes the state key, using null for an empty state.
func (c Checkpoint) MarshalJSON() ([]byte, error) {
	state := c.State
	if len(bytes.TrimSpace(state)) == 0 {
		state = json.RawMessage("null")
	}
	return json.Marshal(struct {
		State       json.RawMessage `json:"state"`
		BlockNumber uint64          `json:"blockNumber"`
	}{State: state, BlockNumber: c.BlockNumber})
}

// DecodeCheckpoint parses a checkpoint written by EncodeCheckpoint or by a
// host that stores block numbers as strings.
func DecodeCheckpoint(data []byte) (Checkpoint, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw struct {
		State       json.RawMessage `json:"state"`
		BlockNumber *json.Number    `json:"blockNumber"`
	}
	if err := dec.Decode(&raw); err != nil {
		return Checkpoint{}, fmt.Errorf("decode checkpoint: %w", err)
	}
	if raw.BlockNumber == nil {
		return Checkpoint{}, fmt.Errorf("decode checkpoint: missing blockNumber")
	}
	block, err := ParseBlockNumber(raw.BlockNumber.String())
	if err != nil {
		return Checkpoint{}, fmt.Errorf("decode checkpoint: %w", err)
	}
	return Checkpoint{State: raw.State, BlockNumber: block}, nil
}

// EncodeCheckpoint serializes a checkpoint to its wire format.
func EncodeCheckpoint(c Checkpoint) ([]byte, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("encode checkpoint: %w", err)
	}
	return data, nil
}

// ParseBlockNumber accepts decimal ("4385398") and 0x-prefixed hex block numbers.
func ParseBlockNumber(s string) (uint64, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		n, err := strconv.ParseUint(s[2:], 16, 64)
		if err != nil {
			return 0, fmt.Errorf("parse block number %q: %w", s, err)
		}
		return n, nil
	}
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse block number %q: %w", s, err)
	}
	return n, nil
}
