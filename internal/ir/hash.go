package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// Domain prefixes for content-addressed identity.
// Version suffix enables future algorithm migration.
const (
	DomainEvent = "statefold/event/v1"
	DomainState = "statefold/state/v1"
)

// hashWithDomain computes SHA-256 hash with domain separation.
// Format: SHA256(domain + 0x00 + data)
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// EventID computes the content-addressed ID of an event.
// Two deliveries of the same log produce the same ID regardless of payload
// key order or whitespace.
func EventID(e Event) (string, error) {
	obj := map[string]any{
		"event":           e.Name,
		"blockNumber":     e.BlockNumber,
		"logIndex":        e.LogIndex,
		"transactionHash": e.TransactionHash,
		"address":         e.Address,
	}
	if len(e.Payload) > 0 {
		obj["payload"] = e.Payload
	}

	canonical, err := MarshalCanonical(obj)
	if err != nil {
		return "", fmt.Errorf("EventID: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainEvent, canonical), nil
}

// StateDigest hashes a raw JSON state. Equal states produce equal digests
// regardless of key order.
func StateDigest(state json.RawMessage) (string, error) {
	if len(state) == 0 {
		state = json.RawMessage("null")
	}
	canonical, err := Canonicalize(state)
	if err != nil {
		return "", fmt.Errorf("StateDigest: %w", err)
	}
	return hashWithDomain(DomainState, canonical), nil
}

// MustEventID is like EventID but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustEventID(e Event) string {
	id, err := EventID(e)
	if err != nil {
		panic(err)
	}
	return id
}
