package engine

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Codec converts reducer state to and from the bytes stored in a checkpoint.
// Encoding must yield valid JSON so checkpoints stay readable by any host.
type Codec[S any] interface {
	Encode(state *S) ([]byte, error)
	Decode(data []byte) (*S, error)
}

// JSONCodec is the default Codec.
type JSONCodec[S any] struct{}

// Encode marshals state. A nil state encodes as null.
func (JSONCodec[S]) Encode(state *S) ([]byte, error) {
	if state == nil {
		return []byte("null"), nil
	}
	data, err := json.Marshal(state)
	if err != nil {
		return nil, fmt.Errorf("encode state: %w", err)
	}
	return data, nil
}

// Decode unmarshals data. Empty input or null decodes to a nil state.
func (JSONCodec[S]) Decode(data []byte) (*S, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}
	s := new(S)
	if err := json.Unmarshal(trimmed, s); err != nil {
		return nil, fmt.Errorf("decode state: %w", err)
	}
	return s, nil
}
