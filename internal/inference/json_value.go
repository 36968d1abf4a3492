package inference

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// JSONValue holds an arbitrary JSON document (tool parameters, output
// schemas). It marshals in canonical form: object keys sorted, whitespace
// removed, numbers kept exactly as written.
type JSONValue json.RawMessage

func (v JSONValue) MarshalJSON() ([]byte, error) {
	if len(v) == 0 {
		return []byte("null"), nil
	}
	return Canonicalize(v)
}

func (v *JSONValue) UnmarshalJSON(data []byte) error {
	if v == nil {
		return errors.New("inference: UnmarshalJSON on nil JSONValue")
	}
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*v = nil
		return nil
	}
	*v = append((*v)[:0], data...)
	return nil
}

// Canonicalize re-encodes a JSON document so that equal documents produce
// identical bytes regardless of key order or formatting.
func Canonicalize(raw []byte) ([]byte, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("canonicalize json: %w", err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, errors.New("canonicalize json: trailing data after document")
	}

	// encoding/json sorts map keys and writes json.Number verbatim.
	return json.Marshal(doc)
}
