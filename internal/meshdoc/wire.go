package meshdoc

import (
	"encoding/json"
	"fmt"

	"google.golang.org/protobuf/types/known/structpb"
)

// ToWire marshals any document into a structpb.Struct, the self-describing
// envelope the store (internal/store) uses at its boundary. This mirrors how
// the teacher's cmd/inos-node packet path round-trips domain structs through
// a protobuf message rather than passing Go values by reference: every write
// into the in-memory store crosses this boundary, so a real codec — not a
// struct copy — is what actually replicates.
//
// We go through encoding/json as the intermediate representation (matching
// the canonical "field names are canonical" requirement in spec.md §3: our
// json struct tags ARE the canonical field names) and then structpb.NewStruct
// to get a protobuf-native document. This is the same two-hop path
// structpb's own documentation recommends for arbitrary Go values that don't
// already implement proto.Message.
func ToWire(v interface{}) (*structpb.Struct, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("meshdoc: marshal to json: %w", err)
	}
	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("meshdoc: unmarshal to map: %w", err)
	}
	s, err := structpb.NewStruct(m)
	if err != nil {
		return nil, fmt.Errorf("meshdoc: build struct: %w", err)
	}
	return s, nil
}

// FromWire is the inverse of ToWire: it decodes a structpb.Struct back into
// the typed Go document. A deserialization error here is never fatal to the
// caller (spec.md §7, Deserialization error class); callers log and skip the
// delivery.
func FromWire(s *structpb.Struct, out interface{}) error {
	raw, err := json.Marshal(s.AsMap())
	if err != nil {
		return fmt.Errorf("meshdoc: marshal wire struct: %w", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("meshdoc: unmarshal into target: %w", err)
	}
	return nil
}
