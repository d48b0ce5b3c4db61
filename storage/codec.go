package storage

import (
	"encoding/json"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/pithecene-io/colony/types"
)

// EncodeIntents serializes one user's room intents.
func EncodeIntents(in types.UserIntents) ([]byte, error) {
	b, err := msgpack.Marshal(in)
	if err != nil {
		return nil, fmt.Errorf("encode intents: %w", err)
	}
	return b, nil
}

// DecodeIntents is the inverse of EncodeIntents.
func DecodeIntents(b []byte) (types.UserIntents, error) {
	var out types.UserIntents
	if err := msgpack.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("decode intents: %w", err)
	}
	return out, nil
}

// EncodeGlobalIntents serializes global intents.
func EncodeGlobalIntents(in map[string][]map[string]any) ([]byte, error) {
	b, err := msgpack.Marshal(in)
	if err != nil {
		return nil, fmt.Errorf("encode global intents: %w", err)
	}
	return b, nil
}

// DecodeGlobalIntents is the inverse of EncodeGlobalIntents.
func DecodeGlobalIntents(b []byte) (map[string][]map[string]any, error) {
	var out map[string][]map[string]any
	if err := msgpack.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("decode global intents: %w", err)
	}
	return out, nil
}

// EncodeSegments serializes a segment map.
func EncodeSegments(in map[int]string) ([]byte, error) {
	b, err := msgpack.Marshal(in)
	if err != nil {
		return nil, fmt.Errorf("encode segments: %w", err)
	}
	return b, nil
}

// DecodeSegments is the inverse of EncodeSegments.
func DecodeSegments(b []byte) (map[int]string, error) {
	out := make(map[int]string)
	if len(b) == 0 {
		return out, nil
	}
	if err := msgpack.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("decode segments: %w", err)
	}
	return out, nil
}

// EncodeModules serializes a module bundle.
func EncodeModules(in map[string]string) ([]byte, error) {
	b, err := msgpack.Marshal(in)
	if err != nil {
		return nil, fmt.Errorf("encode modules: %w", err)
	}
	return b, nil
}

// DecodeModules is the inverse of EncodeModules.
func DecodeModules(b []byte) (map[string]string, error) {
	out := make(map[string]string)
	if len(b) == 0 {
		return out, nil
	}
	if err := msgpack.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("decode modules: %w", err)
	}
	return out, nil
}

// DecodeDocument converts a JSON-shaped document into v.
func DecodeDocument(doc map[string]any, v any) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode document: %w", err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode document: %w", err)
	}
	return nil
}
