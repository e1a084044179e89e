package utils

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
)

var ErrEmptyEncoding = errors.New("encoded value is empty")

// Encode renders value as base64 of its JSON form. Session descriptions are
// stored this way.
func Encode[T any](value T) (string, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return "", fmt.Errorf("failed to marshal %T: %w", value, err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// Decode reverses Encode
func Decode[T any](encoded string) (T, error) {
	var out T
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return out, fmt.Errorf("failed to decode base64: %w", err)
	}
	if len(raw) == 0 {
		return out, ErrEmptyEncoding
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("failed to unmarshal %T: %w", out, err)
	}
	return out, nil
}
