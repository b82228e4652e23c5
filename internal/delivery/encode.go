package delivery

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/austindbirch/outboundiq/internal/tracking"
)

// ErrEncode marks a batch that can never be sent. Retrying it is pointless.
var ErrEncode = errors.New("encode metrics")

// Encode serializes a batch the way the collector expects it on the wire:
// the JSON array, base64 encoded.
func Encode(metrics []tracking.Call) ([]byte, error) {
	raw, err := json.Marshal(metrics)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncode, err)
	}
	out := make([]byte, base64.StdEncoding.EncodedLen(len(raw)))
	base64.StdEncoding.Encode(out, raw)
	return out, nil
}

// Decode reverses Encode.
func Decode(body []byte) ([]tracking.Call, error) {
	raw := make([]byte, base64.StdEncoding.DecodedLen(len(body)))
	n, err := base64.StdEncoding.Decode(raw, body)
	if err != nil {
		return nil, fmt.Errorf("decode base64 batch: %w", err)
	}
	var metrics []tracking.Call
	if err := json.Unmarshal(raw[:n], &metrics); err != nil {
		return nil, fmt.Errorf("decode json batch: %w", err)
	}
	return metrics, nil
}
