// Package envelope implements the transport framing for encrypted
// messages: a CBOR map from recipient DeviceID to that device's
// ciphertext slice, wrapped in standard base64 so it can travel inside a
// JSON string field.
package envelope

import (
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"chatcipher/internal/model"
)

// ErrMalformedEnvelope reports a transport decode failure: the incoming
// text is not valid base64 or does not contain the expected CBOR map.
var ErrMalformedEnvelope = errors.New("malformed envelope")

// Encode serializes the per-device ciphertext map into transport form.
func Encode(env model.Envelope) (string, error) {
	raw, err := cbor.Marshal(env)
	if err != nil {
		return "", fmt.Errorf("marshal envelope: %w", err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// Decode parses transport text back into the per-device ciphertext map.
func Decode(text string) (model.Envelope, error) {
	raw, err := base64.StdEncoding.DecodeString(text)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}

	var env model.Envelope
	if err := cbor.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	return env, nil
}

// SelectOwn returns the slice addressed to the local device. A missing
// slice is not an error: the envelope may simply not address this device.
func SelectOwn(env model.Envelope, local model.DeviceID) ([]byte, bool) {
	data, ok := env[local]
	return data, ok
}
