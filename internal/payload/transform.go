// Package payload knows which JSON fields of each message kind carry
// encrypted content, and rewrites exactly those fields in place. Field
// failures are isolated: one bad field never rolls back or blocks its
// siblings.
package payload

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"go.uber.org/zap"

	"chatcipher/internal/utils/log"
)

// ErrPayloadDecode reports a field-level decode failure after
// decryption, e.g. a numeric field that no longer parses.
var ErrPayloadDecode = errors.New("payload field decode failed")

// FieldOp transforms one field value: the session's encrypt or decrypt
// closure for a given remote user.
type FieldOp func(string) (string, error)

// Per-kind field schemas. Fields not listed here are never touched.
var (
	stringFields = map[Kind][]string{
		KindReply:          {"text"},
		KindFileAttachment: {"url", "file_name", "caption"},
		KindContactPerson:  {"name", "value"},
		KindLocation:       {"name", "address", "map_url"},
	}

	numericFields = map[Kind][]string{
		KindLocation: {"latitude", "longitude"},
	}
)

// Encrypt applies op to every confidential field of the payload for the
// given kind and returns the rewritten JSON text. Unknown kinds pass
// through unchanged. A failure on one field leaves that field at its
// original value and continues with the rest.
func Encrypt(kind Kind, payloadJSON string, op FieldOp) (string, error) {
	if !kind.Encryptable() || kind == KindText {
		return payloadJSON, nil
	}

	fields, err := parse(payloadJSON)
	if err != nil {
		return payloadJSON, err
	}

	for _, f := range stringFields[kind] {
		v, ok := fields[f].(string)
		if !ok {
			continue
		}
		ct, err := op(v)
		if err != nil {
			log.Warn("encrypt payload field failed", zap.String("field", f), zap.Error(err))
			continue
		}
		fields[f] = ct
	}

	for _, f := range numericFields[kind] {
		text, ok := numericText(fields[f])
		if !ok {
			continue
		}
		ct, err := op(text)
		if err != nil {
			log.Warn("encrypt payload field failed", zap.String("field", f), zap.Error(err))
			continue
		}
		fields[f] = ct
	}

	if kind == KindCustom {
		encryptCustomContent(fields, op)
	}

	return marshal(fields, payloadJSON)
}

// Decrypt is the inverse of Encrypt: it applies op to every confidential
// field and restores numeric and nested values to their structured form.
func Decrypt(kind Kind, payloadJSON string, op FieldOp) (string, error) {
	if !kind.Encryptable() || kind == KindText {
		return payloadJSON, nil
	}

	fields, err := parse(payloadJSON)
	if err != nil {
		return payloadJSON, err
	}

	for _, f := range stringFields[kind] {
		v, ok := fields[f].(string)
		if !ok {
			continue
		}
		pt, err := op(v)
		if err != nil {
			log.Warn("decrypt payload field failed", zap.String("field", f), zap.Error(err))
			continue
		}
		fields[f] = pt
	}

	for _, f := range numericFields[kind] {
		v, ok := fields[f].(string)
		if !ok {
			continue
		}
		pt, err := op(v)
		if err != nil {
			log.Warn("decrypt payload field failed", zap.String("field", f), zap.Error(err))
			continue
		}
		n, err := strconv.ParseFloat(pt, 64)
		if err != nil {
			log.Warn("decrypt payload field failed",
				zap.String("field", f),
				zap.Error(fmt.Errorf("%w: %v", ErrPayloadDecode, err)))
			continue
		}
		fields[f] = n
	}

	if kind == KindCustom {
		decryptCustomContent(fields, op)
	}

	return marshal(fields, payloadJSON)
}

// encryptCustomContent serializes the nested content object and
// encrypts the serialized form.
func encryptCustomContent(fields map[string]any, op FieldOp) {
	content, ok := fields["content"]
	if !ok {
		return
	}
	raw, err := json.Marshal(content)
	if err != nil {
		log.Warn("encrypt payload field failed", zap.String("field", "content"), zap.Error(err))
		return
	}
	ct, err := op(string(raw))
	if err != nil {
		log.Warn("encrypt payload field failed", zap.String("field", "content"), zap.Error(err))
		return
	}
	fields["content"] = ct
}

// decryptCustomContent decrypts the content field and re-parses it as
// structured data. If the decrypted text is not valid JSON the original
// value is kept.
func decryptCustomContent(fields map[string]any, op FieldOp) {
	v, ok := fields["content"].(string)
	if !ok {
		return
	}
	pt, err := op(v)
	if err != nil {
		log.Warn("decrypt payload field failed", zap.String("field", "content"), zap.Error(err))
		return
	}
	var content any
	if err := json.Unmarshal([]byte(pt), &content); err != nil {
		log.Warn("decrypt payload field failed",
			zap.String("field", "content"),
			zap.Error(fmt.Errorf("%w: %v", ErrPayloadDecode, err)))
		return
	}
	fields["content"] = content
}

func parse(payloadJSON string) (map[string]any, error) {
	var fields map[string]any
	if err := json.Unmarshal([]byte(payloadJSON), &fields); err != nil {
		return nil, fmt.Errorf("parse payload: %w", err)
	}
	return fields, nil
}

func marshal(fields map[string]any, original string) (string, error) {
	raw, err := json.Marshal(fields)
	if err != nil {
		return original, fmt.Errorf("marshal payload: %w", err)
	}
	return string(raw), nil
}

// numericText renders a numeric field to its textual form so it can be
// encrypted as an opaque string.
func numericText(v any) (string, bool) {
	switch n := v.(type) {
	case float64:
		return strconv.FormatFloat(n, 'f', -1, 64), true
	case string:
		return n, true
	default:
		return "", false
	}
}
