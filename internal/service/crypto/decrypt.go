package crypto

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"chatcipher/internal/envelope"
	"chatcipher/internal/model"
	"chatcipher/internal/payload"
	"chatcipher/internal/session"
	"chatcipher/internal/utils/log"
)

// Reply payloads reference the replied-to message by these fields.
const (
	repliedIDField      = "replied_comment_id"
	repliedBodyField    = "replied_comment_message"
	repliedPayloadField = "replied_comment_payload"
)

// Decrypt rewrites the message's body and payload to plaintext in
// place. Messages of unknown kinds, own messages and messages already
// known locally are left alone. On any unrecoverable failure the
// original, still-encrypted content is preserved verbatim.
func (s *Service) Decrypt(ctx context.Context, msg *model.Message) error {
	k := payload.ParseKind(msg.Kind)
	if !k.Encryptable() {
		return nil
	}

	// an already-decrypted copy wins over running the session layer
	stored, err := s.messages.GetByUniqueID(ctx, msg.UniqueID)
	if err != nil {
		log.Warn("message store lookup failed", zap.String("unique_id", msg.UniqueID), zap.Error(err))
	}
	if stored != nil {
		msg.Body = stored.Body
		msg.Payload = stored.Payload
		return nil
	}

	// only the opponent's messages can be decrypted
	if msg.SenderID == s.accountID {
		return nil
	}

	sess, id, err := s.sessionWith(ctx, msg.SenderID)
	if err != nil {
		log.Error("decrypt failed, keeping original",
			zap.String("unique_id", msg.UniqueID), zap.Error(err))
		return err
	}

	if err := s.decryptBody(ctx, sess, id.DeviceID, msg); err != nil {
		log.Error("decrypt failed, keeping original",
			zap.String("unique_id", msg.UniqueID), zap.Error(err))
		return err
	}

	if k != payload.KindText && msg.Payload != "" {
		op := func(v string) (string, error) {
			return s.decryptSlice(ctx, sess, id.DeviceID, v)
		}
		out, err := payload.Decrypt(k, msg.Payload, op)
		if err != nil {
			log.Warn("decrypt payload failed, keeping original",
				zap.String("unique_id", msg.UniqueID), zap.Error(err))
		} else {
			msg.Payload = out
		}
	}

	if k == payload.KindReply {
		s.hydrateReplyContext(ctx, msg)
	}

	return nil
}

// decryptBody replaces the message body with its plaintext. A body not
// addressed to the local device stays untouched.
func (s *Service) decryptBody(ctx context.Context, sess *session.Session, local model.DeviceID, msg *model.Message) error {
	out, err := s.decryptSlice(ctx, sess, local, msg.Body)
	if err != nil {
		return err
	}
	msg.Body = out
	return nil
}

// decryptSlice decodes one transport envelope and decrypts the slice
// addressed to the local device. Text not addressed to this device is
// returned unchanged.
func (s *Service) decryptSlice(ctx context.Context, sess *session.Session, local model.DeviceID, text string) (string, error) {
	env, err := envelope.Decode(text)
	if err != nil {
		return "", err
	}

	own, ok := envelope.SelectOwn(env, local)
	if !ok {
		return text, nil
	}

	plaintext, err := sess.Decrypt(ctx, own)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}

// hydrateReplyContext fills the reply payload with the replied-to
// message's stored plaintext, when we have it. Best effort.
func (s *Service) hydrateReplyContext(ctx context.Context, msg *model.Message) {
	if msg.Payload == "" {
		return
	}

	var fields map[string]any
	if err := json.Unmarshal([]byte(msg.Payload), &fields); err != nil {
		log.Warn("hydrate reply context failed", zap.String("unique_id", msg.UniqueID), zap.Error(err))
		return
	}

	repliedID, ok := numericID(fields[repliedIDField])
	if !ok {
		return
	}

	replied, err := s.messages.GetByID(ctx, repliedID)
	if err != nil || replied == nil {
		if err != nil {
			log.Warn("hydrate reply context failed", zap.String("unique_id", msg.UniqueID), zap.Error(err))
		}
		return
	}

	fields[repliedBodyField] = replied.Body
	if replied.Payload != "" {
		var repliedPayload any
		if err := json.Unmarshal([]byte(replied.Payload), &repliedPayload); err == nil {
			fields[repliedPayloadField] = repliedPayload
		}
	}

	raw, err := json.Marshal(fields)
	if err != nil {
		log.Warn("hydrate reply context failed", zap.String("unique_id", msg.UniqueID), zap.Error(err))
		return
	}
	msg.Payload = string(raw)
}

func numericID(v any) (int64, bool) {
	switch n := v.(type) {
	case float64:
		return int64(n), true
	case json.Number:
		id, err := n.Int64()
		return id, err == nil
	case string:
		var id int64
		_, err := fmt.Sscan(n, &id)
		return id, err == nil
	default:
		return 0, false
	}
}
