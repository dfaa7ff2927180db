package crypto

import (
	"context"

	"go.uber.org/zap"

	"chatcipher/internal/envelope"
	"chatcipher/internal/model"
	"chatcipher/internal/payload"
	"chatcipher/internal/session"
	"chatcipher/internal/utils/log"
)

// EncryptText encrypts text for every device of the recipient and
// returns the transport envelope. On failure the configured policy
// applies: fail-open returns the plaintext unchanged so the message can
// still be sent; fail-closed surfaces the error.
func (s *Service) EncryptText(ctx context.Context, recipientID, text string) (string, error) {
	sess, _, err := s.sessionWith(ctx, recipientID)
	if err != nil {
		return s.encryptFallback(recipientID, text, err)
	}
	return s.encryptWith(ctx, sess, recipientID, text)
}

func (s *Service) encryptWith(ctx context.Context, sess *session.Session, recipientID, text string) (string, error) {
	env, err := sess.Encrypt(ctx, []byte(text))
	if err != nil {
		return s.encryptFallback(recipientID, text, err)
	}

	encoded, err := envelope.Encode(env)
	if err != nil {
		return s.encryptFallback(recipientID, text, err)
	}
	return encoded, nil
}

// encryptFallback implements the outgoing failure policy.
func (s *Service) encryptFallback(recipientID, text string, cause error) (string, error) {
	if s.opts.FailClosed {
		return "", cause
	}
	log.Error("encrypt failed, sending plaintext",
		zap.String("recipient_id", recipientID), zap.Error(cause))
	return text, nil
}

// EncryptPayload encrypts the confidential fields of a structured
// payload for its declared kind. Unknown kinds pass through unchanged.
func (s *Service) EncryptPayload(ctx context.Context, recipientID, kind, payloadJSON string) (string, error) {
	k := payload.ParseKind(kind)
	if !k.Encryptable() || k == payload.KindText {
		return payloadJSON, nil
	}

	sess, _, err := s.sessionWith(ctx, recipientID)
	if err != nil {
		if s.opts.FailClosed {
			return "", err
		}
		log.Error("encrypt payload failed, keeping plaintext",
			zap.String("recipient_id", recipientID), zap.Error(err))
		return payloadJSON, nil
	}

	op := func(v string) (string, error) {
		return s.encryptWith(ctx, sess, recipientID, v)
	}

	out, err := payload.Encrypt(k, payloadJSON, op)
	if err != nil {
		if s.opts.FailClosed {
			return "", err
		}
		log.Error("encrypt payload failed, keeping plaintext",
			zap.String("recipient_id", recipientID), zap.Error(err))
		return payloadJSON, nil
	}
	return out, nil
}

// Encrypt rewrites the message's body, and for non-text kinds its
// payload, in place.
func (s *Service) Encrypt(ctx context.Context, recipientID string, msg *model.Message) error {
	body, err := s.EncryptText(ctx, recipientID, msg.Body)
	if err != nil {
		return err
	}
	msg.Body = body

	k := payload.ParseKind(msg.Kind)
	if k != payload.KindText && msg.Payload != "" {
		p, err := s.EncryptPayload(ctx, recipientID, msg.Kind, msg.Payload)
		if err != nil {
			return err
		}
		msg.Payload = p
	}
	return nil
}
