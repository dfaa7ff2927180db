// Package session builds ephemeral encrypt/decrypt handles for one
// (local device, remote user) pairing. A Session holds no ratchet state
// of its own: every call restores state from the StateStore or
// establishes it through the asynchronous key agreement, advances it,
// and persists it back.
package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"go.uber.org/zap"

	"chatcipher/internal/cryptographic/dh"
	"chatcipher/internal/cryptographic/signature"
	"chatcipher/internal/model"
	"chatcipher/internal/protocol/doubleratchet"
	"chatcipher/internal/protocol/x3dh"
	"chatcipher/internal/utils/log"
)

var (
	// ErrSessionInit reports missing or malformed key material.
	ErrSessionInit = errors.New("session init failed")

	// ErrMalformedSlice reports a ciphertext slice that does not parse.
	ErrMalformedSlice = errors.New("malformed ciphertext slice")
)

// slice is the per-device wire unit inside an envelope: the sender
// device, the ratchet header, the optional key-agreement handshake and
// the ciphertext itself.
type slice struct {
	Sender     model.DeviceID `cbor:"dev"`
	Header     model.Header   `cbor:"hdr"`
	Ephemeral  []byte         `cbor:"ek,omitempty"`
	Ciphertext []byte         `cbor:"ct"`
}

type Factory struct {
	states StateStore
}

func NewFactory(states StateStore) *Factory {
	return &Factory{states: states}
}

// Create builds a session between the local device and every device in
// the remote user's collection. Each remote device's signed prekey must
// verify under its published signing key.
func (f *Factory) Create(identity *model.SenderDeviceIdentity, remoteUserID string, remote *model.BundleCollection) (*Session, error) {
	if identity == nil {
		return nil, fmt.Errorf("%w: no local identity", ErrSessionInit)
	}
	if remote == nil || len(remote.Devices) == 0 {
		return nil, fmt.Errorf("%w: empty bundle collection for %s", ErrSessionInit, remoteUserID)
	}

	for id, b := range remote.Devices {
		if len(b.SigningKey) == 0 || len(b.PreKeySig) == 0 {
			return nil, fmt.Errorf("%w: device %s has no prekey signature", ErrSessionInit, id)
		}
		if !signature.ED25519Verify(b.SigningKey, b.SignedPreKey[:], b.PreKeySig) {
			return nil, fmt.Errorf("%w: device %s prekey signature invalid", ErrSessionInit, id)
		}
	}

	return &Session{
		identity:     identity,
		remoteUserID: remoteUserID,
		remote:       remote,
		states:       f.states,
	}, nil
}

// Session encrypts and decrypts byte payloads for one pairing. Lifetime
// is a single operation; it carries no mutable state between calls.
type Session struct {
	identity     *model.SenderDeviceIdentity
	remoteUserID string
	remote       *model.BundleCollection
	states       StateStore
}

// Encrypt encrypts plaintext independently for every device in the
// remote collection and returns the per-device envelope. A device that
// fails is skipped with a log; an envelope with no slices is an error.
func (s *Session) Encrypt(ctx context.Context, plaintext []byte) (model.Envelope, error) {
	env := make(model.Envelope, len(s.remote.Devices))

	for devID, bundle := range s.remote.Devices {
		raw, err := s.encryptForDevice(ctx, devID, bundle, plaintext)
		if err != nil {
			log.Warn("encrypt for device failed",
				zap.String("user_id", s.remoteUserID),
				zap.String("device_id", devID.String()),
				zap.Error(err))
			continue
		}
		env[devID] = raw
	}

	if len(env) == 0 {
		return nil, fmt.Errorf("encrypt: no device slice produced for %s", s.remoteUserID)
	}
	return env, nil
}

func (s *Session) encryptForDevice(ctx context.Context, devID model.DeviceID, bundle model.PublicKeyBundle, plaintext []byte) ([]byte, error) {
	key := stateKey(s.identity.DeviceID, s.remoteUserID, devID)

	st, err := s.states.Load(ctx, key)
	if err != nil {
		return nil, err
	}

	var ephemeral []byte
	if st == nil {
		var ekPub [32]byte
		st, ekPub, err = s.establishSender(bundle)
		if err != nil {
			return nil, err
		}
		ephemeral = ekPub[:]
	}

	hdr, ct, err := st.Send(plaintext)
	if err != nil {
		return nil, err
	}

	if err := s.states.Save(ctx, key, st); err != nil {
		return nil, err
	}

	return cbor.Marshal(slice{
		Sender:     s.identity.DeviceID,
		Header:     *hdr,
		Ephemeral:  ephemeral,
		Ciphertext: ct,
	})
}

// establishSender runs the sender side of the key agreement against one
// remote device bundle and returns a fresh ratchet state plus the
// ephemeral public key the first slice must carry.
func (s *Session) establishSender(bundle model.PublicKeyBundle) (*doubleratchet.RatchetState, [32]byte, error) {
	ekPriv, ekPub, err := dh.NewX25519KeyPair()
	if err != nil {
		return nil, ekPub, err
	}

	sk, err := x3dh.SenderSharedKey(x3dh.SenderKeys{
		IdentityPriv:      s.identity.Bundle.IdentityPriv,
		EphemeralPriv:     ekPriv,
		RemoteIdentityPub: bundle.IdentityKey,
		RemotePreKeyPub:   bundle.SignedPreKey,
	})
	if err != nil {
		return nil, ekPub, fmt.Errorf("%w: %v", ErrSessionInit, err)
	}

	return doubleratchet.NewState(sk, [32]byte{}, [32]byte{}, bundle.SignedPreKey), ekPub, nil
}

// Decrypt parses a ciphertext slice addressed to the local device and
// returns the plaintext. When no state exists yet, the slice must carry
// the sender's handshake and its device must appear in the remote
// collection.
func (s *Session) Decrypt(ctx context.Context, raw []byte) ([]byte, error) {
	var sl slice
	if err := cbor.Unmarshal(raw, &sl); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedSlice, err)
	}

	key := stateKey(s.identity.DeviceID, s.remoteUserID, sl.Sender)

	st, err := s.states.Load(ctx, key)
	if err != nil {
		return nil, err
	}

	if st == nil {
		st, err = s.establishReceiver(sl)
		if err != nil {
			return nil, err
		}
	}

	plaintext, err := st.Receive(sl.Header, sl.Ciphertext)
	if err != nil {
		return nil, err
	}

	if err := s.states.Save(ctx, key, st); err != nil {
		return nil, err
	}
	return plaintext, nil
}

func (s *Session) establishReceiver(sl slice) (*doubleratchet.RatchetState, error) {
	if len(sl.Ephemeral) != 32 {
		return nil, fmt.Errorf("%w: no session and no handshake from device %s", ErrSessionInit, sl.Sender)
	}

	bundle, ok := s.remote.Get(sl.Sender)
	if !ok {
		return nil, fmt.Errorf("%w: sender device %s not in bundle collection", ErrSessionInit, sl.Sender)
	}

	sk, err := x3dh.ReceiverSharedKey(x3dh.ReceiverKeys{
		RemoteIdentityPub:  bundle.IdentityKey,
		RemoteEphemeralPub: [32]byte(sl.Ephemeral),
		IdentityPriv:       s.identity.Bundle.IdentityPriv,
		PreKeyPriv:         s.identity.Bundle.SignedPreKeyPriv,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSessionInit, err)
	}

	preKeyPriv := s.identity.Bundle.SignedPreKeyPriv
	preKeyPub := dh.PublicFromPrivate(preKeyPriv)

	return doubleratchet.NewState(sk, preKeyPriv, preKeyPub, [32]byte{}), nil
}
