package x3dh

import (
	"chatcipher/internal/cryptographic/dh"
	"chatcipher/internal/cryptographic/kdf"
)

type (
	// SenderKeys is the key material the initiating side feeds into the
	// agreement: its own identity and ephemeral private keys plus the
	// remote device's published public keys.
	SenderKeys struct {
		IdentityPriv  [32]byte
		EphemeralPriv [32]byte

		RemoteIdentityPub [32]byte
		RemotePreKeyPub   [32]byte
	}

	// ReceiverKeys mirrors SenderKeys for the responding side: the
	// initiator's public keys plus the local private key material.
	ReceiverKeys struct {
		RemoteIdentityPub  [32]byte
		RemoteEphemeralPub [32]byte

		IdentityPriv [32]byte
		PreKeyPriv   [32]byte
	}
)

func sharedKey(dh1, dh2, dh3 []byte) ([]byte, error) {
	concat := make([]byte, 0, len(dh1)+len(dh2)+len(dh3))
	concat = append(concat, dh1...)
	concat = append(concat, dh2...)
	concat = append(concat, dh3...)

	sk := make([]byte, 32)
	if _, err := kdf.HKDF(nil, concat, []byte("SharedKey"), sk); err != nil {
		return nil, err
	}
	return sk, nil
}

// SenderSharedKey derives the shared key on the initiating side:
// DH(IKa, SPKb) || DH(EKa, IKb) || DH(EKa, SPKb) fed through HKDF.
func SenderSharedKey(k SenderKeys) ([]byte, error) {
	dh1, err := dh.X25519SharedSecret(k.IdentityPriv, k.RemotePreKeyPub)
	if err != nil {
		return nil, err
	}

	dh2, err := dh.X25519SharedSecret(k.EphemeralPriv, k.RemoteIdentityPub)
	if err != nil {
		return nil, err
	}

	dh3, err := dh.X25519SharedSecret(k.EphemeralPriv, k.RemotePreKeyPub)
	if err != nil {
		return nil, err
	}

	return sharedKey(dh1, dh2, dh3)
}

// ReceiverSharedKey derives the same shared key on the responding side
// from the initiator's identity and ephemeral public keys.
func ReceiverSharedKey(k ReceiverKeys) ([]byte, error) {
	dh1, err := dh.X25519SharedSecret(k.PreKeyPriv, k.RemoteIdentityPub)
	if err != nil {
		return nil, err
	}

	dh2, err := dh.X25519SharedSecret(k.IdentityPriv, k.RemoteEphemeralPub)
	if err != nil {
		return nil, err
	}

	dh3, err := dh.X25519SharedSecret(k.PreKeyPriv, k.RemoteEphemeralPub)
	if err != nil {
		return nil, err
	}

	return sharedKey(dh1, dh2, dh3)
}
