package model

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

type (
	// PublicKeyBundle is one device's published public key material:
	// the long-term identity key, the signed prekey and its signature
	// under the device's signing key. Immutable once fetched.
	PublicKeyBundle struct {
		IdentityKey  [32]byte `cbor:"ik"`
		SignedPreKey [32]byte `cbor:"spk"`
		SigningKey   []byte   `cbor:"sik"`
		PreKeySig    []byte   `cbor:"sig"`
	}

	// DeviceBundle is the local device's full bundle: the public half
	// plus the private keys. Only ever persisted for the local device.
	DeviceBundle struct {
		Public           PublicKeyBundle `cbor:"pub"`
		IdentityPriv     [32]byte        `cbor:"ik_priv"`
		SignedPreKeyPriv [32]byte        `cbor:"spk_priv"`
		SigningPriv      []byte          `cbor:"sik_priv"`
	}

	// BundleCollection maps every registered device of one user to that
	// device's published bundle. Entries are added or replaced by
	// DeviceID, never removed implicitly.
	BundleCollection struct {
		UserID  string                       `cbor:"user_id"`
		Devices map[DeviceID]PublicKeyBundle `cbor:"devices"`
	}

	// SenderDeviceIdentity is the local device's identity: its DeviceID
	// and full bundle. Created once per installation and persisted;
	// Published flips to true only after the remote directory has
	// acknowledged the bundle.
	SenderDeviceIdentity struct {
		UserID    string       `bson:"user_id"`
		DeviceID  DeviceID     `bson:"device_id"`
		Bundle    DeviceBundle `bson:"-"`
		RawBundle []byte       `bson:"raw_bundle"`
		Published bool         `bson:"published"`
	}
)

func (b PublicKeyBundle) Encode() ([]byte, error) {
	return cbor.Marshal(b)
}

func DecodePublicKeyBundle(raw []byte) (PublicKeyBundle, error) {
	var b PublicKeyBundle
	if err := cbor.Unmarshal(raw, &b); err != nil {
		return PublicKeyBundle{}, fmt.Errorf("decode public key bundle: %w", err)
	}
	return b, nil
}

func (b DeviceBundle) Encode() ([]byte, error) {
	return cbor.Marshal(b)
}

func DecodeDeviceBundle(raw []byte) (DeviceBundle, error) {
	var b DeviceBundle
	if err := cbor.Unmarshal(raw, &b); err != nil {
		return DeviceBundle{}, fmt.Errorf("decode device bundle: %w", err)
	}
	return b, nil
}

func NewBundleCollection(userID string) *BundleCollection {
	return &BundleCollection{
		UserID:  userID,
		Devices: make(map[DeviceID]PublicKeyBundle),
	}
}

// Put adds or replaces the bundle published by one device.
func (c *BundleCollection) Put(id DeviceID, b PublicKeyBundle) {
	if c.Devices == nil {
		c.Devices = make(map[DeviceID]PublicKeyBundle)
	}
	c.Devices[id] = b
}

func (c *BundleCollection) Get(id DeviceID) (PublicKeyBundle, bool) {
	b, ok := c.Devices[id]
	return b, ok
}

func (c *BundleCollection) Encode() ([]byte, error) {
	return cbor.Marshal(c)
}

func DecodeBundleCollection(raw []byte) (*BundleCollection, error) {
	var c BundleCollection
	if err := cbor.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("decode bundle collection: %w", err)
	}
	return &c, nil
}
