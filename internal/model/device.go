package model

import (
	"crypto/sha256"
	"encoding/hex"
)

// DeviceID is the content-addressed identifier of one client installation,
// derived from the installation's device bytes. It is stable for the
// lifetime of the installation and keys both envelopes and bundle
// collections.
type DeviceID string

func NewDeviceID(deviceBytes []byte) DeviceID {
	sum := sha256.Sum256(deviceBytes)
	return DeviceID(hex.EncodeToString(sum[:]))
}

func (d DeviceID) String() string {
	return string(d)
}
