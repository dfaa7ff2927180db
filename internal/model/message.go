package model

import (
	"github.com/google/uuid"
)

type (
	// Header is the ratchet header carried along with each ciphertext.
	Header struct {
		Pub    [32]byte `cbor:"pub"` // sender's current ratchet public key
		MsgNum uint32   `cbor:"n"`   // message number in the sending chain
		Prev   uint32   `cbor:"pn"`  // previous sending chain length
	}

	// Envelope maps each addressed recipient device to the ciphertext
	// slice encrypted for it. One logical message, encrypted
	// independently per device.
	Envelope map[DeviceID][]byte

	// Message is a chat message as the surrounding messaging system owns
	// it. This layer only rewrites Body and Payload; identity and
	// metadata stay untouched.
	Message struct {
		ID       int64  `bson:"id" json:"id"`
		UniqueID string `bson:"unique_id" json:"unique_id"`
		SenderID string `bson:"sender_id" json:"sender_id"`
		RoomID   int64  `bson:"room_id" json:"room_id"`
		Kind     string `bson:"kind" json:"kind"`
		Body     string `bson:"body" json:"body"`
		Payload  string `bson:"payload" json:"payload"`
	}
)

// NewUniqueID returns a fresh locally-unique message identifier.
func NewUniqueID() string {
	return uuid.NewString()
}
