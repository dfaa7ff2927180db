package doubleratchet_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"chatcipher/internal/cryptographic/dh"
	"chatcipher/internal/model"
	"chatcipher/internal/protocol/doubleratchet"
	"chatcipher/internal/protocol/x3dh"
)

// pair builds two ratchet states that share a root key, the way the
// session layer does after the key agreement: the sender ratchets
// against the receiver's prekey, the receiver starts from its prekey
// pair.
func pair(t *testing.T) (sender, receiver *doubleratchet.RatchetState) {
	t.Helper()

	ikPrivA, ikPubA, err := dh.NewX25519KeyPair()
	require.NoError(t, err)
	ekPrivA, ekPubA, err := dh.NewX25519KeyPair()
	require.NoError(t, err)
	ikPrivB, ikPubB, err := dh.NewX25519KeyPair()
	require.NoError(t, err)
	spkPrivB, spkPubB, err := dh.NewX25519KeyPair()
	require.NoError(t, err)

	skA, err := x3dh.SenderSharedKey(x3dh.SenderKeys{
		IdentityPriv: ikPrivA, EphemeralPriv: ekPrivA,
		RemoteIdentityPub: ikPubB, RemotePreKeyPub: spkPubB,
	})
	require.NoError(t, err)

	skB, err := x3dh.ReceiverSharedKey(x3dh.ReceiverKeys{
		RemoteIdentityPub: ikPubA, RemoteEphemeralPub: ekPubA,
		IdentityPriv: ikPrivB, PreKeyPriv: spkPrivB,
	})
	require.NoError(t, err)
	require.Equal(t, skA, skB)

	sender = doubleratchet.NewState(skA, [32]byte{}, [32]byte{}, spkPubB)
	receiver = doubleratchet.NewState(skB, spkPrivB, spkPubB, [32]byte{})
	return sender, receiver
}

func TestPingPongConversation(t *testing.T) {
	alice, bob := pair(t)

	for i, msg := range []string{"hello", "how are you", "bye"} {
		hdr, ct, err := alice.Send([]byte(msg))
		require.NoError(t, err, "send %d", i)

		plain, err := bob.Receive(*hdr, ct)
		require.NoError(t, err, "receive %d", i)
		require.Equal(t, msg, string(plain))

		reply := "ack:" + msg
		hdr, ct, err = bob.Send([]byte(reply))
		require.NoError(t, err)

		plain, err = alice.Receive(*hdr, ct)
		require.NoError(t, err)
		require.Equal(t, reply, string(plain))
	}
}

func TestOutOfOrderDelivery(t *testing.T) {
	alice, bob := pair(t)

	hdr1, ct1, err := alice.Send([]byte("first"))
	require.NoError(t, err)
	hdr2, ct2, err := alice.Send([]byte("second"))
	require.NoError(t, err)
	hdr3, ct3, err := alice.Send([]byte("third"))
	require.NoError(t, err)

	plain, err := bob.Receive(*hdr3, ct3)
	require.NoError(t, err)
	require.Equal(t, "third", string(plain))

	plain, err = bob.Receive(*hdr1, ct1)
	require.NoError(t, err)
	require.Equal(t, "first", string(plain))

	plain, err = bob.Receive(*hdr2, ct2)
	require.NoError(t, err)
	require.Equal(t, "second", string(plain))
}

func TestTamperedCiphertextFails(t *testing.T) {
	alice, bob := pair(t)

	hdr, ct, err := alice.Send([]byte("secret"))
	require.NoError(t, err)

	ct[len(ct)-1] ^= 0xff
	_, err = bob.Receive(*hdr, ct)
	require.Error(t, err)
}

func TestReceiveWithWrongKeyFails(t *testing.T) {
	alice, _ := pair(t)
	_, eve := pair(t)

	hdr, ct, err := alice.Send([]byte("secret"))
	require.NoError(t, err)

	_, err = eve.Receive(model.Header{Pub: hdr.Pub, MsgNum: hdr.MsgNum, Prev: hdr.Prev}, ct)
	require.Error(t, err)
}
