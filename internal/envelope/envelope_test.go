package envelope_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"chatcipher/internal/envelope"
	"chatcipher/internal/model"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	devA := model.NewDeviceID([]byte("device-a"))
	devB := model.NewDeviceID([]byte("device-b"))

	env := model.Envelope{
		devA: []byte{1, 2, 3},
		devB: []byte{4, 5, 6, 7},
	}

	text, err := envelope.Encode(env)
	require.NoError(t, err)

	got, err := envelope.Decode(text)
	require.NoError(t, err)
	require.Equal(t, env, got)
}

func TestDecodeRejectsBadBase64(t *testing.T) {
	_, err := envelope.Decode("not base64 at all!!!")
	require.ErrorIs(t, err, envelope.ErrMalformedEnvelope)
}

func TestDecodeRejectsBadFraming(t *testing.T) {
	// valid base64, but the bytes are not a CBOR device map
	_, err := envelope.Decode("cGxhaW4gdGV4dA==")
	require.ErrorIs(t, err, envelope.ErrMalformedEnvelope)
}

func TestSelectOwn(t *testing.T) {
	devA := model.NewDeviceID([]byte("device-a"))
	devB := model.NewDeviceID([]byte("device-b"))
	other := model.NewDeviceID([]byte("someone-else"))

	env := model.Envelope{
		devA: []byte{1},
		devB: []byte{2},
	}

	data, ok := envelope.SelectOwn(env, devB)
	require.True(t, ok)
	require.Equal(t, []byte{2}, data)

	// not being addressed is not an error
	_, ok = envelope.SelectOwn(env, other)
	require.False(t, ok)
}
