package enip

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeaderRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		h    Header
	}{
		{"NOP", Header{Command: CommandNOP}},
		{"RegisterSession", Header{Command: CommandRegisterSession, SessionHandle: 0xAB, Context: [8]byte{1, 2, 3}}},
		{"SendRRData", Header{Command: CommandSendRRData, SessionHandle: 0xDEADBEEF, Status: 0, Options: 0}},
		{"SendUnitData", Header{Command: CommandSendUnitData, SessionHandle: 0x11223344}},
		{"ListIdentity", Header{Command: CommandListIdentity}},
		{"UnregisterSession", Header{Command: CommandUnregisterSession, SessionHandle: 7}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			encoded := tt.h.Encode()
			assert.Len(t, encoded, HeaderSize)

			decoded, err := DecodeHeader(encoded)
			require.NoError(t, err)
			assert.Equal(t, tt.h, decoded)
		})
	}
}

func TestDecodeHeaderTooShort(t *testing.T) {
	_, err := DecodeHeader([]byte{1, 2, 3})
	assert.Error(t, err)
}

func TestFrameRoundTrip(t *testing.T) {
	f := Frame{
		Header: Header{Command: CommandSendRRData, SessionHandle: 0xAB},
		Data:   []byte{0x01, 0x02, 0x03, 0x04},
	}
	encoded := f.Encode()

	decoded, consumed, err := DecodeFrame(encoded)
	require.NoError(t, err)
	assert.Equal(t, len(encoded), consumed)
	assert.Equal(t, f.Data, decoded.Data)
	assert.Equal(t, uint16(len(f.Data)), decoded.Header.Length)
}

func TestDecodeFrameLengthExceedsBuffer(t *testing.T) {
	h := Header{Command: CommandNOP, Length: 100}
	buf := h.Encode()
	_, _, err := DecodeFrame(buf)
	assert.Error(t, err)
}
