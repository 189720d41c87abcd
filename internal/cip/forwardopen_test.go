package cip

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestForwardOpenRequestEncodeAndResponseDecode(t *testing.T) {
	req := ForwardOpenRequest{
		PriorityTimeTick:            0x03,
		TimeoutTicks:                0xFA,
		OToTConnectionID:            0,
		TToOConnectionID:            0,
		ConnectionSerial:            0x1234,
		OriginatorVendorID:          0x1337,
		OriginatorSerial:            0xCAFEBABE,
		ConnectionTimeoutMultiplier: DefaultConnectionTimeoutMultiplier,
		OToTRPI:                     10000,
		OToTParams:                  DefaultOToTParams,
		TToORPI:                     10000,
		TToOParams:                  DefaultTToOParams,
		TransportClassTrigger:       TransportClassTriggerClass3Server,
		ConnectionPath:              ConnectionManagerPath(),
	}
	encoded, err := req.Encode()
	require.NoError(t, err)
	assert.Greater(t, len(encoded), 30)

	resp := ForwardOpenResponse{
		OToTConnectionID:   0x11223344,
		TToOConnectionID:   0x55667788,
		ConnectionSerial:   0x1234,
		OriginatorVendorID: 0x1337,
		OriginatorSerial:   0xCAFEBABE,
		OToTActualPI:       10000,
		TToOActualPI:       10000,
	}
	buf := make([]byte, 26) // bytes 24-25 (application reply size, reserved) stay zero
	buf[0], buf[1], buf[2], buf[3] = 0x44, 0x33, 0x22, 0x11
	buf[4], buf[5], buf[6], buf[7] = 0x88, 0x77, 0x66, 0x55
	buf[8], buf[9] = 0x34, 0x12
	buf[10], buf[11] = 0x37, 0x13
	buf[12], buf[13], buf[14], buf[15] = 0xBE, 0xBA, 0xFE, 0xCA
	buf[16], buf[17], buf[18], buf[19] = 0x10, 0x27, 0, 0
	buf[20], buf[21], buf[22], buf[23] = 0x10, 0x27, 0, 0

	decoded, err := DecodeForwardOpenResponse(buf)
	require.NoError(t, err)
	assert.Equal(t, resp, decoded)
}

func TestDecodeForwardOpenResponseTooShort(t *testing.T) {
	_, err := DecodeForwardOpenResponse([]byte{1, 2, 3})
	assert.Error(t, err)
}

func TestForwardCloseRequestEncode(t *testing.T) {
	req := ForwardCloseRequest{
		PriorityTimeTick:   0x03,
		TimeoutTicks:       0xFA,
		ConnectionSerial:   0x1234,
		OriginatorVendorID: 0x1337,
		OriginatorSerial:   0xCAFEBABE,
		ConnectionPath:     ConnectionManagerPath(),
	}
	encoded, err := req.Encode()
	require.NoError(t, err)
	assert.Equal(t, uint8(0x03), encoded[0])
	assert.Equal(t, uint8(0xFA), encoded[1])
}
