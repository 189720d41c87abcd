package cipservice

import (
	"context"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bifrost-industrial/cip-gateway/internal/cip"
	"github.com/bifrost-industrial/cip-gateway/internal/registry"
	"github.com/bifrost-industrial/cip-gateway/internal/session"
)

// fakeDispatcher stands in for *session.Orchestrator so these tests
// exercise the facade's request/decode logic without a live PLC.
type fakeDispatcher struct {
	status  cip.Status
	reply   []byte
	err     error
	gotPath cip.Path
	gotData []byte
	service uint8
}

func (f *fakeDispatcher) Dispatch(ctx context.Context, sess *session.Session, service uint8, path cip.Path, payload []byte) (cip.Status, []byte, error) {
	f.service = service
	f.gotPath = path
	f.gotData = payload
	return f.status, f.reply, f.err
}

func TestGetAttributeSingle(t *testing.T) {
	f := &fakeDispatcher{status: cip.Status{General: 0}, reply: []byte{0x01, 0x02}}
	data, status, err := GetAttributeSingle(context.Background(), f, &session.Session{}, cip.AssemblyDataPath(4, 1))
	require.NoError(t, err)
	assert.True(t, status.OK())
	assert.Equal(t, []byte{0x01, 0x02}, data)
	assert.Equal(t, cip.ServiceGetAttributeSingle, f.service)
}

// TestReadAssemblyScenarioTwo mirrors spec.md §8 scenario 2's literal
// 8-byte reply and expected word values.
func TestReadAssemblyScenarioTwo(t *testing.T) {
	f := &fakeDispatcher{
		status: cip.Status{General: 0},
		reply:  []byte{0x11, 0x22, 0x33, 0x44, 0x55, 0x66, 0x77, 0x88},
	}
	result, err := ReadAssembly(context.Background(), f, &session.Session{}, 4, 1, 8)
	require.NoError(t, err)
	assert.True(t, result.Status.OK())
	assert.Equal(t, "1122334455667788", hex.EncodeToString(result.Data))
	assert.Equal(t, []uint16{0x2211, 0x4433, 0x6655, 0x8877}, result.WordValues)
}

// TestWriteAssemblyCIPErrorIsAValue mirrors spec.md §8 scenario 3: a
// non-zero general status is a successful call carrying a CIP error
// value, not a Go error.
func TestWriteAssemblyCIPErrorIsAValue(t *testing.T) {
	f := &fakeDispatcher{status: cip.Status{General: 0x0C}}
	asm := registry.Assembly{ClassID: 4, InstanceID: 100}
	status, err := WriteAssembly(context.Background(), f, &session.Session{}, asm, []byte{0x01})
	require.NoError(t, err)
	assert.False(t, status.OK())
	assert.EqualValues(t, 0x0C, status.General)
}

// TestWriteAssemblyNormalizesToDeclaredSize mirrors spec.md §8
// scenario 5's truncate/pad behavior.
func TestWriteAssemblyNormalizesToDeclaredSize(t *testing.T) {
	size := 16
	asm := registry.Assembly{ClassID: 4, InstanceID: 100, Size: &size}
	f := &fakeDispatcher{status: cip.Status{General: 0}}

	payload := mustHexDecode(t, "ff00000000000000000000000000000000") // 17 bytes decoded
	_, err := WriteAssembly(context.Background(), f, &session.Session{}, asm, payload)
	require.NoError(t, err)
	assert.Len(t, f.gotData, 16)
	assert.Equal(t, byte(0xff), f.gotData[0])

	// Shorter than declared size: zero-padded, not rejected.
	f2 := &fakeDispatcher{status: cip.Status{General: 0}}
	_, err = WriteAssembly(context.Background(), f2, &session.Session{}, asm, []byte{0xAB})
	require.NoError(t, err)
	assert.Len(t, f2.gotData, 16)
	assert.Equal(t, byte(0xAB), f2.gotData[0])
	assert.Equal(t, byte(0x00), f2.gotData[1])
}

// TestDecodeMembersScenarioFive mirrors spec.md §8 scenario 5's
// member decode expectation.
func TestDecodeMembersScenarioFive(t *testing.T) {
	asm := registry.Assembly{
		Alias: "Assembly_A",
		Members: []registry.AssemblyMember{
			{Name: "Output1", Offset: 0, Size: 1},
		},
	}
	buffer := mustHexDecode(t, "ff00000000000000000000000000000000")[:16]
	values := DecodeMembers(asm, buffer)
	require.Len(t, values, 1)
	assert.Equal(t, "ff", values[0].RawHex)
	require.NotNil(t, values[0].IntValue)
	assert.EqualValues(t, 255, *values[0].IntValue)
}

func TestDecodeMembersPastBufferEnd(t *testing.T) {
	asm := registry.Assembly{
		Members: []registry.AssemblyMember{
			{Name: "Overflow", Offset: 100, Size: 2},
		},
	}
	values := DecodeMembers(asm, []byte{0x01, 0x02})
	require.Len(t, values, 1)
	assert.Equal(t, "", values[0].RawHex)
	assert.Nil(t, values[0].IntValue)
}

func mustHexDecode(t *testing.T, s string) []byte {
	t.Helper()
	b, err := hex.DecodeString(s)
	require.NoError(t, err)
	return b
}
