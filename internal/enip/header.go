// Package enip implements the ENIP encapsulation and Common Packet
// Format codec: pure encode/decode over byte slices, with no network
// or session state of its own.
package enip

import (
	"encoding/binary"

	"github.com/bifrost-industrial/cip-gateway/internal/plcerr"
)

// Command identifies an ENIP encapsulation command.
type Command uint16

// Recognized encapsulation commands, per spec.md §4.1.
const (
	CommandNOP               Command = 0x00
	CommandListServices      Command = 0x04
	CommandListIdentity      Command = 0x63
	CommandRegisterSession   Command = 0x65
	CommandUnregisterSession Command = 0x66
	CommandSendRRData        Command = 0x6F
	CommandSendUnitData      Command = 0x70
)

// HeaderSize is the fixed size of the ENIP encapsulation header.
const HeaderSize = 24

// Header is the 24-byte ENIP encapsulation header prefixing every
// frame. All multi-byte fields are little-endian.
type Header struct {
	Command       Command
	Length        uint16
	SessionHandle uint32
	Status        uint32
	Context       [8]byte
	Options       uint32
}

// Encode serializes the header to its wire form.
func (h Header) Encode() []byte {
	buf := make([]byte, HeaderSize)
	binary.LittleEndian.PutUint16(buf[0:2], uint16(h.Command))
	binary.LittleEndian.PutUint16(buf[2:4], h.Length)
	binary.LittleEndian.PutUint32(buf[4:8], h.SessionHandle)
	binary.LittleEndian.PutUint32(buf[8:12], h.Status)
	copy(buf[12:20], h.Context[:])
	binary.LittleEndian.PutUint32(buf[20:24], h.Options)
	return buf
}

// DecodeHeader parses exactly HeaderSize bytes into a Header.
func DecodeHeader(buf []byte) (Header, error) {
	if len(buf) < HeaderSize {
		return Header{}, plcerr.New(plcerr.KindMalformedFrame, "enip.DecodeHeader", "buffer shorter than encapsulation header")
	}
	var h Header
	h.Command = Command(binary.LittleEndian.Uint16(buf[0:2]))
	h.Length = binary.LittleEndian.Uint16(buf[2:4])
	h.SessionHandle = binary.LittleEndian.Uint32(buf[4:8])
	h.Status = binary.LittleEndian.Uint32(buf[8:12])
	copy(h.Context[:], buf[12:20])
	h.Options = binary.LittleEndian.Uint32(buf[20:24])
	return h, nil
}

// Frame is a complete ENIP message: header plus the command-specific
// data that followed it on the wire.
type Frame struct {
	Header Header
	Data   []byte
}

// Encode serializes the frame, filling in Header.Length from len(Data).
func (f Frame) Encode() []byte {
	h := f.Header
	h.Length = uint16(len(f.Data))
	out := h.Encode()
	out = append(out, f.Data...)
	return out
}

// DecodeFrame reads one full frame: a HeaderSize header followed by
// exactly Header.Length more bytes. It fails with KindMalformedFrame
// if the declared length exceeds what remains in buf.
func DecodeFrame(buf []byte) (Frame, int, error) {
	h, err := DecodeHeader(buf)
	if err != nil {
		return Frame{}, 0, err
	}
	total := HeaderSize + int(h.Length)
	if total > len(buf) {
		return Frame{}, 0, plcerr.New(plcerr.KindMalformedFrame, "enip.DecodeFrame", "declared length exceeds remaining buffer")
	}
	data := append([]byte(nil), buf[HeaderSize:total]...)
	return Frame{Header: h, Data: data}, total, nil
}
