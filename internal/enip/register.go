package enip

import (
	"encoding/binary"

	"github.com/bifrost-industrial/cip-gateway/internal/plcerr"
)

// RegisterSessionData is the 4-byte command data of RegisterSession:
// protocol version and option flags. The client always sends protocol
// version 1, options 0, per spec.md §4.2.
type RegisterSessionData struct {
	ProtocolVersion uint16
	OptionFlags     uint16
}

func (r RegisterSessionData) Encode() []byte {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint16(buf[0:2], r.ProtocolVersion)
	binary.LittleEndian.PutUint16(buf[2:4], r.OptionFlags)
	return buf
}

func DecodeRegisterSessionData(buf []byte) (RegisterSessionData, error) {
	if len(buf) < 4 {
		return RegisterSessionData{}, plcerr.New(plcerr.KindMalformedFrame, "enip.DecodeRegisterSessionData", "buffer shorter than 4 bytes")
	}
	return RegisterSessionData{
		ProtocolVersion: binary.LittleEndian.Uint16(buf[0:2]),
		OptionFlags:     binary.LittleEndian.Uint16(buf[2:4]),
	}, nil
}
