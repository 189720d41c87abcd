package enip

import (
	"encoding/binary"

	"github.com/bifrost-industrial/cip-gateway/internal/plcerr"
)

// RRData is the body of a SendRRData (unconnected) or SendUnitData
// (connected) command: a zero interface handle, a timeout, and a CPF
// item list. Which command carries it is a tag the connection layer
// picks by composition, not a field here — see design notes on
// "dynamic dispatch over transports".
type RRData struct {
	InterfaceHandle uint32
	Timeout         uint16
	Items           []Item
}

// Encode serializes the RRData body.
func (r RRData) Encode() []byte {
	out := make([]byte, 6)
	binary.LittleEndian.PutUint32(out[0:4], r.InterfaceHandle)
	binary.LittleEndian.PutUint16(out[4:6], r.Timeout)
	out = append(out, EncodeCPF(r.Items)...)
	return out
}

// DecodeRRData parses an RRData body.
func DecodeRRData(buf []byte) (RRData, error) {
	if len(buf) < 6 {
		return RRData{}, plcerr.New(plcerr.KindMalformedFrame, "enip.DecodeRRData", "buffer shorter than interface_handle+timeout")
	}
	r := RRData{
		InterfaceHandle: binary.LittleEndian.Uint32(buf[0:4]),
		Timeout:         binary.LittleEndian.Uint16(buf[4:6]),
	}
	items, _, err := DecodeCPF(buf[6:])
	if err != nil {
		return RRData{}, err
	}
	r.Items = items
	return r, nil
}

// ConnectedAddressItem builds the ConnectedAddress CPF item carrying
// a 4-byte O->T connection id.
func ConnectedAddressItem(connID uint32) Item {
	data := make([]byte, 4)
	binary.LittleEndian.PutUint32(data, connID)
	return Item{Type: ItemConnectedAddress, Data: data}
}

// ConnectionDataItem builds the ConnectionData CPF item for a Class 3
// connected exchange: a 2-byte sequence count followed by the CIP
// message bytes.
func ConnectionDataItem(seq uint16, cipMessage []byte) Item {
	data := make([]byte, 2+len(cipMessage))
	binary.LittleEndian.PutUint16(data[0:2], seq)
	copy(data[2:], cipMessage)
	return Item{Type: ItemConnectionData, Data: data}
}

// UnconnectedDataItem builds the UnconnectedData CPF item wrapping a
// CIP message for unconnected (SendRRData) messaging.
func UnconnectedDataItem(cipMessage []byte) Item {
	return Item{Type: ItemUnconnectedData, Data: cipMessage}
}

// NullAddressItem is the zero-length address item required to precede
// an UnconnectedData item in a SendRRData CPF list.
func NullAddressItem() Item {
	return Item{Type: ItemNullAddress, Data: nil}
}
