package enip

import (
	"encoding/binary"

	"github.com/bifrost-industrial/cip-gateway/internal/plcerr"
)

// ItemType identifies the type of one Common Packet Format item.
type ItemType uint16

// Item types used by this client, per spec.md §4.1.
const (
	ItemNullAddress      ItemType = 0x0000
	ItemConnectedAddress ItemType = 0x00A1
	ItemConnectionData   ItemType = 0x00B1
	ItemUnconnectedData  ItemType = 0x00B2
)

// Item is one entry of a Common Packet Format item list.
type Item struct {
	Type ItemType
	Data []byte
}

// EncodeCPF serializes an item_count-prefixed list of CPF items.
func EncodeCPF(items []Item) []byte {
	out := make([]byte, 2)
	binary.LittleEndian.PutUint16(out[0:2], uint16(len(items)))
	for _, it := range items {
		hdr := make([]byte, 4)
		binary.LittleEndian.PutUint16(hdr[0:2], uint16(it.Type))
		binary.LittleEndian.PutUint16(hdr[2:4], uint16(len(it.Data)))
		out = append(out, hdr...)
		out = append(out, it.Data...)
	}
	return out
}

// DecodeCPF parses a CPF item list from the front of buf, returning
// the decoded items and the number of bytes consumed. Unknown item
// types are preserved verbatim rather than rejected, per spec.md §4.1.
func DecodeCPF(buf []byte) ([]Item, int, error) {
	if len(buf) < 2 {
		return nil, 0, plcerr.New(plcerr.KindMalformedFrame, "enip.DecodeCPF", "buffer shorter than item_count field")
	}
	count := binary.LittleEndian.Uint16(buf[0:2])
	offset := 2
	items := make([]Item, 0, count)
	for i := uint16(0); i < count; i++ {
		if offset+4 > len(buf) {
			return nil, 0, plcerr.New(plcerr.KindMalformedFrame, "enip.DecodeCPF", "truncated CPF item header")
		}
		typeID := ItemType(binary.LittleEndian.Uint16(buf[offset : offset+2]))
		length := binary.LittleEndian.Uint16(buf[offset+2 : offset+4])
		offset += 4
		if offset+int(length) > len(buf) {
			return nil, 0, plcerr.New(plcerr.KindMalformedFrame, "enip.DecodeCPF", "CPF item length exceeds remaining buffer")
		}
		data := append([]byte(nil), buf[offset:offset+int(length)]...)
		offset += int(length)
		items = append(items, Item{Type: typeID, Data: data})
	}
	return items, offset, nil
}
