package cip

import (
	"github.com/bifrost-industrial/cip-gateway/internal/plcerr"
)

// DecodePath parses wordCount 16-bit words worth of EPATH data from
// the front of buf, returning the decoded Path and the number of bytes
// consumed. It fails with KindMalformedFrame if the path does not
// consume exactly the declared word count, or if a segment header is
// unrecognized.
func DecodePath(buf []byte, wordCount uint8) (Path, int, error) {
	want := int(wordCount) * 2
	if want > len(buf) {
		return nil, 0, plcerr.New(plcerr.KindMalformedFrame, "cip.DecodePath", "path_size exceeds remaining buffer")
	}
	data := buf[:want]
	var path Path
	i := 0
	for i < len(data) {
		b := data[i]
		switch {
		case b == symbolicSegByte:
			if i+2 > len(data) {
				return nil, 0, plcerr.New(plcerr.KindMalformedFrame, "cip.DecodePath", "truncated symbolic segment")
			}
			n := int(data[i+1])
			start := i + 2
			end := start + n
			if end > len(data) {
				return nil, 0, plcerr.New(plcerr.KindMalformedFrame, "cip.DecodePath", "symbolic segment length exceeds buffer")
			}
			path = append(path, SymbolicSegment(data[start:end]))
			i = end
			if n%2 != 0 {
				if i >= len(data) {
					return nil, 0, plcerr.New(plcerr.KindMalformedFrame, "cip.DecodePath", "missing symbolic pad byte")
				}
				i++
			}
		case b&0xE0 == logicalSegment:
			segType := b & 0x1C
			fmt8 := b&0x03 == format8Bit
			var value uint16
			if fmt8 {
				if i+2 > len(data) {
					return nil, 0, plcerr.New(plcerr.KindMalformedFrame, "cip.DecodePath", "truncated 8-bit logical segment")
				}
				value = uint16(data[i+1])
				i += 2
			} else {
				if i+4 > len(data) {
					return nil, 0, plcerr.New(plcerr.KindMalformedFrame, "cip.DecodePath", "truncated 16-bit logical segment")
				}
				value = uint16(data[i+2]) | uint16(data[i+3])<<8
				i += 4
			}
			switch segType {
			case typeClass:
				path = append(path, ClassSegment(value))
			case typeInstance:
				path = append(path, InstanceSegment(value))
			case typeMember:
				path = append(path, MemberSegment(value))
			case typeAttribute:
				path = append(path, AttributeSegment(value))
			default:
				return nil, 0, plcerr.New(plcerr.KindMalformedFrame, "cip.DecodePath", "unsupported logical segment type")
			}
		default:
			return nil, 0, plcerr.New(plcerr.KindMalformedFrame, "cip.DecodePath", "unrecognized EPATH segment header")
		}
	}
	if i != want {
		return nil, 0, plcerr.New(plcerr.KindMalformedFrame, "cip.DecodePath", "path did not consume exactly path_size words")
	}
	return path, i, nil
}
