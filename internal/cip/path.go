package cip

import (
	"fmt"

	"github.com/bifrost-industrial/cip-gateway/internal/plcerr"
)

// Logical segment type byte, bits 7-5 = 001, bits 1-0 = format (8/16/32-bit).
const (
	logicalSegment   byte = 0x20
	format8Bit       byte = 0x00
	format16Bit      byte = 0x01
	typeClass        byte = 0x00 << 2
	typeInstance     byte = 0x01 << 2
	typeMember       byte = 0x02 << 2
	typeAttribute    byte = 0x04 << 2
	symbolicSegByte  byte = 0x91
)

// Segment is one element of a CIP EPATH.
type Segment interface {
	encode() []byte
	isLogical() bool
}

// ClassSegment identifies a CIP object class.
type ClassSegment uint16

// InstanceSegment identifies an instance of a CIP object class.
type InstanceSegment uint16

// AttributeSegment identifies an attribute of a CIP object instance.
type AttributeSegment uint16

// MemberSegment identifies a member within a structured attribute.
type MemberSegment uint16

// SymbolicSegment addresses a tag by ANSI Extended Symbolic name.
type SymbolicSegment string

func encodeLogical(segType byte, value uint16) []byte {
	if value <= 0xFF {
		return []byte{logicalSegment | segType | format8Bit, byte(value)}
	}
	return []byte{logicalSegment | segType | format16Bit, 0x00, byte(value), byte(value >> 8)}
}

func (s ClassSegment) encode() []byte    { return encodeLogical(typeClass, uint16(s)) }
func (s InstanceSegment) encode() []byte { return encodeLogical(typeInstance, uint16(s)) }
func (s AttributeSegment) encode() []byte { return encodeLogical(typeAttribute, uint16(s)) }
func (s MemberSegment) encode() []byte   { return encodeLogical(typeMember, uint16(s)) }

func (s ClassSegment) isLogical() bool     { return true }
func (s InstanceSegment) isLogical() bool  { return true }
func (s AttributeSegment) isLogical() bool { return true }
func (s MemberSegment) isLogical() bool    { return true }
func (s SymbolicSegment) isLogical() bool  { return false }

func (s SymbolicSegment) encode() []byte {
	name := []byte(s)
	out := make([]byte, 0, 2+len(name)+1)
	out = append(out, symbolicSegByte, byte(len(name)))
	out = append(out, name...)
	if len(name)%2 != 0 {
		out = append(out, 0x00)
	}
	return out
}

// Path is an ordered sequence of EPATH segments.
type Path []Segment

// Encode serializes the path per §4.1/§4.3's EPATH rules. It fails if
// the path contains no logical segment, per spec.md §3's validity rule.
func (p Path) Encode() ([]byte, error) {
	hasLogical := false
	var buf []byte
	for _, seg := range p {
		if seg.isLogical() {
			hasLogical = true
		}
		buf = append(buf, seg.encode()...)
	}
	if !hasLogical {
		return nil, plcerr.New(plcerr.KindMalformedFrame, "cip.Path.Encode", "path has no logical segment")
	}
	return buf, nil
}

// EncodeWithWordSize returns the encoded path plus its length in CIP
// "words" (16-bit units), as carried in the path_size_in_words field
// of a CIP request.
func (p Path) EncodeWithWordSize() (data []byte, words uint8, err error) {
	data, err = p.Encode()
	if err != nil {
		return nil, 0, err
	}
	if len(data)%2 != 0 {
		return nil, 0, fmt.Errorf("cip: encoded path length %d is not word-aligned", len(data))
	}
	return data, uint8(len(data) / 2), nil
}
