package cip

import (
	"encoding/binary"

	"github.com/bifrost-industrial/cip-gateway/internal/plcerr"
)

// CIP service codes used by this client.
const (
	ServiceGetAttributesAll    uint8 = 0x01
	ServiceGetAttributeSingle  uint8 = 0x0E
	ServiceSetAttributeSingle  uint8 = 0x10
	ServiceForwardOpen         uint8 = 0x54
	ServiceForwardClose        uint8 = 0x4E
	ServiceUnconnectedSend     uint8 = 0x52
	replyFlag                  uint8 = 0x80
)

// CIP object classes relevant to this client.
const (
	ClassIdentity          uint16 = 0x01
	ClassMessageRouter      uint16 = 0x02
	ClassAssembly          uint16 = 0x04
	ClassConnection        uint16 = 0x05
	ClassConnectionManager uint16 = 0x06
)

const assemblyDataAttribute uint16 = 3

// Request is a CIP message request body, carried inside the data
// portion of a CPF item.
type Request struct {
	Service uint8
	Path    Path
	Data    []byte
}

// Encode serializes the request per §4.1: service, path_size_in_words,
// EPATH, request data.
func (r Request) Encode() ([]byte, error) {
	pathBytes, words, err := r.Path.EncodeWithWordSize()
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, 2+len(pathBytes)+len(r.Data))
	out = append(out, r.Service, words)
	out = append(out, pathBytes...)
	out = append(out, r.Data...)
	return out, nil
}

// Response is a decoded CIP message reply body.
type Response struct {
	Service uint8
	Status  Status
	Data    []byte
}

// DecodeResponse parses a CIP reply body: service|0x80, reserved,
// general_status, extended_status_size_in_words, optional extended
// status words, reply data.
func DecodeResponse(buf []byte) (Response, error) {
	if len(buf) < 4 {
		return Response{}, plcerr.New(plcerr.KindMalformedFrame, "cip.DecodeResponse", "reply shorter than fixed header")
	}
	service := buf[0] &^ replyFlag
	generalStatus := buf[2]
	extWords := int(buf[3])
	offset := 4
	var extended *uint16
	if extWords > 0 {
		need := offset + extWords*2
		if need > len(buf) {
			return Response{}, plcerr.New(plcerr.KindMalformedFrame, "cip.DecodeResponse", "extended_status exceeds remaining buffer")
		}
		v := binary.LittleEndian.Uint16(buf[offset : offset+2])
		extended = &v
		offset += extWords * 2
	}
	return Response{
		Service: service,
		Status:  Status{General: generalStatus, Extended: extended},
		Data:    append([]byte(nil), buf[offset:]...),
	}, nil
}

// AssemblyDataPath builds the conventional path for the Data attribute
// (attribute 3) of an Assembly object instance, per spec.md §4.5.
func AssemblyDataPath(classID, instanceID uint16) Path {
	return Path{ClassSegment(classID), InstanceSegment(instanceID), AttributeSegment(assemblyDataAttribute)}
}
