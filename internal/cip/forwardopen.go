package cip

import (
	"encoding/binary"

	"github.com/bifrost-industrial/cip-gateway/internal/plcerr"
)

// Defaults for the Forward Open connection parameters this client
// requests, appropriate for Class 3 explicit messaging (not real-time
// I/O), per spec.md §4.2.
const (
	DefaultConnectionTimeoutMultiplier uint8  = 0
	DefaultOToTParams                  uint16 = 0x43F4 // point-to-point, variable length, priority=low, size=500
	DefaultTToOParams                  uint16 = 0x43F4
	TransportClassTriggerClass3Server  uint8  = 0xA3 // direction=server, trigger=application object, class=3
)

// ForwardOpenRequest is the Connection Manager Forward_Open (service
// 0x54) request body carried after the EPATH to class 6 instance 1.
type ForwardOpenRequest struct {
	PriorityTimeTick            uint8
	TimeoutTicks                uint8
	OToTConnectionID            uint32
	TToOConnectionID            uint32
	ConnectionSerial             uint16
	OriginatorVendorID          uint16
	OriginatorSerial            uint32
	ConnectionTimeoutMultiplier uint8
	OToTRPI                     uint32
	OToTParams                  uint16
	TToORPI                     uint32
	TToOParams                  uint16
	TransportClassTrigger       uint8
	ConnectionPath              Path
}

// Encode serializes the Forward Open request body.
func (r ForwardOpenRequest) Encode() ([]byte, error) {
	pathBytes, pathWords, err := r.ConnectionPath.EncodeWithWordSize()
	if err != nil {
		return nil, err
	}
	buf := make([]byte, 0, 32+len(pathBytes))
	buf = append(buf, r.PriorityTimeTick, r.TimeoutTicks)
	buf = appendU32(buf, r.OToTConnectionID)
	buf = appendU32(buf, r.TToOConnectionID)
	buf = appendU16(buf, r.ConnectionSerial)
	buf = appendU16(buf, r.OriginatorVendorID)
	buf = appendU32(buf, r.OriginatorSerial)
	buf = append(buf, r.ConnectionTimeoutMultiplier, 0, 0, 0)
	buf = appendU32(buf, r.OToTRPI)
	buf = appendU16(buf, r.OToTParams)
	buf = appendU32(buf, r.TToORPI)
	buf = appendU16(buf, r.TToOParams)
	buf = append(buf, r.TransportClassTrigger, pathWords)
	buf = append(buf, pathBytes...)
	return buf, nil
}

// ForwardOpenResponse is the decoded Forward_Open reply's success data.
type ForwardOpenResponse struct {
	OToTConnectionID   uint32
	TToOConnectionID   uint32
	ConnectionSerial    uint16
	OriginatorVendorID uint16
	OriginatorSerial   uint32
	OToTActualPI       uint32
	TToOActualPI       uint32
}

// DecodeForwardOpenResponse parses the success-path reply data of a
// Forward_Open service (the caller is expected to have already checked
// Status.OK()).
func DecodeForwardOpenResponse(data []byte) (ForwardOpenResponse, error) {
	if len(data) < 26 {
		return ForwardOpenResponse{}, plcerr.New(plcerr.KindMalformedFrame, "cip.DecodeForwardOpenResponse", "reply shorter than fixed Forward_Open success body")
	}
	return ForwardOpenResponse{
		OToTConnectionID:   binary.LittleEndian.Uint32(data[0:4]),
		TToOConnectionID:   binary.LittleEndian.Uint32(data[4:8]),
		ConnectionSerial:   binary.LittleEndian.Uint16(data[8:10]),
		OriginatorVendorID: binary.LittleEndian.Uint16(data[10:12]),
		OriginatorSerial:   binary.LittleEndian.Uint32(data[12:16]),
		OToTActualPI:       binary.LittleEndian.Uint32(data[16:20]),
		TToOActualPI:       binary.LittleEndian.Uint32(data[20:24]),
	}, nil
}

// ForwardCloseRequest is the Connection Manager Forward_Close (service
// 0x4E) request body.
type ForwardCloseRequest struct {
	PriorityTimeTick uint8
	TimeoutTicks     uint8
	ConnectionSerial uint16
	OriginatorVendorID uint16
	OriginatorSerial  uint32
	ConnectionPath    Path
}

func (r ForwardCloseRequest) Encode() ([]byte, error) {
	pathBytes, pathWords, err := r.ConnectionPath.EncodeWithWordSize()
	if err != nil {
		return nil, err
	}
	buf := make([]byte, 0, 12+len(pathBytes))
	buf = append(buf, r.PriorityTimeTick, r.TimeoutTicks)
	buf = appendU16(buf, r.ConnectionSerial)
	buf = appendU16(buf, r.OriginatorVendorID)
	buf = appendU32(buf, r.OriginatorSerial)
	buf = append(buf, pathWords, 0) // reserved byte
	buf = append(buf, pathBytes...)
	return buf, nil
}

func appendU16(buf []byte, v uint16) []byte {
	return append(buf, byte(v), byte(v>>8))
}

func appendU32(buf []byte, v uint32) []byte {
	return append(buf, byte(v), byte(v>>8), byte(v>>16), byte(v>>24))
}

// ConnectionManagerPath is the conventional EPATH to the Connection
// Manager object used for Forward_Open / Forward_Close.
func ConnectionManagerPath() Path {
	return Path{ClassSegment(ClassConnectionManager), InstanceSegment(1)}
}
