// Package cipservice implements the thin, typed CIP operations built
// on the session orchestrator, per spec.md §4.6: get/set attribute
// single, read/write assembly, and layout-aware member decoding.
//
// CIP-level errors (a reply with a non-zero general status) are never
// Go errors here — per spec.md §7 they are returned values the caller
// inspects via the returned cip.Status. A non-nil error from any
// function in this package always means a transport, pool, or session
// failure, never a CIP protocol-level rejection.
package cipservice

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"time"

	"github.com/bifrost-industrial/cip-gateway/internal/cip"
	"github.com/bifrost-industrial/cip-gateway/internal/registry"
	"github.com/bifrost-industrial/cip-gateway/internal/session"
)

// dispatcher is the subset of *session.Orchestrator this package
// depends on, so tests can substitute a fake without a live PLC.
type dispatcher interface {
	Dispatch(ctx context.Context, sess *session.Session, service uint8, path cip.Path, payload []byte) (cip.Status, []byte, error)
}

// GetAttributeSingle issues CIP service 0x0E against path.
func GetAttributeSingle(ctx context.Context, orch dispatcher, sess *session.Session, path cip.Path) ([]byte, cip.Status, error) {
	status, data, err := orch.Dispatch(ctx, sess, cip.ServiceGetAttributeSingle, path, nil)
	if err != nil {
		return nil, cip.Status{}, err
	}
	return data, status, nil
}

// SetAttributeSingle issues CIP service 0x10 against path.
func SetAttributeSingle(ctx context.Context, orch dispatcher, sess *session.Session, path cip.Path, value []byte) (cip.Status, error) {
	status, _, err := orch.Dispatch(ctx, sess, cip.ServiceSetAttributeSingle, path, value)
	return status, err
}

// ReadAssembly issues CIP service 0x0E targeting an Assembly object's
// Data attribute (3) and, when totalSize is even, also decodes the
// reply as little-endian u16 words.
func ReadAssembly(ctx context.Context, orch dispatcher, sess *session.Session, classID, instanceID uint16, totalSize int) (AssemblyReadResult, error) {
	path := cip.AssemblyDataPath(classID, instanceID)
	status, data, err := orch.Dispatch(ctx, sess, cip.ServiceGetAttributeSingle, path, nil)
	if err != nil {
		return AssemblyReadResult{}, err
	}

	result := AssemblyReadResult{Data: data, Status: status, Timestamp: time.Now()}
	if totalSize%2 == 0 {
		n := totalSize
		if n > len(data) {
			n = len(data) - len(data)%2
		}
		words := make([]uint16, n/2)
		for i := range words {
			words[i] = binary.LittleEndian.Uint16(data[i*2 : i*2+2])
		}
		result.WordValues = words
	}
	return result, nil
}

// WriteAssembly issues CIP service 0x10 targeting an Assembly object's
// Data attribute (3). When asm.Size is known, payload is normalized
// (zero-padded or truncated) to that declared size before being sent,
// matching spec.md §8 scenario 5's literal truncate/pad behavior;
// when the size is unknown, payload is sent verbatim.
func WriteAssembly(ctx context.Context, orch dispatcher, sess *session.Session, asm registry.Assembly, payload []byte) (cip.Status, error) {
	path := cip.AssemblyDataPath(asm.ClassID, asm.InstanceID)
	out := payload
	if asm.Size != nil {
		out = normalizeToSize(payload, *asm.Size)
	}
	status, _, err := orch.Dispatch(ctx, sess, cip.ServiceSetAttributeSingle, path, out)
	return status, err
}

func normalizeToSize(payload []byte, size int) []byte {
	out := make([]byte, size)
	n := len(payload)
	if n > size {
		n = size
	}
	copy(out, payload[:n])
	return out
}

// DecodeMembers slices buffer per asm's declared member layout. A
// member entirely past the end of buffer reports RawHex="" and a nil
// IntValue rather than failing, per spec.md §4.6's layout policy.
func DecodeMembers(asm registry.Assembly, buffer []byte) []MemberValue {
	out := make([]MemberValue, 0, len(asm.Members))
	for _, m := range asm.Members {
		if m.Offset >= len(buffer) {
			out = append(out, MemberValue{Name: m.Name})
			continue
		}
		end := m.Offset + m.Size
		if end > len(buffer) {
			end = len(buffer)
		}
		raw := buffer[m.Offset:end]
		mv := MemberValue{Name: m.Name, RawHex: hex.EncodeToString(raw)}
		if len(raw) == m.Size && (m.Size == 1 || m.Size == 2 || m.Size == 4) {
			v := decodeLittleEndianUnsigned(raw)
			mv.IntValue = &v
		}
		out = append(out, mv)
	}
	return out
}

func decodeLittleEndianUnsigned(b []byte) uint64 {
	var v uint64
	for i, bb := range b {
		v |= uint64(bb) << uint(8*i)
	}
	return v
}
