package cipservice

import (
	"time"

	"github.com/bifrost-industrial/cip-gateway/internal/cip"
)

// AssemblyReadResult is read_assembly's result shape, per spec.md
// §4.6.
type AssemblyReadResult struct {
	Data       []byte
	WordValues []uint16 // only populated when total_size is even
	Timestamp  time.Time
	Status     cip.Status
}

// MemberValue is one decoded field of an assembly buffer, per spec.md
// §4.6. IntValue is nil when the member's size is not 1, 2, or 4
// bytes, or when the buffer being decoded ends before the member does
// (RawHex then holds only the bytes that are present, or "" when the
// member starts past the end).
type MemberValue struct {
	Name     string
	RawHex   string
	IntValue *uint64
}
