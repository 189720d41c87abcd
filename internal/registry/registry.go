// Package registry parses a device configuration document (identity +
// named CIP Assembly layouts) and resolves assembly aliases to their
// numeric CIP addressing, per spec.md §4.5.
package registry

import (
	"encoding/xml"
	"os"
	"strconv"
	"sync"

	"go.uber.org/zap"

	"github.com/bifrost-industrial/cip-gateway/internal/plcerr"
)

// Registry holds one device's parsed configuration. Its contents are
// fixed at construction; every accessor takes the read side of mu.
type Registry struct {
	logger *zap.Logger

	mu       sync.RWMutex
	identity DeviceIdentity
	byAlias  map[string]Assembly
}

// Load reads and parses the device configuration document at path.
func Load(logger *zap.Logger, path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, plcerr.Wrap(plcerr.KindConfigInvalid, "registry.Load", "failed to read device configuration", err)
	}
	return LoadBytes(logger, data)
}

// LoadBytes parses the device configuration document already read
// into memory.
func LoadBytes(logger *zap.Logger, data []byte) (*Registry, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	var doc xmlDevice
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, plcerr.Wrap(plcerr.KindConfigInvalid, "registry.LoadBytes", "malformed device configuration XML", err)
	}

	for _, name := range unknownElementNames(data) {
		logger.Warn("device configuration contains an unrecognized element, ignoring it", zap.String("element", name))
	}

	byAlias := make(map[string]Assembly, len(doc.Assemblies))
	for _, xa := range doc.Assemblies {
		if _, dup := byAlias[xa.Alias]; dup {
			return nil, plcerr.New(plcerr.KindConfigInvalid, "registry.LoadBytes", "duplicate assembly alias: "+xa.Alias)
		}
		asm := Assembly{
			Alias:      xa.Alias,
			ClassID:    xa.ClassID,
			InstanceID: xa.InstanceID,
			Direction:  Direction(xa.Direction),
		}
		if xa.Size != "" {
			size, err := strconv.Atoi(xa.Size)
			if err != nil {
				return nil, plcerr.Wrap(plcerr.KindConfigInvalid, "registry.LoadBytes", "assembly "+xa.Alias+" has a non-numeric size", err)
			}
			asm.Size = &size
		}
		for _, xm := range xa.Members {
			asm.Members = append(asm.Members, AssemblyMember{
				Name:        xm.Name,
				Offset:      xm.Offset,
				Size:        xm.Size,
				DataType:    xm.DataType,
				Direction:   Direction(xm.Direction),
				Description: xm.Description,
			})
		}
		warnOverlappingMembers(logger, asm)
		warnOutOfBoundsMembers(logger, asm)
		byAlias[xa.Alias] = asm
	}

	r := &Registry{
		logger: logger,
		identity: DeviceIdentity{
			Name:         doc.Identity.Name,
			Vendor:       doc.Identity.Vendor,
			ProductCode:  doc.Identity.ProductCode,
			Revision:     doc.Identity.Revision,
			SerialNumber: doc.Identity.SerialNumber,
		},
		byAlias: byAlias,
	}
	logger.Info("loaded device configuration", zap.Int("assembly_count", len(byAlias)), zap.String("device", r.identity.Name))
	return r, nil
}

// warnOverlappingMembers logs (does not reject) members whose byte
// ranges overlap without sharing a name, per the Open Question in
// spec.md §9: overlap is preserved, not silently dropped.
func warnOverlappingMembers(logger *zap.Logger, asm Assembly) {
	for i := 0; i < len(asm.Members); i++ {
		for j := i + 1; j < len(asm.Members); j++ {
			a, b := asm.Members[i], asm.Members[j]
			if a.Name == b.Name {
				continue
			}
			if a.Offset < b.Offset+b.Size && b.Offset < a.Offset+a.Size {
				logger.Warn("assembly members overlap",
					zap.String("assembly", asm.Alias),
					zap.String("member_a", a.Name), zap.String("member_b", b.Name))
			}
		}
	}
}

func warnOutOfBoundsMembers(logger *zap.Logger, asm Assembly) {
	if asm.Size == nil {
		return
	}
	for _, m := range asm.Members {
		if m.Offset+m.Size > *asm.Size {
			logger.Warn("assembly member extends past declared assembly size",
				zap.String("assembly", asm.Alias), zap.String("member", m.Name),
				zap.Int("member_end", m.Offset+m.Size), zap.Int("assembly_size", *asm.Size))
		}
	}
}

// Identity returns the device identity parsed from the configuration
// document, zero-valued if the document carried none.
func (r *Registry) Identity() DeviceIdentity {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.identity
}

// Lookup resolves an alias (case-sensitive) to its Assembly, or
// reports KindUnknownAlias.
func (r *Registry) Lookup(alias string) (Assembly, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	asm, ok := r.byAlias[alias]
	if !ok {
		return Assembly{}, plcerr.New(plcerr.KindUnknownAlias, "registry.Lookup", "no assembly registered under alias: "+alias)
	}
	return asm, nil
}

// Aliases returns every registered alias, in no particular order.
func (r *Registry) Aliases() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.byAlias))
	for alias := range r.byAlias {
		out = append(out, alias)
	}
	return out
}

// DataAttributePath resolves an Assembly to the
// (class_id, instance_id, attribute_id=3) convention spec.md §4.5
// names for the Assembly object's Data attribute.
func DataAttributePath(asm Assembly) (classID, instanceID, attributeID uint16) {
	return asm.ClassID, asm.InstanceID, 3
}
