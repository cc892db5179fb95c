// Package target describes the timing and resource model of a GPU for the
// scheduler. Targets are registered by name so tools can select them from
// the command line.
package target

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/tinyrange/gpusched/internal/ir"
)

// Resource is the execution unit class an opcode occupies.
type Resource int

const (
	ResourceOther Resource = iota
	ResourceArith
	ResourceMul // mul and mad share the multiplier
	ResourceTexture
	ResourceSFU // transcendentals

	NumResources
)

func (r Resource) String() string {
	switch r {
	case ResourceOther:
		return "other"
	case ResourceArith:
		return "arith"
	case ResourceMul:
		return "mul"
	case ResourceTexture:
		return "texture"
	case ResourceSFU:
		return "sfu"
	default:
		return fmt.Sprintf("Resource(%d)", int(r))
	}
}

func ParseResource(s string) (Resource, bool) {
	for r := ResourceOther; r < NumResources; r++ {
		if r.String() == s {
			return r, true
		}
	}
	return 0, false
}

// Target answers the scheduler's latency, throughput and resource queries.
type Target interface {
	Name() string
	// Latency is the number of cycles until op's result is available.
	Latency(op ir.Op) int
	// Throughput is the number of cycles op occupies the issue stage.
	Throughput(op ir.Op) int
	Resource(op ir.Op) Resource
	// RegisterGranularity is the number of bits in one pressure unit.
	RegisterGranularity() int
	// FineGrained reports cycle-accurate issue modelling.
	FineGrained() bool
	// GroupsTextures reports whether back-to-back texture fetches are cheaper.
	GroupsTextures() bool
	// PressureLimit is the register pressure, in units, above which the
	// scheduler switches to pressure-driven selection.
	PressureLimit() int
}

// DefaultResource classifies op the way every built-in target does.
func DefaultResource(op ir.Op) Resource {
	switch {
	case op == ir.OpMul || op == ir.OpMad:
		return ResourceMul
	case op.IsTranscendental():
		return ResourceSFU
	case op.Kind() == ir.KindTexture:
		return ResourceTexture
	case op.Kind() == ir.KindArith:
		return ResourceArith
	default:
		return ResourceOther
	}
}

// Units converts a value size in bytes into pressure units for t.
func Units(t Target, sizeBytes int) int {
	g := t.RegisterGranularity()
	if g <= 0 {
		panic(fmt.Sprintf("target: %s has non-positive register granularity %d", t.Name(), g))
	}
	return (sizeBytes*8 + g - 1) / g
}

var ErrUnknownTarget = errors.New("target: unknown target")

var (
	targetsMu sync.RWMutex
	targets   = make(map[string]Target)
)

// Register makes t available to Lookup. It panics when the name is taken so
// mistakes are caught during init.
func Register(t Target) {
	if t == nil {
		panic("target: target must be non-nil")
	}
	name := t.Name()
	if name == "" {
		panic("target: cannot register a target without a name")
	}

	targetsMu.Lock()
	defer targetsMu.Unlock()

	if _, exists := targets[name]; exists {
		panic(fmt.Sprintf("target: %s already registered", name))
	}
	targets[name] = t
}

func Lookup(name string) (Target, error) {
	targetsMu.RLock()
	defer targetsMu.RUnlock()

	if t, ok := targets[name]; ok {
		return t, nil
	}
	if name == "" {
		return nil, fmt.Errorf("target: name must be specified")
	}
	return nil, fmt.Errorf("%w %q", ErrUnknownTarget, name)
}

// Names lists registered targets in sorted order.
func Names() []string {
	targetsMu.RLock()
	defer targetsMu.RUnlock()

	names := make([]string, 0, len(targets))
	for name := range targets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
