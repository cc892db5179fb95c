// Package gpusched reorders the instructions of each basic block of a GPU
// shader function to hide latency and, when register pressure runs high, to
// keep the number of live registers down. The heavy lifting is done by
// internal packages; this package re-exports the pieces callers need.
package gpusched

import (
	"github.com/tinyrange/gpusched/internal/ir"
	"github.com/tinyrange/gpusched/internal/irfile"
	"github.com/tinyrange/gpusched/internal/sched"
	"github.com/tinyrange/gpusched/internal/target"
)

// -----------------------------------------------------------------------------
// Type Aliases - These re-export types from internal packages
// -----------------------------------------------------------------------------

// Function is a shader function: values, instructions and basic blocks.
type Function = ir.Function

// Builder appends instructions to a block of a Function.
type Builder = ir.Builder

// Target supplies per-opcode latency, throughput and register granularity.
type Target = target.Target

// Description is a table-driven Target, usually loaded from YAML.
type Description = target.Description

// Option configures a scheduling pass.
type Option = sched.Option

// Stats summarizes one scheduling pass over a function.
type Stats = sched.Stats

// BlockStats summarizes the scheduling of one block.
type BlockStats = sched.BlockStats

// MaxOptLevel is the only optimization level at which scheduling runs.
const MaxOptLevel = sched.MaxOptLevel

// Common sentinel errors.
var (
	ErrUnknownTarget = target.ErrUnknownTarget
	ErrUnknownOp     = irfile.ErrUnknownOp
	ErrUnknownValue  = irfile.ErrUnknownValue
)

// -----------------------------------------------------------------------------
// Options
// -----------------------------------------------------------------------------

// WithOptLevel sets the optimization level. Levels below MaxOptLevel leave
// the function untouched.
func WithOptLevel(level int) Option { return sched.WithOptLevel(level) }

// WithPressureLimit overrides the target's register pressure limit, in
// allocation units.
func WithPressureLimit(units int) Option { return sched.WithPressureLimit(units) }

// WithVerify checks the function before and after scheduling.
func WithVerify() Option { return sched.WithVerify() }

// WithBitsetLimit sets the run length below which duplicate dependency
// edges are filtered with a bitset. Zero disables the bitset.
func WithBitsetLimit(n int) Option { return sched.WithBitsetLimit(n) }

// -----------------------------------------------------------------------------
// Entry points
// -----------------------------------------------------------------------------

// NewFunction returns an empty function.
func NewFunction(name string) *Function { return ir.NewFunction(name) }

// Schedule reorders every block of fn in place for t.
func Schedule(fn *Function, t Target, opts ...Option) (Stats, error) {
	return sched.Run(fn, t, opts...)
}

// LookupTarget returns a registered target such as "g80" or "gf100".
func LookupTarget(name string) (Target, error) { return target.Lookup(name) }

// Targets lists the names of all registered targets.
func Targets() []string { return target.Names() }

// RegisterTarget makes t available to LookupTarget.
func RegisterTarget(t Target) { target.Register(t) }

// LoadTarget reads and compiles a YAML target description.
func LoadTarget(path string) (*Description, error) { return target.LoadFile(path) }

// LoadProgram reads a YAML program file.
func LoadProgram(path string) (*Function, error) { return irfile.Load(path) }

// SaveProgram writes fn to path as a YAML program file.
func SaveProgram(path string, fn *Function) error { return irfile.Save(path, fn) }
