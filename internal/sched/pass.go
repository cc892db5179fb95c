// Package sched implements a per-block list scheduler. Each block is split
// into runs ending at barrier instructions; within a run, a dependency
// graph over register, memory and barrier ordering is built and
// instructions are issued one at a time by a latency or register-pressure
// heuristic.
package sched

import (
	"fmt"
	"log/slog"

	"github.com/tinyrange/gpusched/internal/debug"
	"github.com/tinyrange/gpusched/internal/ir"
	"github.com/tinyrange/gpusched/internal/target"
	"github.com/tinyrange/gpusched/internal/timeslice"
)

var (
	tsBuild  = timeslice.RegisterKind("sched::build")
	tsSelect = timeslice.RegisterKind("sched::select")
	tsRetire = timeslice.RegisterKind("sched::retire")
	tsBlock  = timeslice.RegisterKind("sched::block")
)

var (
	traceRun    = debug.WithSource("sched/run")
	traceSelect = debug.WithSource("sched/select")
	traceRetire = debug.WithSource("sched/retire")
)

// BlockStats describes the scheduling of one block.
type BlockStats struct {
	Block  string
	Instrs int
	Runs   int
	Edges  int
	// Cycles is the virtual clock after the last retirement.
	Cycles             int
	LiveInUnits        int
	PeakPressure       int
	PressureSelections int
	// Bitset reports whether any run deduplicated edges with the pair bitset.
	Bitset bool
	// Moved counts instructions whose position in the block changed.
	Moved int
}

// Stats collects the per-block results of one Run.
type Stats struct {
	Function string
	Target   string
	Skipped  bool
	Blocks   []BlockStats
}

// Instrs is the number of instructions scheduled across all blocks.
func (s Stats) Instrs() int {
	n := 0
	for _, b := range s.Blocks {
		n += b.Instrs
	}
	return n
}

// Moved is the number of instructions that changed position.
func (s Stats) Moved() int {
	n := 0
	for _, b := range s.Blocks {
		n += b.Moved
	}
	return n
}

// Cycles sums the final virtual clock of every block.
func (s Stats) Cycles() int {
	n := 0
	for _, b := range s.Blocks {
		n += b.Cycles
	}
	return n
}

// blockState is the mutable context of scheduling one block. Nothing in it
// survives into the next block.
type blockState struct {
	fn  *ir.Function
	blk *ir.Block
	t   target.Target

	clock    int
	pressure int
	limit    int
	busy     [target.NumResources]int

	// uses holds remaining in-block uses per value, or usesInfinite.
	uses    map[ir.ValueID]int
	outside ir.ValueSet
	pos     map[ir.InstrID]int

	bitsetLimit int

	run            *run
	retired        []ir.InstrID
	lastWasTexture bool

	stats BlockStats
}

func newBlockState(fn *ir.Function, blk *ir.Block, t target.Target, opts *Options) *blockState {
	st := &blockState{
		fn:          fn,
		blk:         blk,
		t:           t,
		limit:       t.PressureLimit(),
		bitsetLimit: opts.BitsetLimit,
		uses:        make(map[ir.ValueID]int),
		pos:         make(map[ir.InstrID]int, blk.Len()),
		stats:       BlockStats{Block: blk.Name, Instrs: blk.Len()},
	}
	if opts.PressureLimit > 0 {
		st.limit = opts.PressureLimit
	}

	order := blk.Instrs()
	for i, id := range order {
		st.pos[id] = i
	}

	count := func(v ir.ValueID) {
		if blk.LiveOut.Has(v) {
			st.uses[v] = usesInfinite
			return
		}
		if _, ok := st.uses[v]; !ok {
			st.uses[v] = 0
		}
	}
	for _, id := range order {
		in := fn.Instr(id)
		for _, d := range in.Defs {
			count(d)
		}
		for _, s := range in.Srcs {
			count(s)
			if st.uses[s] != usesInfinite {
				st.uses[s]++
			}
		}
	}
	for v, left := range st.uses {
		if left == usesInfinite {
			st.outside.Add(v)
			continue
		}
		for _, u := range fn.Value(v).Uses {
			if _, ok := st.pos[u]; !ok {
				st.outside.Add(v)
				break
			}
		}
	}

	blk.LiveIn.Each(func(v ir.ValueID) {
		if val := fn.Value(v); val.File == ir.FileGPR {
			st.pressure += st.units(val)
		}
	})
	st.stats.LiveInUnits = st.pressure
	st.stats.PeakPressure = st.pressure
	return st
}

func (st *blockState) schedule() {
	rec := timeslice.NewRecorder()
	original := st.blk.Instrs()

	for !st.blk.Empty() {
		r := st.buildRun()
		rec.Record(tsBuild)
		for n := st.selectNext(); n != nil; n = st.selectNext() {
			rec.Record(tsSelect)
			st.retire(n)
			rec.Record(tsRetire)
		}
		st.cut(r)
	}

	if len(st.retired) != len(original) {
		panic(fmt.Sprintf("sched: block %s retired %d of %d instructions", st.blk.Name, len(st.retired), len(original)))
	}
	for i := len(st.retired) - 1; i >= 0; i-- {
		st.blk.InsertHead(st.retired[i])
	}
	for i, id := range st.retired {
		if original[i] != id {
			st.stats.Moved++
		}
	}
	st.stats.Cycles = st.clock
}

// ScheduleBlock reorders one block in place. Live sets must be current
// (see ir.Function.BuildLiveSets).
func ScheduleBlock(fn *ir.Function, blk *ir.Block, t target.Target, opts ...Option) BlockStats {
	o := newOptions(opts)
	return scheduleBlock(fn, blk, t, &o)
}

func scheduleBlock(fn *ir.Function, blk *ir.Block, t target.Target, o *Options) BlockStats {
	rec := timeslice.NewRecorder()
	st := newBlockState(fn, blk, t, o)
	st.schedule()
	rec.Record(tsBlock)
	return st.stats
}

// Run schedules every block of fn for t. The pass only runs at
// MaxOptLevel; otherwise fn is left untouched and Stats.Skipped is set.
func Run(fn *ir.Function, t target.Target, opts ...Option) (Stats, error) {
	if fn == nil {
		return Stats{}, fmt.Errorf("sched: function must be non-nil")
	}
	if t == nil {
		return Stats{}, fmt.Errorf("sched: target must be non-nil")
	}
	o := newOptions(opts)
	stats := Stats{Function: fn.Name, Target: t.Name()}

	if o.OptLevel < MaxOptLevel {
		slog.Debug("sched: skipped", "func", fn.Name, "opt", o.OptLevel)
		stats.Skipped = true
		return stats, nil
	}

	if o.Verify {
		if err := fn.Verify(); err != nil {
			return stats, fmt.Errorf("sched: input %s: %w", fn.Name, err)
		}
	}

	fn.BuildLiveSets()
	for _, blk := range fn.Blocks() {
		stats.Blocks = append(stats.Blocks, scheduleBlock(fn, blk, t, &o))
	}

	if o.Verify {
		if err := fn.Verify(); err != nil {
			return stats, fmt.Errorf("sched: output %s: %w", fn.Name, err)
		}
	}

	slog.Debug("sched: scheduled",
		"func", fn.Name,
		"target", t.Name(),
		"blocks", len(stats.Blocks),
		"instrs", stats.Instrs(),
		"moved", stats.Moved(),
		"cycles", stats.Cycles(),
	)
	return stats, nil
}
