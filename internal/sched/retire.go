package sched

import (
	"fmt"

	"github.com/tinyrange/gpusched/internal/debug"
	"github.com/tinyrange/gpusched/internal/ir"
	"github.com/tinyrange/gpusched/internal/target"
)

// usesInfinite marks a value that stays live past the end of the block.
const usesInfinite = -1

// retire commits n to the output order and updates the ready set, use
// counts, register pressure and the virtual clock.
func (st *blockState) retire(n *node) {
	r := st.run
	idx := -1
	for i, c := range r.ready {
		if c == n {
			idx = i
			break
		}
	}
	if idx < 0 {
		panic(fmt.Sprintf("sched: retiring instruction %d which is not ready", n.id))
	}
	r.ready = append(r.ready[:idx], r.ready[idx+1:]...)
	n.retired = st.clock

	for _, s := range n.succs {
		s.pending--
		if s.pending < 0 {
			panic(fmt.Sprintf("sched: instruction %d released twice", s.id))
		}
		if s.pending == 0 {
			s.ready = st.clock + st.t.Latency(s.in.Op)
			r.ready = append(r.ready, s)
		}
	}

	for _, s := range n.in.Srcs {
		st.release(s)
	}
	for _, d := range n.in.Defs {
		v := st.fn.Value(d)
		if v.File == ir.FileGPR {
			st.pressure += st.units(v)
		}
		if st.uses[d] == 0 {
			// Dead definition: nothing will ever retire its last use.
			if v.File == ir.FileGPR {
				st.pressure -= st.units(v)
			}
		}
	}
	if st.pressure > st.stats.PeakPressure {
		st.stats.PeakPressure = st.pressure
	}

	st.retired = append(st.retired, n.id)
	st.lastWasTexture = n.in.Op.Kind() == ir.KindTexture

	if st.t.FineGrained() {
		switch res := st.t.Resource(n.in.Op); res {
		case target.ResourceMul, target.ResourceTexture, target.ResourceSFU:
			st.busy[res] = st.clock + st.t.Throughput(n.in.Op)
		}
		st.clock++
	} else {
		st.clock += st.t.Throughput(n.in.Op)
	}

	if debug.Enabled() {
		traceRetire.Writef("%s/%s retire %d at %d: clock %d, pressure %d, busy mul=%d tex=%d sfu=%d",
			st.fn.Name, st.blk.Name, n.id, n.retired, st.clock, st.pressure,
			st.busy[target.ResourceMul], st.busy[target.ResourceTexture], st.busy[target.ResourceSFU])
	}
}

// release drops one use of v and frees its registers after the last one.
func (st *blockState) release(id ir.ValueID) {
	left, ok := st.uses[id]
	if !ok {
		panic(fmt.Sprintf("sched: value %d has no use count in block %s", id, st.blk.Name))
	}
	if left == usesInfinite {
		return
	}
	if left == 0 {
		panic(fmt.Sprintf("sched: value %d used more often than counted", id))
	}
	left--
	st.uses[id] = left
	if left == 0 {
		if v := st.fn.Value(id); v.File == ir.FileGPR {
			st.pressure -= st.units(v)
		}
	}
}
