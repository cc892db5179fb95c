package sched

import (
	"github.com/tinyrange/gpusched/internal/debug"
	"github.com/tinyrange/gpusched/internal/ir"
	"github.com/tinyrange/gpusched/internal/target"
)

const (
	latencyWeight   = 4
	latencyCap      = 16
	proximityCap    = 16
	valueBase       = 2
	unitWeight      = 4
	crossingPenalty = 8
	textureBonus    = 64
)

type mode int

const (
	modeLatency mode = iota
	modePressure
)

func (m mode) String() string {
	if m == modePressure {
		return "pressure"
	}
	return "latency"
}

func (st *blockState) mode() mode {
	if st.pressure > st.limit {
		return modePressure
	}
	return modeLatency
}

// occurrences counts how often v appears among the sources of in.
func occurrences(in *ir.Instruction, v ir.ValueID) int {
	n := 0
	for _, s := range in.Srcs {
		if s == v {
			n++
		}
	}
	return n
}

func (st *blockState) latencyScore(n *node) int {
	return min((st.clock-n.ready)*latencyWeight, latencyCap)
}

func (st *blockState) pressureScore(n *node) int {
	score := 0
	for i, s := range n.in.Srcs {
		if firstIndex(n.in.Srcs, s) != i {
			continue
		}
		v := st.fn.Value(s)
		if left := st.uses[s]; left != usesInfinite && left-occurrences(n.in, s) == 0 {
			score += valueBase
			if v.File == ir.FileGPR {
				score += unitWeight * st.units(v)
			}
		}
		if v.Def != ir.NoInstr {
			if p, ok := st.run.byInstr[v.Def]; ok && p.isRetired() {
				score += min(proximityCap, st.clock-p.retired)
			}
		}
	}
	for _, d := range n.in.Defs {
		v := st.fn.Value(d)
		score -= valueBase
		if v.File == ir.FileGPR {
			score -= unitWeight * st.units(v)
		}
		if st.outside.Has(d) {
			score -= crossingPenalty
		}
	}
	return score
}

func firstIndex(list []ir.ValueID, v ir.ValueID) int {
	for i, x := range list {
		if x == v {
			return i
		}
	}
	return -1
}

// score rates a ready candidate; the highest score is issued next.
func (st *blockState) score(n *node, m mode) int {
	var s int
	if m == modePressure {
		s = st.pressureScore(n)
	} else {
		s = st.latencyScore(n)
	}
	s += len(n.succs)
	if st.t.GroupsTextures() && st.lastWasTexture && n.in.Op.Kind() == ir.KindTexture {
		s += textureBonus
	}
	return s
}

// selectNext picks the best ready node or returns nil when the ready set is
// empty. Ties go to the node that became ready first.
func (st *blockState) selectNext() *node {
	r := st.run
	if len(r.ready) == 0 {
		return nil
	}
	m := st.mode()
	if m == modePressure {
		st.stats.PressureSelections++
	}

	best, bestScore := r.ready[0], st.score(r.ready[0], m)
	for _, n := range r.ready[1:] {
		if s := st.score(n, m); s > bestScore {
			best, bestScore = n, s
		}
	}

	if debug.Enabled() {
		traceSelect.Writef("%s/%s cycle %d: %s mode, pick %d (%s) score %d of %d ready, pressure %d",
			st.fn.Name, st.blk.Name, st.clock, m, best.id, st.fn.Format(best.in), bestScore, len(r.ready), st.pressure)
	}
	return best
}

func (st *blockState) units(v *ir.Value) int {
	return target.Units(st.t, v.Size)
}
