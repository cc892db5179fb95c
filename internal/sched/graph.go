package sched

import (
	"fmt"

	"github.com/tinyrange/gpusched/internal/debug"
	"github.com/tinyrange/gpusched/internal/ir"
)

// node is the per-instruction scheduling record of one run.
type node struct {
	id ir.InstrID
	in *ir.Instruction
	// idx is the node's position within its run.
	idx int

	preds []*node
	succs []*node
	// pending counts predecessors that have not retired yet.
	pending int

	ready   int // dependency-ready cycle
	retired int // retirement cycle, -1 until retired
	barrier bool
}

func (n *node) isRetired() bool { return n.retired >= 0 }

// chain holds the memory operations of one storage space seen so far in
// the run.
type chain struct {
	loads  []*node
	stores []*node // stores and exports
}

// run is the dependency graph of one barrier-free instruction run. The
// ready slice stands in for the children of the synthetic root, in the
// order they were attached.
type run struct {
	nodes   []*node
	byInstr map[ir.InstrID]*node
	ready   []*node
	chains  map[ir.File]*chain
	edges   int
	// dedup is nil when the run is too long for the pair bitset.
	dedup   *edgeSet
}

func newRun() *run {
	return &run{
		byInstr: make(map[ir.InstrID]*node),
		chains:  make(map[ir.File]*chain),
	}
}

func (r *run) chain(f ir.File) *chain {
	c, ok := r.chains[f]
	if !ok {
		c = &chain{}
		r.chains[f] = c
	}
	return c
}

// edgeSet is a bitset over (dependent, dependency) run positions.
type edgeSet struct {
	n    int
	bits []uint64
}

func newEdgeSet(n int) *edgeSet {
	return &edgeSet{n: n, bits: make([]uint64, (n*n+63)/64)}
}

// testAndSet records the pair and reports whether it was already present.
func (s *edgeSet) testAndSet(dependent, dependency int) bool {
	i := dependent*s.n + dependency
	w, b := i/64, uint64(1)<<(uint(i)%64)
	if s.bits[w]&b != 0 {
		return true
	}
	s.bits[w] |= b
	return false
}

// isBarrier reports whether in must not move across its run boundary:
// control flow, explicit barriers, fixed instructions and anything touching
// a pinned physical register.
func (st *blockState) isBarrier(in *ir.Instruction) bool {
	switch in.Op.Kind() {
	case ir.KindControl, ir.KindBarrier:
		return true
	}
	if in.Fixed {
		return true
	}
	for _, d := range in.Defs {
		if st.fn.Value(d).PhysReg != ir.NoReg {
			return true
		}
	}
	for _, s := range in.Srcs {
		if st.fn.Value(s).PhysReg != ir.NoReg {
			return true
		}
	}
	return false
}

// addEdge records that dependent must retire after dependency.
func (st *blockState) addEdge(dependency, dependent *node) {
	if dependency == dependent {
		panic(fmt.Sprintf("sched: instruction %d depends on itself", dependent.id))
	}
	if st.run.dedup != nil {
		if st.run.dedup.testAndSet(dependent.idx, dependency.idx) {
			return
		}
	} else {
		for _, p := range dependent.preds {
			if p == dependency {
				return
			}
		}
	}
	dependent.preds = append(dependent.preds, dependency)
	dependent.pending++
	dependency.succs = append(dependency.succs, dependent)
	st.run.edges++
}

// runLength counts the instructions from the block head up to and including
// the first barrier.
func (st *blockState) runLength() int {
	n := 0
	for id := st.blk.First(); id != ir.NoInstr; id = st.blk.Next(id) {
		n++
		if st.isBarrier(st.fn.Instr(id)) {
			break
		}
	}
	return n
}

// buildRun pulls instructions off the head of the block until a barrier has
// been consumed or the block is empty, and builds their dependency graph.
func (st *blockState) buildRun() *run {
	r := newRun()
	st.run = r

	if n := st.runLength(); n < st.bitsetLimit {
		r.dedup = newEdgeSet(n)
		st.stats.Bitset = true
	}

	for !st.blk.Empty() {
		id := st.blk.First()
		in := st.fn.Instr(id)
		st.blk.Remove(id)

		n := &node{
			id:      id,
			in:      in,
			idx:     len(r.nodes),
			retired: -1,
			barrier: st.isBarrier(in),
		}
		r.nodes = append(r.nodes, n)
		r.byInstr[id] = n

		st.addMemoryEdges(n)

		for _, s := range in.Srcs {
			def := st.fn.Value(s).Def
			if def == ir.NoInstr {
				continue
			}
			if p, ok := r.byInstr[def]; ok && p != n {
				st.addEdge(p, n)
			}
		}

		if n.barrier {
			for _, p := range r.nodes[:len(r.nodes)-1] {
				st.addEdge(p, n)
			}
		}

		if n.pending == 0 {
			n.ready = 0
			r.ready = append(r.ready, n)
		}

		if n.barrier {
			break
		}
	}

	st.stats.Runs++
	st.stats.Edges += r.edges
	if debug.Enabled() {
		traceRun.Writef("%s/%s run %d: %d instrs, %d edges, %d ready",
			st.fn.Name, st.blk.Name, st.stats.Runs, len(r.nodes), r.edges, len(r.ready))
	}
	return r
}

// cut drops every graph reference of the finished run.
func (st *blockState) cut(r *run) {
	for _, n := range r.nodes {
		if !n.isRetired() {
			panic(fmt.Sprintf("sched: instruction %d never became ready (dependency cycle)", n.id))
		}
		n.preds, n.succs = nil, nil
	}
	st.run = nil
}
