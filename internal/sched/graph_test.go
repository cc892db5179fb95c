package sched

import (
	"testing"

	"github.com/tinyrange/gpusched/internal/ir"
	"github.com/tinyrange/gpusched/internal/target"
)

func g80(t testing.TB) target.Target {
	t.Helper()
	tgt, err := target.Lookup("g80")
	if err != nil {
		t.Fatalf("lookup g80: %v", err)
	}
	return tgt
}

func gf100(t testing.TB) target.Target {
	t.Helper()
	tgt, err := target.Lookup("gf100")
	if err != nil {
		t.Fatalf("lookup gf100: %v", err)
	}
	return tgt
}

// firstRun builds the dependency graph of the first run of the entry block.
func firstRun(t *testing.T, fn *ir.Function, opts ...Option) *run {
	t.Helper()
	fn.BuildLiveSets()
	o := newOptions(opts)
	st := newBlockState(fn, fn.Entry(), g80(t), &o)
	return st.buildRun()
}

func hasEdge(r *run, from, to *ir.Instruction) bool {
	for _, s := range r.byInstr[from.ID].succs {
		if s.id == to.ID {
			return true
		}
	}
	return false
}

func TestInterferes(t *testing.T) {
	a0 := ir.Mem(ir.FileGlobal, "A", 0, 4)
	a2 := ir.Mem(ir.FileGlobal, "A", 2, 4)
	a4 := ir.Mem(ir.FileGlobal, "A", 4, 4)
	b0 := ir.Mem(ir.FileGlobal, "B", 0, 4)
	s0 := ir.Mem(ir.FileShared, "A", 0, 4)
	ai := ir.IndirectMem(ir.FileGlobal, "A")

	for _, tc := range []struct {
		name string
		a, b ir.MemRef
		want bool
	}{
		{"same", a0, a0, true},
		{"overlap", a0, a2, true},
		{"adjacent", a0, a4, false},
		{"other base", a0, b0, false},
		{"other file", a0, s0, false},
		{"indirect", ai, a4, true},
		{"indirect other base", ai, b0, false},
	} {
		if got := interferes(&tc.a, &tc.b); got != tc.want {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, got)
		}
		if got := interferes(&tc.b, &tc.a); got != tc.want {
			t.Fatalf("%s (swapped): expected %v, got %v", tc.name, tc.want, got)
		}
	}
}

func TestMemoryEdges(t *testing.T) {
	fn := ir.NewFunction("mem")
	bl := ir.NewBuilder(fn, fn.NewBlock("entry"))
	r1 := bl.GPR("r1")
	r2 := bl.GPR("r2")
	r3 := bl.GPR("r3")

	ld0 := bl.Load(r2, ir.Mem(ir.FileGlobal, "A", 0, 4))
	st0 := bl.Store(ir.Mem(ir.FileGlobal, "A", 0, 4), r1)   // WAR on ld0
	st1 := bl.Store(ir.Mem(ir.FileGlobal, "A", 2, 4), r1)   // WAW on st0
	ld1 := bl.Load(r3, ir.Mem(ir.FileGlobal, "A", 4, 4))    // RAW on st1
	st2 := bl.Store(ir.Mem(ir.FileGlobal, "B", 0, 4), r1)   // independent
	st3 := bl.Store(ir.Mem(ir.FileShared, "A", 0, 4), r1)   // other file
	st4 := bl.Store(ir.IndirectMem(ir.FileGlobal, "B"), r1) // WAW on st2

	r := firstRun(t, fn)

	for _, e := range []struct {
		name     string
		from, to *ir.Instruction
		want     bool
	}{
		{"WAR", ld0, st0, true},
		{"WAW", st0, st1, true},
		{"RAW", st1, ld1, true},
		{"no RAW without overlap", st0, ld1, false},
		{"no edge across bases", st1, st2, false},
		{"no edge across files", st0, st3, false},
		{"indirect WAW", st2, st4, true},
		{"no load-load edge", ld0, ld1, false},
	} {
		if got := hasEdge(r, e.from, e.to); got != e.want {
			t.Fatalf("%s: expected edge=%v, got %v", e.name, e.want, got)
		}
	}
}

func TestExportsAreWritersOnly(t *testing.T) {
	fn := ir.NewFunction("export")
	bl := ir.NewBuilder(fn, fn.NewBlock("entry"))
	r1 := bl.GPR("r1")
	r2 := bl.GPR("r2")
	e0 := bl.Export(0, r1)
	e1 := bl.Export(0, r1)
	ld := bl.Load(r2, ir.Mem(ir.FileOutput, "out", 0, 4))

	r := firstRun(t, fn)
	if !hasEdge(r, e0, e1) {
		t.Fatalf("expected WAW edge between exports to the same slot")
	}
	if hasEdge(r, e0, ld) || hasEdge(r, e1, ld) {
		t.Fatalf("exports must not feed loads")
	}
}

func TestTrueDependencyAndRoot(t *testing.T) {
	fn := ir.NewFunction("deps")
	bl := ir.NewBuilder(fn, fn.NewBlock("entry"))
	in := bl.GPR("in")
	a := bl.GPR("a")
	b := bl.GPR("b")
	c := bl.GPR("c")
	i0 := bl.Op(ir.OpMov, a, in)
	i1 := bl.Op(ir.OpMov, b, in)
	i2 := bl.Op(ir.OpAdd, c, a, b)

	r := firstRun(t, fn)
	if !hasEdge(r, i0, i2) || !hasEdge(r, i1, i2) {
		t.Fatalf("expected true dependencies into the add")
	}
	if len(r.ready) != 2 || r.ready[0].id != i0.ID || r.ready[1].id != i1.ID {
		t.Fatalf("expected both movs attached to the root in order")
	}
	for _, n := range r.ready {
		if n.ready != 0 {
			t.Fatalf("root children must be ready at cycle 0, got %d", n.ready)
		}
	}
	if r.byInstr[i2.ID].pending != 2 {
		t.Fatalf("expected add to wait on 2 predecessors")
	}
}

func TestBarrierEndsRun(t *testing.T) {
	fn := ir.NewFunction("barrier")
	blk := fn.NewBlock("entry")
	bl := ir.NewBuilder(fn, blk)
	a := bl.GPR("a")
	b := bl.GPR("b")
	p := bl.GPR("p")
	p.PhysReg = 0
	i0 := bl.Op(ir.OpMov, a)
	i1 := bl.Op(ir.OpMov, b)
	pin := bl.Op(ir.OpMov, p, a)
	bl.Control(ir.OpExit)

	r := firstRun(t, fn)
	if len(r.nodes) != 3 {
		t.Fatalf("expected run to stop after the pinned mov, got %d nodes", len(r.nodes))
	}
	if !r.byInstr[pin.ID].barrier {
		t.Fatalf("pinned register must make the instruction a barrier")
	}
	if !hasEdge(r, i0, pin) || !hasEdge(r, i1, pin) {
		t.Fatalf("barrier must follow every earlier instruction of its run")
	}
	if r.edges != 2 {
		t.Fatalf("expected the a->pin dependency to be deduplicated, got %d edges", r.edges)
	}
	if blk.Len() != 1 {
		t.Fatalf("expected the exit to stay in the block, got %d", blk.Len())
	}
}

func TestBarrierClassification(t *testing.T) {
	fn := ir.NewFunction("classes")
	bl := ir.NewBuilder(fn, fn.NewBlock("entry"))
	a := bl.GPR("a")
	fixed := bl.Op(ir.OpMov, a)
	fixed.Fixed = true
	bar := bl.Func.Emit(bl.Block, ir.OpBarrier, nil, nil)
	ctrl := bl.Control(ir.OpBra)
	plain := bl.Op(ir.OpAdd, bl.GPR("b"), a, a)

	o := newOptions(nil)
	st := newBlockState(fn, fn.Entry(), g80(t), &o)
	for _, tc := range []struct {
		in   *ir.Instruction
		want bool
	}{
		{fixed, true},
		{bar, true},
		{ctrl, true},
		{plain, false},
	} {
		if got := st.isBarrier(tc.in); got != tc.want {
			t.Fatalf("%s: expected barrier=%v", fn.Format(tc.in), tc.want)
		}
	}
}

func TestDedupWithoutBitset(t *testing.T) {
	build := func(opts ...Option) *run {
		fn := ir.NewFunction("dedup")
		bl := ir.NewBuilder(fn, fn.NewBlock("entry"))
		a := bl.GPR("a")
		b := bl.GPR("b")
		bl.Load(a, ir.Mem(ir.FileGlobal, "A", 0, 4))
		// Uses a twice and also conflicts with the load's address.
		bl.Store(ir.Mem(ir.FileGlobal, "A", 0, 4), a, a)
		bl.Op(ir.OpAdd, b, a, a)
		return firstRun(t, fn, opts...)
	}

	withBitset := build()
	without := build(WithBitsetLimit(0))
	if withBitset.edges != without.edges {
		t.Fatalf("bitset and scan dedup disagree: %d vs %d edges", withBitset.edges, without.edges)
	}
	if withBitset.edges != 2 {
		t.Fatalf("expected 2 unique edges, got %d", withBitset.edges)
	}
}

func TestEdgeSet(t *testing.T) {
	s := newEdgeSet(10)
	if s.testAndSet(3, 7) {
		t.Fatalf("fresh pair reported present")
	}
	if !s.testAndSet(3, 7) {
		t.Fatalf("pair not remembered")
	}
	if s.testAndSet(7, 3) {
		t.Fatalf("pairs must be ordered")
	}
}
