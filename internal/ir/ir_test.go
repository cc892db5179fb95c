package ir

import (
	"strings"
	"testing"
)

func TestBlockRemoveAndInsertHead(t *testing.T) {
	fn := NewFunction("f")
	b := fn.NewBlock("entry")
	bl := NewBuilder(fn, b)
	a := bl.GPR("a")
	c := bl.GPR("c")
	i0 := bl.Op(OpMov, a)
	i1 := bl.Op(OpAdd, c, a, a)
	i2 := bl.Control(OpExit)

	if b.Len() != 3 {
		t.Fatalf("expected 3 instructions, got %d", b.Len())
	}

	b.Remove(i1.ID)
	if i1.Attached() {
		t.Fatalf("removed instruction still attached")
	}
	if got := b.Next(i0.ID); got != i2.ID {
		t.Fatalf("expected %d after %d, got %d", i2.ID, i0.ID, got)
	}

	b.InsertHead(i1.ID)
	got := b.Instrs()
	want := []InstrID{i1.ID, i0.ID, i2.ID}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order mismatch: got %v, want %v", got, want)
		}
	}
	if err := fn.Verify(); err != nil {
		t.Fatalf("verify: %v", err)
	}
}

func TestBlockRemoveAll(t *testing.T) {
	fn := NewFunction("f")
	b := fn.NewBlock("entry")
	bl := NewBuilder(fn, b)
	i0 := bl.Control(OpJoin)
	i1 := bl.Control(OpExit)

	b.Remove(i0.ID)
	b.Remove(i1.ID)
	if !b.Empty() || b.Len() != 0 || b.Last() != NoInstr {
		t.Fatalf("expected empty block, first=%d last=%d len=%d", b.First(), b.Last(), b.Len())
	}
	b.InsertHead(i1.ID)
	b.InsertHead(i0.ID)
	if err := fn.Verify(); err != nil {
		t.Fatalf("verify: %v", err)
	}
}

func TestInsertAttachedPanics(t *testing.T) {
	fn := NewFunction("f")
	b := fn.NewBlock("entry")
	in := NewBuilder(fn, b).Control(OpExit)

	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic inserting an attached instruction")
		}
	}()
	b.InsertHead(in.ID)
}

func TestEmitLinksDefUse(t *testing.T) {
	fn := NewFunction("f")
	bl := NewBuilder(fn, fn.NewBlock("entry"))
	a := bl.GPR("a")
	c := bl.GPR("c")
	def := bl.Load(a, Mem(FileGlobal, "A", 0, 4))
	use := bl.Op(OpAdd, c, a, a)

	if a.Def != def.ID {
		t.Fatalf("expected def %d, got %d", def.ID, a.Def)
	}
	if len(a.Uses) != 2 || a.Uses[0] != use.ID {
		t.Fatalf("unexpected uses %v", a.Uses)
	}
	if err := fn.Verify(); err != nil {
		t.Fatalf("verify: %v", err)
	}
}

func TestVerifyDetectsMissingMem(t *testing.T) {
	fn := NewFunction("f")
	bl := NewBuilder(fn, fn.NewBlock("entry"))
	a := bl.GPR("a")
	in := bl.Load(a, Mem(FileGlobal, "A", 0, 4))
	in.Mem = nil

	if err := fn.Verify(); err == nil {
		t.Fatalf("expected verify error")
	}
}

func TestFormat(t *testing.T) {
	fn := NewFunction("f")
	bl := NewBuilder(fn, fn.NewBlock("entry"))
	a := bl.GPR("a")
	c := bl.GPR("c")
	bl.Load(a, Mem(FileGlobal, "A", 8, 4))
	bl.Store(Mem(FileShared, "B", 0, 4), a)
	st := bl.Op(OpAdd, c, a, a)
	st.Fixed = true

	out := fn.String()
	for _, want := range []string{
		"ld a, global[A+8:4]",
		"st shared[B+0:4], a",
		"add.fixed c, a, a",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in dump:\n%s", want, out)
		}
	}
}

func TestParseOp(t *testing.T) {
	for _, name := range OpNames() {
		op, ok := ParseOp(name)
		if !ok {
			t.Fatalf("ParseOp(%q) failed", name)
		}
		if op.String() != name {
			t.Fatalf("round trip %q -> %q", name, op.String())
		}
	}
	if _, ok := ParseOp("bogus"); ok {
		t.Fatalf("expected bogus to be rejected")
	}
}
