package irfile

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/tinyrange/gpusched/internal/ir"
)

const sample = `
function: shade
values:
  - {name: a, file: gpr, size: 4}
  - {name: b}
  - {name: c}
  - {name: p, file: pred, size: 1}
  - {name: r0, phys: 0}
blocks:
  - name: entry
    succs: [exit]
    instrs:
      - {op: ld, defs: [a], mem: {file: global, base: A, offset: 0, size: 4}}
      - {op: ld, defs: [b], srcs: [a], mem: {file: shared, base: S, indirect: true}}
      - {op: set, defs: [p], srcs: [a, b]}
      - {op: bra, srcs: [p]}
  - name: exit
    instrs:
      - {op: add, defs: [c], srcs: [a, b]}
      - {op: mov, defs: [r0], srcs: [c], fixed: true}
      - {op: export, srcs: [r0], mem: {file: output, base: out, offset: 4}}
      - {op: exit}
`

func TestDecode(t *testing.T) {
	fn, err := Decode(strings.NewReader(sample))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if err := fn.Verify(); err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if fn.Name != "shade" || fn.NumBlocks() != 2 || fn.NumValues() != 5 || fn.NumInstrs() != 8 {
		t.Fatalf("unexpected shape: %d blocks, %d values, %d instrs", fn.NumBlocks(), fn.NumValues(), fn.NumInstrs())
	}

	entry, exit := fn.Block(0), fn.Block(1)
	if len(entry.Succs) != 1 || entry.Succs[0] != exit.ID || len(exit.Preds) != 1 {
		t.Fatalf("expected entry -> exit edge")
	}

	ld := fn.Instr(entry.Instrs()[1])
	if ld.Mem == nil || !ld.Mem.Indirect || ld.Mem.File != ir.FileShared {
		t.Fatalf("expected indirect shared load, got %s", fn.Format(ld))
	}
	export := fn.Instr(exit.Instrs()[2])
	if export.Mem.Offset != 4 || export.Mem.Size != 4 {
		t.Fatalf("expected default size 4 at offset 4, got %s", export.Mem)
	}
	mov := fn.Instr(exit.Instrs()[1])
	if !mov.Fixed {
		t.Fatalf("expected fixed mov")
	}
	if r0 := fn.Value(mov.Defs[0]); r0.PhysReg != 0 {
		t.Fatalf("expected r0 pinned to register 0, got %d", r0.PhysReg)
	}
	if b := fn.Value(1); b.File != ir.FileGPR || b.Size != 4 || b.PhysReg != ir.NoReg {
		t.Fatalf("expected defaulted gpr value, got file=%s size=%d phys=%d", b.File, b.Size, b.PhysReg)
	}
	if p := fn.Value(3); p.File != ir.FilePred || p.Size != 1 {
		t.Fatalf("expected 1-byte predicate")
	}
}

func TestDecodeErrors(t *testing.T) {
	for _, tc := range []struct {
		name string
		src  string
		is   error
		msg  string
	}{
		{"empty", "", nil, "empty program"},
		{"no name", "blocks: [{name: b, instrs: []}]", nil, "no function name"},
		{"no blocks", "function: f", nil, "no blocks"},
		{"unknown field", "function: f\ncolour: red\nblocks: [{name: b}]", nil, "colour"},
		{"unknown op", "function: f\nblocks: [{name: b, instrs: [{op: frob}]}]", ErrUnknownOp, "frob"},
		{"unknown value", "function: f\nblocks: [{name: b, instrs: [{op: mov, defs: [x]}]}]", ErrUnknownValue, "x"},
		{"redefined", "function: f\nvalues: [{name: x}]\nblocks: [{name: b, instrs: [{op: mov, defs: [x]}, {op: mov, defs: [x]}]}]", nil, "defined twice"},
		{"defined twice by one instr", "function: f\nvalues: [{name: a}]\nblocks: [{name: b, instrs: [{op: mov, defs: [a, a]}]}]", nil, "defined twice"},
		{"duplicate value", "function: f\nvalues: [{name: x}, {name: x}]\nblocks: [{name: b}]", nil, "declared twice"},
		{"duplicate block", "function: f\nblocks: [{name: b}, {name: b}]", nil, "duplicate block"},
		{"missing succ", "function: f\nblocks: [{name: b, succs: [c]}]", nil, "unknown successor"},
		{"memory file as register", "function: f\nvalues: [{name: x, file: global}]\nblocks: [{name: b}]", nil, "bad register file"},
		{"load without mem", "function: f\nvalues: [{name: x}]\nblocks: [{name: b, instrs: [{op: ld, defs: [x]}]}]", nil, "needs a mem"},
		{"mem on arith", "function: f\nvalues: [{name: x}]\nblocks: [{name: b, instrs: [{op: mov, defs: [x], mem: {file: global, base: A}}]}]", nil, "does not access memory"},
		{"register file as memory", "function: f\nvalues: [{name: x}]\nblocks: [{name: b, instrs: [{op: st, srcs: [x], mem: {file: gpr, base: A}}]}]", nil, "bad memory file"},
	} {
		_, err := Decode(strings.NewReader(tc.src))
		if err == nil {
			t.Fatalf("%s: expected error", tc.name)
		}
		if tc.is != nil && !errors.Is(err, tc.is) {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.is, err)
		}
		if !strings.Contains(err.Error(), tc.msg) {
			t.Fatalf("%s: expected %q in %q", tc.name, tc.msg, err)
		}
	}
}

func TestEncodeRoundTrip(t *testing.T) {
	fn, err := Decode(strings.NewReader(sample))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	var buf bytes.Buffer
	if err := Encode(&buf, fn); err != nil {
		t.Fatalf("Encode: %v", err)
	}
	again, err := Decode(&buf)
	if err != nil {
		t.Fatalf("Decode encoded program: %v\n%s", err, buf.String())
	}
	if got, want := again.String(), fn.String(); got != want {
		t.Fatalf("round trip changed the program:\n%s\nwant:\n%s", got, want)
	}
}

func TestEncodeFollowsBlockOrder(t *testing.T) {
	fn := ir.NewFunction("order")
	blk := fn.NewBlock("entry")
	bl := ir.NewBuilder(fn, blk)
	a := bl.GPR("")
	b := bl.GPR("a")
	c := bl.GPR("a")
	first := bl.Op(ir.OpMov, a)
	bl.Op(ir.OpMov, b)
	bl.Op(ir.OpAdd, c, a, b)
	blk.Remove(first.ID)
	blk.Append(first.ID)

	p := FromFunction(fn)
	names := map[string]bool{}
	for _, v := range p.Values {
		if names[v.Name] {
			t.Fatalf("duplicate value name %q", v.Name)
		}
		names[v.Name] = true
	}
	if got := p.Blocks[0].Instrs[2].Defs[0]; got != p.Values[0].Name {
		t.Fatalf("expected moved instruction last, got def %q", got)
	}
	if _, err := p.Build(); err != nil {
		t.Fatalf("Build: %v", err)
	}
}

func TestSaveLoad(t *testing.T) {
	fn, err := Decode(strings.NewReader(sample))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	path := filepath.Join(t.TempDir(), "out.yaml")
	if err := Save(path, fn); err != nil {
		t.Fatalf("Save: %v", err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.String() != fn.String() {
		t.Fatalf("loaded program differs")
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected not-exist error, got %v", err)
	}
}
