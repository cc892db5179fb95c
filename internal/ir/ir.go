// Package ir holds the machine-level IR the scheduler operates on: a
// function owns flat tables of instructions and values, and basic blocks
// thread their instructions through Prev/Next indices into that table.
package ir

import (
	"fmt"
	"strings"
)

type ValueID int

type InstrID int

type BlockID int

const (
	NoInstr InstrID = -1
	NoBlock BlockID = -1

	// NoReg marks a value that is not pinned to a physical register.
	NoReg = -1
)

// Value is a virtual register defined by at most one instruction. Values
// without a defining instruction are function inputs.
type Value struct {
	ID      ValueID
	Name    string
	File    File
	Size    int // bytes
	PhysReg int
	Def     InstrID
	Uses    []InstrID
}

func (v *Value) String() string {
	if v.Name != "" {
		return v.Name
	}
	return fmt.Sprintf("%%%d", v.ID)
}

// MemRef is a symbolic memory reference. Offset and Size are in bytes and
// only meaningful when Indirect is false.
type MemRef struct {
	File     File
	Base     string
	Offset   int
	Size     int
	Indirect bool
}

func (m MemRef) String() string {
	if m.Indirect {
		return fmt.Sprintf("%s[%s+?]", m.File, m.Base)
	}
	return fmt.Sprintf("%s[%s+%d:%d]", m.File, m.Base, m.Offset, m.Size)
}

type Instruction struct {
	ID    InstrID
	Op    Op
	Defs  []ValueID
	Srcs  []ValueID
	Mem   *MemRef
	Fixed bool

	Block BlockID
	Prev  InstrID
	Next  InstrID
}

// Attached reports whether the instruction currently sits in a block list.
func (in *Instruction) Attached() bool { return in.Block != NoBlock }

type Function struct {
	Name string

	instrs []*Instruction
	values []*Value
	blocks []*Block
}

func NewFunction(name string) *Function {
	return &Function{Name: name}
}

func (f *Function) NumInstrs() int { return len(f.instrs) }
func (f *Function) NumValues() int { return len(f.values) }
func (f *Function) NumBlocks() int { return len(f.blocks) }

func (f *Function) Instr(id InstrID) *Instruction {
	if id < 0 || int(id) >= len(f.instrs) {
		panic(fmt.Sprintf("ir: instruction %d out of range [0,%d)", id, len(f.instrs)))
	}
	return f.instrs[id]
}

func (f *Function) Value(id ValueID) *Value {
	if id < 0 || int(id) >= len(f.values) {
		panic(fmt.Sprintf("ir: value %d out of range [0,%d)", id, len(f.values)))
	}
	return f.values[id]
}

func (f *Function) Block(id BlockID) *Block {
	if id < 0 || int(id) >= len(f.blocks) {
		panic(fmt.Sprintf("ir: block %d out of range [0,%d)", id, len(f.blocks)))
	}
	return f.blocks[id]
}

// Blocks returns the blocks in creation order. The first block is the entry.
func (f *Function) Blocks() []*Block {
	return f.blocks
}

// Entry returns the entry block or nil for an empty function.
func (f *Function) Entry() *Block {
	if len(f.blocks) == 0 {
		return nil
	}
	return f.blocks[0]
}

func (f *Function) NewBlock(name string) *Block {
	b := &Block{
		ID:    BlockID(len(f.blocks)),
		Name:  name,
		first: NoInstr,
		last:  NoInstr,
		fn:    f,
	}
	f.blocks = append(f.blocks, b)
	return b
}

// AddEdge records a control-flow edge between two blocks.
func (f *Function) AddEdge(from, to *Block) {
	from.Succs = append(from.Succs, to.ID)
	to.Preds = append(to.Preds, from.ID)
}

func (f *Function) NewValue(name string, file File, size int) *Value {
	if size <= 0 {
		panic(fmt.Sprintf("ir: value %q must have a positive size", name))
	}
	v := &Value{
		ID:      ValueID(len(f.values)),
		Name:    name,
		File:    file,
		Size:    size,
		PhysReg: NoReg,
		Def:     NoInstr,
	}
	f.values = append(f.values, v)
	return v
}

// Emit creates an instruction, appends it to b and links it into the
// def/use chains of its operands.
func (f *Function) Emit(b *Block, op Op, defs, srcs []ValueID) *Instruction {
	if !op.valid() {
		panic(fmt.Sprintf("ir: cannot emit invalid op %d", int(op)))
	}
	in := &Instruction{
		ID:    InstrID(len(f.instrs)),
		Op:    op,
		Defs:  append([]ValueID(nil), defs...),
		Srcs:  append([]ValueID(nil), srcs...),
		Block: NoBlock,
		Prev:  NoInstr,
		Next:  NoInstr,
	}
	for _, d := range in.Defs {
		v := f.Value(d)
		if v.Def != NoInstr {
			panic(fmt.Sprintf("ir: value %s already defined by instruction %d", v, v.Def))
		}
		v.Def = in.ID
	}
	for _, s := range in.Srcs {
		v := f.Value(s)
		v.Uses = append(v.Uses, in.ID)
	}
	f.instrs = append(f.instrs, in)
	b.Append(in.ID)
	return in
}

// Verify checks def/use linkage and block membership. It returns the first
// inconsistency found.
func (f *Function) Verify() error {
	seen := make([]bool, len(f.instrs))
	for _, b := range f.blocks {
		prev := NoInstr
		n := 0
		for id := b.first; id != NoInstr; id = f.instrs[id].Next {
			if id < 0 || int(id) >= len(f.instrs) {
				return fmt.Errorf("ir: block %s links to instruction %d out of range", b.Name, id)
			}
			in := f.instrs[id]
			if seen[id] {
				return fmt.Errorf("ir: instruction %d appears twice", id)
			}
			seen[id] = true
			if in.Block != b.ID {
				return fmt.Errorf("ir: instruction %d in block %s claims block %d", id, b.Name, in.Block)
			}
			if in.Prev != prev {
				return fmt.Errorf("ir: instruction %d has prev %d, want %d", id, in.Prev, prev)
			}
			prev = id
			n++
		}
		if b.last != prev {
			return fmt.Errorf("ir: block %s last is %d, want %d", b.Name, b.last, prev)
		}
		if b.n != n {
			return fmt.Errorf("ir: block %s length is %d, want %d", b.Name, b.n, n)
		}
	}
	for id, in := range f.instrs {
		if !seen[id] {
			return fmt.Errorf("ir: instruction %d is not in any block", id)
		}
		switch in.Op.Kind() {
		case KindLoad, KindStore, KindExport:
			if in.Mem == nil {
				return fmt.Errorf("ir: %s instruction %d has no memory reference", in.Op, id)
			}
			if !in.Mem.File.IsMemory() {
				return fmt.Errorf("ir: instruction %d references register file %s as memory", id, in.Mem.File)
			}
		}
		for _, d := range in.Defs {
			if d < 0 || int(d) >= len(f.values) {
				return fmt.Errorf("ir: instruction %d defines unknown value %d", id, d)
			}
			if f.values[d].Def != in.ID {
				return fmt.Errorf("ir: value %s def is %d, want %d", f.values[d], f.values[d].Def, id)
			}
		}
		for _, s := range in.Srcs {
			if s < 0 || int(s) >= len(f.values) {
				return fmt.Errorf("ir: instruction %d uses unknown value %d", id, s)
			}
			if !containsInstr(f.values[s].Uses, in.ID) {
				return fmt.Errorf("ir: value %s does not list use by %d", f.values[s], id)
			}
		}
	}
	for _, v := range f.values {
		for _, u := range v.Uses {
			if u < 0 || int(u) >= len(f.instrs) || !containsValue(f.instrs[u].Srcs, v.ID) {
				return fmt.Errorf("ir: value %s lists stale use %d", v, u)
			}
		}
	}
	return nil
}

func containsInstr(list []InstrID, id InstrID) bool {
	for _, x := range list {
		if x == id {
			return true
		}
	}
	return false
}

func containsValue(list []ValueID, id ValueID) bool {
	for _, x := range list {
		if x == id {
			return true
		}
	}
	return false
}

// Format renders one instruction as "op defs, srcs [mem]".
func (f *Function) Format(in *Instruction) string {
	var sb strings.Builder
	sb.WriteString(in.Op.String())
	if in.Fixed {
		sb.WriteString(".fixed")
	}
	var ops []string
	for _, d := range in.Defs {
		ops = append(ops, f.formatValue(d))
	}
	if in.Mem != nil && in.Op.Kind() != KindLoad {
		ops = append(ops, in.Mem.String())
	}
	for _, s := range in.Srcs {
		ops = append(ops, f.formatValue(s))
	}
	if in.Mem != nil && in.Op.Kind() == KindLoad {
		ops = append(ops, in.Mem.String())
	}
	if len(ops) > 0 {
		sb.WriteByte(' ')
		sb.WriteString(strings.Join(ops, ", "))
	}
	return sb.String()
}

func (f *Function) formatValue(id ValueID) string {
	v := f.Value(id)
	if v.PhysReg != NoReg {
		return fmt.Sprintf("%s($%s%d)", v, v.File, v.PhysReg)
	}
	return v.String()
}

func (f *Function) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "func %s\n", f.Name)
	for _, b := range f.blocks {
		fmt.Fprintf(&sb, "%s:\n", b.Name)
		for _, id := range b.Instrs() {
			fmt.Fprintf(&sb, "\t%s\n", f.Format(f.instrs[id]))
		}
	}
	return sb.String()
}
