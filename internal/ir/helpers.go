package ir

import "fmt"

// Builder appends instructions to a block. It is mainly used by tests and
// the program loader to keep construction code short.
type Builder struct {
	Func  *Function
	Block *Block
}

func NewBuilder(f *Function, b *Block) *Builder {
	return &Builder{Func: f, Block: b}
}

// SetBlock redirects subsequent instructions to b.
func (bl *Builder) SetBlock(b *Block) { bl.Block = b }

// GPR declares a 32-bit general purpose value.
func (bl *Builder) GPR(name string) *Value {
	return bl.Func.NewValue(name, FileGPR, 4)
}

func (bl *Builder) Pred(name string) *Value {
	return bl.Func.NewValue(name, FilePred, 1)
}

func ids(vs []*Value) []ValueID {
	out := make([]ValueID, len(vs))
	for i, v := range vs {
		out[i] = v.ID
	}
	return out
}

// Op emits a register-only instruction. A nil dst emits no definition.
func (bl *Builder) Op(op Op, dst *Value, srcs ...*Value) *Instruction {
	switch op.Kind() {
	case KindLoad, KindStore, KindExport:
		panic(fmt.Sprintf("ir: %s needs a memory reference", op))
	}
	var defs []ValueID
	if dst != nil {
		defs = []ValueID{dst.ID}
	}
	return bl.Func.Emit(bl.Block, op, defs, ids(srcs))
}

// Load emits dst <- mem. Address operands (for indirect references) go in addr.
func (bl *Builder) Load(dst *Value, mem MemRef, addr ...*Value) *Instruction {
	in := bl.Func.Emit(bl.Block, OpLoad, []ValueID{dst.ID}, ids(addr))
	in.Mem = &mem
	return in
}

func (bl *Builder) Store(mem MemRef, src *Value, addr ...*Value) *Instruction {
	in := bl.Func.Emit(bl.Block, OpStore, nil, append([]ValueID{src.ID}, ids(addr)...))
	in.Mem = &mem
	return in
}

func (bl *Builder) Export(slot int, src *Value) *Instruction {
	in := bl.Func.Emit(bl.Block, OpExport, nil, []ValueID{src.ID})
	in.Mem = &MemRef{File: FileOutput, Base: "out", Offset: slot * 4, Size: 4}
	return in
}

func (bl *Builder) Tex(dst *Value, coords ...*Value) *Instruction {
	return bl.Op(OpTex, dst, coords...)
}

// Control emits a control-flow instruction with optional operands.
func (bl *Builder) Control(op Op, srcs ...*Value) *Instruction {
	if op.Kind() != KindControl {
		panic(fmt.Sprintf("ir: %s is not a control op", op))
	}
	return bl.Func.Emit(bl.Block, op, nil, ids(srcs))
}

// Mem builds a direct reference of size bytes at base+offset in file.
func Mem(file File, base string, offset, size int) MemRef {
	if base == "" {
		panic("ir: memory base must be non-empty")
	}
	return MemRef{File: file, Base: base, Offset: offset, Size: size}
}

// IndirectMem builds a reference whose offset is computed at run time.
func IndirectMem(file File, base string) MemRef {
	if base == "" {
		panic("ir: memory base must be non-empty")
	}
	return MemRef{File: file, Base: base, Indirect: true}
}
