package ir

import "fmt"

// Block is a basic block. Its instructions form a doubly linked list
// through the Prev/Next fields of the owning function's instruction table.
type Block struct {
	ID    BlockID
	Name  string
	Succs []BlockID
	Preds []BlockID

	// Populated by Function.BuildLiveSets.
	LiveIn  ValueSet
	LiveOut ValueSet

	first InstrID
	last  InstrID
	n     int
	fn    *Function
}

func (b *Block) First() InstrID { return b.first }
func (b *Block) Last() InstrID  { return b.last }
func (b *Block) Len() int       { return b.n }
func (b *Block) Empty() bool    { return b.first == NoInstr }

func (b *Block) Next(id InstrID) InstrID {
	return b.member(id).Next
}

func (b *Block) Prev(id InstrID) InstrID {
	return b.member(id).Prev
}

// Instrs returns the block's instruction IDs in program order.
func (b *Block) Instrs() []InstrID {
	out := make([]InstrID, 0, b.n)
	for id := b.first; id != NoInstr; id = b.fn.instrs[id].Next {
		out = append(out, id)
	}
	return out
}

func (b *Block) member(id InstrID) *Instruction {
	in := b.fn.Instr(id)
	if in.Block != b.ID {
		panic(fmt.Sprintf("ir: instruction %d is not in block %s", id, b.Name))
	}
	return in
}

// Remove unlinks id from the block. The instruction keeps its def/use
// linkage but reports itself as detached.
func (b *Block) Remove(id InstrID) {
	in := b.member(id)
	if in.Prev != NoInstr {
		b.fn.instrs[in.Prev].Next = in.Next
	} else {
		b.first = in.Next
	}
	if in.Next != NoInstr {
		b.fn.instrs[in.Next].Prev = in.Prev
	} else {
		b.last = in.Prev
	}
	in.Prev, in.Next, in.Block = NoInstr, NoInstr, NoBlock
	b.n--
}

// InsertHead links a detached instruction in front of the block.
func (b *Block) InsertHead(id InstrID) {
	in := b.detached(id)
	in.Block = b.ID
	in.Next = b.first
	if b.first != NoInstr {
		b.fn.instrs[b.first].Prev = id
	} else {
		b.last = id
	}
	b.first = id
	b.n++
}

// Append links a detached instruction at the end of the block.
func (b *Block) Append(id InstrID) {
	in := b.detached(id)
	in.Block = b.ID
	in.Prev = b.last
	if b.last != NoInstr {
		b.fn.instrs[b.last].Next = id
	} else {
		b.first = id
	}
	b.last = id
	b.n++
}

func (b *Block) detached(id InstrID) *Instruction {
	in := b.fn.Instr(id)
	if in.Attached() {
		panic(fmt.Sprintf("ir: instruction %d is already in block %d", id, in.Block))
	}
	return in
}
