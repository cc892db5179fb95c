package ir

import "math/bits"

// ValueSet is a dense bitset over value IDs.
type ValueSet struct {
	words []uint64
}

func (s *ValueSet) grow(id ValueID) {
	need := int(id)/64 + 1
	if need > len(s.words) {
		s.words = append(s.words, make([]uint64, need-len(s.words))...)
	}
}

func (s *ValueSet) Add(id ValueID) {
	s.grow(id)
	s.words[id/64] |= 1 << (uint(id) % 64)
}

func (s *ValueSet) Remove(id ValueID) {
	if int(id)/64 < len(s.words) {
		s.words[id/64] &^= 1 << (uint(id) % 64)
	}
}

func (s ValueSet) Has(id ValueID) bool {
	if id < 0 || int(id)/64 >= len(s.words) {
		return false
	}
	return s.words[id/64]&(1<<(uint(id)%64)) != 0
}

func (s ValueSet) Len() int {
	n := 0
	for _, w := range s.words {
		n += bits.OnesCount64(w)
	}
	return n
}

// Each calls fn for every member in ascending order.
func (s ValueSet) Each(fn func(ValueID)) {
	for i, w := range s.words {
		for w != 0 {
			b := bits.TrailingZeros64(w)
			fn(ValueID(i*64 + b))
			w &^= 1 << uint(b)
		}
	}
}

func (s ValueSet) Copy() ValueSet {
	return ValueSet{words: append([]uint64(nil), s.words...)}
}

// UnionWith adds every member of o and reports whether s changed.
func (s *ValueSet) UnionWith(o ValueSet) bool {
	if len(o.words) > len(s.words) {
		s.words = append(s.words, make([]uint64, len(o.words)-len(s.words))...)
	}
	changed := false
	for i, w := range o.words {
		if n := s.words[i] | w; n != s.words[i] {
			s.words[i] = n
			changed = true
		}
	}
	return changed
}

func (s ValueSet) Equal(o ValueSet) bool {
	a, b := s.words, o.words
	if len(a) < len(b) {
		a, b = b, a
	}
	for i := range a {
		var w uint64
		if i < len(b) {
			w = b[i]
		}
		if a[i] != w {
			return false
		}
	}
	return true
}

// BuildLiveSets computes LiveIn and LiveOut for every block with the usual
// backward dataflow: out = union of successor ins, in = use + (out - def).
func (f *Function) BuildLiveSets() {
	n := len(f.blocks)
	use := make([]ValueSet, n)
	def := make([]ValueSet, n)
	for i, b := range f.blocks {
		for id := b.first; id != NoInstr; id = f.instrs[id].Next {
			in := f.instrs[id]
			for _, s := range in.Srcs {
				if !def[i].Has(s) {
					use[i].Add(s)
				}
			}
			for _, d := range in.Defs {
				def[i].Add(d)
			}
		}
		b.LiveIn = use[i].Copy()
		b.LiveOut = ValueSet{}
	}

	for changed := true; changed; {
		changed = false
		for i := n - 1; i >= 0; i-- {
			b := f.blocks[i]
			for _, s := range b.Succs {
				if b.LiveOut.UnionWith(f.blocks[s].LiveIn) {
					changed = true
				}
			}
			b.LiveOut.Each(func(v ValueID) {
				if !def[i].Has(v) && !b.LiveIn.Has(v) {
					b.LiveIn.Add(v)
					changed = true
				}
			})
		}
	}
}
