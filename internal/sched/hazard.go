package sched

import "github.com/tinyrange/gpusched/internal/ir"

// interferes reports whether two memory references may touch the same
// bytes. Indirect references are assumed to alias anything on their base.
func interferes(a, b *ir.MemRef) bool {
	if a.File != b.File || a.Base != b.Base {
		return false
	}
	if a.Indirect || b.Indirect {
		return true
	}
	return a.Offset < b.Offset+b.Size && b.Offset < a.Offset+a.Size
}

// addMemoryEdges orders n against the pending memory operations of its
// storage space, most recent first: loads after aliasing stores (RAW),
// stores after aliasing stores (WAW) and loads (WAR). Exports count as
// stores but never feed a load.
func (st *blockState) addMemoryEdges(n *node) {
	kind := n.in.Op.Kind()
	switch kind {
	case ir.KindLoad, ir.KindStore, ir.KindExport:
	default:
		return
	}
	if n.in.Mem == nil {
		panic("sched: memory instruction without a memory reference")
	}
	c := st.run.chain(n.in.Mem.File)

	if kind == ir.KindLoad {
		for i := len(c.stores) - 1; i >= 0; i-- {
			s := c.stores[i]
			if s.in.Op.Kind() == ir.KindExport {
				continue
			}
			if interferes(s.in.Mem, n.in.Mem) {
				st.addEdge(s, n)
			}
		}
		c.loads = append(c.loads, n)
		return
	}

	for i := len(c.stores) - 1; i >= 0; i-- {
		if s := c.stores[i]; interferes(s.in.Mem, n.in.Mem) {
			st.addEdge(s, n)
		}
	}
	for i := len(c.loads) - 1; i >= 0; i-- {
		if l := c.loads[i]; interferes(l.in.Mem, n.in.Mem) {
			st.addEdge(l, n)
		}
	}
	c.stores = append(c.stores, n)
}
