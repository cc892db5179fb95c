// Package irfile reads and writes functions as YAML program files.
//
//	function: shade
//	values:
//	  - {name: a, file: gpr, size: 4}
//	  - {name: r0, file: gpr, size: 4, phys: 0}
//	blocks:
//	  - name: entry
//	    succs: [exit]
//	    instrs:
//	      - {op: ld, defs: [a], mem: {file: global, base: A, offset: 0, size: 4}}
//	      - {op: mov, defs: [r0], srcs: [a], fixed: true}
//
// Values are referenced by name and must be declared before use. A value
// without a phys field is not pinned to a register.
package irfile

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/tinyrange/gpusched/internal/ir"
)

var (
	ErrUnknownOp    = errors.New("unknown op")
	ErrUnknownValue = errors.New("unknown value")
)

type Program struct {
	Function string  `yaml:"function"`
	Values   []Value `yaml:"values,omitempty"`
	Blocks   []Block `yaml:"blocks"`
}

type Value struct {
	Name string `yaml:"name"`
	File string `yaml:"file,omitempty"`
	Size int    `yaml:"size,omitempty"`
	Phys *int   `yaml:"phys,omitempty"`
}

type Block struct {
	Name   string   `yaml:"name"`
	Succs  []string `yaml:"succs,omitempty,flow"`
	Instrs []Instr  `yaml:"instrs"`
}

type Instr struct {
	Op    string   `yaml:"op"`
	Defs  []string `yaml:"defs,omitempty,flow"`
	Srcs  []string `yaml:"srcs,omitempty,flow"`
	Mem   *Mem     `yaml:"mem,omitempty"`
	Fixed bool     `yaml:"fixed,omitempty"`
}

type Mem struct {
	File     string `yaml:"file"`
	Base     string `yaml:"base"`
	Offset   int    `yaml:"offset,omitempty"`
	Size     int    `yaml:"size,omitempty"`
	Indirect bool   `yaml:"indirect,omitempty"`
}

// Build converts p into a function. Values default to 4-byte GPRs.
func (p *Program) Build() (*ir.Function, error) {
	if p.Function == "" {
		return nil, fmt.Errorf("irfile: program has no function name")
	}
	if len(p.Blocks) == 0 {
		return nil, fmt.Errorf("irfile: %s: program has no blocks", p.Function)
	}
	fn := ir.NewFunction(p.Function)

	values := make(map[string]*ir.Value, len(p.Values))
	for _, v := range p.Values {
		if v.Name == "" {
			return nil, fmt.Errorf("irfile: %s: value without a name", p.Function)
		}
		if _, dup := values[v.Name]; dup {
			return nil, fmt.Errorf("irfile: %s: value %q declared twice", p.Function, v.Name)
		}
		file := ir.FileGPR
		if v.File != "" {
			f, ok := ir.ParseFile(v.File)
			if !ok || f.IsMemory() {
				return nil, fmt.Errorf("irfile: %s: value %q: bad register file %q", p.Function, v.Name, v.File)
			}
			file = f
		}
		size := v.Size
		if size == 0 {
			size = 4
		}
		if size < 0 {
			return nil, fmt.Errorf("irfile: %s: value %q: negative size", p.Function, v.Name)
		}
		val := fn.NewValue(v.Name, file, size)
		if v.Phys != nil {
			if *v.Phys < 0 {
				return nil, fmt.Errorf("irfile: %s: value %q: negative register", p.Function, v.Name)
			}
			val.PhysReg = *v.Phys
		}
		values[v.Name] = val
	}

	blocks := make(map[string]*ir.Block, len(p.Blocks))
	for _, b := range p.Blocks {
		if _, dup := blocks[b.Name]; dup || b.Name == "" {
			return nil, fmt.Errorf("irfile: %s: bad or duplicate block name %q", p.Function, b.Name)
		}
		blocks[b.Name] = fn.NewBlock(b.Name)
	}
	for _, b := range p.Blocks {
		for _, s := range b.Succs {
			to, ok := blocks[s]
			if !ok {
				return nil, fmt.Errorf("irfile: %s: block %s: unknown successor %q", p.Function, b.Name, s)
			}
			fn.AddEdge(blocks[b.Name], to)
		}
	}

	lookup := func(names []string) ([]ir.ValueID, error) {
		ids := make([]ir.ValueID, 0, len(names))
		for _, n := range names {
			v, ok := values[n]
			if !ok {
				return nil, fmt.Errorf("%q: %w", n, ErrUnknownValue)
			}
			ids = append(ids, v.ID)
		}
		return ids, nil
	}

	for _, b := range p.Blocks {
		blk := blocks[b.Name]
		for i, in := range b.Instrs {
			where := fmt.Sprintf("irfile: %s: block %s: instr %d", p.Function, b.Name, i)
			op, ok := ir.ParseOp(in.Op)
			if !ok {
				return nil, fmt.Errorf("%s: %q: %w", where, in.Op, ErrUnknownOp)
			}
			defs, err := lookup(in.Defs)
			if err != nil {
				return nil, fmt.Errorf("%s: def %w", where, err)
			}
			srcs, err := lookup(in.Srcs)
			if err != nil {
				return nil, fmt.Errorf("%s: src %w", where, err)
			}
			seen := make(map[ir.ValueID]bool, len(defs))
			for _, d := range defs {
				if v := fn.Value(d); v.Def != ir.NoInstr || seen[d] {
					return nil, fmt.Errorf("%s: value %s defined twice", where, v)
				}
				seen[d] = true
			}

			var mem *ir.MemRef
			switch op.Kind() {
			case ir.KindLoad, ir.KindStore, ir.KindExport:
				if in.Mem == nil {
					return nil, fmt.Errorf("%s: %s needs a mem reference", where, op)
				}
				m, err := in.Mem.build()
				if err != nil {
					return nil, fmt.Errorf("%s: %w", where, err)
				}
				mem = &m
			default:
				if in.Mem != nil {
					return nil, fmt.Errorf("%s: %s does not access memory", where, op)
				}
			}

			inst := fn.Emit(blk, op, defs, srcs)
			inst.Mem = mem
			inst.Fixed = in.Fixed
		}
	}
	return fn, nil
}

func (m *Mem) build() (ir.MemRef, error) {
	f, ok := ir.ParseFile(m.File)
	if !ok || !f.IsMemory() {
		return ir.MemRef{}, fmt.Errorf("bad memory file %q", m.File)
	}
	if m.Base == "" {
		return ir.MemRef{}, fmt.Errorf("memory reference without a base")
	}
	if m.Indirect {
		return ir.IndirectMem(f, m.Base), nil
	}
	size := m.Size
	if size == 0 {
		size = 4
	}
	if size < 0 || m.Offset < 0 {
		return ir.MemRef{}, fmt.Errorf("negative offset or size in %s[%s]", m.File, m.Base)
	}
	return ir.Mem(f, m.Base, m.Offset, size), nil
}

// FromFunction captures fn in its current block order. Unnamed or
// clashing value names are made unique.
func FromFunction(fn *ir.Function) *Program {
	p := &Program{Function: fn.Name}

	names := make([]string, fn.NumValues())
	taken := make(map[string]bool, fn.NumValues())
	for i := range names {
		v := fn.Value(ir.ValueID(i))
		name := v.Name
		if name == "" || taken[name] {
			name = fmt.Sprintf("%s.%d", v.Name, v.ID)
			if v.Name == "" {
				name = fmt.Sprintf("v%d", v.ID)
			}
			for taken[name] {
				name += "_"
			}
		}
		taken[name] = true
		names[i] = name

		out := Value{Name: name, File: v.File.String(), Size: v.Size}
		if v.PhysReg != ir.NoReg {
			phys := v.PhysReg
			out.Phys = &phys
		}
		p.Values = append(p.Values, out)
	}
	toNames := func(ids []ir.ValueID) []string {
		if len(ids) == 0 {
			return nil
		}
		out := make([]string, len(ids))
		for i, id := range ids {
			out[i] = names[id]
		}
		return out
	}

	for _, blk := range fn.Blocks() {
		b := Block{Name: blk.Name, Instrs: []Instr{}}
		for _, s := range blk.Succs {
			b.Succs = append(b.Succs, fn.Block(s).Name)
		}
		for _, id := range blk.Instrs() {
			in := fn.Instr(id)
			out := Instr{
				Op:    in.Op.String(),
				Defs:  toNames(in.Defs),
				Srcs:  toNames(in.Srcs),
				Fixed: in.Fixed,
			}
			if in.Mem != nil {
				out.Mem = &Mem{
					File:     in.Mem.File.String(),
					Base:     in.Mem.Base,
					Offset:   in.Mem.Offset,
					Size:     in.Mem.Size,
					Indirect: in.Mem.Indirect,
				}
			}
			b.Instrs = append(b.Instrs, out)
		}
		p.Blocks = append(p.Blocks, b)
	}
	return p
}

// Decode reads one program from r and builds it.
func Decode(r io.Reader) (*ir.Function, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var p Program
	if err := dec.Decode(&p); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("irfile: empty program")
		}
		return nil, fmt.Errorf("irfile: decode: %w", err)
	}
	return p.Build()
}

func Load(path string) (*ir.Function, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("irfile: open %s: %w", path, err)
	}
	defer f.Close()

	fn, err := Decode(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return fn, nil
}

func Encode(w io.Writer, fn *ir.Function) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(FromFunction(fn)); err != nil {
		return fmt.Errorf("irfile: encode %s: %w", fn.Name, err)
	}
	return enc.Close()
}

// Save writes fn to path, replacing any existing file.
func Save(path string, fn *ir.Function) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("irfile: create %s: %w", path, err)
	}
	if err := Encode(f, fn); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
