package ir

import (
	"fmt"
	"sort"
)

// Kind groups opcodes by how the scheduler has to treat them.
type Kind int

const (
	KindArith Kind = iota
	KindLoad
	KindStore
	KindTexture
	KindExport
	KindControl
	KindBarrier
)

func (k Kind) String() string {
	switch k {
	case KindArith:
		return "arith"
	case KindLoad:
		return "load"
	case KindStore:
		return "store"
	case KindTexture:
		return "texture"
	case KindExport:
		return "export"
	case KindControl:
		return "control"
	case KindBarrier:
		return "barrier"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

func ParseKind(name string) (Kind, bool) {
	for k := KindArith; k <= KindBarrier; k++ {
		if k.String() == name {
			return k, true
		}
	}
	return 0, false
}

type Op int

const (
	OpInvalid Op = iota

	OpMov
	OpAdd
	OpSub
	OpMul
	OpMad
	OpMin
	OpMax
	OpAnd
	OpOr
	OpXor
	OpShl
	OpShr
	OpCvt
	OpSet

	OpRcp
	OpRsq
	OpSin
	OpCos
	OpEx2
	OpLg2

	OpLoad
	OpStore
	OpTex
	OpTxb
	OpTxl
	OpExport

	OpBra
	OpJoin
	OpCall
	OpRet
	OpBreak
	OpCont
	OpEmit
	OpRestart
	OpQuadOn
	OpQuadPop
	OpExit

	OpBarrier

	opCount
)

type opInfo struct {
	name string
	kind Kind
}

var opTable = [opCount]opInfo{
	OpInvalid: {"invalid", KindArith},
	OpMov:     {"mov", KindArith},
	OpAdd:     {"add", KindArith},
	OpSub:     {"sub", KindArith},
	OpMul:     {"mul", KindArith},
	OpMad:     {"mad", KindArith},
	OpMin:     {"min", KindArith},
	OpMax:     {"max", KindArith},
	OpAnd:     {"and", KindArith},
	OpOr:      {"or", KindArith},
	OpXor:     {"xor", KindArith},
	OpShl:     {"shl", KindArith},
	OpShr:     {"shr", KindArith},
	OpCvt:     {"cvt", KindArith},
	OpSet:     {"set", KindArith},
	OpRcp:     {"rcp", KindArith},
	OpRsq:     {"rsq", KindArith},
	OpSin:     {"sin", KindArith},
	OpCos:     {"cos", KindArith},
	OpEx2:     {"ex2", KindArith},
	OpLg2:     {"lg2", KindArith},
	OpLoad:    {"ld", KindLoad},
	OpStore:   {"st", KindStore},
	OpTex:     {"tex", KindTexture},
	OpTxb:     {"txb", KindTexture},
	OpTxl:     {"txl", KindTexture},
	OpExport:  {"export", KindExport},
	OpBra:     {"bra", KindControl},
	OpJoin:    {"join", KindControl},
	OpCall:    {"call", KindControl},
	OpRet:     {"ret", KindControl},
	OpBreak:   {"break", KindControl},
	OpCont:    {"cont", KindControl},
	OpEmit:    {"emit", KindControl},
	OpRestart: {"restart", KindControl},
	OpQuadOn:  {"quadon", KindControl},
	OpQuadPop: {"quadpop", KindControl},
	OpExit:    {"exit", KindControl},
	OpBarrier: {"bar", KindBarrier},
}

var opByName = func() map[string]Op {
	m := make(map[string]Op, opCount)
	for op := OpMov; op < opCount; op++ {
		m[opTable[op].name] = op
	}
	return m
}()

func (op Op) valid() bool { return op > OpInvalid && op < opCount }

func (op Op) String() string {
	if op < 0 || op >= opCount {
		return fmt.Sprintf("Op(%d)", int(op))
	}
	return opTable[op].name
}

func (op Op) Kind() Kind {
	if op < 0 || op >= opCount {
		panic(fmt.Sprintf("ir: invalid op %d", int(op)))
	}
	return opTable[op].kind
}

// IsTranscendental reports whether op runs on the special function unit.
func (op Op) IsTranscendental() bool {
	switch op {
	case OpRcp, OpRsq, OpSin, OpCos, OpEx2, OpLg2:
		return true
	}
	return false
}

// ParseOp looks up an opcode by its mnemonic.
func ParseOp(name string) (Op, bool) {
	op, ok := opByName[name]
	return op, ok
}

// OpNames returns every mnemonic in sorted order.
func OpNames() []string {
	names := make([]string, 0, len(opByName))
	for name := range opByName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// File is a register file or an abstract storage space.
type File int

const (
	FileGPR File = iota
	FilePred
	FileAddr
	FileGlobal
	FileShared
	FileLocal
	FileConst
	FileOutput

	fileCount
)

var fileNames = [fileCount]string{
	FileGPR:    "gpr",
	FilePred:   "pred",
	FileAddr:   "addr",
	FileGlobal: "global",
	FileShared: "shared",
	FileLocal:  "local",
	FileConst:  "const",
	FileOutput: "output",
}

func (f File) String() string {
	if f < 0 || f >= fileCount {
		return fmt.Sprintf("File(%d)", int(f))
	}
	return fileNames[f]
}

// IsMemory reports whether f is a storage space rather than a register file.
func (f File) IsMemory() bool {
	return f >= FileGlobal && f < fileCount
}

func ParseFile(name string) (File, bool) {
	for f, n := range fileNames {
		if n == name {
			return File(f), true
		}
	}
	return 0, false
}
