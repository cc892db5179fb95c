package target

import "fmt"

// G80 issues one instruction at a time; the scheduler advances its clock by
// each instruction's throughput.
func G80() *Description {
	return &Description{
		Format:      FormatVersion,
		TargetName:  "g80",
		Granularity: 32,
		Limit:       DefaultPressureLimit,
		Defaults:    Timing{Latency: 8, Throughput: 1},
		Kinds: map[string]Timing{
			"load":    {Latency: 200, Throughput: 2},
			"store":   {Latency: 8, Throughput: 2},
			"texture": {Latency: 400, Throughput: 4},
			"export":  {Latency: 1, Throughput: 2},
			"control": {Latency: 1, Throughput: 2},
			"barrier": {Latency: 1, Throughput: 4},
		},
		Ops: map[string]Timing{
			"mul": {Latency: 10, Throughput: 2},
			"mad": {Latency: 10, Throughput: 2},
			"rcp": {Latency: 20, Throughput: 4},
			"rsq": {Latency: 20, Throughput: 4},
			"sin": {Latency: 20, Throughput: 4},
			"cos": {Latency: 20, Throughput: 4},
			"ex2": {Latency: 20, Throughput: 4},
			"lg2": {Latency: 20, Throughput: 4},
		},
	}
}

// GF100 models dual issue at cycle granularity and prefers grouped texture
// fetches.
func GF100() *Description {
	return &Description{
		Format:        FormatVersion,
		TargetName:    "gf100",
		Granularity:   32,
		Fine:          true,
		GroupTextures: true,
		Limit:         DefaultPressureLimit,
		Defaults:      Timing{Latency: 9, Throughput: 1},
		Kinds: map[string]Timing{
			"load":    {Latency: 400, Throughput: 1},
			"store":   {Latency: 9, Throughput: 1},
			"texture": {Latency: 500, Throughput: 2},
			"export":  {Latency: 1, Throughput: 1},
			"control": {Latency: 1, Throughput: 1},
			"barrier": {Latency: 1, Throughput: 1},
		},
		Ops: map[string]Timing{
			"mul": {Latency: 11, Throughput: 2},
			"mad": {Latency: 11, Throughput: 2},
			"rcp": {Latency: 22, Throughput: 8},
			"rsq": {Latency: 22, Throughput: 8},
			"sin": {Latency: 22, Throughput: 8},
			"cos": {Latency: 22, Throughput: 8},
			"ex2": {Latency: 22, Throughput: 8},
			"lg2": {Latency: 22, Throughput: 8},
		},
	}
}

func mustCompile(d *Description) *Description {
	if err := d.Compile(); err != nil {
		panic(fmt.Sprintf("target: builtin %s: %v", d.TargetName, err))
	}
	return d
}

func init() {
	Register(mustCompile(G80()))
	Register(mustCompile(GF100()))
}
