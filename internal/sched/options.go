package sched

const (
	// MaxOptLevel is the only optimization level at which the pass runs.
	MaxOptLevel = 3

	// DefaultBitsetLimit is the run length below which duplicate edges are
	// filtered with a quadratic bitset instead of scanning in-edges.
	DefaultBitsetLimit = 1024
)

// Options holds the settings of a scheduling pass. Build it with Option values.
type Options struct {
	OptLevel int
	// PressureLimit overrides the target's limit when positive.
	PressureLimit int
	// Verify runs ir.Function.Verify before and after the pass.
	Verify      bool
	BitsetLimit int
}

func defaultOptions() Options {
	return Options{
		OptLevel:    MaxOptLevel,
		BitsetLimit: DefaultBitsetLimit,
	}
}

// Option configures a scheduling pass.
type Option interface {
	Apply(o *Options)
}

type optLevelOption struct{ level int }

func (o optLevelOption) Apply(opts *Options) { opts.OptLevel = o.level }

// WithOptLevel sets the optimization level. Levels below MaxOptLevel skip
// the pass.
func WithOptLevel(level int) Option { return optLevelOption{level: level} }

type pressureLimitOption struct{ units int }

func (o pressureLimitOption) Apply(opts *Options) { opts.PressureLimit = o.units }

func WithPressureLimit(units int) Option { return pressureLimitOption{units: units} }

type verifyOption struct{}

func (verifyOption) Apply(opts *Options) { opts.Verify = true }

func WithVerify() Option { return verifyOption{} }

type bitsetLimitOption struct{ n int }

func (o bitsetLimitOption) Apply(opts *Options) { opts.BitsetLimit = o.n }

// WithBitsetLimit changes the run length threshold for the dedup bitset.
// Zero disables the bitset.
func WithBitsetLimit(n int) Option { return bitsetLimitOption{n: n} }

func newOptions(opts []Option) Options {
	o := defaultOptions()
	for _, opt := range opts {
		if opt != nil {
			opt.Apply(&o)
		}
	}
	return o
}
