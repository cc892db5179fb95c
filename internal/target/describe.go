package target

import (
	"errors"
	"fmt"
	"io"
	"os"

	"golang.org/x/mod/semver"
	"gopkg.in/yaml.v3"

	"github.com/tinyrange/gpusched/internal/ir"
)

// FormatVersion is the newest description format this package reads.
// Descriptions with the same major version are accepted.
const FormatVersion = "v1.1.0"

const DefaultPressureLimit = 48

// Timing is the latency/throughput pair for an opcode or opcode class. Zero
// fields inherit from the next level (op, then kind, then defaults).
type Timing struct {
	Latency    int    `yaml:"latency"`
	Throughput int    `yaml:"throughput"`
	Resource   string `yaml:"resource,omitempty"`
}

// Description is a table-driven Target, usually loaded from YAML.
type Description struct {
	Format         string            `yaml:"format"`
	TargetName     string            `yaml:"name"`
	Granularity    int               `yaml:"granularity"`
	Fine           bool              `yaml:"fine_grained"`
	GroupTextures  bool              `yaml:"group_textures"`
	Limit          int               `yaml:"pressure_limit"`
	Defaults       Timing            `yaml:"defaults"`
	Kinds          map[string]Timing `yaml:"kinds,omitempty"`
	Ops            map[string]Timing `yaml:"ops,omitempty"`
	resolved       map[ir.Op]resolvedTiming
}

type resolvedTiming struct {
	latency    int
	throughput int
	resource   Resource
}

var _ Target = (*Description)(nil)

// Compile validates d and resolves its per-op table. It must be called
// before d is used as a Target.
func (d *Description) Compile() error {
	format := d.Format
	if format == "" {
		format = FormatVersion
	}
	if !semver.IsValid(format) {
		return fmt.Errorf("target: invalid format version %q", d.Format)
	}
	if semver.Major(format) != semver.Major(FormatVersion) {
		return fmt.Errorf("target: unsupported format %s (want %s.x)", format, semver.Major(FormatVersion))
	}
	if semver.Compare(format, FormatVersion) > 0 {
		return fmt.Errorf("target: format %s is newer than supported %s", format, FormatVersion)
	}
	if d.TargetName == "" {
		return fmt.Errorf("target: description has no name")
	}
	if d.Granularity <= 0 {
		return fmt.Errorf("target: %s: granularity must be positive, got %d", d.TargetName, d.Granularity)
	}
	if d.Limit < 0 {
		return fmt.Errorf("target: %s: pressure_limit must not be negative", d.TargetName)
	}
	if d.Defaults.Latency <= 0 || d.Defaults.Throughput <= 0 {
		return fmt.Errorf("target: %s: defaults need positive latency and throughput", d.TargetName)
	}

	kinds := make(map[ir.Kind]Timing, len(d.Kinds))
	for name, t := range d.Kinds {
		k, ok := ir.ParseKind(name)
		if !ok {
			return fmt.Errorf("target: %s: unknown kind %q", d.TargetName, name)
		}
		kinds[k] = t
	}
	ops := make(map[ir.Op]Timing, len(d.Ops))
	for name, t := range d.Ops {
		op, ok := ir.ParseOp(name)
		if !ok {
			return fmt.Errorf("target: %s: unknown op %q", d.TargetName, name)
		}
		ops[op] = t
	}

	resolved := make(map[ir.Op]resolvedTiming)
	for _, name := range ir.OpNames() {
		op, _ := ir.ParseOp(name)
		r := resolvedTiming{
			latency:    d.Defaults.Latency,
			throughput: d.Defaults.Throughput,
			resource:   DefaultResource(op),
		}
		for _, t := range []Timing{kinds[op.Kind()], ops[op]} {
			if t.Latency < 0 || t.Throughput < 0 {
				return fmt.Errorf("target: %s: %s: negative timing", d.TargetName, name)
			}
			if t.Latency > 0 {
				r.latency = t.Latency
			}
			if t.Throughput > 0 {
				r.throughput = t.Throughput
			}
			if t.Resource != "" {
				res, ok := ParseResource(t.Resource)
				if !ok {
					return fmt.Errorf("target: %s: %s: unknown resource %q", d.TargetName, name, t.Resource)
				}
				r.resource = res
			}
		}
		resolved[op] = r
	}
	d.resolved = resolved
	return nil
}

func (d *Description) timing(op ir.Op) resolvedTiming {
	if d.resolved == nil {
		panic(fmt.Sprintf("target: description %q used before Compile", d.TargetName))
	}
	r, ok := d.resolved[op]
	if !ok {
		panic(fmt.Sprintf("target: %s has no timing for op %s", d.TargetName, op))
	}
	return r
}

func (d *Description) Name() string               { return d.TargetName }
func (d *Description) Latency(op ir.Op) int       { return d.timing(op).latency }
func (d *Description) Throughput(op ir.Op) int    { return d.timing(op).throughput }
func (d *Description) Resource(op ir.Op) Resource { return d.timing(op).resource }
func (d *Description) RegisterGranularity() int   { return d.Granularity }
func (d *Description) FineGrained() bool          { return d.Fine }
func (d *Description) GroupsTextures() bool       { return d.GroupTextures }

func (d *Description) PressureLimit() int {
	if d.Limit == 0 {
		return DefaultPressureLimit
	}
	return d.Limit
}

// Decode reads and compiles a YAML description.
func Decode(r io.Reader) (*Description, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var d Description
	if err := dec.Decode(&d); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("target: empty description")
		}
		return nil, fmt.Errorf("target: decode description: %w", err)
	}
	if err := d.Compile(); err != nil {
		return nil, err
	}
	return &d, nil
}

func LoadFile(path string) (*Description, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("target: open description: %w", err)
	}
	defer f.Close()

	d, err := Decode(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return d, nil
}

// Encode writes d as YAML, stamping the current format version.
func (d *Description) Encode(w io.Writer) error {
	out := *d
	if out.Format == "" {
		out.Format = FormatVersion
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(&out); err != nil {
		return fmt.Errorf("target: encode description: %w", err)
	}
	return enc.Close()
}
