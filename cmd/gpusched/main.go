package main

import (
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/x/ansi"
	"github.com/schollz/progressbar/v3"
	"golang.org/x/term"

	"github.com/tinyrange/gpusched/internal/debug"
	"github.com/tinyrange/gpusched/internal/ir"
	"github.com/tinyrange/gpusched/internal/irfile"
	"github.com/tinyrange/gpusched/internal/sched"
	"github.com/tinyrange/gpusched/internal/target"
	"github.com/tinyrange/gpusched/internal/timeslice"
)

type config struct {
	targetName    string
	targetFile    string
	optLevel      int
	pressureLimit int
	verify        bool
	trace         string
	timeslice     string
	report        string
	progress      bool
	verbose       bool
	list          bool
	output        string
}

func (c *config) options() []sched.Option {
	opts := []sched.Option{sched.WithOptLevel(c.optLevel)}
	if c.pressureLimit > 0 {
		opts = append(opts, sched.WithPressureLimit(c.pressureLimit))
	}
	if c.verify {
		opts = append(opts, sched.WithVerify())
	}
	return opts
}

func (c *config) loadTarget() (target.Target, error) {
	if c.targetFile != "" {
		d, err := target.LoadFile(c.targetFile)
		if err != nil {
			return nil, err
		}
		return d, nil
	}
	return target.Lookup(c.targetName)
}

// terminalWidth returns the width of stdout, or 0 when it is not a terminal.
func terminalWidth() int {
	fd := int(os.Stdout.Fd())
	if !term.IsTerminal(fd) {
		return 0
	}
	w, _, err := term.GetSize(fd)
	if err != nil {
		return 0
	}
	return w
}

func fit(line string, width int) string {
	if width <= 0 || ansi.StringWidth(line) <= width {
		return line
	}
	return ansi.Truncate(line, width, "…")
}

func pad(s string, width int) string {
	if n := ansi.StringWidth(s); n < width {
		return s + strings.Repeat(" ", width-n)
	}
	return s
}

func printStats(w io.Writer, stats sched.Stats, width int) {
	if stats.Skipped {
		fmt.Fprintf(w, "%s: skipped (opt level below %d)\n", stats.Function, sched.MaxOptLevel)
		return
	}
	fmt.Fprintf(w, "%s: %d blocks, %d instrs, %d moved, %d cycles on %s\n",
		stats.Function, len(stats.Blocks), stats.Instrs(), stats.Moved(), stats.Cycles(), stats.Target)

	nameWidth := 0
	for _, b := range stats.Blocks {
		nameWidth = max(nameWidth, ansi.StringWidth(b.Block))
	}
	for _, b := range stats.Blocks {
		line := fmt.Sprintf("  %s  instrs=%-4d runs=%-3d edges=%-5d cycles=%-6d moved=%-4d pressure=%d/%d pressure-picks=%d",
			pad(b.Block, nameWidth), b.Instrs, b.Runs, b.Edges, b.Cycles, b.Moved,
			b.LiveInUnits, b.PeakPressure, b.PressureSelections)
		fmt.Fprintln(w, fit(line, width))
	}
}

func printReport(w io.Writer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open timeslice log: %w", err)
	}
	defer f.Close()

	summaries, err := timeslice.Summarize(f)
	if err != nil {
		return err
	}
	for _, s := range summaries {
		avg := s.Total
		if s.Count > 0 {
			avg /= time.Duration(s.Count)
		}
		fmt.Fprintf(w, "% 20s count=% 8d total=% 14s avg=% 12s\n", s.Kind, s.Count, s.Total, avg)
	}
	return nil
}

func scheduleFile(c *config, t target.Target, path string, out io.Writer, width int) error {
	fn, err := irfile.Load(path)
	if err != nil {
		return err
	}

	stats, err := sched.Run(fn, t, c.options()...)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	slog.Debug("scheduled file", "path", path, "func", fn.Name, "moved", stats.Moved())

	printStats(out, stats, width)
	if c.list {
		listing(out, fn, width)
	}
	if c.output != "" {
		if err := irfile.Save(c.output, fn); err != nil {
			return err
		}
	}
	return nil
}

func listing(w io.Writer, fn *ir.Function, width int) {
	for _, line := range strings.Split(strings.TrimRight(fn.String(), "\n"), "\n") {
		fmt.Fprintln(w, fit(line, width))
	}
}

func run() error {
	var c config

	flag.StringVar(&c.targetName, "target", "gf100", "built-in target ("+strings.Join(target.Names(), ", ")+")")
	flag.StringVar(&c.targetFile, "target-file", "", "YAML target description (overrides -target)")
	flag.IntVar(&c.optLevel, "O", sched.MaxOptLevel, "optimization level; scheduling only runs at the maximum")
	flag.IntVar(&c.pressureLimit, "pressure-limit", 0, "override the target register pressure limit (allocation units)")
	flag.BoolVar(&c.verify, "verify", false, "verify each function before and after scheduling")
	flag.StringVar(&c.trace, "trace", "", "write scheduler decisions to a binary debug log")
	flag.StringVar(&c.timeslice, "timeslice", "", "record per-phase timings to file")
	flag.StringVar(&c.report, "report", "", "summarize a timeslice log and exit")
	flag.BoolVar(&c.progress, "progress", false, "show a progress bar while scheduling")
	flag.BoolVar(&c.verbose, "v", false, "enable debug logging")
	flag.BoolVar(&c.list, "list", false, "print each scheduled function")
	flag.StringVar(&c.output, "o", "", "write the scheduled program as YAML (single input only)")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: %s [flags] program.yaml...\n\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	level := slog.LevelInfo
	if c.verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	if c.report != "" {
		return printReport(os.Stdout, c.report)
	}

	files := flag.Args()
	if len(files) == 0 {
		flag.Usage()
		os.Exit(2)
	}
	if c.output != "" && len(files) != 1 {
		return fmt.Errorf("-o needs exactly one input, got %d", len(files))
	}

	t, err := c.loadTarget()
	if err != nil {
		return err
	}
	slog.Debug("using target", "name", t.Name(), "fine_grained", t.FineGrained(), "pressure_limit", t.PressureLimit())

	if c.trace != "" {
		if err := debug.OpenFile(c.trace); err != nil {
			return fmt.Errorf("open trace: %w", err)
		}
		defer debug.Close()
	}

	if c.timeslice != "" {
		f, err := os.Create(c.timeslice)
		if err != nil {
			return fmt.Errorf("create timeslice file: %w", err)
		}
		defer f.Close()

		log, err := timeslice.StartRecording(f)
		if err != nil {
			return fmt.Errorf("start timeslice recording: %w", err)
		}
		defer log.Close()
	}

	var bar *progressbar.ProgressBar
	if c.progress && term.IsTerminal(int(os.Stderr.Fd())) {
		bar = progressbar.Default(int64(len(files)), "scheduling")
		defer bar.Close()
	}

	width := terminalWidth()
	for _, path := range files {
		if err := scheduleFile(&c, t, path, os.Stdout, width); err != nil {
			return err
		}
		if bar != nil {
			bar.Add(1)
		}
	}
	return nil
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "gpusched: %v\n", err)
		os.Exit(1)
	}
}
