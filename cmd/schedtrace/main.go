package main

import (
	"flag"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/tinyrange/gpusched/internal/debug"
)

type filter struct {
	source *regexp.Regexp
	match  *regexp.Regexp
	block  string
}

func (f *filter) keep(e debug.Entry) bool {
	if f.source != nil && !f.source.MatchString(e.Source) {
		return false
	}
	msg := string(e.Data)
	if f.block != "" && !strings.HasPrefix(msg, f.block+" ") {
		return false
	}
	if f.match != nil && !f.match.MatchString(msg) {
		return false
	}
	return true
}

func run() error {
	list := flag.Bool("list", false, "list all sources in the trace with entry counts")
	source := flag.String("source", "", "regex to filter sources (sched/run, sched/select, sched/retire)")
	match := flag.String("match", "", "regex to filter messages")
	block := flag.String("block", "", "only show entries for func/block")
	limit := flag.Int("limit", 100, "limit the number of entries (0 for unlimited)")
	tail := flag.Bool("tail", false, "show last N entries instead of first N")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, `schedtrace - inspect scheduler traces written by gpusched -trace

USAGE:
  schedtrace [flags] <filename>

EXAMPLES:
  schedtrace trace.bin                          First 100 entries
  schedtrace -list trace.bin                    Sources and counts
  schedtrace -source select -limit 0 trace.bin  Every selection decision
  schedtrace -block shade/entry trace.bin       One block only
  schedtrace -match 'pressure mode' trace.bin   Pressure-mode picks

FLAGS:
`)
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(1)
	}

	f, err := os.Open(flag.Arg(0))
	if err != nil {
		return fmt.Errorf("open trace: %w", err)
	}
	defer f.Close()

	if *list {
		counts := map[string]int{}
		if err := debug.Each(f, func(e debug.Entry) error {
			counts[e.Source]++
			return nil
		}); err != nil {
			return err
		}
		names := make([]string, 0, len(counts))
		for name := range counts {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Printf("%-16s %d\n", name, counts[name])
		}
		return nil
	}

	flt := filter{block: *block}
	if *source != "" {
		if flt.source, err = regexp.Compile(*source); err != nil {
			return fmt.Errorf("invalid source regex: %w", err)
		}
	}
	if *match != "" {
		if flt.match, err = regexp.Compile(*match); err != nil {
			return fmt.Errorf("invalid match regex: %w", err)
		}
	}

	var entries []debug.Entry
	if err := debug.Each(f, func(e debug.Entry) error {
		if flt.keep(e) {
			entries = append(entries, e)
		}
		return nil
	}); err != nil {
		return err
	}

	if *limit > 0 && len(entries) > *limit {
		if *tail {
			entries = entries[len(entries)-*limit:]
		} else {
			entries = entries[:*limit]
		}
	}

	for _, e := range entries {
		fmt.Printf("%s [%s] %s\n", e.Time.Format(time.RFC3339Nano), e.Source, e.Data)
	}
	return nil
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "schedtrace: %v\n", err)
		os.Exit(1)
	}
}
