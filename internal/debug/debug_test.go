package debug

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

func TestDebug(t *testing.T) {
	var buf bytes.Buffer
	func() {
		if err := Open(&buf); err != nil {
			t.Fatalf("Open: %v", err)
		}
		defer Close()

		Write("test", "hello, world")
		WithSource("other").Writef("n=%d", 3)
	}()

	entries, err := ReadAll(&buf)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Source != "test" || string(entries[0].Data) != "hello, world" {
		t.Fatalf("unexpected first entry %+v", entries[0])
	}
	if entries[1].Source != "other" || string(entries[1].Data) != "n=3" {
		t.Fatalf("unexpected second entry %+v", entries[1])
	}
	if entries[1].Time.Before(entries[0].Time) {
		t.Fatalf("entries out of order")
	}
}

func TestDebugDisabled(t *testing.T) {
	if Enabled() {
		t.Fatalf("expected no writer")
	}
	Writef("test", "dropped %d", 1)
	if err := Close(); err != nil {
		t.Fatalf("Close without writer: %v", err)
	}
}

func TestDebugTempFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trace.bin")
	func() {
		if err := OpenFile(path); err != nil {
			t.Fatalf("OpenFile: %v", err)
		}
		defer Close()

		Write("a", "one")
		Write("b", "two")
		WriteBytes("a", []byte{1, 2, 3})
	}()

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer f.Close()

	var seen []Entry
	if err := EachSource(f, []string{"a"}, func(e Entry) error {
		seen = append(seen, e)
		return nil
	}); err != nil {
		t.Fatalf("EachSource: %v", err)
	}
	if len(seen) != 2 {
		t.Fatalf("expected 2 entries for source a, got %d", len(seen))
	}
	if seen[1].Kind != DebugKindBytes || len(seen[1].Data) != 3 {
		t.Fatalf("unexpected bytes entry %+v", seen[1])
	}
}

func TestDebugReopenWarns(t *testing.T) {
	var a, b bytes.Buffer
	if err := Open(&a); err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer Close()
	if err := Open(&b); err == nil {
		t.Fatalf("expected warning when replacing writer")
	}
}

func TestDebugTruncated(t *testing.T) {
	var buf bytes.Buffer
	if err := Open(&buf); err != nil {
		t.Fatalf("Open: %v", err)
	}
	Write("test", "payload")
	Close()

	data := buf.Bytes()[:buf.Len()-2]
	if _, err := ReadAll(bytes.NewReader(data)); err == nil {
		t.Fatalf("expected error for truncated entry")
	}
}
