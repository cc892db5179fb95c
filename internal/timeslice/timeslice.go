// Package timeslice records how long each phase of a compiler pass takes.
// Phases are registered once as kinds; records are appended to a binary
// log that ReadAllRecords and Summarize decode.
package timeslice

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"
)

const (
	Magic   uint32 = 0x53434844 // "SCHD"
	Version uint32 = 1
)

type header struct {
	Magic      uint32
	Version    uint32
	KindsBytes uint32
}

type KindID uint32

const InvalidKind = KindID(0)

var (
	kindsMu sync.Mutex
	kinds   = map[KindID]string{}
)

// RegisterKind allocates an ID for a named phase. Call it from package
// level var blocks.
func RegisterKind(name string) KindID {
	kindsMu.Lock()
	defer kindsMu.Unlock()

	for id, n := range kinds {
		if n == name {
			panic(fmt.Sprintf("timeslice: kind %q already registered as %d", name, id))
		}
	}
	id := KindID(len(kinds) + 1)
	kinds[id] = name
	return id
}

type record struct {
	Kind     uint32
	_        uint32
	Duration int64
}

var recordSize = binary.Size(record{})

// Log is an open recording. Only one log may be active at a time.
type Log struct {
	mu  sync.Mutex
	bw  *bufio.Writer
	buf []byte
	err error
}

var (
	activeMu sync.Mutex
	active   *Log
)

// StartRecording writes the header and makes the returned log the target of
// Record until it is closed.
func StartRecording(w io.Writer) (*Log, error) {
	activeMu.Lock()
	defer activeMu.Unlock()

	if active != nil {
		return nil, fmt.Errorf("timeslice: already recording")
	}

	kindsMu.Lock()
	table, err := json.Marshal(kinds)
	kindsMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("timeslice: marshal kinds: %w", err)
	}

	bw := bufio.NewWriter(w)
	if err := binary.Write(bw, binary.LittleEndian, header{
		Magic:      Magic,
		Version:    Version,
		KindsBytes: uint32(len(table)),
	}); err != nil {
		return nil, fmt.Errorf("timeslice: write header: %w", err)
	}
	if _, err := bw.Write(table); err != nil {
		return nil, fmt.Errorf("timeslice: write kinds: %w", err)
	}

	active = &Log{bw: bw, buf: make([]byte, recordSize)}
	return active, nil
}

func (l *Log) write(id KindID, d time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.err != nil {
		return
	}
	binary.LittleEndian.PutUint32(l.buf[0:4], uint32(id))
	binary.LittleEndian.PutUint32(l.buf[4:8], 0)
	binary.LittleEndian.PutUint64(l.buf[8:16], uint64(d.Nanoseconds()))
	_, l.err = l.bw.Write(l.buf)
}

// Close flushes buffered records and detaches the log.
func (l *Log) Close() error {
	activeMu.Lock()
	if active != l {
		activeMu.Unlock()
		return fmt.Errorf("timeslice: already closed")
	}
	active = nil
	activeMu.Unlock()

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return fmt.Errorf("timeslice: write record: %w", l.err)
	}
	if err := l.bw.Flush(); err != nil {
		return fmt.Errorf("timeslice: flush: %w", err)
	}
	return nil
}

// Recording reports whether a log is active. Callers use it to skip
// time.Now calls entirely when nothing is listening.
func Recording() bool {
	activeMu.Lock()
	defer activeMu.Unlock()
	return active != nil
}

// Record appends one duration for id to the active log, if any.
func Record(id KindID, d time.Duration) {
	activeMu.Lock()
	l := active
	activeMu.Unlock()
	if l != nil {
		l.write(id, d)
	}
}

// Recorder measures consecutive phases. It is not safe for concurrent use.
type Recorder struct {
	last time.Time
	on   bool
}

func NewRecorder() *Recorder {
	return &Recorder{last: time.Now(), on: Recording()}
}

// Record attributes the time since the previous call to id.
func (r *Recorder) Record(id KindID) {
	if !r.on {
		return
	}
	now := time.Now()
	Record(id, now.Sub(r.last))
	r.last = now
}

// Reset restarts the measurement without recording anything.
func (r *Recorder) Reset() {
	if r.on {
		r.last = time.Now()
	}
}

func ReadAllRecords(r io.Reader, fn func(kind string, d time.Duration) error) error {
	br := bufio.NewReader(r)

	var h header
	if err := binary.Read(br, binary.LittleEndian, &h); err != nil {
		return fmt.Errorf("timeslice: read header: %w", err)
	}
	if h.Magic != Magic {
		return fmt.Errorf("timeslice: invalid magic %#x", h.Magic)
	}
	if h.Version != Version {
		return fmt.Errorf("timeslice: unsupported version %d", h.Version)
	}

	var table map[KindID]string
	if err := json.NewDecoder(io.LimitReader(br, int64(h.KindsBytes))).Decode(&table); err != nil {
		return fmt.Errorf("timeslice: decode kinds: %w", err)
	}

	buf := make([]byte, recordSize)
	for {
		if _, err := io.ReadFull(br, buf); err != nil {
			if err == io.EOF {
				return nil
			}
			return fmt.Errorf("timeslice: read record: %w", err)
		}
		id := KindID(binary.LittleEndian.Uint32(buf[0:4]))
		name, ok := table[id]
		if !ok {
			return fmt.Errorf("timeslice: unknown kind %d", id)
		}
		if err := fn(name, time.Duration(binary.LittleEndian.Uint64(buf[8:16]))); err != nil {
			return err
		}
	}
}

type Summary struct {
	Kind  string
	Count int
	Total time.Duration
}

// Summarize aggregates a log by kind, sorted by descending total time.
func Summarize(r io.Reader) ([]Summary, error) {
	byKind := map[string]*Summary{}
	if err := ReadAllRecords(r, func(kind string, d time.Duration) error {
		s, ok := byKind[kind]
		if !ok {
			s = &Summary{Kind: kind}
			byKind[kind] = s
		}
		s.Count++
		s.Total += d
		return nil
	}); err != nil {
		return nil, err
	}

	out := make([]Summary, 0, len(byKind))
	for _, s := range byKind {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Total != out[j].Total {
			return out[i].Total > out[j].Total
		}
		return out[i].Kind < out[j].Kind
	})
	return out, nil
}
