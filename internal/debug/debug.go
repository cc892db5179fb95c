package debug

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// Trace entries are written as a 16 byte header followed by the source tag
// and the message:
//   - 2 bytes kind (0 = invalid, 1 = bytes, 2 = string)
//   - 2 bytes source length
//   - 4 bytes message length
//   - 8 bytes timestamp (nanoseconds since epoch)

type DebugKind uint16

const (
	DebugKindInvalid DebugKind = iota
	DebugKindBytes
	DebugKindString
)

const headerSize = 16

type sink struct {
	mu     sync.Mutex
	bw     *bufio.Writer
	closer io.Closer
	err    error
}

var (
	sinkMu  sync.RWMutex
	current *sink
)

// OpenFile truncates filename and directs trace output to it.
func OpenFile(filename string) error {
	f, err := os.OpenFile(filename, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	return Open(f)
}

// Open directs trace output to w. If w is an io.Closer it is closed by
// Close. The error is a warning: a previously open writer was discarded.
func Open(w io.Writer) error {
	s := &sink{bw: bufio.NewWriter(w)}
	if c, ok := w.(io.Closer); ok {
		s.closer = c
	}

	sinkMu.Lock()
	old := current
	current = s
	sinkMu.Unlock()

	if old != nil {
		old.close()
		return fmt.Errorf("debug: already open, discarded old writer")
	}
	return nil
}

func (s *sink) close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.bw.Flush(); err != nil && s.err == nil {
		s.err = err
	}
	if s.closer != nil {
		if err := s.closer.Close(); err != nil && s.err == nil {
			s.err = err
		}
	}
	return s.err
}

// Close flushes and detaches the current writer.
func Close() error {
	sinkMu.Lock()
	s := current
	current = nil
	sinkMu.Unlock()

	if s == nil {
		return nil
	}
	return s.close()
}

// Enabled reports whether trace output is being collected. Hot paths check
// it before formatting messages.
func Enabled() bool {
	sinkMu.RLock()
	defer sinkMu.RUnlock()
	return current != nil
}

func encodeHeader(kind DebugKind, source string, data []byte) [headerSize]byte {
	var h [headerSize]byte
	binary.LittleEndian.PutUint16(h[0:2], uint16(kind))
	binary.LittleEndian.PutUint16(h[2:4], uint16(len(source)))
	binary.LittleEndian.PutUint32(h[4:8], uint32(len(data)))
	binary.LittleEndian.PutUint64(h[8:16], uint64(time.Now().UnixNano()))
	return h
}

func decodeHeader(h [headerSize]byte) (kind DebugKind, sourceLength uint16, dataLength uint32, ts int64) {
	kind = DebugKind(binary.LittleEndian.Uint16(h[0:2]))
	sourceLength = binary.LittleEndian.Uint16(h[2:4])
	dataLength = binary.LittleEndian.Uint32(h[4:8])
	ts = int64(binary.LittleEndian.Uint64(h[8:16]))
	return
}

func writeEntry(kind DebugKind, source string, data []byte) {
	sinkMu.RLock()
	s := current
	sinkMu.RUnlock()
	if s == nil {
		return
	}

	h := encodeHeader(kind, source, data)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return
	}
	if _, err := s.bw.Write(h[:]); err != nil {
		s.err = err
		return
	}
	if _, err := s.bw.WriteString(source); err != nil {
		s.err = err
		return
	}
	if _, err := s.bw.Write(data); err != nil {
		s.err = err
	}
}

func WriteBytes(source string, data []byte) {
	writeEntry(DebugKindBytes, source, data)
}

func Write(source string, data string) {
	writeEntry(DebugKindString, source, []byte(data))
}

func Writef(source string, format string, args ...any) {
	if !Enabled() {
		return
	}
	writeEntry(DebugKindString, source, fmt.Appendf(nil, format, args...))
}

type Debug interface {
	Write(data string)
	Writef(format string, args ...any)
}

type sourceWriter struct {
	source string
}

func (d sourceWriter) Write(data string) { Write(d.source, data) }

func (d sourceWriter) Writef(format string, args ...any) { Writef(d.source, format, args...) }

// WithSource returns a writer that tags every entry with source.
func WithSource(source string) Debug {
	return sourceWriter{source: source}
}

type Entry struct {
	Time   time.Time
	Kind   DebugKind
	Source string
	Data   []byte
}

// ReadAll decodes every entry in r in the order it was written.
func ReadAll(r io.Reader) ([]Entry, error) {
	var out []Entry
	err := Each(r, func(e Entry) error {
		out = append(out, e)
		return nil
	})
	return out, err
}

// Each streams the entries of r to fn.
func Each(r io.Reader, fn func(Entry) error) error {
	br := bufio.NewReader(r)
	var h [headerSize]byte
	for {
		if _, err := io.ReadFull(br, h[:]); err != nil {
			if err == io.EOF {
				return nil
			}
			return fmt.Errorf("debug: read header: %w", err)
		}
		kind, sourceLength, dataLength, ts := decodeHeader(h)
		if kind == DebugKindInvalid {
			return fmt.Errorf("debug: invalid header")
		}
		body := make([]byte, int(sourceLength)+int(dataLength))
		if _, err := io.ReadFull(br, body); err != nil {
			return fmt.Errorf("debug: read entry: %w", err)
		}
		if err := fn(Entry{
			Time:   time.Unix(0, ts),
			Kind:   kind,
			Source: string(body[:sourceLength]),
			Data:   body[sourceLength:],
		}); err != nil {
			return err
		}
	}
}

// EachSource is Each restricted to the given source tags.
func EachSource(r io.Reader, sources []string, fn func(Entry) error) error {
	want := make(map[string]struct{}, len(sources))
	for _, s := range sources {
		want[s] = struct{}{}
	}
	return Each(r, func(e Entry) error {
		if _, ok := want[e.Source]; !ok {
			return nil
		}
		return fn(e)
	})
}
