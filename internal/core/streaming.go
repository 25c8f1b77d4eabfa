package core

// streaming.go provides the byte-level readers placed in front of the CSV
// tokenizer. None of them buffer more than a few bytes:
//
//   - countingReader: bytes consumed from the raw file, for progress
//   - BOMSkippingReader: drops a leading UTF-8 BOM written by Excel
//   - StreamingUTF8Sanitizer: replaces invalid UTF-8 bytes with '?'
//   - charmap decoders for files exported as windows-1252 or iso-8859-1
//
// Use newInputReader to assemble them in the correct order.

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"sync/atomic"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
)

// Supported input encodings.
const (
	EncodingUTF8        = "utf-8"
	EncodingWindows1252 = "windows-1252"
	EncodingISO88591    = "iso-8859-1"
)

// NormalizeEncoding maps accepted spellings to a canonical name.
func NormalizeEncoding(name string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "utf-8", "utf8":
		return EncodingUTF8, nil
	case "windows-1252", "cp1252":
		return EncodingWindows1252, nil
	case "iso-8859-1", "latin1", "latin-1":
		return EncodingISO88591, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedEncoding, name)
	}
}

// StreamingUTF8Sanitizer wraps an io.Reader and replaces invalid UTF-8 bytes
// with '?' on the fly. Multi-byte sequences split across reads are carried
// over to the next call.
type StreamingUTF8Sanitizer struct {
	reader io.Reader

	// Leftover bytes from previous read that may form a multi-byte sequence
	pending []byte
}

// NewStreamingUTF8Sanitizer creates a new streaming UTF-8 sanitizer.
func NewStreamingUTF8Sanitizer(r io.Reader) *StreamingUTF8Sanitizer {
	return &StreamingUTF8Sanitizer{
		reader:  r,
		pending: make([]byte, 0, utf8.UTFMax),
	}
}

// Read implements io.Reader.
func (s *StreamingUTF8Sanitizer) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}

	offset := 0
	if len(s.pending) > 0 {
		offset = copy(p, s.pending)
		s.pending = s.pending[:0]
	}

	n, err := s.reader.Read(p[offset:])
	n += offset
	if n == 0 {
		return 0, err
	}

	if isAllASCII(p[:n]) {
		return n, err
	}
	return s.sanitize(p[:n], err == io.EOF), err
}

// isAllASCII returns true if all bytes are ASCII (< 128).
func isAllASCII(data []byte) bool {
	for _, b := range data {
		if b >= utf8.RuneSelf {
			return false
		}
	}
	return true
}

// sanitize rewrites data in place and returns the number of bytes ready to
// hand out. Unless atEOF, an incomplete trailing sequence is kept pending.
func (s *StreamingUTF8Sanitizer) sanitize(data []byte, atEOF bool) int {
	write := 0
	for read := 0; read < len(data); {
		if !atEOF && !utf8.FullRune(data[read:]) {
			s.pending = append(s.pending, data[read:]...)
			return write
		}

		r, size := utf8.DecodeRune(data[read:])
		if r == utf8.RuneError && size == 1 {
			data[write] = '?'
			write++
			read++
			continue
		}
		copy(data[write:], data[read:read+size])
		write += size
		read += size
	}
	return write
}

// BOMSkippingReader drops a leading UTF-8 BOM (0xEF 0xBB 0xBF).
type BOMSkippingReader struct {
	br      *bufio.Reader
	checked bool
}

// NewBOMSkippingReader creates a new BOM-skipping reader.
func NewBOMSkippingReader(r io.Reader) *BOMSkippingReader {
	return &BOMSkippingReader{br: bufio.NewReader(r)}
}

// Read implements io.Reader. The BOM check happens on the first call.
func (r *BOMSkippingReader) Read(p []byte) (int, error) {
	if !r.checked {
		r.checked = true
		if head, err := r.br.Peek(3); err == nil && head[0] == 0xEF && head[1] == 0xBB && head[2] == 0xBF {
			_, _ = r.br.Discard(3)
		}
	}
	return r.br.Read(p)
}

// countingReader tracks bytes read from the raw file. The counter is read
// by progress snapshots on other goroutines.
type countingReader struct {
	reader io.Reader
	read   atomic.Int64
	total  int64
}

func newCountingReader(r io.Reader, total int64) *countingReader {
	return &countingReader{reader: r, total: total}
}

// Read implements io.Reader.
func (r *countingReader) Read(p []byte) (int, error) {
	n, err := r.reader.Read(p)
	r.read.Add(int64(n))
	return n, err
}

// BytesRead returns the number of raw bytes consumed so far.
func (r *countingReader) BytesRead() int64 { return r.read.Load() }

// Percent returns progress in 0-99. 100 is reserved for the moment the
// parse has actually finished, because the tokenizer reads ahead of the rows
// it has handed out.
func (r *countingReader) Percent() int {
	if r.total <= 0 {
		return 0
	}
	pct := int(r.read.Load() * 100 / r.total)
	if pct > 99 {
		pct = 99
	}
	return pct
}

// newInputReader assembles the reader chain for one file:
// raw -> counting -> decoding (BOM skip + sanitizer, or charmap).
func newInputReader(raw io.Reader, size int64, encoding string) (io.Reader, *countingReader, error) {
	enc, err := NormalizeEncoding(encoding)
	if err != nil {
		return nil, nil, err
	}

	counter := newCountingReader(raw, size)

	var r io.Reader
	switch enc {
	case EncodingWindows1252:
		r = charmap.Windows1252.NewDecoder().Reader(counter)
	case EncodingISO88591:
		r = charmap.ISO8859_1.NewDecoder().Reader(counter)
	default:
		r = NewStreamingUTF8Sanitizer(NewBOMSkippingReader(counter))
	}
	return r, counter, nil
}
