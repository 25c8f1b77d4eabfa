package core

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"
	"testing/iotest"
)

func TestBOMSkippingReader(t *testing.T) {
	tests := []struct {
		name     string
		input    []byte
		expected string
	}{
		{
			name:     "file with BOM",
			input:    append([]byte{0xEF, 0xBB, 0xBF}, []byte("hello,world")...),
			expected: "hello,world",
		},
		{
			name:     "file without BOM",
			input:    []byte("hello,world"),
			expected: "hello,world",
		},
		{
			name:     "empty file",
			input:    []byte{},
			expected: "",
		},
		{
			name:     "only BOM",
			input:    []byte{0xEF, 0xBB, 0xBF},
			expected: "",
		},
		{
			name:     "partial BOM at start",
			input:    []byte{0xEF, 0xBB, 'a', 'b', 'c'},
			expected: string([]byte{0xEF, 0xBB, 'a', 'b', 'c'}),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reader := NewBOMSkippingReader(bytes.NewReader(tt.input))
			result, err := io.ReadAll(reader)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if string(result) != tt.expected {
				t.Errorf("got %q, want %q", string(result), tt.expected)
			}
		})
	}
}

func TestStreamingUTF8Sanitizer(t *testing.T) {
	tests := []struct {
		name     string
		input    []byte
		expected string
	}{
		{
			name:     "valid ASCII",
			input:    []byte("hello,world"),
			expected: "hello,world",
		},
		{
			name:     "valid UTF-8 with multibyte",
			input:    []byte("factura,señal"),
			expected: "factura,señal",
		},
		{
			name:     "invalid single byte replaced",
			input:    []byte{'h', 'e', 0x80, 'l', 'o'},
			expected: "he?lo", // Invalid byte replaced with ?
		},
		{
			name:     "empty input",
			input:    []byte{},
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reader := NewStreamingUTF8Sanitizer(bytes.NewReader(tt.input))
			result, err := io.ReadAll(reader)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if string(result) != tt.expected {
				t.Errorf("got %q, want %q", string(result), tt.expected)
			}
		})
	}
}

func TestStreamingUTF8Sanitizer_SplitMultibyte(t *testing.T) {
	input := "Asunción,añadir,€"
	reader := NewStreamingUTF8Sanitizer(iotest.OneByteReader(strings.NewReader(input)))
	result, err := io.ReadAll(reader)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(result) != input {
		t.Errorf("got %q, want %q", result, input)
	}
}

func TestNormalizeEncoding(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"", EncodingUTF8, false},
		{"UTF-8", EncodingUTF8, false},
		{"utf8", EncodingUTF8, false},
		{"cp1252", EncodingWindows1252, false},
		{"Windows-1252", EncodingWindows1252, false},
		{"latin1", EncodingISO88591, false},
		{" iso-8859-1 ", EncodingISO88591, false},
		{"utf-16", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := NormalizeEncoding(tt.in)
			if tt.wantErr {
				if !errors.Is(err, ErrUnsupportedEncoding) {
					t.Errorf("err = %v, want ErrUnsupportedEncoding", err)
				}
				return
			}
			if err != nil || got != tt.want {
				t.Errorf("NormalizeEncoding(%q) = %q, %v; want %q", tt.in, got, err, tt.want)
			}
		})
	}
}

func TestCountingReader(t *testing.T) {
	input := strings.Repeat("x", 1000)
	reader := newCountingReader(strings.NewReader(input), int64(len(input)))

	buf := make([]byte, 100)
	totalRead := 0
	for {
		n, err := reader.Read(buf)
		totalRead += n
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	if totalRead != len(input) {
		t.Errorf("total read = %d, want %d", totalRead, len(input))
	}
	if reader.BytesRead() != int64(len(input)) {
		t.Errorf("BytesRead = %d, want %d", reader.BytesRead(), len(input))
	}
	// 100 is reserved for parse completion.
	if reader.Percent() != 99 {
		t.Errorf("Percent = %d, want 99", reader.Percent())
	}
}

func TestCountingReader_UnknownSize(t *testing.T) {
	reader := newCountingReader(strings.NewReader("abc"), 0)
	_, _ = io.ReadAll(reader)
	if reader.Percent() != 0 {
		t.Errorf("Percent = %d, want 0", reader.Percent())
	}
}

func TestNewInputReader(t *testing.T) {
	tests := []struct {
		name     string
		input    []byte
		encoding string
		expected string
	}{
		{
			name:     "utf-8 strips BOM and sanitizes",
			input:    append([]byte{0xEF, 0xBB, 0xBF}, 'h', 'e', 0x80, 'l', 'o'),
			encoding: "utf-8",
			expected: "he?lo",
		},
		{
			name:     "windows-1252 decodes accents",
			input:    []byte{'A', 's', 'u', 'n', 'c', 'i', 0xF3, 'n'},
			encoding: "windows-1252",
			expected: "Asunción",
		},
		{
			name:     "iso-8859-1 decodes enye",
			input:    []byte{'a', 0xF1, 'o'},
			encoding: "latin1",
			expected: "año",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reader, counter, err := newInputReader(bytes.NewReader(tt.input), int64(len(tt.input)), tt.encoding)
			if err != nil {
				t.Fatalf("newInputReader: %v", err)
			}
			result, err := io.ReadAll(reader)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if string(result) != tt.expected {
				t.Errorf("got %q, want %q", result, tt.expected)
			}
			if counter.BytesRead() != int64(len(tt.input)) {
				t.Errorf("BytesRead = %d, want %d", counter.BytesRead(), len(tt.input))
			}
		})
	}
}

func TestNewInputReader_UnsupportedEncoding(t *testing.T) {
	_, _, err := newInputReader(strings.NewReader(""), 0, "ebcdic")
	if !errors.Is(err, ErrUnsupportedEncoding) {
		t.Errorf("err = %v, want ErrUnsupportedEncoding", err)
	}
}
