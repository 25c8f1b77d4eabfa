package core

// parser.go adapts encoding/csv into a lazy sequence of RawRows.
//
// The parser never materializes the file: each iteration step reads one
// record from the reader chain built by newInputReader and hands it to the
// caller. Progress is derived from raw bytes consumed and reaches 100 only
// after the last record has been read.

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"iter"
	"path/filepath"
	"slices"
	"strings"
)

// DelimiterFor picks the field separator from the file extension.
func DelimiterFor(filename string) (rune, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".csv":
		return ',', nil
	case ".tsv":
		return '\t', nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnsupportedFile, filepath.Base(filename))
	}
}

// ParserOptions tunes a Parser.
type ParserOptions struct {
	// Delimiter overrides the extension-based choice when non-zero.
	Delimiter rune

	// OnProgress receives 0-100 whenever the integer percentage changes.
	// It runs on the goroutine that iterates Rows.
	OnProgress func(percent int)
}

// Parser streams one source file. Each Parser parses its input once.
type Parser struct {
	delimiter  rune
	input      io.Reader
	counter    *countingReader
	onProgress func(int)

	columns []string
	line    int
	percent int
	used    bool
}

// NewParser prepares src for streaming. It fails fast on an unsupported
// extension or encoding, before any byte is read.
func NewParser(src SourceFile, opts ParserOptions) (*Parser, error) {
	delim := opts.Delimiter
	if delim == 0 {
		d, err := DelimiterFor(src.Name)
		if err != nil {
			return nil, err
		}
		delim = d
	}

	input, counter, err := newInputReader(src.Reader, src.Size, src.Encoding)
	if err != nil {
		return nil, err
	}

	return &Parser{
		delimiter:  delim,
		input:      input,
		counter:    counter,
		onProgress: opts.OnProgress,
		percent:    -1,
	}, nil
}

// Columns returns the header row. It is empty until iteration has started.
func (p *Parser) Columns() []string { return p.columns }

// BytesRead returns raw bytes consumed so far.
func (p *Parser) BytesRead() int64 { return p.counter.BytesRead() }

// Rows returns the lazy row sequence.
//
// A fatal problem is yielded exactly once as (nil, err) and ends the
// sequence: *ParseError for malformed input, ErrIngestCancelled when ctx is
// done. Normal completion reports 100% progress and ends without an error.
func (p *Parser) Rows(ctx context.Context) iter.Seq2[RawRow, error] {
	return func(yield func(RawRow, error) bool) {
		if p.used {
			yield(nil, errors.New("parser: rows already consumed"))
			return
		}
		p.used = true

		cr := csv.NewReader(p.input)
		cr.Comma = p.delimiter
		cr.FieldsPerRecord = -1

		header, err := cr.Read()
		if err == io.EOF {
			yield(nil, &ParseError{Line: 1, Err: ErrEmptyFile})
			return
		}
		if err != nil {
			yield(nil, toParseError(err))
			return
		}
		p.columns = slices.Clone(header)
		p.report(p.counter.Percent())

		for {
			if err := ctx.Err(); err != nil {
				yield(nil, fmt.Errorf("%w: %w", ErrIngestCancelled, err))
				return
			}

			rec, err := cr.Read()
			if err == io.EOF {
				p.report(100)
				return
			}
			if err != nil {
				yield(nil, toParseError(err))
				return
			}

			row := make(RawRow, len(p.columns))
			for i, v := range rec {
				if i >= len(p.columns) {
					break
				}
				row[p.columns[i]] = v
			}

			p.line, _ = cr.FieldPos(0)
			p.report(p.counter.Percent())
			if !yield(row, nil) {
				return
			}
		}
	}
}

// Line returns the 1-based file line where the most recently yielded row
// starts. Read it inside the loop body.
func (p *Parser) Line() int { return p.line }

func (p *Parser) report(pct int) {
	if pct == p.percent {
		return
	}
	p.percent = pct
	if p.onProgress != nil {
		p.onProgress(pct)
	}
}

func toParseError(err error) error {
	var csvErr *csv.ParseError
	if errors.As(err, &csvErr) {
		return &ParseError{Line: csvErr.Line, Err: csvErr.Err}
	}
	return &ParseError{Err: err}
}
