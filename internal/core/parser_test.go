package core

import (
	"context"
	"errors"
	"strings"
	"testing"
)

const invoiceHeader = "traceId,requestId,invoiceOrigin,xmlReceived,status\n"

func csvSource(name, body string) SourceFile {
	return SourceFile{Name: name, Size: int64(len(body)), Reader: strings.NewReader(body)}
}

type parsedRow struct {
	line int
	row  RawRow
}

func collectRows(t *testing.T, p *Parser, ctx context.Context) ([]parsedRow, error) {
	t.Helper()
	var rows []parsedRow
	for row, err := range p.Rows(ctx) {
		if err != nil {
			return rows, err
		}
		rows = append(rows, parsedRow{line: p.Line(), row: row})
	}
	return rows, nil
}

func TestDelimiterFor(t *testing.T) {
	tests := []struct {
		name    string
		want    rune
		wantErr bool
	}{
		{"facturas.csv", ',', false},
		{"FACTURAS.CSV", ',', false},
		{"export.tsv", '\t', false},
		{"dir/sub/export.TSV", '\t', false},
		{"facturas.xlsx", 0, true},
		{"facturas", 0, true},
		{"facturas.csv.txt", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DelimiterFor(tt.name)
			if tt.wantErr {
				if !errors.Is(err, ErrUnsupportedFile) {
					t.Errorf("err = %v, want ErrUnsupportedFile", err)
				}
				return
			}
			if err != nil || got != tt.want {
				t.Errorf("DelimiterFor(%q) = %q, %v; want %q", tt.name, got, err, tt.want)
			}
		})
	}
}

func TestParser_CSV(t *testing.T) {
	body := invoiceHeader +
		"a,b,c,d,e\n" +
		"\n" +
		"f,g,h,\"<x>\n</x>\",i\n" +
		"j,k,l,m,n\n"

	p, err := NewParser(csvSource("f.csv", body), ParserOptions{})
	if err != nil {
		t.Fatal(err)
	}
	rows, err := collectRows(t, p, context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(rows) != 3 {
		t.Fatalf("rows = %d, want 3 (blank lines skipped)", len(rows))
	}
	wantLines := []int{2, 4, 6}
	for i, r := range rows {
		if r.line != wantLines[i] {
			t.Errorf("row %d line = %d, want %d", i, r.line, wantLines[i])
		}
	}
	if got := rows[1].row["xmlReceived"]; got != "<x>\n</x>" {
		t.Errorf("quoted multi-line cell = %q", got)
	}
	if got := strings.Join(p.Columns(), ","); got+"\n" != invoiceHeader {
		t.Errorf("Columns = %v", p.Columns())
	}
}

func TestParser_TSV(t *testing.T) {
	body := "traceId\tstatus\n1\tPENDING\n"
	p, err := NewParser(csvSource("f.tsv", body), ParserOptions{})
	if err != nil {
		t.Fatal(err)
	}
	rows, err := collectRows(t, p, context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 || rows[0].row["status"] != "PENDING" {
		t.Errorf("rows = %+v", rows)
	}
}

func TestParser_RaggedRows(t *testing.T) {
	body := "a,b,c\n1,2\n1,2,3,4\n"
	p, err := NewParser(csvSource("f.csv", body), ParserOptions{})
	if err != nil {
		t.Fatal(err)
	}
	rows, err := collectRows(t, p, context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 2 {
		t.Fatalf("rows = %d, want 2", len(rows))
	}
	if _, ok := rows[0].row["c"]; ok {
		t.Error("short row has a value for the missing cell")
	}
	if len(rows[1].row) != 3 {
		t.Errorf("long row kept %d cells, want 3", len(rows[1].row))
	}
}

func TestParser_HeaderOnly(t *testing.T) {
	p, err := NewParser(csvSource("f.csv", invoiceHeader), ParserOptions{})
	if err != nil {
		t.Fatal(err)
	}
	rows, err := collectRows(t, p, context.Background())
	if err != nil || len(rows) != 0 {
		t.Errorf("rows = %d, err = %v; want 0, nil", len(rows), err)
	}
	if len(p.Columns()) != 5 {
		t.Errorf("Columns = %v", p.Columns())
	}
}

func TestParser_EmptyFile(t *testing.T) {
	p, err := NewParser(csvSource("f.csv", ""), ParserOptions{})
	if err != nil {
		t.Fatal(err)
	}
	_, err = collectRows(t, p, context.Background())

	var pe *ParseError
	if !errors.As(err, &pe) {
		t.Fatalf("err = %v, want *ParseError", err)
	}
	if !errors.Is(err, ErrEmptyFile) {
		t.Errorf("err = %v, want ErrEmptyFile", err)
	}
}

func TestParser_MalformedQuote(t *testing.T) {
	body := invoiceHeader + "a,b,c,d,e\n" + "a,b\"c,d,e,f\n" + "g,h,i,j,k\n"
	p, err := NewParser(csvSource("f.csv", body), ParserOptions{})
	if err != nil {
		t.Fatal(err)
	}
	rows, err := collectRows(t, p, context.Background())

	var pe *ParseError
	if !errors.As(err, &pe) {
		t.Fatalf("err = %v, want *ParseError", err)
	}
	if pe.Line != 3 {
		t.Errorf("Line = %d, want 3", pe.Line)
	}
	if len(rows) != 1 {
		t.Errorf("rows before error = %d, want 1", len(rows))
	}
	if !strings.Contains(err.Error(), "invalid csv") {
		t.Errorf("message = %q", err.Error())
	}
}

func TestParser_Cancelled(t *testing.T) {
	body := invoiceHeader + strings.Repeat("a,b,c,d,e\n", 10)
	p, err := NewParser(csvSource("f.csv", body), ParserOptions{})
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	seen := 0
	for _, err := range p.Rows(ctx) {
		if err != nil {
			if !errors.Is(err, ErrIngestCancelled) || !errors.Is(err, context.Canceled) {
				t.Errorf("err = %v, want cancellation", err)
			}
			break
		}
		seen++
		if seen == 3 {
			cancel()
		}
	}
	if seen != 3 {
		t.Errorf("rows after cancel = %d, want 3", seen)
	}
}

func TestParser_Progress(t *testing.T) {
	body := invoiceHeader + strings.Repeat("a,b,c,d,e\n", 2000)
	var events []int
	p, err := NewParser(csvSource("f.csv", body), ParserOptions{
		OnProgress: func(pct int) { events = append(events, pct) },
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := collectRows(t, p, context.Background()); err != nil {
		t.Fatal(err)
	}

	if len(events) == 0 {
		t.Fatal("no progress events")
	}
	for i := 1; i < len(events); i++ {
		if events[i] <= events[i-1] {
			t.Fatalf("progress not increasing: %v", events)
		}
	}
	if last := events[len(events)-1]; last != 100 {
		t.Errorf("final progress = %d, want 100", last)
	}
	for _, pct := range events[:len(events)-1] {
		if pct > 99 {
			t.Errorf("intermediate progress %d > 99", pct)
		}
	}
}

func TestParser_SingleUse(t *testing.T) {
	p, err := NewParser(csvSource("f.csv", invoiceHeader), ParserOptions{})
	if err != nil {
		t.Fatal(err)
	}
	_, _ = collectRows(t, p, context.Background())
	if _, err := collectRows(t, p, context.Background()); err == nil {
		t.Error("second iteration succeeded")
	}
}

func TestNewParser_RejectsUnsupportedInput(t *testing.T) {
	if _, err := NewParser(csvSource("f.xls", ""), ParserOptions{}); !errors.Is(err, ErrUnsupportedFile) {
		t.Errorf("xls err = %v", err)
	}
	src := csvSource("f.csv", "")
	src.Encoding = "utf-16"
	if _, err := NewParser(src, ParserOptions{}); !errors.Is(err, ErrUnsupportedEncoding) {
		t.Errorf("encoding err = %v", err)
	}
}
