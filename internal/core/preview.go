package core

// preview.go pages through an IngestionResult for review.
//
// Everything operates on the retained slices. Sorting and filtering work on
// clones so the published result stays immutable.

import (
	"cmp"
	"slices"
	"strings"

	"github.com/JonMunkholm/facturas/internal/schema"
)

// Page size bounds.
const (
	DefaultPageSize = 10
	MaxPageSize     = 500
)

// SortSpec orders records by one schema column.
type SortSpec struct {
	Column string
	Dir    string // "asc" (default) or "desc"
}

// PreviewQuery selects one page of records.
type PreviewQuery struct {
	Page     int // 1-based
	PageSize int
	Sort     SortSpec
	Filter   string // case-insensitive substring over every field
}

func (q PreviewQuery) normalized() PreviewQuery {
	if q.Page < 1 {
		q.Page = 1
	}
	if q.PageSize < 1 {
		q.PageSize = DefaultPageSize
	}
	if q.PageSize > MaxPageSize {
		q.PageSize = MaxPageSize
	}
	q.Filter = strings.ToLower(strings.TrimSpace(q.Filter))
	return q
}

// Page is one slice of a larger list.
type Page[T any] struct {
	Items      []T  `json:"items"`
	Page       int  `json:"page"`
	PageSize   int  `json:"page_size"`
	TotalItems int  `json:"total_items"` // after filtering
	TotalPages int  `json:"total_pages"`
	Truncated  bool `json:"truncated"` // more rows were seen than retained
}

func paginate[T any](items []T, page, size int) Page[T] {
	total := len(items)
	pages := (total + size - 1) / size
	lo := min((page-1)*size, total)
	hi := min(lo+size, total)
	return Page[T]{
		Items:      items[lo:hi:hi],
		Page:       page,
		PageSize:   size,
		TotalItems: total,
		TotalPages: pages,
	}
}

// PreviewRecords returns one page of valid records.
func PreviewRecords(res *IngestionResult, q PreviewQuery) Page[schema.Invoice] {
	q = q.normalized()

	records := res.Valid
	if q.Filter != "" {
		records = slices.DeleteFunc(slices.Clone(records), func(inv schema.Invoice) bool {
			return !invoiceContains(inv, q.Filter)
		})
	}

	if spec, ok := schema.Lookup(q.Sort.Column); ok {
		records = slices.Clone(records)
		desc := strings.EqualFold(q.Sort.Dir, "desc")
		slices.SortStableFunc(records, func(a, b schema.Invoice) int {
			c := cmp.Compare(spec.Value(a), spec.Value(b))
			if desc {
				return -c
			}
			return c
		})
	}

	p := paginate(records, q.Page, q.PageSize)
	p.Truncated = res.DroppedValid() > 0
	return p
}

// PreviewFailures returns one page of validation failures in file order.
func PreviewFailures(res *IngestionResult, q PreviewQuery) Page[ValidationFailure] {
	q = q.normalized()

	failures := res.Failures
	if q.Filter != "" {
		failures = slices.DeleteFunc(slices.Clone(failures), func(f ValidationFailure) bool {
			return !failureContains(f, q.Filter)
		})
	}

	p := paginate(failures, q.Page, q.PageSize)
	p.Truncated = res.DroppedFailures() > 0
	return p
}

func invoiceContains(inv schema.Invoice, needle string) bool {
	for _, v := range inv.Values() {
		if strings.Contains(strings.ToLower(v), needle) {
			return true
		}
	}
	return false
}

func failureContains(f ValidationFailure, needle string) bool {
	for _, v := range f.Row {
		if strings.Contains(strings.ToLower(v), needle) {
			return true
		}
	}
	for _, e := range f.Errors {
		if strings.Contains(strings.ToLower(e), needle) {
			return true
		}
	}
	return false
}
