// Package schema declares the shape of an uploadable e-invoice record.
//
// Fields is the single source of truth for column names, order and rules.
// The validator, the template download and the failed-records export all
// read it, so adding a column here is enough to carry it end to end.
package schema

// FieldType is the validation rule family applied to a column.
type FieldType int

const (
	FieldText        FieldType = iota // stored as-is
	FieldTrimmedText                  // surrounding whitespace removed
	FieldUUID                         // RFC 4122 textual UUID
)

// Invoice is a validated e-invoice submission, serialized as the request
// body sent to the invoicing backend.
type Invoice struct {
	TraceID       string `json:"traceId"`
	RequestID     string `json:"requestId"`
	InvoiceOrigin string `json:"invoiceOrigin"`
	XMLReceived   string `json:"xmlReceived"`
	Status        string `json:"status"`
}

// FieldSpec defines one column of the invoice CSV.
type FieldSpec struct {
	Name       string // Column header, matched case-sensitively
	Type       FieldType
	AllowEmpty bool // Blank cells are accepted when true

	Assign func(*Invoice, string)
	Value  func(Invoice) string
}

// Fields lists the invoice columns in template order.
var Fields = []FieldSpec{
	{
		Name:   "traceId",
		Type:   FieldUUID,
		Assign: func(inv *Invoice, v string) { inv.TraceID = v },
		Value:  func(inv Invoice) string { return inv.TraceID },
	},
	{
		Name:   "requestId",
		Type:   FieldUUID,
		Assign: func(inv *Invoice, v string) { inv.RequestID = v },
		Value:  func(inv Invoice) string { return inv.RequestID },
	},
	{
		Name:   "invoiceOrigin",
		Type:   FieldText,
		Assign: func(inv *Invoice, v string) { inv.InvoiceOrigin = v },
		Value:  func(inv Invoice) string { return inv.InvoiceOrigin },
	},
	{
		Name:   "xmlReceived",
		Type:   FieldTrimmedText,
		Assign: func(inv *Invoice, v string) { inv.XMLReceived = v },
		Value:  func(inv Invoice) string { return inv.XMLReceived },
	},
	{
		Name:   "status",
		Type:   FieldText,
		Assign: func(inv *Invoice, v string) { inv.Status = v },
		Value:  func(inv Invoice) string { return inv.Status },
	},
}

// Columns returns the header names in declared order.
func Columns() []string {
	cols := make([]string, len(Fields))
	for i, f := range Fields {
		cols[i] = f.Name
	}
	return cols
}

// Lookup returns the spec for a column name.
func Lookup(name string) (FieldSpec, bool) {
	for _, f := range Fields {
		if f.Name == name {
			return f, true
		}
	}
	return FieldSpec{}, false
}

// Values returns the record's cells in column order.
func (inv Invoice) Values() []string {
	out := make([]string, len(Fields))
	for i, f := range Fields {
		out[i] = f.Value(inv)
	}
	return out
}

// SampleInvoices are the example rows shipped in the downloadable template.
var SampleInvoices = []Invoice{
	{
		TraceID:       "e77d7e31-cf8b-463b-bf13-4951ea85a899",
		RequestID:     "3f0c8a52-6d1e-4b7a-9c2f-1a8e5d4b7c90",
		InvoiceOrigin: "API_BATCH",
		XMLReceived:   "<rDE><DE></DE></rDE>",
		Status:        "PENDING",
	},
	{
		TraceID:       "56c9b01b-9e70-4aad-9e9d-378c9e347be8",
		RequestID:     "b8e41d7a-2c59-4f03-8e6b-0d9a7c3f1e25",
		InvoiceOrigin: "API_BATCH",
		XMLReceived:   "<rDE><DE></DE></rDE>",
		Status:        "PENDING",
	},
}
