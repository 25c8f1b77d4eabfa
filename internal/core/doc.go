// Package core provides the business logic for bulk e-invoice ingestion.
//
// This package holds all domain logic independent of any transport. It can
// be driven by the web handlers, a CLI, or tests without modification.
//
// # Architecture
//
//   - Validator: applies the invoice schema (package schema) to one raw row
//     and returns either a record or every violated rule.
//   - Parser: streams a CSV/TSV file as a lazy sequence of raw rows, with
//     BOM skipping, encoding handling and byte-based progress.
//   - Controller: drives parse, validate and partition for one session, with
//     retention caps and last-file-wins semantics.
//   - Dispatcher: posts valid records to the invoicing backend in fixed-size
//     concurrent batches with per-record retry and cancellation.
//   - Service: sessions tying the above together, with progress fan-out to
//     subscribers, a global upload limiter and optional persistence.
//
// # Ingestion
//
//  1. Client calls [Service.StartIngest] with a [SourceFile]
//  2. The session's [Controller] parses and validates the file in the background
//  3. Progress is broadcast to subscribers via [Service.SubscribeIngest]
//  4. The published [IngestionResult] feeds preview, exports and upload
//
// # Upload
//
// [Service.StartUpload] hands the retained valid records to the [Dispatcher].
// Batches of Concurrency records are sent in parallel; each record is retried
// with exponential backoff. [Service.CancelUpload] aborts in-flight requests
// and stops scheduling; the summary keeps every outcome already produced.
//
// # Error Handling
//
// Technical errors are mapped to user-friendly messages using [MapError].
// Each error category has a unique code for support reference:
//
//   - FILE001-FILE006: File errors (size, format, encoding)
//   - VAL001-VAL002: Validation outcome errors
//   - UPL001-UPL008: Upload errors (cancelled, busy, not configured)
//   - SES001-SES002: Session errors
//   - NET001-NET003: Network errors
package core
