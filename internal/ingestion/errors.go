package ingestion

import (
	"fmt"
	"strings"
)

// MissingFileError is returned when an upload carries no file.
type MissingFileError struct{}

func (e *MissingFileError) Error() string { return "No file provided" }

// PayloadTooLargeError is returned when the upload exceeds the configured byte limit.
type PayloadTooLargeError struct {
	Limit int64
}

func (e *PayloadTooLargeError) Error() string {
	return fmt.Sprintf("File size exceeds limit. Maximum: %s", formatBytes(e.Limit))
}

// UnsupportedMediaTypeError is returned when neither the media type nor the
// file extension identify the upload as CSV.
type UnsupportedMediaTypeError struct {
	MediaType string
	Allowed   []string
}

func (e *UnsupportedMediaTypeError) Error() string {
	return fmt.Sprintf("Invalid file type. Only CSV files are allowed. Allowed types: %s", strings.Join(e.Allowed, ", "))
}

// TooManyRowsError aborts an upload whose data rows exceed the per-upload ceiling.
type TooManyRowsError struct {
	Limit int
}

func (e *TooManyRowsError) Error() string {
	return fmt.Sprintf("Maximum records exceeded. Limit: %d", e.Limit)
}

// EmptyUploadError is returned when the file contained no data rows at all.
type EmptyUploadError struct{}

func (e *EmptyUploadError) Error() string { return "No valid records found in CSV file" }

// MalformedRowError reports a single row that could not be turned into a record.
// It never aborts an upload.
type MalformedRowError struct {
	Row    int
	Column string
	Reason string
}

func (e *MalformedRowError) Error() string {
	if e.Column != "" {
		return fmt.Sprintf("column %q: %s", e.Column, e.Reason)
	}
	return e.Reason
}

// StoreError wraps an infrastructure failure of the record store.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string { return fmt.Sprintf("store %s failed: %v", e.Op, e.Err) }
func (e *StoreError) Unwrap() error { return e.Err }

func formatBytes(n int64) string {
	const mb = 1024 * 1024
	if n >= mb && n%mb == 0 {
		return fmt.Sprintf("%dMB", n/mb)
	}
	if n >= mb {
		return fmt.Sprintf("%.2fMB", float64(n)/mb)
	}
	return fmt.Sprintf("%d bytes", n)
}
