package transfer

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"absensi/internal/attendance"
	"absensi/internal/metrics"
)

// Artifact is a generated file ready to be downloaded or written out.
type Artifact struct {
	Filename    string
	ContentType string
	Data        []byte
}

// Content types of the supported formats.
const (
	ContentTypeJSON = "application/json"
	ContentTypePDF  = "application/pdf"
	ContentTypeXLSX = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

var (
	// ErrUnsupportedFormat is returned for files that are neither JSON nor PDF.
	ErrUnsupportedFormat = errors.New("format file tidak didukung")
	// ErrNoDataFound means a PDF parsed fine but held no name/phone pairs.
	// It is informational; nothing should be committed.
	ErrNoDataFound = errors.New("tidak dapat menemukan data yang valid dalam PDF")
)

// ImportFormatError means the document could not be parsed as its format.
type ImportFormatError struct {
	Format string
	Reason string
	Err    error
}

func (e *ImportFormatError) Error() string {
	switch {
	case e.Reason != "" && e.Err != nil:
		return fmt.Sprintf("invalid %s: %s: %v", e.Format, e.Reason, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("invalid %s: %v", e.Format, e.Err)
	}
	return fmt.Sprintf("invalid %s: %s", e.Format, e.Reason)
}

func (e *ImportFormatError) Unwrap() error { return e.Err }

// Import parses b as JSON or PDF, chosen by content type and then by file
// extension.
func Import(filename, contentType string, b []byte, ids attendance.IDSource, now time.Time) (attendance.ImportBatch, error) {
	format := DetectFormat(filename, contentType)
	var (
		batch attendance.ImportBatch
		err   error
	)
	switch format {
	case "json":
		batch, err = ImportJSON(b, ids, now)
	case "pdf":
		batch, err = ImportPDF(b, ids, now)
	default:
		metrics.Imports.WithLabelValues("unknown", "unsupported").Inc()
		return attendance.ImportBatch{}, fmt.Errorf("%w: %s", ErrUnsupportedFormat, filename)
	}
	switch {
	case err == nil:
		metrics.Imports.WithLabelValues(format, "ok").Inc()
	case errors.Is(err, ErrNoDataFound):
		metrics.Imports.WithLabelValues(format, "empty").Inc()
	default:
		metrics.Imports.WithLabelValues(format, "invalid").Inc()
	}
	return batch, err
}

// DetectFormat returns "json", "pdf" or "".
func DetectFormat(filename, contentType string) string {
	ct := strings.ToLower(contentType)
	switch {
	case strings.HasPrefix(ct, ContentTypeJSON):
		return "json"
	case strings.HasPrefix(ct, ContentTypePDF):
		return "pdf"
	}
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".json":
		return "json"
	case ".pdf":
		return "pdf"
	}
	return ""
}

// dateStamp formats the day used in artifact filenames.
func dateStamp(now time.Time) string {
	return now.Format("02-01-2006")
}
