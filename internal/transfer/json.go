package transfer

import (
	"bytes"
	"encoding/json"
	"time"

	"absensi/internal/attendance"
	"absensi/internal/metrics"
)

// ExportJSON writes the collection as a two-space indented array.
func ExportJSON(records []attendance.Record, now time.Time) (Artifact, error) {
	if records == nil {
		records = []attendance.Record{}
	}
	b, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return Artifact{}, err
	}
	metrics.Exports.WithLabelValues("json").Inc()
	return Artifact{
		Filename:    "absensi_backup_" + dateStamp(now) + ".json",
		ContentType: ContentTypeJSON,
		Data:        b,
	}, nil
}

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// ImportJSON parses a backup. The top-level value must be an array; ids
// that are missing or repeated get fresh ones.
func ImportJSON(b []byte, ids attendance.IDSource, now time.Time) (attendance.ImportBatch, error) {
	b = bytes.TrimSpace(bytes.TrimPrefix(b, utf8BOM))
	if len(b) == 0 || b[0] != '[' {
		return attendance.ImportBatch{}, &ImportFormatError{Format: "json", Reason: "top-level value must be an array"}
	}
	var records []attendance.Record
	if err := json.Unmarshal(b, &records); err != nil {
		return attendance.ImportBatch{}, &ImportFormatError{Format: "json", Err: err}
	}
	return attendance.ImportBatch{
		Format:  "json",
		Records: attendance.NormalizeIDs(records, ids, now),
	}, nil
}
