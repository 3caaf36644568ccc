package transfer

import (
	"fmt"
	"time"

	"github.com/xuri/excelize/v2"

	"absensi/internal/attendance"
	"absensi/internal/metrics"
)

const xlsxSheet = "Absensi"

// ExportXLSX writes the report columns plus status to a spreadsheet.
func ExportXLSX(records []attendance.Record, now time.Time) (Artifact, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", xlsxSheet); err != nil {
		return Artifact{}, err
	}
	header := []interface{}{"No", "Nama", "Nomor Telepon", "Waktu Absensi", "Status"}
	if err := f.SetSheetRow(xlsxSheet, "A1", &header); err != nil {
		return Artifact{}, err
	}
	for i, r := range records {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return Artifact{}, err
		}
		row := []interface{}{i + 1, r.Nama, r.Telp, rowTime(r.CreatedAt.In(now.Location())), string(r.Status)}
		if err := f.SetSheetRow(xlsxSheet, cell, &row); err != nil {
			return Artifact{}, err
		}
	}

	style, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true, Color: "FFFFFF"},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"2980B9"}, Pattern: 1},
	})
	if err != nil {
		return Artifact{}, err
	}
	if err := f.SetCellStyle(xlsxSheet, "A1", "E1", style); err != nil {
		return Artifact{}, err
	}
	for col, width := range map[string]float64{"A": 6, "B": 32, "C": 20, "D": 20, "E": 12} {
		if err := f.SetColWidth(xlsxSheet, col, col, width); err != nil {
			return Artifact{}, err
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return Artifact{}, fmt.Errorf("render xlsx: %w", err)
	}
	metrics.Exports.WithLabelValues("xlsx").Inc()
	return Artifact{
		Filename:    "laporan_absensi_" + dateStamp(now) + ".xlsx",
		ContentType: ContentTypeXLSX,
		Data:        buf.Bytes(),
	}, nil
}
