package transfer

import (
	"bytes"
	"fmt"
	"time"

	"github.com/go-pdf/fpdf"

	"absensi/internal/attendance"
	"absensi/internal/metrics"
)

var (
	hariID  = [...]string{"Minggu", "Senin", "Selasa", "Rabu", "Kamis", "Jumat", "Sabtu"}
	bulanID = [...]string{"Januari", "Februari", "Maret", "April", "Mei", "Juni", "Juli",
		"Agustus", "September", "Oktober", "November", "Desember"}
)

// longDate renders t like "Jumat, 15 Maret 2024".
func longDate(t time.Time) string {
	return fmt.Sprintf("%s, %d %s %d", hariID[t.Weekday()], t.Day(), bulanID[t.Month()-1], t.Year())
}

// clock renders t like "09.30.00".
func clock(t time.Time) string { return t.Format("15.04.05") }

// rowTime renders t like "15/03/2024 09.30".
func rowTime(t time.Time) string { return t.Format("02/01/2006 15.04") }

const (
	pageW       = 210.0
	marginX     = 14.0
	tableTop    = 65.0
	rowH        = 9.0
	pageBottom  = 270.0
	reportTitle = "LAPORAN DATA ABSENSI"
)

type column struct {
	title string
	width float64
	x     float64
}

// Columns left to right. Cells are emitted name first, then phone, so the
// text layer of every row reads as a name/phone pair for ImportPDF.
var (
	colNo    = column{"No", 15, marginX}
	colNama  = column{"Nama", 72, marginX + 15}
	colTelp  = column{"Nomor Telepon", 55, marginX + 87}
	colWaktu = column{"Waktu Absensi", 40, marginX + 142}
	emitCols = []column{colNama, colTelp, colNo, colWaktu}
)

// ExportPDF renders the printable report. Times are shown in now's
// location.
func ExportPDF(records []attendance.Record, now time.Time) (Artifact, error) {
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetTitle("Laporan Data Absensi", true)
	pdf.SetCreator("absensi", true)
	pdf.SetAutoPageBreak(false, 0)
	pdf.AliasNbPages("")
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	pdf.SetFooterFunc(func() {
		pdf.SetFont("Helvetica", "", 10)
		pdf.SetTextColor(150, 150, 150)
		pdf.SetXY(0, 281)
		pdf.CellFormat(pageW, 5, fmt.Sprintf("Halaman %d dari {nb}", pdf.PageNo()), "", 1, "C", false, 0, "")
		pdf.SetX(0)
		pdf.CellFormat(pageW, 5, tr(fmt.Sprintf("Aplikasi Absensi © %d", now.Year())), "", 0, "C", false, 0, "")
	})

	pdf.AddPage()

	pdf.SetFillColor(41, 128, 185)
	pdf.Rect(0, 0, pageW, 30, "F")
	pdf.SetFont("Helvetica", "B", 20)
	pdf.SetTextColor(255, 255, 255)
	pdf.SetXY(0, 10)
	pdf.CellFormat(pageW, 10, reportTitle, "", 0, "C", false, 0, "")

	pdf.SetFont("Helvetica", "", 11)
	pdf.SetTextColor(0, 0, 0)
	pdf.Text(marginX, 40, "Tanggal: "+longDate(now))
	pdf.Text(marginX, 47, "Waktu: "+clock(now))
	pdf.Text(marginX, 54, fmt.Sprintf("Total Data: %d orang", len(records)))

	pdf.SetDrawColor(41, 128, 185)
	pdf.SetLineWidth(0.5)
	pdf.Line(marginX, 58, pageW-marginX, 58)

	y := tableHeader(pdf, tableTop)

	rows := make([][4]string, 0, len(records))
	for i, r := range records {
		rows = append(rows, [4]string{r.Nama, r.Telp, fmt.Sprint(i + 1), rowTime(r.CreatedAt.In(now.Location()))})
	}
	if len(rows) == 0 {
		rows = append(rows, [4]string{"Tidak ada data absensi", "-", "-", "-"})
	}

	pdf.SetFont("Helvetica", "", 10)
	for i, row := range rows {
		if y+rowH > pageBottom {
			pdf.AddPage()
			y = tableHeader(pdf, 15)
			pdf.SetFont("Helvetica", "", 10)
		}
		fill := i%2 == 1
		pdf.SetFillColor(240, 240, 240)
		pdf.SetTextColor(0, 0, 0)
		for j, col := range emitCols {
			pdf.SetXY(col.x, y)
			pdf.CellFormat(col.width, rowH, fit(pdf, tr(row[j]), col.width-4), "", 0, "L", fill, 0, "")
		}
		y += rowH
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return Artifact{}, fmt.Errorf("render pdf: %w", err)
	}
	metrics.Exports.WithLabelValues("pdf").Inc()
	return Artifact{
		Filename:    "laporan_absensi_" + dateStamp(now) + ".pdf",
		ContentType: ContentTypePDF,
		Data:        buf.Bytes(),
	}, nil
}

func tableHeader(pdf *fpdf.Fpdf, y float64) float64 {
	pdf.SetFont("Helvetica", "B", 10)
	pdf.SetFillColor(41, 128, 185)
	pdf.SetTextColor(255, 255, 255)
	for _, col := range emitCols {
		pdf.SetXY(col.x, y)
		pdf.CellFormat(col.width, rowH, col.title, "", 0, "L", true, 0, "")
	}
	return y + rowH
}

// fit shortens s with an ellipsis until it is at most w wide.
func fit(pdf *fpdf.Fpdf, s string, w float64) string {
	if pdf.GetStringWidth(s) <= w {
		return s
	}
	r := []rune(s)
	for len(r) > 0 && pdf.GetStringWidth(string(r)+"...") > w {
		r = r[:len(r)-1]
	}
	return string(r) + "..."
}
