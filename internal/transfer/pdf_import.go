package transfer

import (
	"bytes"
	"fmt"
	"math"
	"regexp"
	"strings"
	"time"

	"github.com/ledongthuc/pdf"

	"absensi/internal/attendance"
)

// Pair is a name followed by an all-digit phone token.
type Pair struct {
	Nama string
	Telp string
}

var digitsOnly = regexp.MustCompile(`^\d+$`)

// ScanPairs walks one page's text tokens. A non-empty token followed by a
// digits-only token is taken as a name/phone pair and both are consumed.
// This is a heuristic: arbitrary PDFs can yield spurious or missing pairs.
func ScanPairs(tokens []string) []Pair {
	var out []Pair
	for j := 0; j < len(tokens); j++ {
		text := strings.TrimSpace(tokens[j])
		if text == "" || j+1 >= len(tokens) {
			continue
		}
		next := strings.TrimSpace(tokens[j+1])
		if digitsOnly.MatchString(next) {
			out = append(out, Pair{Nama: text, Telp: next})
			j++
		}
	}
	return out
}

// ImportPDF extracts name/phone pairs from every page. Extracted records
// have no photo and are Menunggu. An empty result is ErrNoDataFound.
func ImportPDF(b []byte, ids attendance.IDSource, now time.Time) (attendance.ImportBatch, error) {
	pages, err := ExtractTokens(b)
	if err != nil {
		return attendance.ImportBatch{}, err
	}
	batch := attendance.ImportBatch{Format: "pdf", Mergeable: true, Records: []attendance.Record{}}
	created := now.UTC()
	for _, tokens := range pages {
		for _, p := range ScanPairs(tokens) {
			batch.Records = append(batch.Records, attendance.Record{
				ID:        ids.NextID(now),
				Nama:      p.Nama,
				Telp:      p.Telp,
				Status:    attendance.StatusPending,
				CreatedAt: created,
			})
		}
	}
	if len(batch.Records) == 0 {
		return batch, ErrNoDataFound
	}
	return batch, nil
}

// ExtractTokens returns the text runs of each page in content order.
// Glyphs on the same baseline without a visible gap form one run.
func ExtractTokens(b []byte) (pages [][]string, err error) {
	defer func() {
		if r := recover(); r != nil {
			pages, err = nil, &ImportFormatError{Format: "pdf", Reason: fmt.Sprint(r)}
		}
	}()

	r, err := pdf.NewReader(bytes.NewReader(b), int64(len(b)))
	if err != nil {
		return nil, &ImportFormatError{Format: "pdf", Err: err}
	}
	for i := 1; i <= r.NumPage(); i++ {
		p := r.Page(i)
		if p.V.IsNull() {
			continue
		}
		pages = append(pages, groupGlyphs(p.Content().Text))
	}
	return pages, nil
}

func groupGlyphs(glyphs []pdf.Text) []string {
	var (
		tokens []string
		cur    strings.Builder
		prev   pdf.Text
		have   bool
	)
	flush := func() {
		if s := strings.TrimSpace(cur.String()); s != "" {
			tokens = append(tokens, s)
		}
		cur.Reset()
	}
	for _, g := range glyphs {
		if have && startsRun(prev, g) {
			flush()
		}
		cur.WriteString(g.S)
		prev, have = g, true
	}
	flush()
	return tokens
}

// startsRun reports whether g begins a new run after prev: another line,
// a jump backwards, or a gap wider than a fraction of the font size.
func startsRun(prev, g pdf.Text) bool {
	if math.Abs(g.Y-prev.Y) > 0.5 {
		return true
	}
	end := prev.X + prev.W
	gap := math.Max(prev.FontSize*0.3, 1)
	return g.X < prev.X-0.5 || g.X > end+gap
}
