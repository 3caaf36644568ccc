package attendance

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"

	"golang.org/x/text/cases"
)

// FilterAll disables status filtering in List.
const FilterAll = "all"

// Confirmation prompts.
const (
	PromptDelete   = "Yakin ingin menghapus data ini?"
	PromptClearAll = "Yakin ingin menghapus semua data?"
	PromptReplace  = "Impor data akan menggantikan data yang ada. Lanjutkan?"
	PromptMerge    = "Ditemukan %d data dari PDF. Gabungkan dengan data yang ada?"
)

// Confirmer asks the operator to approve a destructive action.
type Confirmer interface {
	Confirm(prompt string) bool
}

// ConfirmFunc adapts a function to Confirmer.
type ConfirmFunc func(prompt string) bool

func (f ConfirmFunc) Confirm(prompt string) bool { return f(prompt) }

// Confirmed approves every prompt. Declined rejects every prompt.
var (
	Confirmed Confirmer = ConfirmFunc(func(string) bool { return true })
	Declined  Confirmer = ConfirmFunc(func(string) bool { return false })
)

// ImportMode decides how an import batch meets the current collection.
type ImportMode string

const (
	ImportReplace ImportMode = "replace"
	ImportMerge   ImportMode = "merge"
)

// ParseImportMode defaults to replace.
func ParseImportMode(v string) (ImportMode, error) {
	switch ImportMode(strings.ToLower(strings.TrimSpace(v))) {
	case "", ImportReplace:
		return ImportReplace, nil
	case ImportMerge:
		return ImportMerge, nil
	}
	return "", fmt.Errorf("unknown import mode %q", v)
}

// ImportBatch is a parsed import document.
type ImportBatch struct {
	Format    string
	Records   []Record
	Mergeable bool // only heuristic extractions may be merged
}

// Stats counts records per status.
type Stats struct {
	Total    int            `json:"total"`
	ByStatus map[Status]int `json:"byStatus"`
}

// AdminController serves the administrative view over the store.
type AdminController struct {
	store *RecordStore
}

func NewAdminController(store *RecordStore) *AdminController {
	return &AdminController{store: store}
}

// List filters by status (exact, or FilterAll) and by a case-insensitive
// substring of nama or telp, newest first. The stored order is untouched.
func (a *AdminController) List(query, statusFilter string) []Record {
	fold := cases.Fold()
	q := fold.String(strings.TrimSpace(query))
	all := statusFilter == "" || strings.EqualFold(statusFilter, FilterAll) || strings.EqualFold(statusFilter, "Semua")

	out := make([]Record, 0)
	for _, r := range a.store.Records() {
		if !all && string(r.Status) != statusFilter {
			continue
		}
		if q != "" && !strings.Contains(fold.String(r.Nama), q) && !strings.Contains(fold.String(r.Telp), q) {
			continue
		}
		out = append(out, r)
	}
	slices.SortStableFunc(out, func(x, y Record) int { return cmp.Compare(y.ID, x.ID) })
	return out
}

// SetStatus moves a record to s. Setting the current status again commits
// nothing.
func (a *AdminController) SetStatus(ctx context.Context, id int64, s Status) (Record, error) {
	if !s.Valid() {
		return Record{}, fmt.Errorf("%w: %q", ErrInvalidStatus, s)
	}
	rec, ok := a.store.Get(id)
	if !ok {
		return Record{}, ErrNotFound
	}
	if rec.Status == s {
		return rec, nil
	}
	rec.Status = s
	if err := a.store.Commit(ctx, Update(id, rec)); err != nil {
		return Record{}, err
	}
	return rec, nil
}

// Delete removes one record after confirmation. An unknown id is a no-op
// and nothing is asked.
func (a *AdminController) Delete(ctx context.Context, id int64, confirm Confirmer) error {
	if _, ok := a.store.Get(id); !ok {
		return nil
	}
	if !confirm.Confirm(PromptDelete) {
		return ErrNotConfirmed
	}
	return a.store.Commit(ctx, Delete(id))
}

// ClearAll empties the collection after confirmation.
func (a *AdminController) ClearAll(ctx context.Context, confirm Confirmer) error {
	if !confirm.Confirm(PromptClearAll) {
		return ErrNotConfirmed
	}
	return a.store.Commit(ctx, Clear())
}

// ApplyImport commits a parsed batch. Replace swaps the whole collection;
// merge appends and is only accepted for mergeable batches.
func (a *AdminController) ApplyImport(ctx context.Context, b ImportBatch, mode ImportMode, confirm Confirmer) (int, error) {
	switch mode {
	case ImportReplace:
		if !confirm.Confirm(PromptReplace) {
			return 0, ErrNotConfirmed
		}
		if err := a.store.Commit(ctx, ReplaceAll(b.Records)); err != nil {
			return 0, err
		}
		return len(b.Records), nil
	case ImportMerge:
		if !b.Mergeable {
			return 0, fmt.Errorf("%w: %s", ErrMergeNotAllowed, b.Format)
		}
		if !confirm.Confirm(fmt.Sprintf(PromptMerge, len(b.Records))) {
			return 0, ErrNotConfirmed
		}
		merged := append(a.store.Records(), b.Records...)
		if err := a.store.Commit(ctx, ReplaceAll(merged)); err != nil {
			return 0, err
		}
		return len(b.Records), nil
	}
	return 0, fmt.Errorf("unknown import mode %q", mode)
}

// Stats counts records per status.
func (a *AdminController) Stats() Stats {
	st := Stats{ByStatus: make(map[Status]int, len(Statuses))}
	for _, s := range Statuses {
		st.ByStatus[s] = 0
	}
	for _, r := range a.store.Records() {
		st.Total++
		st.ByStatus[r.Status]++
	}
	return st
}
