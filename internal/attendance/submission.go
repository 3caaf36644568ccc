package attendance

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"absensi/internal/blob"
	"absensi/internal/metrics"
)

// MinPhoneDigits is the soft lower bound on phone length.
const MinPhoneDigits = 8

// Messages shown to the person filling the form.
const (
	MsgIncomplete   = "Lengkapi semua data!"
	MsgPhoneDigits  = "Nomor telepon harus angka!"
	WarnPhoneLength = "Nomor telepon minimal 8 digit"
)

// PhotoEncoder turns an upload into a data URI.
type PhotoEncoder interface {
	Encode(ctx context.Context, f blob.File) (string, error)
}

// PreviewStore issues and releases transient photo references.
type PreviewStore interface {
	Create(ctx context.Context, f blob.File) (string, time.Time, error)
	Revoke(token string) bool
}

// Submission is one create or edit request. EditingID is zero for new
// records.
type Submission struct {
	Nama      string
	Telp      string
	Photo     *blob.File
	EditingID int64
}

// Result describes a committed submission.
type Result struct {
	Record   Record
	Created  bool
	Warnings []string
}

// Form is the transient state of an entry form. It is never persisted.
type Form struct {
	Nama      string
	Telp      string
	Photo     *blob.File
	Preview   string
	EditingID int64
}

// Submission returns the request the form currently describes.
func (f *Form) Submission() Submission {
	return Submission{Nama: f.Nama, Telp: f.Telp, Photo: f.Photo, EditingID: f.EditingID}
}

// Editing reports whether the form edits an existing record.
func (f *Form) Editing() bool { return f.EditingID != 0 }

type submissionFields struct {
	Nama string `validate:"required"`
	Telp string `validate:"required,digits"`
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	err := v.RegisterValidation("digits", func(fl validator.FieldLevel) bool {
		for _, r := range fl.Field().String() {
			if r < '0' || r > '9' {
				return false
			}
		}
		return true
	})
	if err != nil {
		panic(fmt.Sprintf("register digits validation: %v", err))
	}
	return v
}

// SubmissionController validates form input and commits it to the store.
type SubmissionController struct {
	store    *RecordStore
	photos   PhotoEncoder
	previews PreviewStore
	validate *validator.Validate
	logger   *zap.Logger
}

// NewSubmissionController wires the controller. previews may be nil.
func NewSubmissionController(store *RecordStore, photos PhotoEncoder, previews PreviewStore, logger *zap.Logger) *SubmissionController {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SubmissionController{
		store:    store,
		photos:   photos,
		previews: previews,
		validate: newValidator(),
		logger:   logger,
	}
}

// Submit validates s and inserts or updates one record. Nothing is
// committed when validation or photo encoding fails.
func (c *SubmissionController) Submit(ctx context.Context, s Submission) (Result, error) {
	fields := submissionFields{
		Nama: strings.TrimSpace(s.Nama),
		Telp: strings.TrimSpace(s.Telp),
	}
	if err := c.check(fields, s); err != nil {
		metrics.ValidationFailures.WithLabelValues(err.Field, err.Rule).Inc()
		return Result{}, err
	}

	var warnings []string
	if len(fields.Telp) < MinPhoneDigits {
		warnings = append(warnings, WarnPhoneLength)
	}

	if s.EditingID != 0 {
		if _, ok := c.store.Get(s.EditingID); !ok {
			return Result{}, ErrNotFound
		}
	}

	var foto string
	if s.Photo != nil {
		uri, err := c.photos.Encode(ctx, *s.Photo)
		if err != nil {
			c.logger.Warn("encode photo", zap.String("file", s.Photo.Name), zap.Error(err))
			return Result{}, err
		}
		foto = uri
	}

	if s.EditingID != 0 {
		// Only the form fields travel; the store keeps the current status and,
		// without a new photo, the current foto.
		upd := Record{Nama: fields.Nama, Telp: fields.Telp, Foto: foto}
		if err := c.store.Commit(ctx, Update(s.EditingID, upd)); err != nil {
			return Result{}, err
		}
		rec, ok := c.store.Get(s.EditingID)
		if !ok {
			return Result{}, ErrNotFound
		}
		return Result{Record: rec, Warnings: warnings}, nil
	}

	now := c.store.Now().UTC()
	rec := Record{
		ID:        c.store.NextID(now),
		Nama:      fields.Nama,
		Telp:      fields.Telp,
		Foto:      foto,
		Status:    StatusPending,
		CreatedAt: now,
	}
	if err := c.store.Commit(ctx, Insert(rec)); err != nil {
		return Result{}, err
	}
	return Result{Record: rec, Created: true, Warnings: warnings}, nil
}

func (c *SubmissionController) check(fields submissionFields, s Submission) *ValidationError {
	if err := c.validate.Struct(fields); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			msg := MsgIncomplete
			if fe.Tag() == "digits" {
				msg = MsgPhoneDigits
			}
			return &ValidationError{Field: strings.ToLower(fe.Field()), Rule: fe.Tag(), Message: msg}
		}
		return &ValidationError{Field: "form", Rule: "invalid", Message: err.Error()}
	}
	if s.EditingID == 0 && s.Photo == nil {
		return &ValidationError{Field: "foto", Rule: "required", Message: MsgIncomplete}
	}
	return nil
}

// SubmitForm submits f and resets it on success. On failure the form keeps
// its contents.
func (c *SubmissionController) SubmitForm(ctx context.Context, f *Form) (Result, error) {
	res, err := c.Submit(ctx, f.Submission())
	if err != nil {
		return Result{}, err
	}
	c.Reset(f)
	return res, nil
}

// SetPhoto attaches a new photo to f, replacing and revoking any earlier
// preview. It returns the new preview token and its expiry.
func (c *SubmissionController) SetPhoto(ctx context.Context, f *Form, photo blob.File) (string, time.Time, error) {
	if c.previews == nil {
		f.Photo = &photo
		return "", time.Time{}, nil
	}
	token, exp, err := c.previews.Create(ctx, photo)
	if err != nil {
		return "", time.Time{}, err
	}
	if f.Preview != "" {
		c.previews.Revoke(f.Preview)
	}
	f.Photo = &photo
	f.Preview = token
	return token, exp, nil
}

// Reset clears f and releases its preview.
func (c *SubmissionController) Reset(f *Form) {
	if f.Preview != "" && c.previews != nil {
		c.previews.Revoke(f.Preview)
	}
	*f = Form{}
}

// BeginEdit loads record id into a fresh form. The photo stays empty; the
// stored one is kept unless a new one is set.
func (c *SubmissionController) BeginEdit(id int64) (*Form, error) {
	rec, ok := c.store.Get(id)
	if !ok {
		return nil, ErrNotFound
	}
	return &Form{Nama: rec.Nama, Telp: rec.Telp, EditingID: rec.ID}, nil
}
