package attendance

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"absensi/internal/blob"
	"absensi/internal/store"
)

func newSubmission(t *testing.T) (*SubmissionController, *RecordStore, *blob.Previews) {
	t.Helper()
	s := newTestStore(t, nil)
	codec := blob.NewCodec(0)
	previews := blob.NewPreviews(codec, []byte("secret"), time.Minute)
	return NewSubmissionController(s, codec, previews, nil), s, previews
}

func TestSubmitCreatesPendingRecord(t *testing.T) {
	c, s, _ := newSubmission(t)
	res, err := c.Submit(context.Background(), Submission{Nama: " Ani ", Telp: "081234567", Photo: photo(t)})
	require.NoError(t, err)

	assert.True(t, res.Created)
	assert.Empty(t, res.Warnings)
	assert.Equal(t, "Ani", res.Record.Nama)
	assert.Equal(t, StatusPending, res.Record.Status)
	assert.True(t, strings.HasPrefix(res.Record.Foto, "data:image/png;base64,"))
	assert.Equal(t, res.Record.CreatedAt, CreatedAtFromID(res.Record.ID))
	assert.Equal(t, []Record{res.Record}, s.Records())
}

func TestSubmitValidationOrder(t *testing.T) {
	cases := []struct {
		name  string
		sub   Submission
		field string
		rule  string
		msg   string
	}{
		{"empty name", Submission{Nama: "  ", Telp: "abc"}, "nama", "required", MsgIncomplete},
		{"empty phone", Submission{Nama: "Ani", Telp: ""}, "telp", "required", MsgIncomplete},
		{"letters in phone", Submission{Nama: "Ani", Telp: "08a1"}, "telp", "digits", MsgPhoneDigits},
		{"plus sign", Submission{Nama: "Ani", Telp: "+62812"}, "telp", "digits", MsgPhoneDigits},
		{"missing photo", Submission{Nama: "Ani", Telp: "0812"}, "foto", "required", MsgIncomplete},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c, s, _ := newSubmission(t)
			_, err := c.Submit(context.Background(), tc.sub)
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tc.field, verr.Field)
			assert.Equal(t, tc.rule, verr.Rule)
			assert.Equal(t, tc.msg, verr.Message)
			assert.Empty(t, s.Records())
		})
	}
}

func TestSubmitShortPhoneWarns(t *testing.T) {
	c, _, _ := newSubmission(t)
	res, err := c.Submit(context.Background(), Submission{Nama: "Ani", Telp: "0812", Photo: photo(t)})
	require.NoError(t, err)
	assert.Equal(t, []string{WarnPhoneLength}, res.Warnings)
}

func TestSubmitEncodingFailureCommitsNothing(t *testing.T) {
	c, s, _ := newSubmission(t)
	bad := blob.FromBytes("notes.txt", "text/plain", []byte("not an image"))
	_, err := c.Submit(context.Background(), Submission{Nama: "Ani", Telp: "0812", Photo: &bad})

	var encErr *blob.EncodingError
	require.ErrorAs(t, err, &encErr)
	assert.Empty(t, s.Records())
}

func TestSubmitEditKeepsPhotoWhenNoneGiven(t *testing.T) {
	ctx := context.Background()
	c, s, _ := newSubmission(t)
	seed(t, s, Record{ID: 5, Nama: "Ani", Telp: "0812", Foto: "data:image/png;base64,AA==", Status: StatusAccepted, CreatedAt: testNow})

	res, err := c.Submit(ctx, Submission{Nama: "Ani S", Telp: "0812", EditingID: 5})
	require.NoError(t, err)
	assert.False(t, res.Created)

	got, ok := s.Get(5)
	require.True(t, ok)
	assert.Equal(t, "Ani S", got.Nama)
	assert.Equal(t, "data:image/png;base64,AA==", got.Foto)
	assert.Equal(t, StatusAccepted, got.Status)
	assert.Equal(t, testNow, got.CreatedAt)
	assert.Equal(t, 1, s.Len())
}

func TestSubmitEditReplacesPhoto(t *testing.T) {
	c, s, _ := newSubmission(t)
	seed(t, s, Record{ID: 5, Nama: "Ani", Telp: "0812", Foto: "data:image/png;base64,AA=="})

	_, err := c.Submit(context.Background(), Submission{Nama: "Ani", Telp: "0812", EditingID: 5, Photo: photo(t)})
	require.NoError(t, err)
	got, _ := s.Get(5)
	assert.NotEqual(t, "data:image/png;base64,AA==", got.Foto)
}

type encoderFunc func(ctx context.Context, f blob.File) (string, error)

func (fn encoderFunc) Encode(ctx context.Context, f blob.File) (string, error) { return fn(ctx, f) }

func TestSubmitEditKeepsStatusChangedDuringEncoding(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, nil)
	seed(t, s, Record{ID: 5, Nama: "Ani", Telp: "0812", Foto: "data:image/png;base64,AQ==", Status: StatusPending, CreatedAt: testNow})

	admin := NewAdminController(s)
	enc := encoderFunc(func(ctx context.Context, _ blob.File) (string, error) {
		_, err := admin.SetStatus(ctx, 5, StatusAccepted)
		require.NoError(t, err)
		return "data:image/png;base64,AA==", nil
	})
	c := NewSubmissionController(s, enc, nil, nil)

	res, err := c.Submit(ctx, Submission{Nama: "Ani S", Telp: "0812", EditingID: 5, Photo: photo(t)})
	require.NoError(t, err)

	got, ok := s.Get(5)
	require.True(t, ok)
	assert.Equal(t, StatusAccepted, got.Status)
	assert.Equal(t, "Ani S", got.Nama)
	assert.Equal(t, "data:image/png;base64,AA==", got.Foto)
	assert.Equal(t, got, res.Record)
}

func TestSubmitEditUnknownID(t *testing.T) {
	c, _, _ := newSubmission(t)
	_, err := c.Submit(context.Background(), Submission{Nama: "Ani", Telp: "0812", EditingID: 404})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSubmitPersistFailureSurfaces(t *testing.T) {
	kv := store.NewMemory()
	s := newTestStore(t, kv)
	c := NewSubmissionController(s, blob.NewCodec(0), nil, nil)
	kv.FailWrites = assert.AnError

	_, err := c.Submit(context.Background(), Submission{Nama: "Ani", Telp: "0812", Photo: photo(t)})
	assert.ErrorIs(t, err, assert.AnError)
	assert.Empty(t, s.Records())
}

func TestFormPreviewLifecycle(t *testing.T) {
	ctx := context.Background()
	c, s, previews := newSubmission(t)
	f := &Form{Nama: "Ani", Telp: "08123456789"}

	first, _, err := c.SetPhoto(ctx, f, *photo(t))
	require.NoError(t, err)
	second, _, err := c.SetPhoto(ctx, f, *photo(t))
	require.NoError(t, err)

	_, _, err = previews.Open(first)
	assert.ErrorIs(t, err, blob.ErrPreviewNotFound, "superseded preview must be revoked")
	_, _, err = previews.Open(second)
	require.NoError(t, err)

	res, err := c.SubmitForm(ctx, f)
	require.NoError(t, err)
	assert.True(t, res.Created)
	assert.Equal(t, Form{}, *f)
	assert.Equal(t, 0, previews.Len())
	assert.Equal(t, 1, s.Len())
}

func TestSubmitFormKeepsStateOnFailure(t *testing.T) {
	c, _, previews := newSubmission(t)
	f := &Form{Nama: "Ani", Telp: "08x"}
	_, _, err := c.SetPhoto(context.Background(), f, *photo(t))
	require.NoError(t, err)

	_, err = c.SubmitForm(context.Background(), f)
	require.Error(t, err)
	assert.Equal(t, "Ani", f.Nama)
	assert.NotEmpty(t, f.Preview)
	assert.Equal(t, 1, previews.Len())

	c.Reset(f)
	assert.Equal(t, 0, previews.Len())
}

func TestBeginEdit(t *testing.T) {
	c, s, _ := newSubmission(t)
	seed(t, s, Record{ID: 5, Nama: "Ani", Telp: "0812", Foto: "data:image/png;base64,AA=="})

	f, err := c.BeginEdit(5)
	require.NoError(t, err)
	assert.Equal(t, &Form{Nama: "Ani", Telp: "0812", EditingID: 5}, f)
	assert.True(t, f.Editing())

	_, err = c.BeginEdit(6)
	assert.ErrorIs(t, err, ErrNotFound)
}
