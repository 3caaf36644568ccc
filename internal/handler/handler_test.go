package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"absensi/internal/attendance"
	"absensi/internal/blob"
	"absensi/internal/store"
	"absensi/internal/transfer"
)

var testNow = time.Date(2024, 3, 15, 9, 30, 0, 0, time.UTC)

type fixture struct {
	router   *gin.Engine
	store    *attendance.RecordStore
	previews *blob.Previews
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	st := attendance.NewRecordStore(context.Background(), store.NewMemory(),
		attendance.WithClock(func() time.Time { return testNow }))
	codec := blob.NewCodec(0)
	previews := blob.NewPreviews(codec, []byte("test-secret"), time.Minute)
	h := New(Deps{
		Store:    st,
		Submit:   attendance.NewSubmissionController(st, codec, previews, zap.NewNop()),
		Admin:    attendance.NewAdminController(st),
		Previews: previews,
	})
	r := gin.New()
	h.Register(r)
	return &fixture{router: r, store: st, previews: previews}
}

func (f *fixture) do(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func (f *fixture) seed(t *testing.T, records ...attendance.Record) {
	t.Helper()
	require.NoError(t, f.store.Commit(context.Background(), attendance.ReplaceAll(records)))
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 4, 4))))
	return buf.Bytes()
}

// form builds a multipart request. A nil file skips the file part.
func form(t *testing.T, method, target string, fields map[string]string, fileField, filename string, file []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if file != nil {
		fw, err := mw.CreateFormFile(fileField, filename)
		require.NoError(t, err)
		_, err = fw.Write(file)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	req := httptest.NewRequest(method, target, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestCreateRecord(t *testing.T) {
	f := newFixture(t)

	w := f.do(form(t, http.MethodPost, "/api/absensi",
		map[string]string{"nama": " Ani ", "telp": "0812"}, "foto", "selfie.png", pngBytes(t)))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	body := decode(t, w)
	data := body["data"].(map[string]any)
	assert.Equal(t, "Ani", data["nama"])
	assert.Equal(t, "Menunggu", data["status"])
	assert.Contains(t, data["foto"], "data:image/png;base64,")
	assert.Equal(t, []any{attendance.WarnPhoneLength}, body["warnings"])
	assert.Equal(t, 1, f.store.Len())
}

func TestCreateRecordValidation(t *testing.T) {
	f := newFixture(t)

	cases := []struct {
		name   string
		fields map[string]string
		file   []byte
		field  string
		status int
	}{
		{"missing name", map[string]string{"telp": "08123456789"}, pngBytes(t), "nama", http.StatusBadRequest},
		{"letters in phone", map[string]string{"nama": "Ani", "telp": "08-12"}, pngBytes(t), "telp", http.StatusBadRequest},
		{"missing photo", map[string]string{"nama": "Ani", "telp": "08123456789"}, nil, "foto", http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := f.do(form(t, http.MethodPost, "/api/absensi", tc.fields, "foto", "a.png", tc.file))
			require.Equal(t, tc.status, w.Code, w.Body.String())
			assert.Equal(t, tc.field, decode(t, w)["field"])
		})
	}
	assert.Zero(t, f.store.Len())
}

func TestCreateRecordRejectsNonImage(t *testing.T) {
	f := newFixture(t)

	w := f.do(form(t, http.MethodPost, "/api/absensi",
		map[string]string{"nama": "Ani", "telp": "08123456789"}, "foto", "notes.txt", []byte("hello")))
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Zero(t, f.store.Len())
}

func TestCreateRecordFromPreview(t *testing.T) {
	f := newFixture(t)

	w := f.do(form(t, http.MethodPost, "/api/previews", nil, "foto", "a.png", pngBytes(t)))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	token := decode(t, w)["token"].(string)

	w = f.do(httptest.NewRequest(http.MethodGet, "/api/previews/"+token, nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/png", w.Header().Get("Content-Type"))

	w = f.do(form(t, http.MethodPost, "/api/absensi",
		map[string]string{"nama": "Ani", "telp": "08123456789", "preview": token}, "", "", nil))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Zero(t, f.previews.Len())

	w = f.do(httptest.NewRequest(http.MethodDelete, "/api/previews/"+token, nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestPreviewReplacesEarlierOne(t *testing.T) {
	f := newFixture(t)

	w := f.do(form(t, http.MethodPost, "/api/previews", nil, "foto", "a.png", pngBytes(t)))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	first := decode(t, w)["token"].(string)

	w = f.do(form(t, http.MethodPost, "/api/previews", map[string]string{"replaces": first}, "foto", "b.png", pngBytes(t)))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	second := decode(t, w)["token"].(string)
	assert.NotEqual(t, first, second)
	assert.Equal(t, 1, f.previews.Len())

	w = f.do(httptest.NewRequest(http.MethodGet, "/api/previews/"+first, nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = f.do(httptest.NewRequest(http.MethodGet, "/api/previews/"+second, nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestUpdateUnknownRecordFromPreviewKeepsPreview(t *testing.T) {
	f := newFixture(t)

	w := f.do(form(t, http.MethodPost, "/api/previews", nil, "foto", "a.png", pngBytes(t)))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	token := decode(t, w)["token"].(string)

	w = f.do(form(t, http.MethodPut, "/api/absensi/42",
		map[string]string{"nama": "Ani", "telp": "0812345678", "preview": token}, "", "", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, 1, f.previews.Len())
}

func TestUpdateRecordKeepsPhotoAndStatus(t *testing.T) {
	f := newFixture(t)
	f.seed(t, attendance.Record{ID: 5, Nama: "Ani", Telp: "0812345678", Foto: "data:image/png;base64,AA==",
		Status: attendance.StatusAccepted, CreatedAt: testNow})

	w := f.do(form(t, http.MethodPut, "/api/absensi/5",
		map[string]string{"nama": "Ani Lestari", "telp": "0812345678"}, "", "", nil))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	rec, ok := f.store.Get(5)
	require.True(t, ok)
	assert.Equal(t, "Ani Lestari", rec.Nama)
	assert.Equal(t, "data:image/png;base64,AA==", rec.Foto)
	assert.Equal(t, attendance.StatusAccepted, rec.Status)

	w = f.do(form(t, http.MethodPut, "/api/absensi/99",
		map[string]string{"nama": "X", "telp": "0812345678"}, "", "", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = f.do(form(t, http.MethodPut, "/api/absensi/abc", nil, "", "", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestListFiltersAndSorts(t *testing.T) {
	f := newFixture(t)
	f.seed(t,
		attendance.Record{ID: 1, Nama: "Ani", Telp: "0811", Status: attendance.StatusPending, CreatedAt: testNow},
		attendance.Record{ID: 3, Nama: "Budi", Telp: "0822", Status: attendance.StatusAccepted, CreatedAt: testNow},
		attendance.Record{ID: 2, Nama: "ANI Wulan", Telp: "0833", Status: attendance.StatusAccepted, CreatedAt: testNow},
	)

	w := f.do(httptest.NewRequest(http.MethodGet, "/api/absensi", nil))
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.EqualValues(t, 3, body["total"])
	data := body["data"].([]any)
	assert.EqualValues(t, 3, data[0].(map[string]any)["id"])

	w = f.do(httptest.NewRequest(http.MethodGet, "/api/absensi?q=ani&status=Diterima", nil))
	body = decode(t, w)
	require.EqualValues(t, 1, body["total"])
	assert.Equal(t, "ANI Wulan", body["data"].([]any)[0].(map[string]any)["nama"])

	w = f.do(httptest.NewRequest(http.MethodGet, "/api/absensi/stats", nil))
	require.Equal(t, http.StatusOK, w.Code)
	stats := decode(t, w)
	assert.EqualValues(t, 3, stats["total"])
	assert.EqualValues(t, 2, stats["byStatus"].(map[string]any)["Diterima"])
}

func TestSetStatus(t *testing.T) {
	f := newFixture(t)
	f.seed(t, attendance.Record{ID: 7, Nama: "Ani", Telp: "0811", Status: attendance.StatusPending, CreatedAt: testNow})

	patch := func(id, body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPatch, "/api/absensi/"+id+"/status", bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
		return f.do(req)
	}

	w := patch("7", `{"status":"ditolak"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	rec, _ := f.store.Get(7)
	assert.Equal(t, attendance.StatusRejected, rec.Status)

	assert.Equal(t, http.StatusBadRequest, patch("7", `{"status":"Hadir"}`).Code)
	assert.Equal(t, http.StatusBadRequest, patch("7", `{}`).Code)
	assert.Equal(t, http.StatusNotFound, patch("8", `{"status":"Diterima"}`).Code)
}

func TestDeleteRequiresConfirmation(t *testing.T) {
	f := newFixture(t)
	f.seed(t,
		attendance.Record{ID: 1, Nama: "Ani", Telp: "0811", CreatedAt: testNow},
		attendance.Record{ID: 2, Nama: "Budi", Telp: "0822", CreatedAt: testNow},
	)

	w := f.do(httptest.NewRequest(http.MethodDelete, "/api/absensi/1", nil))
	require.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, attendance.PromptDelete, decode(t, w)["prompt"])
	assert.Equal(t, 2, f.store.Len())

	w = f.do(httptest.NewRequest(http.MethodDelete, "/api/absensi/1?confirm=true", nil))
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, 1, f.store.Len())

	w = f.do(httptest.NewRequest(http.MethodDelete, "/api/absensi/1?confirm=true", nil))
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, 1, f.store.Len())

	w = f.do(httptest.NewRequest(http.MethodDelete, "/api/absensi", nil))
	require.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, attendance.PromptClearAll, decode(t, w)["prompt"])

	w = f.do(httptest.NewRequest(http.MethodDelete, "/api/absensi?confirm=1", nil))
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Zero(t, f.store.Len())
}

func TestPhoto(t *testing.T) {
	f := newFixture(t)
	f.seed(t,
		attendance.Record{ID: 1, Nama: "Ani", Telp: "0811", Foto: blob.EncodeBytes("image/png", pngBytes(t)), CreatedAt: testNow},
		attendance.Record{ID: 2, Nama: "Budi", Telp: "0822", CreatedAt: testNow},
	)

	w := f.do(httptest.NewRequest(http.MethodGet, "/api/absensi/1/foto", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/png", w.Header().Get("Content-Type"))
	assert.Equal(t, pngBytes(t), w.Body.Bytes())

	w = f.do(httptest.NewRequest(http.MethodGet, "/api/absensi/1/foto?w=2", nil))
	require.Equal(t, http.StatusOK, w.Code)
	img, err := png.Decode(w.Body)
	require.NoError(t, err)
	assert.Equal(t, 2, img.Bounds().Dx())

	assert.Equal(t, http.StatusNotFound, f.do(httptest.NewRequest(http.MethodGet, "/api/absensi/2/foto", nil)).Code)
	assert.Equal(t, http.StatusNotFound, f.do(httptest.NewRequest(http.MethodGet, "/api/absensi/3/foto", nil)).Code)
}

func TestExport(t *testing.T) {
	f := newFixture(t)
	f.seed(t, attendance.Record{ID: 1, Nama: "Ani", Telp: "0811", Status: attendance.StatusPending, CreatedAt: testNow})

	cases := []struct {
		format string
		ct     string
		file   string
	}{
		{"json", transfer.ContentTypeJSON, "absensi_backup_15-03-2024.json"},
		{"pdf", transfer.ContentTypePDF, "laporan_absensi_15-03-2024.pdf"},
		{"xlsx", transfer.ContentTypeXLSX, "laporan_absensi_15-03-2024.xlsx"},
	}
	for _, tc := range cases {
		t.Run(tc.format, func(t *testing.T) {
			w := f.do(httptest.NewRequest(http.MethodGet, "/api/export/"+tc.format, nil))
			require.Equal(t, http.StatusOK, w.Code)
			assert.Equal(t, tc.ct, w.Header().Get("Content-Type"))
			assert.Equal(t, `attachment; filename="`+tc.file+`"`, w.Header().Get("Content-Disposition"))
			assert.NotEmpty(t, w.Body.Bytes())
		})
	}

	assert.Equal(t, http.StatusNotFound, f.do(httptest.NewRequest(http.MethodGet, "/api/export/csv", nil)).Code)
}

func TestImportJSON(t *testing.T) {
	f := newFixture(t)
	f.seed(t, attendance.Record{ID: 9, Nama: "Lama", Telp: "0899", CreatedAt: testNow})
	backup := []byte(`[{"id":1,"nama":"Ani","telp":"0811","foto":null,"status":"Diterima","createdAt":"2024-03-01T08:00:00Z"}]`)

	w := f.do(form(t, http.MethodPost, "/api/import", nil, "file", "backup.json", backup))
	require.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, attendance.PromptReplace, decode(t, w)["prompt"])
	assert.Equal(t, 1, f.store.Len())

	w = f.do(form(t, http.MethodPost, "/api/import?mode=merge&confirm=true", nil, "file", "backup.json", backup))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(form(t, http.MethodPost, "/api/import?confirm=true", nil, "file", "backup.json", backup))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.EqualValues(t, 1, decode(t, w)["imported"])
	rec, ok := f.store.Get(1)
	require.True(t, ok)
	assert.Equal(t, attendance.StatusAccepted, rec.Status)
	_, ok = f.store.Get(9)
	assert.False(t, ok)
}

func TestImportErrors(t *testing.T) {
	f := newFixture(t)

	w := f.do(form(t, http.MethodPost, "/api/import?confirm=true", nil, "file", "backup.json", []byte(`{"id":1}`)))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(form(t, http.MethodPost, "/api/import?confirm=true", nil, "file", "data.csv", []byte("a,b")))
	assert.Equal(t, http.StatusUnsupportedMediaType, w.Code)

	w = f.do(form(t, http.MethodPost, "/api/import?mode=append", nil, "file", "backup.json", []byte(`[]`)))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(form(t, http.MethodPost, "/api/import", nil, "", "", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestImportPDFMerge(t *testing.T) {
	f := newFixture(t)
	existing := attendance.Record{ID: 9, Nama: "Lama", Telp: "0899", Status: attendance.StatusAccepted, CreatedAt: testNow}
	f.seed(t, existing)

	art, err := transfer.ExportPDF([]attendance.Record{
		{ID: 1, Nama: "Ani Lestari", Telp: "081234567", Status: attendance.StatusPending, CreatedAt: testNow},
		{ID: 2, Nama: "Budi", Telp: "082233445", Status: attendance.StatusPending, CreatedAt: testNow},
	}, testNow)
	require.NoError(t, err)

	w := f.do(form(t, http.MethodPost, "/api/import?mode=merge", nil, "file", art.Filename, art.Data))
	require.Equal(t, http.StatusConflict, w.Code, w.Body.String())
	body := decode(t, w)
	assert.Equal(t, "Ditemukan 2 data dari PDF. Gabungkan dengan data yang ada?", body["prompt"])

	w = f.do(form(t, http.MethodPost, "/api/import?mode=merge&confirm=true", nil, "file", art.Filename, art.Data))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, 3, f.store.Len())
	rec, ok := f.store.Get(9)
	require.True(t, ok)
	assert.Equal(t, existing.Nama, rec.Nama)
}

func TestIDParam(t *testing.T) {
	f := newFixture(t)
	for _, id := range []string{"0", "-1", "x", "1e3"} {
		w := f.do(httptest.NewRequest(http.MethodDelete, "/api/absensi/"+id+"?confirm=true", nil))
		assert.Equal(t, http.StatusBadRequest, w.Code, id)
	}
}
