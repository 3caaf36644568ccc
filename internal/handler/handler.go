package handler

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"absensi/internal/attendance"
	"absensi/internal/blob"
	"absensi/internal/transfer"
)

// Handler exposes the record store over HTTP.
type Handler struct {
	store     *attendance.RecordStore
	submit    *attendance.SubmissionController
	admin     *attendance.AdminController
	previews  *blob.Previews
	logger    *zap.Logger
	loc       *time.Location
	maxUpload int64
}

// Deps are the collaborators a Handler needs.
type Deps struct {
	Store     *attendance.RecordStore
	Submit    *attendance.SubmissionController
	Admin     *attendance.AdminController
	Previews  *blob.Previews
	Logger    *zap.Logger
	Location  *time.Location
	MaxUpload int64
}

func New(d Deps) *Handler {
	h := &Handler{
		store:     d.Store,
		submit:    d.Submit,
		admin:     d.Admin,
		previews:  d.Previews,
		logger:    d.Logger,
		loc:       d.Location,
		maxUpload: d.MaxUpload,
	}
	if h.logger == nil {
		h.logger = zap.NewNop()
	}
	if h.loc == nil {
		h.loc = time.UTC
	}
	if h.maxUpload <= 0 {
		h.maxUpload = 10 << 20
	}
	return h
}

// Register mounts every route under /api.
func (h *Handler) Register(r gin.IRouter) {
	api := r.Group("/api")
	{
		api.GET("/absensi", h.List)
		api.GET("/absensi/stats", h.Stats)
		api.POST("/absensi", h.limitBody, h.Create)
		api.DELETE("/absensi", h.ClearAll)
		api.PUT("/absensi/:id", h.limitBody, h.Update)
		api.PATCH("/absensi/:id/status", h.SetStatus)
		api.DELETE("/absensi/:id", h.Delete)
		api.GET("/absensi/:id/foto", h.Photo)

		api.GET("/export/:format", h.Export)
		api.POST("/import", h.limitBody, h.Import)

		api.POST("/previews", h.limitBody, h.CreatePreview)
		api.GET("/previews/:token", h.OpenPreview)
		api.DELETE("/previews/:token", h.RevokePreview)
	}
}

func (h *Handler) limitBody(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUpload)
	c.Next()
}

func (h *Handler) now() time.Time { return h.store.Now().In(h.loc) }

func idParam(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return 0, false
	}
	return id, true
}

// confirmer approves prompts when the request carries confirm=true and
// remembers the last prompt for the 409 body.
type confirmer struct {
	ok     bool
	prompt string
}

func queryConfirmer(c *gin.Context) *confirmer {
	ok, _ := strconv.ParseBool(c.Query("confirm"))
	return &confirmer{ok: ok}
}

func (q *confirmer) Confirm(prompt string) bool {
	q.prompt = prompt
	return q.ok
}

// writeError maps domain errors to status codes.
func (h *Handler) writeError(c *gin.Context, err error) {
	var (
		verr *attendance.ValidationError
		eerr *blob.EncodingError
		ferr *transfer.ImportFormatError
		merr *http.MaxBytesError
	)
	switch {
	case errors.As(err, &verr):
		c.JSON(http.StatusBadRequest, gin.H{"error": verr.Message, "field": verr.Field, "rule": verr.Rule})
	case errors.As(err, &eerr):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": eerr.Error()})
	case errors.As(err, &ferr):
		c.JSON(http.StatusBadRequest, gin.H{"error": ferr.Error()})
	case errors.As(err, &merr):
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "upload too large"})
	case errors.Is(err, transfer.ErrUnsupportedFormat):
		c.JSON(http.StatusUnsupportedMediaType, gin.H{"error": err.Error()})
	case errors.Is(err, attendance.ErrNotFound), errors.Is(err, blob.ErrPreviewNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, attendance.ErrInvalidStatus), errors.Is(err, attendance.ErrMergeNotAllowed):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		h.logger.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func (h *Handler) notConfirmed(c *gin.Context, q *confirmer) {
	c.JSON(http.StatusConflict, gin.H{"error": attendance.ErrNotConfirmed.Error(), "prompt": q.prompt})
}

// List returns the filtered, newest-first view.
func (h *Handler) List(c *gin.Context) {
	records := h.admin.List(c.Query("q"), c.DefaultQuery("status", attendance.FilterAll))
	c.JSON(http.StatusOK, gin.H{"data": records, "total": len(records)})
}

func (h *Handler) Stats(c *gin.Context) {
	c.JSON(http.StatusOK, h.admin.Stats())
}

// form reads the multipart request into an attendance form. Edits start
// from the stored record. A photo comes from the "foto" file or from a
// "preview" token created earlier; the token is released once the
// submission succeeds.
func (h *Handler) form(c *gin.Context, id int64) (*attendance.Form, error) {
	f := &attendance.Form{}
	if id != 0 {
		var err error
		if f, err = h.submit.BeginEdit(id); err != nil {
			return nil, err
		}
	}
	f.Nama = c.PostForm("nama")
	f.Telp = c.PostForm("telp")

	fh, err := c.FormFile("foto")
	switch {
	case err == nil:
		photo := blob.FromMultipart(fh)
		f.Photo = &photo
	case !errors.Is(err, http.ErrMissingFile) && !errors.Is(err, http.ErrNotMultipart):
		return nil, err
	}

	token := c.PostForm("preview")
	if token == "" || h.previews == nil {
		return f, nil
	}
	f.Preview = token
	if f.Photo == nil {
		mt, data, err := h.previews.Open(token)
		if err != nil {
			return nil, err
		}
		photo := blob.FromBytes("preview", mt, data)
		f.Photo = &photo
	}
	return f, nil
}

func (h *Handler) Create(c *gin.Context) {
	h.save(c, 0)
}

func (h *Handler) Update(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	h.save(c, id)
}

func (h *Handler) save(c *gin.Context, id int64) {
	f, err := h.form(c, id)
	if err != nil {
		h.writeError(c, err)
		return
	}
	res, err := h.submit.SubmitForm(c.Request.Context(), f)
	if err != nil {
		h.writeError(c, err)
		return
	}
	status := http.StatusOK
	if res.Created {
		status = http.StatusCreated
	}
	c.JSON(status, gin.H{"data": res.Record, "warnings": res.Warnings})
}

func (h *Handler) SetStatus(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	var req struct {
		Status string `json:"status" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	s, err := attendance.ParseStatus(req.Status)
	if err != nil {
		h.writeError(c, err)
		return
	}
	rec, err := h.admin.SetStatus(c.Request.Context(), id, s)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": rec})
}

func (h *Handler) Delete(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	q := queryConfirmer(c)
	err := h.admin.Delete(c.Request.Context(), id, q)
	if errors.Is(err, attendance.ErrNotConfirmed) {
		h.notConfirmed(c, q)
		return
	}
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) ClearAll(c *gin.Context) {
	q := queryConfirmer(c)
	err := h.admin.ClearAll(c.Request.Context(), q)
	if errors.Is(err, attendance.ErrNotConfirmed) {
		h.notConfirmed(c, q)
		return
	}
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Photo serves the stored photo, downscaled when w or h is given.
func (h *Handler) Photo(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	rec, found := h.store.Get(id)
	if !found {
		h.writeError(c, attendance.ErrNotFound)
		return
	}
	if !rec.HasPhoto() {
		c.JSON(http.StatusNotFound, gin.H{"error": "record has no photo"})
		return
	}
	w, _ := strconv.Atoi(c.Query("w"))
	ht, _ := strconv.Atoi(c.Query("h"))

	var (
		mt   string
		data []byte
		err  error
	)
	if w > 0 || ht > 0 {
		mt, data, err = blob.Thumbnail(rec.Foto, w, ht)
	} else {
		mt, data, err = blob.Decode(rec.Foto)
	}
	if err != nil {
		h.logger.Warn("render photo", zap.Int64("id", id), zap.Error(err))
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "stored photo is unreadable"})
		return
	}
	c.Header("Cache-Control", "private, max-age=60")
	c.Data(http.StatusOK, mt, data)
}

func (h *Handler) Export(c *gin.Context) {
	records := h.store.Records()
	now := h.now()

	var (
		art transfer.Artifact
		err error
	)
	switch strings.ToLower(c.Param("format")) {
	case "json":
		art, err = transfer.ExportJSON(records, now)
	case "pdf":
		art, err = transfer.ExportPDF(records, now)
	case "xlsx":
		art, err = transfer.ExportXLSX(records, now)
	default:
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown export format"})
		return
	}
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.Header("Content-Disposition", `attachment; filename="`+art.Filename+`"`)
	c.Data(http.StatusOK, art.ContentType, art.Data)
}

// Import parses an uploaded backup or report and applies it with the
// requested mode. Nothing changes without confirm=true.
func (h *Handler) Import(c *gin.Context) {
	mode, err := attendance.ParseImportMode(c.Query("mode"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	fh, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file field required"})
		return
	}
	f, err := fh.Open()
	if err != nil {
		h.writeError(c, err)
		return
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		h.writeError(c, err)
		return
	}

	batch, err := transfer.Import(fh.Filename, fh.Header.Get("Content-Type"), data, h.store, h.store.Now())
	if errors.Is(err, transfer.ErrNoDataFound) {
		c.JSON(http.StatusOK, gin.H{"found": 0, "imported": 0, "message": err.Error()})
		return
	}
	if err != nil {
		h.writeError(c, err)
		return
	}

	q := queryConfirmer(c)
	n, err := h.admin.ApplyImport(c.Request.Context(), batch, mode, q)
	if errors.Is(err, attendance.ErrNotConfirmed) {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "prompt": q.prompt, "found": len(batch.Records)})
		return
	}
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"format": batch.Format, "mode": mode, "found": len(batch.Records), "imported": n})
}

// CreatePreview stores an upload for display before submit. A "replaces"
// token names the preview this one supersedes, which is revoked.
func (h *Handler) CreatePreview(c *gin.Context) {
	fh, err := c.FormFile("foto")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "foto field required"})
		return
	}
	f := &attendance.Form{Preview: c.PostForm("replaces")}
	token, exp, err := h.submit.SetPhoto(c.Request.Context(), f, blob.FromMultipart(fh))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"token": token, "expiresAt": exp.UTC()})
}

func (h *Handler) OpenPreview(c *gin.Context) {
	mt, data, err := h.previews.Open(c.Param("token"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, mt, data)
}

func (h *Handler) RevokePreview(c *gin.Context) {
	if !h.previews.Revoke(c.Param("token")) {
		h.writeError(c, blob.ErrPreviewNotFound)
		return
	}
	c.Status(http.StatusNoContent)
}
