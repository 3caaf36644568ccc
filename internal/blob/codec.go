package blob

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// File is an uploaded binary waiting to be encoded.
type File struct {
	Name        string
	ContentType string
	Size        int64
	Open        func() (io.ReadCloser, error)
}

// FromBytes wraps an in-memory payload.
func FromBytes(name, contentType string, b []byte) File {
	return File{
		Name:        name,
		ContentType: contentType,
		Size:        int64(len(b)),
		Open: func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(b)), nil
		},
	}
}

// FromMultipart wraps a form upload.
func FromMultipart(fh *multipart.FileHeader) File {
	return File{
		Name:        fh.Filename,
		ContentType: fh.Header.Get("Content-Type"),
		Size:        fh.Size,
		Open: func() (io.ReadCloser, error) {
			f, err := fh.Open()
			if err != nil {
				return nil, err
			}
			return f, nil
		},
	}
}

var (
	ErrNotImage  = errors.New("file is not an image")
	ErrEmptyFile = errors.New("file is empty")
	ErrTooLarge  = errors.New("file exceeds size limit")
	ErrNoReader  = errors.New("file has no content")
	ErrNotData   = errors.New("not a base64 data URI")
)

// EncodingError means the file could not be turned into a data URI. The
// submission it belonged to is aborted and nothing is committed.
type EncodingError struct {
	Name string
	Err  error
}

func (e *EncodingError) Error() string {
	return fmt.Sprintf("encode %q: %v", e.Name, e.Err)
}

func (e *EncodingError) Unwrap() error { return e.Err }

// Codec converts image files to self-contained data URIs.
type Codec struct {
	MaxBytes int64
}

// DefaultMaxBytes bounds a single photo.
const DefaultMaxBytes = 5 << 20

func NewCodec(maxBytes int64) *Codec {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	return &Codec{MaxBytes: maxBytes}
}

// Encode reads f and returns "data:<mime>;base64,<payload>". A cancelled
// ctx discards the result.
func (c *Codec) Encode(ctx context.Context, f File) (string, error) {
	mt, data, err := c.Read(ctx, f)
	if err != nil {
		return "", err
	}
	return EncodeBytes(mt, data), nil
}

// EncodeBytes formats data as a data URI.
func EncodeBytes(mimeType string, data []byte) string {
	return "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data)
}

// Read loads f fully and resolves its image MIME type.
func (c *Codec) Read(ctx context.Context, f File) (string, []byte, error) {
	if err := ctx.Err(); err != nil {
		return "", nil, err
	}
	if f.Open == nil {
		return "", nil, &EncodingError{Name: f.Name, Err: ErrNoReader}
	}
	rc, err := f.Open()
	if err != nil {
		return "", nil, &EncodingError{Name: f.Name, Err: err}
	}
	defer rc.Close()

	limit := c.MaxBytes
	if limit <= 0 {
		limit = DefaultMaxBytes
	}
	data, err := io.ReadAll(io.LimitReader(rc, limit+1))
	if err != nil {
		return "", nil, &EncodingError{Name: f.Name, Err: err}
	}
	if err := ctx.Err(); err != nil {
		return "", nil, err
	}
	if int64(len(data)) > limit {
		return "", nil, &EncodingError{Name: f.Name, Err: ErrTooLarge}
	}
	if len(data) == 0 {
		return "", nil, &EncodingError{Name: f.Name, Err: ErrEmptyFile}
	}

	mt := imageType(f.ContentType)
	if mt == "" {
		mt = imageType(mimetype.Detect(data).String())
	}
	if mt == "" {
		return "", nil, &EncodingError{Name: f.Name, Err: ErrNotImage}
	}
	return mt, data, nil
}

// imageType returns the bare media type when ct names an image.
func imageType(ct string) string {
	if ct == "" {
		return ""
	}
	mt, _, err := mime.ParseMediaType(ct)
	if err != nil || !strings.HasPrefix(mt, "image/") {
		return ""
	}
	return mt
}

// Decode splits a base64 data URI into its MIME type and payload.
func Decode(uri string) (string, []byte, error) {
	rest, ok := strings.CutPrefix(uri, "data:")
	if !ok {
		return "", nil, ErrNotData
	}
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return "", nil, ErrNotData
	}
	mt, ok := strings.CutSuffix(meta, ";base64")
	if !ok {
		return "", nil, ErrNotData
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrNotData, err)
	}
	if mt == "" {
		mt = "application/octet-stream"
	}
	return mt, data, nil
}
