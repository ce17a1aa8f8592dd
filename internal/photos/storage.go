// Package photos stores the profile photos that accompany registration and profile
// updates. Backends return a public reference for each stored photo and can delete it
// again by that reference.
package photos

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	// ErrInvalidUpload indicates an empty, oversized or non-image upload.
	ErrInvalidUpload = errors.New("photos: invalid upload")
	// ErrTooManyFiles indicates more files than the configured limit.
	ErrTooManyFiles = errors.New("photos: too many files")
)

const sniffLen = 512

var imageExtensions = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/gif":  ".gif",
	"image/webp": ".webp",
}

// Upload is a single photo as received from a client.
type Upload struct {
	Filename string
	Size     int64
	Body     io.Reader
}

// Storage persists photos and returns their public reference.
type Storage interface {
	Save(ctx context.Context, object Object) (string, error)
	Delete(ctx context.Context, reference string) error
}

// Object is a validated upload ready to be written by a Storage.
type Object struct {
	Name        string
	ContentType string
	Size        int64
	Body        io.Reader
}

// UploaderConfig bounds what an Uploader accepts.
type UploaderConfig struct {
	Storage  Storage
	MaxFiles int
	MaxBytes int64
	Logger   *zap.Logger
}

// Uploader validates uploads and stores them as a unit.
type Uploader struct {
	storage  Storage
	maxFiles int
	maxBytes int64
	logger   *zap.Logger
}

// NewUploader validates cfg and constructs an Uploader.
func NewUploader(cfg UploaderConfig) (*Uploader, error) {
	if cfg.Storage == nil {
		return nil, fmt.Errorf("photos: storage is required")
	}
	if cfg.MaxFiles <= 0 {
		return nil, fmt.Errorf("photos: max files must be positive")
	}
	if cfg.MaxBytes <= 0 {
		return nil, fmt.Errorf("photos: max bytes must be positive")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Uploader{storage: cfg.Storage, maxFiles: cfg.MaxFiles, maxBytes: cfg.MaxBytes, logger: logger}, nil
}

// SaveAll stores every upload and returns their references in order. When any upload
// fails, the photos already stored by this call are deleted before returning.
func (u *Uploader) SaveAll(ctx context.Context, uploads []Upload) ([]string, error) {
	if len(uploads) > u.maxFiles {
		return nil, fmt.Errorf("%w: at most %d files", ErrTooManyFiles, u.maxFiles)
	}
	references := make([]string, 0, len(uploads))
	for _, upload := range uploads {
		object, err := u.prepare(upload)
		if err != nil {
			u.Discard(ctx, references)
			return nil, err
		}
		reference, err := u.storage.Save(ctx, object)
		if err != nil {
			u.Discard(ctx, references)
			return nil, err
		}
		references = append(references, reference)
	}
	return references, nil
}

// Discard deletes stored photos. Failures are logged and otherwise ignored.
func (u *Uploader) Discard(ctx context.Context, references []string) {
	for _, reference := range references {
		if err := u.storage.Delete(context.WithoutCancel(ctx), reference); err != nil {
			u.logger.Warn("photo cleanup failed", zap.String("reference", reference), zap.Error(err))
		}
	}
}

func (u *Uploader) prepare(upload Upload) (Object, error) {
	if upload.Body == nil || upload.Size <= 0 {
		return Object{}, fmt.Errorf("%w: %q is empty", ErrInvalidUpload, upload.Filename)
	}
	if upload.Size > u.maxBytes {
		return Object{}, fmt.Errorf("%w: %q exceeds %d bytes", ErrInvalidUpload, upload.Filename, u.maxBytes)
	}

	reader := bufio.NewReaderSize(upload.Body, sniffLen)
	head, err := reader.Peek(sniffLen)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, bufio.ErrBufferFull) {
		return Object{}, fmt.Errorf("photos: read %q: %w", upload.Filename, err)
	}
	contentType := http.DetectContentType(head)
	extension, ok := imageExtensions[contentType]
	if !ok {
		return Object{}, fmt.Errorf("%w: %q is %s, not an image", ErrInvalidUpload, upload.Filename, contentType)
	}

	return Object{
		Name:        uuid.NewString() + extension,
		ContentType: contentType,
		Size:        upload.Size,
		Body:        io.LimitReader(reader, upload.Size),
	}, nil
}
