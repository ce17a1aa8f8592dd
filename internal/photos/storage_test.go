package photos

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

func pngUpload(name string) Upload {
	body := append(append([]byte{}, pngHeader...), bytes.Repeat([]byte{0x01}, 32)...)
	return Upload{Filename: name, Size: int64(len(body)), Body: bytes.NewReader(body)}
}

func newLocalUploader(t *testing.T, maxFiles int) (*Uploader, *LocalStorage) {
	t.Helper()
	storage, err := NewLocalStorage(filepath.Join(t.TempDir(), "uploads"), "/uploads")
	require.NoError(t, err)
	uploader, err := NewUploader(UploaderConfig{Storage: storage, MaxFiles: maxFiles, MaxBytes: 1024})
	require.NoError(t, err)
	return uploader, storage
}

func storedFiles(t *testing.T, storage *LocalStorage) []string {
	t.Helper()
	entries, err := os.ReadDir(storage.Dir())
	require.NoError(t, err)
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		names = append(names, entry.Name())
	}
	return names
}

func TestUploaderSavesImagesLocally(t *testing.T) {
	uploader, storage := newLocalUploader(t, 5)

	references, err := uploader.SaveAll(context.Background(), []Upload{pngUpload("a.png"), pngUpload("b.png")})
	require.NoError(t, err)
	require.Len(t, references, 2)
	for _, reference := range references {
		require.True(t, strings.HasPrefix(reference, "/uploads/"), reference)
		require.True(t, strings.HasSuffix(reference, ".png"), reference)
	}
	require.NotEqual(t, references[0], references[1])
	require.Len(t, storedFiles(t, storage), 2)

	content, err := os.ReadFile(filepath.Join(storage.Dir(), filepath.Base(references[0])))
	require.NoError(t, err)
	require.True(t, bytes.HasPrefix(content, pngHeader))
}

func TestUploaderRejectsInvalidUploads(t *testing.T) {
	uploader, storage := newLocalUploader(t, 2)
	ctx := context.Background()

	_, err := uploader.SaveAll(ctx, []Upload{pngUpload("a"), pngUpload("b"), pngUpload("c")})
	require.ErrorIs(t, err, ErrTooManyFiles)

	text := []byte("plain text is not a photo")
	_, err = uploader.SaveAll(ctx, []Upload{{Filename: "notes.txt", Size: int64(len(text)), Body: bytes.NewReader(text)}})
	require.ErrorIs(t, err, ErrInvalidUpload)

	_, err = uploader.SaveAll(ctx, []Upload{{Filename: "huge.png", Size: 4096, Body: bytes.NewReader(pngHeader)}})
	require.ErrorIs(t, err, ErrInvalidUpload)

	_, err = uploader.SaveAll(ctx, []Upload{{Filename: "empty.png"}})
	require.ErrorIs(t, err, ErrInvalidUpload)

	require.Empty(t, storedFiles(t, storage))
}

func TestUploaderRemovesStoredPhotosWhenLaterUploadFails(t *testing.T) {
	uploader, storage := newLocalUploader(t, 5)
	text := []byte("not an image")

	_, err := uploader.SaveAll(context.Background(), []Upload{
		pngUpload("first.png"),
		{Filename: "second.txt", Size: int64(len(text)), Body: bytes.NewReader(text)},
	})
	require.ErrorIs(t, err, ErrInvalidUpload)
	require.Empty(t, storedFiles(t, storage))
}

func TestDiscardDeletesStoredPhotos(t *testing.T) {
	uploader, storage := newLocalUploader(t, 5)
	references, err := uploader.SaveAll(context.Background(), []Upload{pngUpload("a.png")})
	require.NoError(t, err)

	uploader.Discard(context.Background(), references)
	require.Empty(t, storedFiles(t, storage))

	require.NoError(t, storage.Delete(context.Background(), references[0]))
}

type brokenStorage struct{}

func (brokenStorage) Save(context.Context, Object) (string, error) {
	return "", errors.New("disk full")
}

func (brokenStorage) Delete(context.Context, string) error {
	return errors.New("disk gone")
}

func TestDiscardLogsFailures(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	uploader, err := NewUploader(UploaderConfig{Storage: brokenStorage{}, MaxFiles: 1, MaxBytes: 1024, Logger: zap.New(core)})
	require.NoError(t, err)

	uploader.Discard(context.Background(), []string{"/uploads/x.png"})
	require.Equal(t, 1, logs.FilterMessage("photo cleanup failed").Len())

	_, err = uploader.SaveAll(context.Background(), []Upload{{Filename: "a.png", Size: int64(len(pngHeader)), Body: bytes.NewReader(pngHeader)}})
	require.EqualError(t, err, "disk full")
}

func TestUploaderConfigValidation(t *testing.T) {
	_, err := NewUploader(UploaderConfig{})
	require.Error(t, err)
	_, err = NewUploader(UploaderConfig{Storage: brokenStorage{}, MaxFiles: 0, MaxBytes: 1})
	require.Error(t, err)
	_, err = NewLocalStorage(t.TempDir(), "uploads")
	require.Error(t, err)
}
