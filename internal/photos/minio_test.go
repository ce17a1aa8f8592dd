package photos

import (
	"context"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	mclient "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/stretchr/testify/require"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// Integration tests against a real MinIO started with testcontainers-go.
//
//   GO_TEST_INTEGRATION=1 go test ./internal/photos -run Minio -v -count=1

const (
	minioRootUser     = "root"
	minioRootPassword = "rootpass"
	minioBucket       = "photos"
)

func startMinio(t *testing.T) MinioConfig {
	t.Helper()
	if os.Getenv("GO_TEST_INTEGRATION") == "" {
		t.Skip("integration tests are disabled (set GO_TEST_INTEGRATION=1)")
	}
	ctx := context.Background()
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: tc.ContainerRequest{
			Image: "docker.io/minio/minio:latest",
			Env: map[string]string{
				"MINIO_ROOT_USER":     minioRootUser,
				"MINIO_ROOT_PASSWORD": minioRootPassword,
			},
			Cmd:          []string{"server", "/data"},
			ExposedPorts: []string{"9000/tcp"},
			WaitingFor:   wait.ForListeningPort("9000/tcp").WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "9000/tcp")
	require.NoError(t, err)

	admin, err := mclient.New(host+":"+port.Port(), &mclient.Options{
		Creds: credentials.NewStaticV4(minioRootUser, minioRootPassword, ""),
	})
	require.NoError(t, err)
	require.NoError(t, admin.MakeBucket(ctx, minioBucket, mclient.MakeBucketOptions{Region: "us-east-1"}))

	return MinioConfig{
		Endpoint:      fmt.Sprintf("http://%s:%s", host, port.Port()),
		AccessKey:     minioRootUser,
		SecretKey:     minioRootPassword,
		Bucket:        minioBucket,
		PublicBaseURL: "http://cdn.local/",
	}
}

func TestMinioStorageSaveAndDelete(t *testing.T) {
	cfg := startMinio(t)
	ctx := context.Background()

	storage, err := NewMinioStorage(ctx, cfg)
	require.NoError(t, err)
	uploader, err := NewUploader(UploaderConfig{Storage: storage, MaxFiles: 5, MaxBytes: 1 << 20})
	require.NoError(t, err)

	references, err := uploader.SaveAll(ctx, []Upload{pngUpload("a.png")})
	require.NoError(t, err)
	require.Len(t, references, 1)
	require.True(t, strings.HasPrefix(references[0], "http://cdn.local/photos/"), references[0])

	key := strings.TrimPrefix(references[0], "http://cdn.local/")
	info, err := storage.client.StatObject(ctx, minioBucket, key, mclient.StatObjectOptions{})
	require.NoError(t, err)
	require.Equal(t, "image/png", info.ContentType)

	require.NoError(t, storage.Delete(ctx, references[0]))
	_, err = storage.client.StatObject(ctx, minioBucket, key, mclient.StatObjectOptions{})
	require.Error(t, err)

	require.Error(t, storage.Delete(ctx, "http://elsewhere/other.png"))
}

func TestMinioStorageRequiresBucket(t *testing.T) {
	cfg := startMinio(t)
	cfg.Bucket = "missing"
	_, err := NewMinioStorage(context.Background(), cfg)
	require.Error(t, err)

	_, err = NewMinioStorage(context.Background(), MinioConfig{})
	require.Error(t, err)
}
