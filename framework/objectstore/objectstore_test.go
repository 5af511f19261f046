package objectstore

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type memStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	failOn  string
}

func newMemStore() *memStore {
	return &memStore{objects: map[string][]byte{}}
}

func (m *memStore) Put(_ context.Context, key string, body io.Reader, size int64) (Object, error) {
	if m.failOn != "" && strings.HasSuffix(key, m.failOn) {
		return Object{}, errors.New("quota exceeded")
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return Object{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = data
	return Object{Key: key, Size: size}, nil
}

func (m *memStore) Open(_ context.Context, key string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[key]
	if !ok {
		return nil, errors.Wrap(ErrNotFound, key)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *memStore) List(_ context.Context, prefix string) ([]Object, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Object
	for key, data := range m.objects {
		if strings.HasPrefix(key, prefix) {
			out = append(out, Object{Key: key, Size: int64(len(data))})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (m *memStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	return nil
}

func (m *memStore) Close() error { return nil }

func TestNormalizeProvider(t *testing.T) {
	cases := map[string]string{
		"AWS":    "s3",
		" s3 ":   "s3",
		"minio":  "minio",
		"gcp":    "gcs",
		"google": "gcs",
		"blob":   "azure",
		"azblob": "azure",
		"ftp":    "ftp",
		"":       "",
	}
	for in, want := range cases {
		assert.Equal(t, want, NormalizeProvider(in), in)
	}
}

func TestResolveKey(t *testing.T) {
	assert.Equal(t, "runs/r1/results.json", ResolveKey("runs/", "/r1/results.json"))
	assert.Equal(t, "runs/r1", ResolveKey("/runs/", "r1"))
	assert.Equal(t, "results.json", ResolveKey("", "results.json"))
	assert.Equal(t, "runs", ResolveKey("runs", ""))
}

func TestNewValidates(t *testing.T) {
	_, err := New(context.Background(), Config{Bucket: "b"})
	assert.EqualError(t, err, "objectstore provider is required")

	_, err = New(context.Background(), Config{Provider: "s3"})
	assert.EqualError(t, err, "objectstore bucket is required")

	_, err = New(context.Background(), Config{Provider: "ftp", Bucket: "b"})
	assert.EqualError(t, err, "unsupported objectstore provider: ftp")

	_, err = New(context.Background(), Config{Provider: "minio", Bucket: "b"})
	assert.EqualError(t, err, "minio endpoint is required")

	assert.False(t, Config{Provider: "s3"}.Enabled())
	assert.True(t, Config{Provider: "s3", Bucket: "b"}.Enabled())
}

func TestMinioEndpoint(t *testing.T) {
	host, secure, err := minioEndpoint("http://10.0.0.5:9000/")
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.5:9000", host)
	assert.False(t, secure)

	host, secure, err = minioEndpoint("https://minio.lab")
	require.NoError(t, err)
	assert.Equal(t, "minio.lab", host)
	assert.True(t, secure)

	host, secure, err = minioEndpoint("minio.lab:9000")
	require.NoError(t, err)
	assert.Equal(t, "minio.lab:9000", host)
	assert.True(t, secure)

	_, _, err = minioEndpoint("ftp://minio.lab")
	assert.Error(t, err)
}

func TestAzureContainerURL(t *testing.T) {
	u, err := azureContainerURL(Config{Bucket: "runs", AzureAccount: "qa"})
	require.NoError(t, err)
	assert.Equal(t, "https://qa.blob.core.windows.net/runs", u)

	u, err = azureContainerURL(Config{Bucket: "runs", AzureEndpoint: "http://127.0.0.1:10000/devstore/", AzureSASToken: "?sv=1&sig=x"})
	require.NoError(t, err)
	assert.Equal(t, "http://127.0.0.1:10000/devstore/runs?sv=1&sig=x", u)

	_, err = azureContainerURL(Config{Bucket: "runs"})
	assert.Error(t, err)
}

func TestGCSOptions(t *testing.T) {
	assert.Empty(t, gcsOptions(Config{}))
	assert.Len(t, gcsOptions(Config{GCPCredentialsJSON: "{}", GCPCredentialsFile: "ignored.json", GCPProject: "qa"}), 2)
}

func TestUploadFilesAndDownload(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "fw-check"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "results.json"), []byte(`{"tests":[]}`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "fw-check", "steps.log"), []byte("step 1 passed\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "metrics.prom"), []byte("uut_tests_total 1\n"), 0o644))

	store := newMemStore()
	store.failOn = "metrics.prom"
	files := []string{"fw-check/steps.log", "metrics.prom", "results.json"}
	uploaded, err := UploadFiles(context.Background(), store, root, files, "r1", zap.NewNop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "upload metrics.prom: quota exceeded")
	require.Len(t, uploaded, 2)
	assert.Equal(t, "r1/fw-check/steps.log", uploaded[0].Key)
	assert.Equal(t, int64(len("step 1 passed\n")), uploaded[0].Size)

	listed, err := store.List(context.Background(), "r1/")
	require.NoError(t, err)
	assert.Len(t, listed, 2)

	dest := filepath.Join(t.TempDir(), "copy", "results.json")
	n, err := Download(context.Background(), store, "r1/results.json", dest)
	require.NoError(t, err)
	assert.Equal(t, int64(12), n)
	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, `{"tests":[]}`, string(data))

	_, err = Download(context.Background(), store, "r1/missing", dest)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestContentType(t *testing.T) {
	assert.Equal(t, "application/json", contentType("r1/results.json"))
	assert.Equal(t, "application/octet-stream", contentType("r1/metrics.prom"))
}
