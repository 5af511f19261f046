package objectstore

import (
	"context"
	"io"
	"mime"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Config selects and authenticates an object store.
type Config struct {
	Provider     string
	Bucket       string
	Prefix       string
	Region       string
	Endpoint     string
	AccessKey    string
	SecretKey    string
	SessionToken string
	S3PathStyle  bool

	GCPProject         string
	GCPCredentialsFile string
	GCPCredentialsJSON string

	AzureAccount  string
	AzureKey      string
	AzureEndpoint string
	AzureSASToken string
}

// Enabled reports whether an upload target was configured.
func (c Config) Enabled() bool {
	return strings.TrimSpace(c.Provider) != "" && strings.TrimSpace(c.Bucket) != ""
}

// Object describes one stored object.
type Object struct {
	Key          string
	Size         int64
	ETag         string
	LastModified time.Time
}

// Store is the minimal set of object operations the harness needs. Keys
// passed in are relative to Config.Prefix; keys returned are absolute.
type Store interface {
	Put(ctx context.Context, key string, body io.Reader, size int64) (Object, error)
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	List(ctx context.Context, prefix string) ([]Object, error)
	Delete(ctx context.Context, key string) error
	Close() error
}

// ErrNotFound is returned by Open and Delete for a missing key where the
// backend reports it distinctly.
var ErrNotFound = errors.New("object not found")

// New connects to the store named by cfg.Provider.
func New(ctx context.Context, cfg Config) (Store, error) {
	provider := NormalizeProvider(cfg.Provider)
	if provider == "" {
		return nil, errors.New("objectstore provider is required")
	}
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, errors.New("objectstore bucket is required")
	}
	cfg.Provider = provider
	switch provider {
	case "s3":
		return newS3Store(ctx, cfg)
	case "minio":
		return newMinioStore(cfg)
	case "gcs":
		return newGCSStore(ctx, cfg)
	case "azure":
		return newAzureStore(cfg)
	default:
		return nil, errors.Errorf("unsupported objectstore provider: %s", cfg.Provider)
	}
}

// NormalizeProvider maps provider aliases to the canonical names s3, minio,
// gcs and azure.
func NormalizeProvider(value string) string {
	provider := strings.ToLower(strings.TrimSpace(value))
	switch provider {
	case "aws", "s3":
		return "s3"
	case "minio":
		return "minio"
	case "gcp", "gcs", "google":
		return "gcs"
	case "azure", "blob", "azblob":
		return "azure"
	default:
		return provider
	}
}

// ResolveKey joins prefix and key with exactly one slash between them.
func ResolveKey(prefix, key string) string {
	prefix = strings.Trim(prefix, "/")
	key = strings.TrimPrefix(key, "/")
	switch {
	case prefix == "":
		return key
	case key == "":
		return prefix
	default:
		return prefix + "/" + key
	}
}

func contentType(key string) string {
	if ct := mime.TypeByExtension(path.Ext(key)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

// UploadFiles copies files (slash-separated, relative to root) to the store
// under prefix. Every file is attempted; the first error is returned with the
// objects that did upload.
func UploadFiles(ctx context.Context, store Store, root string, files []string, prefix string, logger *zap.Logger) ([]Object, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var (
		uploaded []Object
		firstErr error
	)
	for _, rel := range files {
		key := ResolveKey(prefix, rel)
		obj, err := uploadFile(ctx, store, filepath.Join(root, filepath.FromSlash(rel)), key)
		if err != nil {
			logger.Warn("artifact upload failed", zap.String("key", key), zap.Error(err))
			if firstErr == nil {
				firstErr = errors.Wrapf(err, "upload %s", rel)
			}
			continue
		}
		logger.Debug("artifact uploaded", zap.String("key", obj.Key), zap.Int64("size", obj.Size))
		uploaded = append(uploaded, obj)
	}
	return uploaded, firstErr
}

func uploadFile(ctx context.Context, store Store, localPath, key string) (Object, error) {
	file, err := os.Open(localPath)
	if err != nil {
		return Object{}, err
	}
	defer file.Close()
	stat, err := file.Stat()
	if err != nil {
		return Object{}, err
	}
	return store.Put(ctx, key, file, stat.Size())
}

// Download writes the object at key to localPath, creating parent
// directories.
func Download(ctx context.Context, store Store, key, localPath string) (int64, error) {
	body, err := store.Open(ctx, key)
	if err != nil {
		return 0, err
	}
	defer body.Close()
	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return 0, errors.WithStack(err)
	}
	file, err := os.Create(localPath)
	if err != nil {
		return 0, errors.WithStack(err)
	}
	written, err := io.Copy(file, body)
	if closeErr := file.Close(); err == nil {
		err = closeErr
	}
	return written, errors.Wrapf(err, "download %s", key)
}
