package objectstore

import (
	"context"
	"io"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/pkg/errors"
)

type minioStore struct {
	cfg    Config
	client *minio.Client
}

// minioEndpoint splits a URL-style endpoint into the host minio.New expects
// and whether TLS is used. A bare host means TLS.
func minioEndpoint(endpoint string) (string, bool, error) {
	endpoint = strings.TrimRight(strings.TrimSpace(endpoint), "/")
	switch {
	case endpoint == "":
		return "", false, errors.New("minio endpoint is required")
	case strings.HasPrefix(endpoint, "http://"):
		return strings.TrimPrefix(endpoint, "http://"), false, nil
	case strings.HasPrefix(endpoint, "https://"):
		return strings.TrimPrefix(endpoint, "https://"), true, nil
	case strings.Contains(endpoint, "://"):
		return "", false, errors.Errorf("unsupported minio endpoint %q", endpoint)
	default:
		return endpoint, true, nil
	}
}

func newMinioStore(cfg Config) (Store, error) {
	host, secure, err := minioEndpoint(cfg.Endpoint)
	if err != nil {
		return nil, err
	}
	client, err := minio.New(host, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, cfg.SessionToken),
		Secure: secure,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, errors.Wrap(err, "create minio client")
	}
	return &minioStore{cfg: cfg, client: client}, nil
}

func (m *minioStore) Put(ctx context.Context, key string, body io.Reader, size int64) (Object, error) {
	remote := ResolveKey(m.cfg.Prefix, key)
	info, err := m.client.PutObject(ctx, m.cfg.Bucket, remote, body, size, minio.PutObjectOptions{
		ContentType: contentType(remote),
	})
	if err != nil {
		return Object{}, errors.Wrapf(err, "minio put %s", remote)
	}
	return Object{Key: remote, Size: info.Size, ETag: info.ETag, LastModified: info.LastModified}, nil
}

func (m *minioStore) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	remote := ResolveKey(m.cfg.Prefix, key)
	obj, err := m.client.GetObject(ctx, m.cfg.Bucket, remote, minio.GetObjectOptions{})
	if err != nil {
		return nil, errors.Wrapf(err, "minio get %s", remote)
	}
	// GetObject is lazy; Stat surfaces a missing key before the first read.
	if _, err := obj.Stat(); err != nil {
		obj.Close()
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, errors.Wrap(ErrNotFound, remote)
		}
		return nil, errors.Wrapf(err, "minio stat %s", remote)
	}
	return obj, nil
}

func (m *minioStore) List(ctx context.Context, prefix string) ([]Object, error) {
	opts := minio.ListObjectsOptions{
		Prefix:    ResolveKey(m.cfg.Prefix, prefix),
		Recursive: true,
	}
	var objects []Object
	for item := range m.client.ListObjects(ctx, m.cfg.Bucket, opts) {
		if item.Err != nil {
			return nil, errors.Wrap(item.Err, "minio list")
		}
		objects = append(objects, Object{
			Key:          item.Key,
			Size:         item.Size,
			ETag:         item.ETag,
			LastModified: item.LastModified,
		})
	}
	return objects, nil
}

func (m *minioStore) Delete(ctx context.Context, key string) error {
	remote := ResolveKey(m.cfg.Prefix, key)
	if remote == "" {
		return errors.New("object key is required")
	}
	return errors.Wrapf(m.client.RemoveObject(ctx, m.cfg.Bucket, remote, minio.RemoveObjectOptions{}), "minio delete %s", remote)
}

func (m *minioStore) Close() error { return nil }
