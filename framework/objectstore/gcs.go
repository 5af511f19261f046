package objectstore

import (
	"context"
	"io"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/pkg/errors"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

type gcsStore struct {
	cfg    Config
	client *storage.Client
}

func gcsOptions(cfg Config) []option.ClientOption {
	var opts []option.ClientOption
	switch {
	case strings.TrimSpace(cfg.GCPCredentialsJSON) != "":
		opts = append(opts, option.WithCredentialsJSON([]byte(cfg.GCPCredentialsJSON)))
	case strings.TrimSpace(cfg.GCPCredentialsFile) != "":
		opts = append(opts, option.WithCredentialsFile(cfg.GCPCredentialsFile))
	}
	if project := strings.TrimSpace(cfg.GCPProject); project != "" {
		opts = append(opts, option.WithQuotaProject(project))
	}
	if endpoint := strings.TrimSpace(cfg.Endpoint); endpoint != "" {
		opts = append(opts, option.WithEndpoint(endpoint))
	}
	return opts
}

func newGCSStore(ctx context.Context, cfg Config) (Store, error) {
	client, err := storage.NewClient(ctx, gcsOptions(cfg)...)
	if err != nil {
		return nil, errors.Wrap(err, "create gcs client")
	}
	return &gcsStore{cfg: cfg, client: client}, nil
}

func (g *gcsStore) object(key string) *storage.ObjectHandle {
	return g.client.Bucket(g.cfg.Bucket).Object(ResolveKey(g.cfg.Prefix, key))
}

func (g *gcsStore) Put(ctx context.Context, key string, body io.Reader, size int64) (Object, error) {
	handle := g.object(key)
	w := handle.NewWriter(ctx)
	w.ContentType = contentType(handle.ObjectName())
	if _, err := io.Copy(w, body); err != nil {
		w.Close()
		return Object{}, errors.Wrapf(err, "gcs put %s", handle.ObjectName())
	}
	if err := w.Close(); err != nil {
		return Object{}, errors.Wrapf(err, "gcs put %s", handle.ObjectName())
	}
	obj := Object{Key: handle.ObjectName(), Size: size}
	if attrs := w.Attrs(); attrs != nil {
		obj.Size = attrs.Size
		obj.ETag = attrs.Etag
		obj.LastModified = attrs.Updated
	}
	return obj, nil
}

func (g *gcsStore) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	handle := g.object(key)
	r, err := handle.NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, errors.Wrap(ErrNotFound, handle.ObjectName())
	}
	if err != nil {
		return nil, errors.Wrapf(err, "gcs get %s", handle.ObjectName())
	}
	return r, nil
}

func (g *gcsStore) List(ctx context.Context, prefix string) ([]Object, error) {
	it := g.client.Bucket(g.cfg.Bucket).Objects(ctx, &storage.Query{Prefix: ResolveKey(g.cfg.Prefix, prefix)})
	var objects []Object
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			return objects, nil
		}
		if err != nil {
			return nil, errors.Wrap(err, "gcs list")
		}
		objects = append(objects, Object{
			Key:          attrs.Name,
			Size:         attrs.Size,
			ETag:         attrs.Etag,
			LastModified: attrs.Updated,
		})
	}
}

func (g *gcsStore) Delete(ctx context.Context, key string) error {
	handle := g.object(key)
	err := handle.Delete(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return errors.Wrap(ErrNotFound, handle.ObjectName())
	}
	return errors.Wrapf(err, "gcs delete %s", handle.ObjectName())
}

func (g *gcsStore) Close() error {
	return g.client.Close()
}
