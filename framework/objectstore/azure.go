package objectstore

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blockblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/container"
	"github.com/pkg/errors"
)

type azureStore struct {
	cfg    Config
	client *container.Client
}

// azureContainerURL builds the container URL from the endpoint, or from the
// account name when no endpoint is set, carrying the SAS token if any.
func azureContainerURL(cfg Config) (string, error) {
	service := strings.TrimRight(strings.TrimSpace(cfg.AzureEndpoint), "/")
	if service == "" {
		account := strings.TrimSpace(cfg.AzureAccount)
		if account == "" {
			return "", errors.New("azure endpoint or account name is required")
		}
		service = fmt.Sprintf("https://%s.blob.core.windows.net", account)
	}
	u := service + "/" + cfg.Bucket
	if sas := strings.TrimPrefix(strings.TrimSpace(cfg.AzureSASToken), "?"); sas != "" {
		u += "?" + sas
	}
	return u, nil
}

func newAzureStore(cfg Config) (Store, error) {
	containerURL, err := azureContainerURL(cfg)
	if err != nil {
		return nil, err
	}
	var client *container.Client
	switch {
	case strings.TrimSpace(cfg.AzureSASToken) != "":
		client, err = container.NewClientWithNoCredential(containerURL, nil)
	case strings.TrimSpace(cfg.AzureKey) != "":
		if strings.TrimSpace(cfg.AzureAccount) == "" {
			return nil, errors.New("azure account name is required for shared key auth")
		}
		var cred *azblob.SharedKeyCredential
		cred, err = azblob.NewSharedKeyCredential(cfg.AzureAccount, cfg.AzureKey)
		if err != nil {
			return nil, errors.Wrap(err, "azure shared key")
		}
		client, err = container.NewClientWithSharedKeyCredential(containerURL, cred, nil)
	default:
		var cred *azidentity.DefaultAzureCredential
		cred, err = azidentity.NewDefaultAzureCredential(nil)
		if err != nil {
			return nil, errors.Wrap(err, "azure default credential")
		}
		client, err = container.NewClient(containerURL, cred, nil)
	}
	if err != nil {
		return nil, errors.Wrap(err, "create azure container client")
	}
	return &azureStore{cfg: cfg, client: client}, nil
}

func azureNotFound(err error) bool {
	var respErr *azcore.ResponseError
	return errors.As(err, &respErr) && respErr.StatusCode == http.StatusNotFound
}

func (a *azureStore) Put(ctx context.Context, key string, body io.Reader, size int64) (Object, error) {
	remote := ResolveKey(a.cfg.Prefix, key)
	ct := contentType(remote)
	resp, err := a.client.NewBlockBlobClient(remote).UploadStream(ctx, body, &blockblob.UploadStreamOptions{
		HTTPHeaders: &blob.HTTPHeaders{BlobContentType: &ct},
	})
	if err != nil {
		return Object{}, errors.Wrapf(err, "azure put %s", remote)
	}
	obj := Object{Key: remote, Size: size}
	if resp.ETag != nil {
		obj.ETag = string(*resp.ETag)
	}
	if resp.LastModified != nil {
		obj.LastModified = *resp.LastModified
	}
	return obj, nil
}

func (a *azureStore) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	remote := ResolveKey(a.cfg.Prefix, key)
	resp, err := a.client.NewBlobClient(remote).DownloadStream(ctx, nil)
	if azureNotFound(err) {
		return nil, errors.Wrap(ErrNotFound, remote)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "azure get %s", remote)
	}
	return resp.Body, nil
}

func (a *azureStore) List(ctx context.Context, prefix string) ([]Object, error) {
	opts := &container.ListBlobsFlatOptions{}
	if remote := ResolveKey(a.cfg.Prefix, prefix); remote != "" {
		opts.Prefix = &remote
	}
	var objects []Object
	pager := a.client.NewListBlobsFlatPager(opts)
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, errors.Wrap(err, "azure list")
		}
		if page.Segment == nil {
			continue
		}
		for _, item := range page.Segment.BlobItems {
			if item == nil || item.Name == nil {
				continue
			}
			obj := Object{Key: *item.Name}
			if props := item.Properties; props != nil {
				if props.ContentLength != nil {
					obj.Size = *props.ContentLength
				}
				if props.ETag != nil {
					obj.ETag = string(*props.ETag)
				}
				if props.LastModified != nil {
					obj.LastModified = *props.LastModified
				}
			}
			objects = append(objects, obj)
		}
	}
	return objects, nil
}

func (a *azureStore) Delete(ctx context.Context, key string) error {
	remote := ResolveKey(a.cfg.Prefix, key)
	_, err := a.client.NewBlobClient(remote).Delete(ctx, nil)
	if azureNotFound(err) {
		return errors.Wrap(ErrNotFound, remote)
	}
	return errors.Wrapf(err, "azure delete %s", remote)
}

func (a *azureStore) Close() error { return nil }
