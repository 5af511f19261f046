package objectstore

import (
	"context"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/pkg/errors"
)

const defaultS3Region = "us-west-2"

type s3Store struct {
	cfg      Config
	client   *s3.Client
	uploader *manager.Uploader
}

func newS3Store(ctx context.Context, cfg Config) (Store, error) {
	region := strings.TrimSpace(cfg.Region)
	if region == "" {
		region = defaultS3Region
	}
	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(region)}
	if cfg.AccessKey != "" || cfg.SecretKey != "" || cfg.SessionToken != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, cfg.SessionToken)))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, errors.Wrap(err, "load aws config")
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if endpoint := strings.TrimSpace(cfg.Endpoint); endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
		o.UsePathStyle = cfg.S3PathStyle
	})
	return &s3Store{cfg: cfg, client: client, uploader: manager.NewUploader(client)}, nil
}

func (s *s3Store) Put(ctx context.Context, key string, body io.Reader, size int64) (Object, error) {
	remote := ResolveKey(s.cfg.Prefix, key)
	out, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.cfg.Bucket),
		Key:         aws.String(remote),
		Body:        body,
		ContentType: aws.String(contentType(remote)),
	})
	if err != nil {
		return Object{}, errors.Wrapf(err, "s3 put %s", remote)
	}
	return Object{Key: remote, Size: size, ETag: strings.Trim(aws.ToString(out.ETag), `"`)}, nil
}

func (s *s3Store) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	remote := ResolveKey(s.cfg.Prefix, key)
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(remote),
	})
	if err != nil {
		return nil, errors.Wrapf(err, "s3 get %s", remote)
	}
	return out.Body, nil
}

func (s *s3Store) List(ctx context.Context, prefix string) ([]Object, error) {
	input := &s3.ListObjectsV2Input{Bucket: aws.String(s.cfg.Bucket)}
	if remote := ResolveKey(s.cfg.Prefix, prefix); remote != "" {
		input.Prefix = aws.String(remote)
	}
	var objects []Object
	paginator := s3.NewListObjectsV2Paginator(s.client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, errors.Wrap(err, "s3 list")
		}
		for _, item := range page.Contents {
			if item.Key == nil {
				continue
			}
			objects = append(objects, Object{
				Key:          *item.Key,
				Size:         aws.ToInt64(item.Size),
				ETag:         strings.Trim(aws.ToString(item.ETag), `"`),
				LastModified: aws.ToTime(item.LastModified),
			})
		}
	}
	return objects, nil
}

func (s *s3Store) Delete(ctx context.Context, key string) error {
	remote := ResolveKey(s.cfg.Prefix, key)
	if remote == "" {
		return errors.New("object key is required")
	}
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(remote),
	})
	return errors.Wrapf(err, "s3 delete %s", remote)
}

func (s *s3Store) Close() error { return nil }
