// Package s3 provides an app.BlobStore backed by an S3-compatible object
// store. Objects are keyed by prefix + blob ref.
package s3

import (
	"context"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/go-faster/errors"

	"github.com/haukened/vanish/internal/app"
	"github.com/haukened/vanish/internal/domain"
)

var _ app.BlobStore = (*BlobStore)(nil)

// Client is the subset of *awss3.Client used by BlobStore.
type Client interface {
	manager.UploadAPIClient
	awss3.ListObjectsV2APIClient
	GetObject(ctx context.Context, in *awss3.GetObjectInput, optFns ...func(*awss3.Options)) (*awss3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, in *awss3.DeleteObjectInput, optFns ...func(*awss3.Options)) (*awss3.DeleteObjectOutput, error)
}

// Options configures NewFromConfig.
type Options struct {
	Bucket    string
	Prefix    string
	Region    string
	Endpoint  string // custom endpoint for S3-compatible services
	PathStyle bool
}

// BlobStore implements app.BlobStore on top of S3.
type BlobStore struct {
	client   Client
	uploader *manager.Uploader
	bucket   string
	prefix   string
}

// New wraps an existing client.
func New(client Client, bucket, prefix string) *BlobStore {
	return &BlobStore{
		client:   client,
		uploader: manager.NewUploader(client),
		bucket:   bucket,
		prefix:   prefix,
	}
}

// NewFromConfig builds a client from the default AWS credential chain.
func NewFromConfig(ctx context.Context, o Options) (*BlobStore, error) {
	if o.Bucket == "" {
		return nil, errors.New("s3 bucket is required")
	}
	var loadOpts []func(*awsconfig.LoadOptions) error
	if o.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(o.Region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, errors.Wrap(err, "load aws config")
	}
	client := awss3.NewFromConfig(cfg, func(so *awss3.Options) {
		if o.Endpoint != "" {
			so.BaseEndpoint = aws.String(o.Endpoint)
		}
		so.UsePathStyle = o.PathStyle
	})
	return New(client, o.Bucket, o.Prefix), nil
}

func (b *BlobStore) key(ref domain.BlobRef) string { return b.prefix + ref.String() }

// Put uploads exactly size bytes from r. Large bodies go through multipart
// upload.
func (b *BlobStore) Put(ctx context.Context, ref domain.BlobRef, r io.Reader, size int64) error {
	if !ref.Valid() {
		return domain.ErrInvalidBlobRef
	}
	body := &countingReader{r: io.LimitReader(r, size)}
	_, err := b.uploader.Upload(ctx, &awss3.PutObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.key(ref)),
		Body:   body,
	})
	if err != nil {
		return errors.Wrap(err, "upload blob")
	}
	if body.n != size {
		_ = b.Delete(ctx, ref)
		return domain.ErrSizeMismatch
	}
	return nil
}

// Open streams the object or returns domain.ErrNotFound.
func (b *BlobStore) Open(ctx context.Context, ref domain.BlobRef) (io.ReadCloser, error) {
	if !ref.Valid() {
		return nil, domain.ErrInvalidBlobRef
	}
	out, err := b.client.GetObject(ctx, &awss3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.key(ref)),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, domain.ErrNotFound
		}
		return nil, errors.Wrap(err, "get blob")
	}
	return out.Body, nil
}

// Delete removes the object. S3 reports success for absent keys.
func (b *BlobStore) Delete(ctx context.Context, ref domain.BlobRef) error {
	if !ref.Valid() {
		return domain.ErrInvalidBlobRef
	}
	_, err := b.client.DeleteObject(ctx, &awss3.DeleteObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.key(ref)),
	})
	if err != nil {
		return errors.Wrap(err, "delete blob")
	}
	return nil
}

// List enumerates objects under the prefix whose names are valid refs.
func (b *BlobStore) List(ctx context.Context) ([]app.BlobInfo, error) {
	p := awss3.NewListObjectsV2Paginator(b.client, &awss3.ListObjectsV2Input{
		Bucket: aws.String(b.bucket),
		Prefix: aws.String(b.prefix),
	})
	var out []app.BlobInfo
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, errors.Wrap(err, "list blobs")
		}
		for _, obj := range page.Contents {
			ref, err := domain.ParseBlobRef(strings.TrimPrefix(aws.ToString(obj.Key), b.prefix))
			if err != nil {
				continue
			}
			out = append(out, app.BlobInfo{Ref: ref, ModTime: aws.ToTime(obj.LastModified)})
		}
	}
	return out, nil
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
