package s3blob

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/openwager/wagerd/internal/domain"
)

// minPartSize is the minimum allowed part size for S3 multipart uploads (5 MiB).
const minPartSize int64 = 5 * 1024 * 1024

// ContentStore implements domain.ContentStore on an S3-compatible backend.
// Proposition content lives under content/{key}; the returned ref is the
// object key the ledger's hash commitment binds to.
type ContentStore struct {
	client *s3.Client
	bucket string
}

// NewContentStore creates a ContentStore that stores objects in the given
// client's configured bucket.
func NewContentStore(c *Client) *ContentStore {
	return &ContentStore{
		client: c.S3(),
		bucket: c.Bucket(),
	}
}

func contentPath(key string) string {
	return "content/" + key
}

// Put uploads data under content/{key} and returns the object key as the
// ref. Payloads at or above the multipart threshold go through the upload
// manager, which splits them into parts and uploads concurrently.
func (cs *ContentStore) Put(ctx context.Context, key string, data []byte) (string, error) {
	ref := contentPath(key)

	if int64(len(data)) >= minPartSize {
		uploader := manager.NewUploader(cs.client, func(u *manager.Uploader) {
			u.PartSize = minPartSize
		})
		_, err := uploader.Upload(ctx, &s3.PutObjectInput{
			Bucket: aws.String(cs.bucket),
			Key:    aws.String(ref),
			Body:   bytes.NewReader(data),
		})
		if err != nil {
			return "", fmt.Errorf("s3blob: multipart upload %s: %w", ref, err)
		}
		return ref, nil
	}

	_, err := cs.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(cs.bucket),
		Key:         aws.String(ref),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/octet-stream"),
	})
	if err != nil {
		return "", fmt.Errorf("s3blob: put object %s: %w", ref, err)
	}
	return ref, nil
}

// Get retrieves the object stored at the given ref and returns its body.
// Returns domain.ErrNotFound if the object does not exist.
func (cs *ContentStore) Get(ctx context.Context, ref string) ([]byte, error) {
	output, err := cs.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(cs.bucket),
		Key:    aws.String(ref),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("s3blob: get %s: %w", ref, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("s3blob: get %s: %w", ref, err)
	}
	defer output.Body.Close()

	data, err := io.ReadAll(output.Body)
	if err != nil {
		return nil, fmt.Errorf("s3blob: read %s: %w", ref, err)
	}
	return data, nil
}

// Exists checks whether an object exists at the given ref by issuing a
// HeadObject request. Any error other than NoSuchKey / NotFound is
// propagated.
func (cs *ContentStore) Exists(ctx context.Context, ref string) (bool, error) {
	_, err := cs.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(cs.bucket),
		Key:    aws.String(ref),
	})
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("s3blob: exists %s: %w", ref, err)
	}
	return true, nil
}

// Delete removes the object at the given ref. Idempotent: no error if the
// object does not exist.
func (cs *ContentStore) Delete(ctx context.Context, ref string) error {
	_, err := cs.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(cs.bucket),
		Key:    aws.String(ref),
	})
	if err != nil {
		return fmt.Errorf("s3blob: delete %s: %w", ref, err)
	}
	return nil
}

// isNotFound returns true when the error indicates the requested S3 object
// does not exist. It checks for both the SDK typed error (NoSuchKey) and
// the generic 404 response.
func isNotFound(err error) bool {
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}

	// HeadObject does not return NoSuchKey; it returns a generic 404.
	var nf *types.NotFound
	if errors.As(err, &nf) {
		return true
	}

	// Fallback: some S3-compatible providers return a ResponseError with
	// HTTP 404. We check via the smithy HTTP response interface.
	type httpResponseError interface {
		HTTPStatusCode() int
	}
	var httpErr httpResponseError
	if errors.As(err, &httpErr) && httpErr.HTTPStatusCode() == 404 {
		return true
	}

	return false
}

// Compile-time interface check.
var _ domain.ContentStore = (*ContentStore)(nil)
