package s3blob

import (
	"bytes"
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// ndjsonContentType is the media type for newline-delimited JSON, the only
// format the archive writes.
const ndjsonContentType = "application/x-ndjson"

// multipartThreshold is the payload size above which uploads go through the
// multipart manager. A minute of tape stays well below this; it is only
// crossed when retries have accumulated a backlog.
const multipartThreshold = 16 * 1024 * 1024

// Writer uploads tape objects to the archive bucket.
type Writer struct {
	client   *s3.Client
	uploader *manager.Uploader
	bucket   string
}

// NewWriter creates a Writer for the given client's bucket.
func NewWriter(c *Client) *Writer {
	return &Writer{
		client:   c.S3(),
		uploader: manager.NewUploader(c.S3()),
		bucket:   c.Bucket(),
	}
}

// PutTape uploads one newline-delimited JSON object under key. Payloads past
// the multipart threshold go through the upload manager, which splits them
// into concurrently uploaded parts; anything smaller is a single PutObject
// round trip.
func (w *Writer) PutTape(ctx context.Context, key string, payload []byte) error {
	input := &s3.PutObjectInput{
		Bucket:      aws.String(w.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(payload),
		ContentType: aws.String(ndjsonContentType),
	}

	if int64(len(payload)) >= multipartThreshold {
		if _, err := w.uploader.Upload(ctx, input); err != nil {
			return fmt.Errorf("s3blob: multipart upload %s: %w", key, err)
		}
		return nil
	}

	if _, err := w.client.PutObject(ctx, input); err != nil {
		return fmt.Errorf("s3blob: put %s: %w", key, err)
	}
	return nil
}
