package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/openwager/wagerd/internal/domain"
)

// WagerArchiveStore provides read access to closed wagers for archival
// purposes. The archiver only requires the query method it actually calls,
// not the full domain store interface; the Postgres wager store satisfies
// it implicitly.
type WagerArchiveStore interface {
	// ListClosedBefore returns snapshots of all settled or voided wagers
	// created strictly before the given cutoff time.
	ListClosedBefore(ctx context.Context, before time.Time) ([]domain.WagerSnapshot, error)
}

// Archiver serialises closed wagers to JSONL and uploads the result to the
// object store, recording the archival event in the audit log.
//
// Deletion of the archived records from the primary store is intentionally
// NOT performed here; that is a separate, explicit step to be executed
// after the archive has been verified.
type Archiver struct {
	client *s3.Client
	bucket string
	wagers WagerArchiveStore
	audit  domain.AuditStore
}

// NewArchiver creates an Archiver that writes to the given client's bucket.
func NewArchiver(c *Client, wagers WagerArchiveStore, audit domain.AuditStore) *Archiver {
	return &Archiver{
		client: c.S3(),
		bucket: c.Bucket(),
		wagers: wagers,
		audit:  audit,
	}
}

// ArchiveClosedWagers queries all settled or voided wagers before the
// cutoff, serialises them to JSONL, and uploads the file at
// archive/wagers/YYYY-MM.jsonl. The archival event is recorded in the
// audit log and the count of archived records is returned.
func (a *Archiver) ArchiveClosedWagers(ctx context.Context, before time.Time) (int64, error) {
	snaps, err := a.wagers.ListClosedBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive wagers query: %w", err)
	}
	if len(snaps) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(snaps)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive wagers marshal: %w", err)
	}

	path := archivePath("wagers", before)
	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(path),
		Body:        bytes.NewReader(buf),
		ContentType: aws.String("application/x-ndjson"),
	})
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive wagers upload: %w", err)
	}

	count := int64(len(snaps))

	if err := a.audit.Log(ctx, "archive.wagers", map[string]any{
		"path":   path,
		"count":  count,
		"before": before.Format(time.RFC3339),
	}); err != nil {
		return count, fmt.Errorf("s3blob: archive wagers audit log: %w", err)
	}

	return count, nil
}

// archivePath builds the S3 key for an archive file, partitioned by the
// year-month of the cutoff time.
//
//	archive/wagers/2025-01.jsonl
func archivePath(kind string, before time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, before.Format("2006-01"))
}

// marshalJSONL serialises a slice of values as newline-delimited JSON (JSONL).
// Each element is marshalled as a single compact JSON line followed by '\n'.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
