package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/minio/minio-go/v7"

	"github.com/funnytutor6/tutorconnect/internal/domain/model"
)

// S3Archive writes each event as an immutable JSON object keyed by day.
type S3Archive struct {
	client *minio.Client
	bucket string
	prefix string

	ensureOnce sync.Once
	ensureErr  error
}

func NewS3Archive(client *minio.Client, bucket, prefix string) *S3Archive {
	prefix = strings.Trim(strings.TrimSpace(prefix), "/")
	if prefix == "" {
		prefix = "audit"
	}
	return &S3Archive{
		client: client,
		bucket: strings.TrimSpace(bucket),
		prefix: prefix,
	}
}

func (s *S3Archive) EnsureBucket(ctx context.Context) error {
	if s.client == nil {
		return fmt.Errorf("s3 client is nil")
	}
	if s.bucket == "" {
		return fmt.Errorf("s3 bucket is empty")
	}

	s.ensureOnce.Do(func() {
		exists, err := s.client.BucketExists(ctx, s.bucket)
		if err != nil {
			s.ensureErr = err
			return
		}
		if exists {
			return
		}
		s.ensureErr = s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{})
	})

	if s.ensureErr != nil {
		return fmt.Errorf("ensure s3 bucket %q: %w", s.bucket, s.ensureErr)
	}
	return nil
}

func (s *S3Archive) Write(ctx context.Context, event model.AuditEvent) error {
	if s.client == nil {
		return fmt.Errorf("s3 client is nil")
	}
	if err := s.EnsureBucket(ctx); err != nil {
		return err
	}

	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal audit event: %w", err)
	}

	_, err = s.client.PutObject(ctx, s.bucket, ObjectKey(s.prefix, event), bytes.NewReader(body), int64(len(body)), minio.PutObjectOptions{
		ContentType: "application/json",
	})
	if err != nil {
		return fmt.Errorf("put audit object: %w", err)
	}
	return nil
}

// ObjectKey lays events out as <prefix>/YYYY/MM/DD/<type>/<id>.json.
func ObjectKey(prefix string, event model.AuditEvent) string {
	at := event.OccurredAt.UTC()
	return fmt.Sprintf("%s/%04d/%02d/%02d/%s/%s.json",
		prefix,
		at.Year(), int(at.Month()), at.Day(),
		strings.ToLower(event.Type),
		event.ID,
	)
}
