package audit

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsConfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/phaselock/escrowd/internal/canonical"
)

// Archiver uploads canonical audit event JSON to object storage.
type Archiver interface {
	ArchiveEvent(ctx context.Context, ev *Event) error
}

// S3Archiver writes canonicalized events to S3 paths like:
//
//	s3://<bucket>/<prefix>/audit/YYYY/MM/DD/<eventID>.json
type S3Archiver struct {
	bucket   string
	prefix   string
	client   *s3.Client
	uploader *manager.Uploader
}

// NewS3Archiver creates an archiver. Region and credentials come from the
// ambient AWS environment (AWS_REGION, AWS_PROFILE, access keys).
func NewS3Archiver(ctx context.Context, bucket, prefix string) (*S3Archiver, error) {
	if bucket == "" {
		return nil, fmt.Errorf("bucket required")
	}
	cfg, err := awsConfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(cfg)
	return &S3Archiver{
		bucket:   bucket,
		prefix:   prefix,
		client:   client,
		uploader: manager.NewUploader(client),
	}, nil
}

func (s *S3Archiver) objectKey(ev *Event) string {
	ts := time.Now().UTC()
	if !ev.Ts.IsZero() {
		ts = ev.Ts
	}
	year, month, day := ts.Date()
	return path.Join(s.prefix, "audit",
		fmt.Sprintf("%04d", year),
		fmt.Sprintf("%02d", int(month)),
		fmt.Sprintf("%02d", day),
		fmt.Sprintf("%s.json", ev.ID),
	)
}

// ArchiveEvent canonicalizes the full event envelope and uploads it.
func (s *S3Archiver) ArchiveEvent(ctx context.Context, ev *Event) error {
	_, err := s.ArchiveEventAndReturnKey(ctx, ev)
	return err
}

// ArchiveEventAndReturnKey uploads the event and returns the object key so
// callers can persist the S3 pointer next to the event row.
func (s *S3Archiver) ArchiveEventAndReturnKey(ctx context.Context, ev *Event) (string, error) {
	if ev == nil {
		return "", fmt.Errorf("nil event")
	}

	canonBytes, err := canonical.Marshal(Envelope(ev))
	if err != nil {
		return "", fmt.Errorf("canonicalize envelope: %w", err)
	}

	key := s.objectKey(ev)
	_, err = s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:               aws.String(s.bucket),
		Key:                  aws.String(key),
		Body:                 bytes.NewReader(canonBytes),
		ContentType:          aws.String("application/json"),
		ServerSideEncryption: s3types.ServerSideEncryptionAes256,
	})
	if err != nil {
		return "", fmt.Errorf("s3 upload: %w", err)
	}
	return key, nil
}

// Envelope is the canonical wire form shared by the archiver and the Kafka
// streamer.
func Envelope(ev *Event) map[string]interface{} {
	return map[string]interface{}{
		"id":        ev.ID,
		"eventType": ev.EventType,
		"payload":   ev.Payload,
		"prevHash":  ev.PrevHash,
		"hash":      ev.Hash,
		"signature": ev.Signature,
		"signerId":  ev.SignerID,
		"ts":        ev.Ts.Format(time.RFC3339Nano),
		"metadata":  ev.Metadata,
	}
}
