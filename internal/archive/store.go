// Package archive keeps an S3 copy of post-visit summaries.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/wolfman30/smart-care-platform/pkg/logging"
)

// S3API is the subset of the S3 client used by Store.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// ErrNotFound is returned by Load when no archived summary exists.
var ErrNotFound = errors.New("archive: summary not found")

// Store archives summaries to S3. With an empty bucket every operation is a no-op.
type Store struct {
	bucket   string
	s3Client S3API
	now      func() time.Time
	logger   *logging.Logger
}

func NewStore(s3Client S3API, bucket string, logger *logging.Logger) *Store {
	if logger == nil {
		logger = logging.Default()
	}
	return &Store{bucket: bucket, s3Client: s3Client, now: time.Now, logger: logger}
}

// Enabled returns true if archival is configured.
func (s *Store) Enabled() bool {
	return s != nil && s.bucket != "" && s.s3Client != nil
}

// SummaryKey is keyed by appointment date so a single visit day can be listed.
func SummaryKey(date, appointmentID string) string {
	d := strings.ReplaceAll(date, "-", "/")
	return fmt.Sprintf("summaries/v1/by-date/%s/%s.json", d, appointmentID)
}

// ArchiveSummary writes record with contact details scrubbed and appends it to the manifest.
func (s *Store) ArchiveSummary(ctx context.Context, record SummaryRecord) (string, error) {
	if !s.Enabled() {
		return "", nil
	}
	if record.AppointmentID == "" {
		return "", fmt.Errorf("archive: appointment id required")
	}
	if record.ArchivedAt.IsZero() {
		record.ArchivedAt = s.now().UTC()
	}
	scrubRecord(&record)

	data, err := json.Marshal(record)
	if err != nil {
		return "", fmt.Errorf("archive: marshal record: %w", err)
	}
	key := SummaryKey(record.Date, record.AppointmentID)
	_, err = s.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return "", fmt.Errorf("archive: s3 put %s: %w", key, err)
	}

	entry := ManifestEntry{
		AppointmentID: record.AppointmentID,
		DoctorID:      record.DoctorID,
		S3Key:         key,
		ArchivedAt:    record.ArchivedAt.Format(time.RFC3339),
	}
	if err := s.appendManifest(ctx, entry, record.ArchivedAt); err != nil {
		// the summary itself is stored
		s.logger.Warn("archive: append manifest failed", "error", err, "appointment_id", record.AppointmentID)
	}
	s.logger.Info("archived summary to S3", "appointment_id", record.AppointmentID, "s3_key", key)
	return key, nil
}

// Load reads an archived summary back.
func (s *Store) Load(ctx context.Context, date, appointmentID string) (*SummaryRecord, error) {
	if !s.Enabled() {
		return nil, ErrNotFound
	}
	data, err := s.get(ctx, SummaryKey(date, appointmentID))
	if err != nil {
		return nil, err
	}
	var record SummaryRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("archive: decode summary: %w", err)
	}
	return &record, nil
}

// appendManifest does read-modify-write on the monthly JSONL manifest; S3 has no append.
func (s *Store) appendManifest(ctx context.Context, entry ManifestEntry, at time.Time) error {
	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("archive: marshal manifest entry: %w", err)
	}
	key := fmt.Sprintf("summaries/v1/manifests/%d-%02d.jsonl", at.Year(), at.Month())

	existing, err := s.get(ctx, key)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}

	var buf bytes.Buffer
	if len(existing) > 0 {
		buf.Write(existing)
		if existing[len(existing)-1] != '\n' {
			buf.WriteByte('\n')
		}
	}
	buf.Write(line)
	buf.WriteByte('\n')

	_, err = s.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(buf.Bytes()),
		ContentType: aws.String("application/x-ndjson"),
	})
	if err != nil {
		return fmt.Errorf("archive: s3 put manifest: %w", err)
	}
	return nil
}

func (s *Store) get(ctx context.Context, key string) ([]byte, error) {
	out, err := s.s3Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var nsk *s3types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("archive: s3 get %s: %w", key, err)
	}
	defer out.Body.Close()
	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("archive: read %s: %w", key, err)
	}
	return data, nil
}
