// Package archive exports committed observation batches as Parquet files to
// a local directory and, optionally, S3.
package archive

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/kjannette/coinflow/internal/logger"
	"github.com/kjannette/coinflow/internal/models"
)

const uploadTimeout = 2 * time.Minute

// Uploader is the subset of *s3.Client used for uploads.
type Uploader interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

type Options struct {
	// Dir is the local archive root. Empty skips local files.
	Dir    string
	Bucket string
	Prefix string
	Log    *logger.Entry
}

type Exporter struct {
	opts Options
	s3   Uploader
	log  *logger.Entry
	now  func() time.Time
}

// New returns an Exporter. client may be nil when no bucket is configured.
func New(opts Options, client Uploader) *Exporter {
	log := opts.Log
	if log == nil {
		log = logger.GetLogger().WithComponent("archive")
	}
	return &Exporter{opts: opts, s3: client, log: log, now: time.Now}
}

// Export archives one committed batch under dt=YYYY-MM-DD/<run_id>.parquet.
func (e *Exporter) Export(ctx context.Context, runID string, records []models.EnrichedRecord) (string, error) {
	ingested := e.now().UTC()
	rows := make([]models.StoredRow, len(records))
	for i, r := range records {
		rows[i] = models.StoredRow{
			AssetID:      r.AssetID,
			ObservedAt:   r.ObservedAt,
			Price:        r.Price,
			MarketCap:    r.MarketCap,
			Volume24h:    r.Volume24h,
			PctChange24h: r.PctChange24h,
			Rank:         r.Rank,
			IngestedAt:   ingested,
			RunID:        runID,
		}
	}
	return e.ExportRows(ctx, runID, rows)
}

// ExportRows writes rows as <name>.parquet in today's partition and returns
// the S3 URI when uploaded, else the local path.
func (e *Exporter) ExportRows(ctx context.Context, name string, rows []models.StoredRow) (string, error) {
	if len(rows) == 0 {
		return "", nil
	}

	data, err := Encode(rows)
	if err != nil {
		return "", err
	}
	rel := path.Join("dt="+e.now().UTC().Format("2006-01-02"), name+".parquet")
	log := e.log.WithFields(logger.Fields{"file": rel, "records": len(rows), "bytes": len(data)})

	var location string
	if e.opts.Dir != "" {
		location, err = e.writeLocal(rel, data)
		if err != nil {
			return "", err
		}
	}
	if e.s3 != nil && e.opts.Bucket != "" {
		key := path.Join(e.opts.Prefix, rel)
		if err := e.upload(ctx, key, data, len(rows)); err != nil {
			return location, err
		}
		location = fmt.Sprintf("s3://%s/%s", e.opts.Bucket, key)
	}

	log.WithField("location", location).Info("archive written")
	return location, nil
}

func (e *Exporter) writeLocal(rel string, data []byte) (string, error) {
	dst := filepath.Join(e.opts.Dir, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return "", fmt.Errorf("create archive dir: %w", err)
	}
	tmp := dst + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", fmt.Errorf("write archive: %w", err)
	}
	if err := os.Rename(tmp, dst); err != nil {
		return "", fmt.Errorf("commit archive: %w", err)
	}
	return dst, nil
}

func (e *Exporter) upload(ctx context.Context, key string, data []byte, records int) error {
	ctx, cancel := context.WithTimeout(ctx, uploadTimeout)
	defer cancel()

	_, err := e.s3.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(e.opts.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/octet-stream"),
		Metadata: map[string]string{
			"content-type": "parquet",
			"compression":  "snappy",
			"records":      fmt.Sprint(records),
		},
	})
	if err != nil {
		return fmt.Errorf("upload %s: %w", key, err)
	}
	return nil
}
