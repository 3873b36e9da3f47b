package s3blob

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/polypulse/polypulse/internal/domain"
)

// minPartSize is the S3 minimum multipart part size (5 MiB).
const minPartSize int64 = 5 * 1024 * 1024

// multipartThreshold is the payload size above which uploads switch to the
// multipart manager.
const multipartThreshold = 32 * 1024 * 1024

// Archiver writes aged-out trades and orderbook snapshots to the bucket as
// newline-delimited JSON, partitioned by the cutoff month. It never deletes
// from the primary store; callers delete only after a successful upload.
type Archiver struct {
	client *Client
}

// NewArchiver creates an Archiver backed by the given client.
func NewArchiver(client *Client) *Archiver {
	return &Archiver{client: client}
}

// ArchiveTrades uploads trades to archive/trades/YYYY-MM.jsonl and returns
// the object path. A nil slice is a no-op returning an empty path.
func (a *Archiver) ArchiveTrades(ctx context.Context, trades []domain.Trade, before time.Time) (string, error) {
	if len(trades) == 0 {
		return "", nil
	}

	buf, err := marshalJSONL(trades)
	if err != nil {
		return "", fmt.Errorf("s3blob: archive trades marshal: %w", err)
	}

	path := archivePath("trades", before)
	if err := a.put(ctx, path, buf); err != nil {
		return "", fmt.Errorf("s3blob: archive trades upload: %w", err)
	}
	return path, nil
}

// ArchiveOrderbooks uploads orderbook snapshots to
// archive/orderbooks/YYYY-MM.jsonl and returns the object path.
func (a *Archiver) ArchiveOrderbooks(ctx context.Context, snaps []domain.OrderBookSnapshot, before time.Time) (string, error) {
	if len(snaps) == 0 {
		return "", nil
	}

	buf, err := marshalJSONL(snaps)
	if err != nil {
		return "", fmt.Errorf("s3blob: archive orderbooks marshal: %w", err)
	}

	path := archivePath("orderbooks", before)
	if err := a.put(ctx, path, buf); err != nil {
		return "", fmt.Errorf("s3blob: archive orderbooks upload: %w", err)
	}
	return path, nil
}

// ArchiveAlerts uploads dismissed alerts to archive/alerts/YYYY-MM.jsonl.
func (a *Archiver) ArchiveAlerts(ctx context.Context, alerts []domain.Alert, before time.Time) (string, error) {
	if len(alerts) == 0 {
		return "", nil
	}

	buf, err := marshalJSONL(alerts)
	if err != nil {
		return "", fmt.Errorf("s3blob: archive alerts marshal: %w", err)
	}

	path := archivePath("alerts", before)
	if err := a.put(ctx, path, buf); err != nil {
		return "", fmt.Errorf("s3blob: archive alerts upload: %w", err)
	}
	return path, nil
}

// ReadTrades streams an archived trades object back, for backfilling a
// rebuilt database from cold storage.
func (a *Archiver) ReadTrades(ctx context.Context, path string) ([]domain.Trade, error) {
	body, err := a.get(ctx, path)
	if err != nil {
		return nil, err
	}
	defer body.Close()
	return unmarshalJSONL[domain.Trade](body)
}

// ReadOrderbooks streams an archived orderbooks object back.
func (a *Archiver) ReadOrderbooks(ctx context.Context, path string) ([]domain.OrderBookSnapshot, error) {
	body, err := a.get(ctx, path)
	if err != nil {
		return nil, err
	}
	defer body.Close()
	return unmarshalJSONL[domain.OrderBookSnapshot](body)
}

// ListArchives returns the object keys under archive/<kind>/.
func (a *Archiver) ListArchives(ctx context.Context, kind string) ([]string, error) {
	prefix := "archive/" + kind + "/"

	var keys []string
	paginator := s3.NewListObjectsV2Paginator(a.client.S3(), &s3.ListObjectsV2Input{
		Bucket: aws.String(a.client.Bucket()),
		Prefix: aws.String(prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("s3blob: list prefix %s: %w", prefix, err)
		}
		for _, obj := range page.Contents {
			keys = append(keys, aws.ToString(obj.Key))
		}
	}
	return keys, nil
}

func (a *Archiver) put(ctx context.Context, path string, data []byte) error {
	if int64(len(data)) > multipartThreshold {
		uploader := manager.NewUploader(a.client.S3(), func(u *manager.Uploader) {
			u.PartSize = minPartSize
		})
		_, err := uploader.Upload(ctx, &s3.PutObjectInput{
			Bucket:      aws.String(a.client.Bucket()),
			Key:         aws.String(path),
			Body:        bytes.NewReader(data),
			ContentType: aws.String("application/x-ndjson"),
		})
		return err
	}

	_, err := a.client.S3().PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.client.Bucket()),
		Key:         aws.String(path),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/x-ndjson"),
	})
	return err
}

func (a *Archiver) get(ctx context.Context, path string) (io.ReadCloser, error) {
	out, err := a.client.S3().GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(a.client.Bucket()),
		Key:    aws.String(path),
	})
	if err != nil {
		var noSuchKey *types.NoSuchKey
		if errors.As(err, &noSuchKey) {
			return nil, fmt.Errorf("s3blob: get %s: %w", path, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("s3blob: get %s: %w", path, err)
	}
	return out.Body, nil
}

// archivePath partitions archives by the year-month of the cutoff:
//
//	archive/trades/2026-08.jsonl
//	archive/orderbooks/2026-08.jsonl
func archivePath(kind string, before time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, before.UTC().Format("2006-01"))
}

// marshalJSONL serialises records as newline-delimited JSON.
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

// unmarshalJSONL decodes newline-delimited JSON records from r.
func unmarshalJSONL[T any](r io.Reader) ([]T, error) {
	var out []T

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var rec T
		if err := json.Unmarshal(line, &rec); err != nil {
			return nil, fmt.Errorf("jsonl decode record %d: %w", len(out), err)
		}
		out = append(out, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("jsonl scan: %w", err)
	}
	return out, nil
}
