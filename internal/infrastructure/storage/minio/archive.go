package minio

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/minio/minio-go/v7"

	"github.com/turtacn/RxMarket-Intelligence/internal/domain/research"
	"github.com/turtacn/RxMarket-Intelligence/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/RxMarket-Intelligence/pkg/errors"
)

// ErrDocumentNotFound reports that no archived document exists under the
// requested key.
var ErrDocumentNotFound = errors.New(errors.ErrCodeNotFound, "archived document not found")

const (
	archiveContentType    = "application/json"
	defaultPresignExpiry  = 24 * time.Hour
	noSuchKeyResponseCode = "NoSuchKey"
)

// ArchivedResult is the stored shape: the full engine result plus the
// context that produced it, so a fetched archive is self-describing.
type ArchivedResult struct {
	CorrelationID string                   `json:"correlation_id"`
	ArchivedAt    time.Time                `json:"archived_at"`
	Context       research.ResearchContext `json:"context"`
	Result        *research.EngineResult   `json:"result"`
}

// ResultArchive writes accepted research results into the archive bucket.
// It satisfies the application service's archiver port.
type ResultArchive struct {
	client *Client
	logger logging.Logger
}

// NewResultArchive wires the archive over an established client.
func NewResultArchive(client *Client, log logging.Logger) (*ResultArchive, error) {
	if client == nil {
		return nil, errors.New(errors.ErrCodeConfiguration, "result archive needs a minio client")
	}
	if log == nil {
		log = logging.NewNopLogger()
	}
	return &ResultArchive{client: client, logger: log.Named("result_archive")}, nil
}

// ObjectKey returns the archive key for a correlation ID at a point in
// time. Keys shard by month so prefix listings stay usable as the bucket
// grows.
func ObjectKey(correlationID string, at time.Time) string {
	return fmt.Sprintf("research/%04d/%02d/%s.json", at.Year(), int(at.Month()), correlationID)
}

// ArchiveResult stores the run's document and returns the object key.
func (a *ResultArchive) ArchiveResult(ctx context.Context, rc research.ResearchContext, res *research.EngineResult) (string, error) {
	if res == nil {
		return "", errors.New(errors.ErrCodeValidation, "result is required")
	}

	cid := string(res.CorrelationID)
	now := time.Now().UTC()

	payload, err := json.Marshal(ArchivedResult{
		CorrelationID: cid,
		ArchivedAt:    now,
		Context:       rc,
		Result:        res,
	})
	if err != nil {
		return "", errors.Wrap(err, errors.ErrCodeSerialization, "encoding archive document")
	}

	key := ObjectKey(cid, now)
	_, err = a.client.api.PutObject(ctx, a.client.cfg.Bucket, key,
		bytes.NewReader(payload), int64(len(payload)),
		minio.PutObjectOptions{
			ContentType: archiveContentType,
			UserMetadata: map[string]string{
				"correlation-id": cid,
				"target":         rc.Target,
			},
			UserTags: map[string]string{
				"outcome": string(res.Outcome),
				"score":   strconv.FormatFloat(res.OverallScore, 'f', 1, 64),
			},
		})
	if err != nil {
		return "", errors.Wrap(err, errors.CodeStorageError, "storing archive document")
	}

	a.logger.Info("research document archived",
		logging.String("correlation_id", cid),
		logging.String("object_key", key),
		logging.Int("bytes", len(payload)),
	)
	return key, nil
}

// FetchResult loads an archived document by object key.
func (a *ResultArchive) FetchResult(ctx context.Context, key string) (*ArchivedResult, error) {
	obj, err := a.client.api.GetObject(ctx, a.client.cfg.Bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeStorageError, "opening archive document")
	}
	defer obj.Close()

	// The SDK defers the request until the first read, so a missing key
	// surfaces here rather than from GetObject.
	raw, err := io.ReadAll(obj)
	if err != nil {
		if minio.ToErrorResponse(err).Code == noSuchKeyResponseCode {
			return nil, ErrDocumentNotFound
		}
		return nil, errors.Wrap(err, errors.CodeStorageError, "reading archive document")
	}

	var doc ArchivedResult
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeSerialization, "decoding archive document")
	}
	return &doc, nil
}

// PresignURL returns a time-limited download link for an archived document.
func (a *ResultArchive) PresignURL(ctx context.Context, key string) (string, error) {
	expiry := a.client.cfg.PresignExpiry
	if expiry <= 0 {
		expiry = defaultPresignExpiry
	}
	u, err := a.client.api.PresignedGetObject(ctx, a.client.cfg.Bucket, key, expiry, nil)
	if err != nil {
		return "", errors.Wrap(err, errors.CodeStorageError, "presigning archive link")
	}
	return u.String(), nil
}
