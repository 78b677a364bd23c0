package opensearch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/opensearch-project/opensearch-go/v2/opensearchapi"

	"github.com/turtacn/RxMarket-Intelligence/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/RxMarket-Intelligence/pkg/errors"
)

var (
	ErrIndexAlreadyExists = errors.New(errors.ErrCodeConflict, "index already exists")
	ErrIndexNotFound      = errors.New(errors.ErrCodeNotFound, "index not found")
	ErrDocumentNotFound   = errors.New(errors.ErrCodeNotFound, "document not found")
)

// IndexMapping carries the settings and mappings body used at index
// creation.
type IndexMapping struct {
	Settings map[string]interface{} `json:"settings,omitempty"`
	Mappings map[string]interface{} `json:"mappings,omitempty"`
}

// BulkResult reports per-document outcomes of one bulk call.
type BulkResult struct {
	Succeeded int
	Failed    int
	Errors    []BulkItemError
}

// BulkItemError describes one document the cluster rejected.
type BulkItemError struct {
	DocID     string
	ErrorType string
	Reason    string
}

// IndexerConfig bounds bulk batches and selects the refresh policy.
type IndexerConfig struct {
	BulkBatchSize int
	// RefreshPolicy is passed through to the cluster: "true", "false", or
	// "wait_for". Evidence writes never need read-your-write, so the
	// default leaves refresh to the cluster's own cycle.
	RefreshPolicy string
}

// Indexer manages the evidence index and document ingestion.
type Indexer struct {
	client *Client
	cfg    IndexerConfig
	logger logging.Logger
}

// NewIndexer returns an indexer bound to the given cluster client.
func NewIndexer(client *Client, cfg IndexerConfig, log logging.Logger) *Indexer {
	if cfg.BulkBatchSize <= 0 {
		cfg.BulkBatchSize = 500
	}
	if cfg.RefreshPolicy == "" {
		cfg.RefreshPolicy = "false"
	}
	if log == nil {
		log = logging.NewNopLogger()
	}
	return &Indexer{
		client: client,
		cfg:    cfg,
		logger: log.Named("indexer"),
	}
}

// CreateIndex creates the index with the given mapping. An existing index
// is a conflict; callers that only need the index present use EnsureIndex.
func (i *Indexer) CreateIndex(ctx context.Context, index string, mapping IndexMapping) error {
	exists, err := i.IndexExists(ctx, index)
	if err != nil {
		return err
	}
	if exists {
		return ErrIndexAlreadyExists
	}

	body, err := json.Marshal(mapping)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeSerialization, "failed to marshal index mapping")
	}

	req := opensearchapi.IndicesCreateRequest{
		Index: index,
		Body:  bytes.NewReader(body),
	}
	resp, err := req.Do(ctx, i.client.GetClient())
	if err != nil {
		return errors.Wrap(err, errors.CodeSearchError, "create index request failed")
	}
	defer resp.Body.Close()

	if resp.IsError() {
		return decodeErrorResponse(resp, "create index")
	}

	i.logger.Info("index created", logging.String("index", index))
	return nil
}

// EnsureIndex creates the index unless it already exists. Workers call it
// at startup; a failed create falls back to the existence check so racing
// creates settle cleanly.
func (i *Indexer) EnsureIndex(ctx context.Context, index string, mapping IndexMapping) error {
	err := i.CreateIndex(ctx, index, mapping)
	if err == nil || errors.IsCode(err, errors.ErrCodeConflict) {
		return nil
	}
	if exists, checkErr := i.IndexExists(ctx, index); checkErr == nil && exists {
		return nil
	}
	return err
}

// IndexExists reports whether the index is present.
func (i *Indexer) IndexExists(ctx context.Context, index string) (bool, error) {
	req := opensearchapi.IndicesExistsRequest{
		Index: []string{index},
	}
	resp, err := req.Do(ctx, i.client.GetClient())
	if err != nil {
		return false, errors.Wrap(err, errors.CodeSearchError, "index existence check failed")
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case 200:
		return true, nil
	case 404:
		return false, nil
	default:
		return false, decodeErrorResponse(resp, "check index existence")
	}
}

// DeleteIndex removes the index and everything in it.
func (i *Indexer) DeleteIndex(ctx context.Context, index string) error {
	req := opensearchapi.IndicesDeleteRequest{
		Index: []string{index},
	}
	resp, err := req.Do(ctx, i.client.GetClient())
	if err != nil {
		return errors.Wrap(err, errors.CodeSearchError, "delete index request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode == 404 {
		return ErrIndexNotFound
	}
	if resp.IsError() {
		return decodeErrorResponse(resp, "delete index")
	}

	i.logger.Warn("index deleted", logging.String("index", index))
	return nil
}

// IndexDocument writes one document under the given ID.
func (i *Indexer) IndexDocument(ctx context.Context, index, docID string, document interface{}) error {
	body, err := json.Marshal(document)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeSerialization, "failed to marshal document")
	}

	req := opensearchapi.IndexRequest{
		Index:      index,
		DocumentID: docID,
		Body:       bytes.NewReader(body),
		Refresh:    i.cfg.RefreshPolicy,
	}
	resp, err := req.Do(ctx, i.client.GetClient())
	if err != nil {
		return errors.Wrap(err, errors.CodeSearchError, "index document request failed")
	}
	defer resp.Body.Close()

	if resp.IsError() {
		return decodeErrorResponse(resp, "index document")
	}
	return nil
}

// DeleteDocument removes one document by ID.
func (i *Indexer) DeleteDocument(ctx context.Context, index, docID string) error {
	req := opensearchapi.DeleteRequest{
		Index:      index,
		DocumentID: docID,
		Refresh:    i.cfg.RefreshPolicy,
	}
	resp, err := req.Do(ctx, i.client.GetClient())
	if err != nil {
		return errors.Wrap(err, errors.CodeSearchError, "delete document request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode == 404 {
		return ErrDocumentNotFound
	}
	if resp.IsError() {
		return decodeErrorResponse(resp, "delete document")
	}
	return nil
}

// BulkIndex writes the documents in batches and reports per-document
// outcomes. A transport failure aborts with the counts accumulated so far;
// cluster-side rejections are returned in the result, not as an error.
func (i *Indexer) BulkIndex(ctx context.Context, index string, documents map[string]interface{}) (*BulkResult, error) {
	result := &BulkResult{}
	if len(documents) == 0 {
		return result, nil
	}

	ids := make([]string, 0, len(documents))
	for id := range documents {
		ids = append(ids, id)
	}

	for start := 0; start < len(ids); start += i.cfg.BulkBatchSize {
		end := start + i.cfg.BulkBatchSize
		if end > len(ids) {
			end = len(ids)
		}
		if err := i.bulkBatch(ctx, index, ids[start:end], documents, result); err != nil {
			return result, err
		}
	}

	i.logger.Info("bulk index completed",
		logging.String("index", index),
		logging.Int("total", len(ids)),
		logging.Int("succeeded", result.Succeeded),
		logging.Int("failed", result.Failed),
	)
	return result, nil
}

func (i *Indexer) bulkBatch(ctx context.Context, index string, ids []string, documents map[string]interface{}, result *BulkResult) error {
	var buf bytes.Buffer
	sent := make([]string, 0, len(ids))

	for _, id := range ids {
		docBytes, err := json.Marshal(documents[id])
		if err != nil {
			result.Failed++
			result.Errors = append(result.Errors, BulkItemError{
				DocID:     id,
				ErrorType: "serialization_error",
				Reason:    err.Error(),
			})
			continue
		}
		fmt.Fprintf(&buf, `{"index":{"_index":%q,"_id":%q}}`+"\n", index, id)
		buf.Write(docBytes)
		buf.WriteByte('\n')
		sent = append(sent, id)
	}
	if buf.Len() == 0 {
		return nil
	}

	req := opensearchapi.BulkRequest{
		Body:    bytes.NewReader(buf.Bytes()),
		Refresh: i.cfg.RefreshPolicy,
	}
	resp, err := req.Do(ctx, i.client.GetClient())
	if err != nil {
		return errors.Wrap(err, errors.CodeSearchError, "bulk request failed")
	}
	defer resp.Body.Close()

	if resp.IsError() {
		result.Failed += len(sent)
		batchErr := decodeErrorResponse(resp, "bulk batch")
		result.Errors = append(result.Errors, BulkItemError{
			DocID:     "batch",
			ErrorType: "http_error",
			Reason:    batchErr.Error(),
		})
		return nil
	}

	var bulkResp struct {
		Errors bool `json:"errors"`
		Items  []map[string]struct {
			ID     string `json:"_id"`
			Status int    `json:"status"`
			Error  struct {
				Type   string `json:"type"`
				Reason string `json:"reason"`
			} `json:"error"`
		} `json:"items"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&bulkResp); err != nil {
		return errors.Wrap(err, errors.ErrCodeSerialization, "failed to decode bulk response")
	}

	for _, item := range bulkResp.Items {
		// Each entry nests under its action verb, "index" here.
		for _, info := range item {
			if info.Status >= 200 && info.Status < 300 {
				result.Succeeded++
			} else {
				result.Failed++
				result.Errors = append(result.Errors, BulkItemError{
					DocID:     info.ID,
					ErrorType: info.Error.Type,
					Reason:    info.Error.Reason,
				})
			}
			break
		}
	}
	return nil
}

// decodeErrorResponse extracts the cluster's error reason when the body
// carries one, falling back to the bare status code.
func decodeErrorResponse(resp *opensearchapi.Response, action string) error {
	body, _ := io.ReadAll(resp.Body)
	var payload struct {
		Error struct {
			Type   string `json:"type"`
			Reason string `json:"reason"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && payload.Error.Reason != "" {
		return errors.Newf(errors.CodeSearchError, "%s: %s (%s)", action, payload.Error.Reason, payload.Error.Type)
	}
	return errors.Newf(errors.CodeSearchError, "%s: status %d", action, resp.StatusCode)
}
