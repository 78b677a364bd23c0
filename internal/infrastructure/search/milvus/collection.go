package milvus

import (
	"context"
	"strconv"

	"github.com/milvus-io/milvus-sdk-go/v2/entity"

	"github.com/turtacn/RxMarket-Intelligence/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/RxMarket-Intelligence/pkg/errors"
)

// Field names of the verified-claims collection.
const (
	fieldID            = "id"
	fieldClaim         = "claim"
	fieldCorrelationID = "correlation_id"
	fieldAcquirer      = "acquirer"
	fieldAsset         = "asset"
	fieldIndication    = "indication"
	fieldStage         = "stage"
	fieldValueUSD      = "value_usd"
	fieldScore         = "validation_score"
	fieldEmbedding     = "embedding"
)

// VarChar capacities of the collection. Inserts clip to these so an
// overlong generated value cannot fail the whole batch.
const (
	maxClaimLen         = 2048
	maxCorrelationIDLen = 64
	maxNameLen          = 256
	maxIndicationLen    = 512
	maxStageLen         = 32
)

// Index types accepted in configuration.
const (
	IndexIvfFlat = "ivf_flat"
	IndexHNSW    = "hnsw"
)

const (
	shardsNum = int32(2)

	ivfNList  = 1024
	ivfNProbe = 16

	hnswM              = 16
	hnswEfConstruction = 200
	hnswEf             = 64
)

// ClaimCollectionName returns the verified-claims collection for a prefix.
func ClaimCollectionName(prefix string) string {
	if prefix == "" {
		prefix = "rxmi"
	}
	return prefix + "_verified_claims"
}

// claimSchema is the collection layout: one row per validated deal claim,
// carrying the fields the cross-reference vote compares plus the embedding
// the search runs on.
func claimSchema(name string, dim int) *entity.Schema {
	return &entity.Schema{
		CollectionName: name,
		Description:    "verified deal claims from accepted research runs",
		Fields: []*entity.Field{
			{Name: fieldID, DataType: entity.FieldTypeInt64, PrimaryKey: true, AutoID: true},
			{Name: fieldClaim, DataType: entity.FieldTypeVarChar, TypeParams: map[string]string{"max_length": strconv.Itoa(maxClaimLen)}},
			{Name: fieldCorrelationID, DataType: entity.FieldTypeVarChar, TypeParams: map[string]string{"max_length": strconv.Itoa(maxCorrelationIDLen)}},
			{Name: fieldAcquirer, DataType: entity.FieldTypeVarChar, TypeParams: map[string]string{"max_length": strconv.Itoa(maxNameLen)}},
			{Name: fieldAsset, DataType: entity.FieldTypeVarChar, TypeParams: map[string]string{"max_length": strconv.Itoa(maxNameLen)}},
			{Name: fieldIndication, DataType: entity.FieldTypeVarChar, TypeParams: map[string]string{"max_length": strconv.Itoa(maxIndicationLen)}},
			{Name: fieldStage, DataType: entity.FieldTypeVarChar, TypeParams: map[string]string{"max_length": strconv.Itoa(maxStageLen)}},
			{Name: fieldValueUSD, DataType: entity.FieldTypeDouble},
			{Name: fieldScore, DataType: entity.FieldTypeDouble},
			{Name: fieldEmbedding, DataType: entity.FieldTypeFloatVector, TypeParams: map[string]string{"dim": strconv.Itoa(dim)}},
		},
	}
}

// vectorIndex builds the embedding index for the configured type. Cosine is
// the only metric in play; the penalty vote depends on scores being
// similarities.
func vectorIndex(indexType string) (entity.Index, error) {
	switch indexType {
	case "", IndexIvfFlat:
		return entity.NewIndexIvfFlat(entity.COSINE, ivfNList)
	case IndexHNSW:
		return entity.NewIndexHNSW(entity.COSINE, hnswM, hnswEfConstruction)
	default:
		return nil, errors.Newf(errors.ErrCodeConfiguration, "unsupported milvus index type %q", indexType)
	}
}

func searchParam(indexType string) (entity.SearchParam, error) {
	switch indexType {
	case "", IndexIvfFlat:
		return entity.NewIndexIvfFlatSearchParam(ivfNProbe)
	case IndexHNSW:
		return entity.NewIndexHNSWSearchParam(hnswEf)
	default:
		return nil, errors.Newf(errors.ErrCodeConfiguration, "unsupported milvus index type %q", indexType)
	}
}

// EnsureCollection creates, indexes and loads the verified-claims collection
// when missing. Workers call it once at startup.
func (s *ClaimStore) EnsureCollection(ctx context.Context) error {
	mc := s.client.Raw()
	if mc == nil {
		return ErrConnectionFailed
	}

	has, err := mc.HasCollection(ctx, s.collection)
	if err != nil {
		return errors.Wrap(err, errors.CodeSearchError, "checking claim collection")
	}
	if !has {
		idx, err := vectorIndex(s.cfg.IndexType)
		if err != nil {
			return err
		}
		if err := mc.CreateCollection(ctx, claimSchema(s.collection, s.cfg.EmbeddingDim), shardsNum); err != nil {
			return errors.Wrap(err, errors.CodeSearchError, "creating claim collection")
		}
		if err := mc.CreateIndex(ctx, s.collection, fieldEmbedding, idx, false); err != nil {
			return errors.Wrap(err, errors.CodeSearchError, "indexing claim embeddings")
		}
		s.logger.Info("claim collection created",
			logging.String("collection", s.collection),
			logging.Int("dim", s.cfg.EmbeddingDim),
		)
	}

	if err := mc.LoadCollection(ctx, s.collection, false); err != nil {
		return errors.Wrap(err, errors.CodeSearchError, "loading claim collection")
	}
	return nil
}
