package opensearch

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"time"

	"github.com/opensearch-project/opensearch-go/v2/opensearchapi"

	"github.com/turtacn/RxMarket-Intelligence/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/RxMarket-Intelligence/pkg/errors"
)

// Query kinds.
const (
	QueryMatch       = "match"
	QueryMatchPhrase = "match_phrase"
	QueryMultiMatch  = "multi_match"
	QueryTerm        = "term"
	QueryBool        = "bool"
)

// Filter kinds.
const (
	FilterTerm   = "term"
	FilterTerms  = "terms"
	FilterRange  = "range"
	FilterExists = "exists"
)

// SearchRequest describes one query against an index.
type SearchRequest struct {
	Index          string
	Query          *Query
	Filters        []Filter
	Sort           []SortField
	Page           *Pagination
	SourceIncludes []string
}

// Query is one node of the query tree. Leaf kinds use Field and Value;
// QueryBool composes Must, Should, and MustNot.
type Query struct {
	Kind               string
	Field              string
	Fields             []string
	Value              interface{}
	Must               []Query
	Should             []Query
	MustNot            []Query
	MinimumShouldMatch string
}

// Filter is one non-scoring clause.
type Filter struct {
	Kind      string
	Field     string
	Value     interface{}
	RangeFrom interface{}
	RangeTo   interface{}
}

// SortField orders results by a field.
type SortField struct {
	Field string
	Order string
}

// Pagination bounds the result window.
type Pagination struct {
	Offset int
	Limit  int
}

// SearchResult carries decoded hits plus the total match count.
type SearchResult struct {
	Total    int64
	MaxScore float64
	Hits     []SearchHit
	TookMs   int64
}

// SearchHit is one matching document.
type SearchHit struct {
	ID     string
	Score  float64
	Source json.RawMessage
}

// SearcherConfig bounds page sizes.
type SearcherConfig struct {
	DefaultPageSize int
	MaxPageSize     int
}

// Searcher runs queries against the evidence index.
type Searcher struct {
	client *Client
	cfg    SearcherConfig
	logger logging.Logger
}

// NewSearcher returns a searcher bound to the given cluster client.
func NewSearcher(client *Client, cfg SearcherConfig, log logging.Logger) *Searcher {
	if cfg.DefaultPageSize <= 0 {
		cfg.DefaultPageSize = 20
	}
	if cfg.MaxPageSize <= 0 {
		cfg.MaxPageSize = 100
	}
	if log == nil {
		log = logging.NewNopLogger()
	}
	return &Searcher{
		client: client,
		cfg:    cfg,
		logger: log.Named("searcher"),
	}
}

// Search executes the request and decodes the hits.
func (s *Searcher) Search(ctx context.Context, req SearchRequest) (*SearchResult, error) {
	if req.Index == "" {
		return nil, errors.New(errors.ErrCodeValidation, "index name is required")
	}
	if req.Page == nil {
		req.Page = &Pagination{Limit: s.cfg.DefaultPageSize}
	}
	if req.Page.Limit > s.cfg.MaxPageSize {
		req.Page.Limit = s.cfg.MaxPageSize
	}
	if req.Page.Offset < 0 {
		req.Page.Offset = 0
	}

	body, err := json.Marshal(buildQueryDSL(req))
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeSerialization, "failed to marshal query")
	}

	osReq := opensearchapi.SearchRequest{
		Index: []string{req.Index},
		Body:  bytes.NewReader(body),
	}

	start := time.Now()
	resp, err := osReq.Do(ctx, s.client.GetClient())
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, errors.New(errors.ErrCodeTimeout, "search timed out")
		}
		return nil, errors.Wrap(err, errors.CodeSearchError, "search request failed")
	}
	defer resp.Body.Close()

	if resp.IsError() {
		return nil, decodeErrorResponse(resp, "search")
	}

	result, err := parseSearchResponse(resp.Body)
	if err != nil {
		return nil, err
	}

	s.logger.Debug("search executed",
		logging.String("index", req.Index),
		logging.Int64("hits", result.Total),
		logging.Int64("latency_ms", time.Since(start).Milliseconds()),
	)
	return result, nil
}

// Count returns the number of documents matching the query without
// fetching any.
func (s *Searcher) Count(ctx context.Context, index string, query *Query, filters []Filter) (int64, error) {
	if index == "" {
		return 0, errors.New(errors.ErrCodeValidation, "index name is required")
	}

	// The count endpoint accepts only the query clause.
	dsl := buildQueryDSL(SearchRequest{Index: index, Query: query, Filters: filters})
	countDSL := map[string]interface{}{}
	if q, ok := dsl["query"]; ok {
		countDSL["query"] = q
	}

	body, err := json.Marshal(countDSL)
	if err != nil {
		return 0, errors.Wrap(err, errors.ErrCodeSerialization, "failed to marshal count query")
	}

	osReq := opensearchapi.CountRequest{
		Index: []string{index},
		Body:  bytes.NewReader(body),
	}
	resp, err := osReq.Do(ctx, s.client.GetClient())
	if err != nil {
		return 0, errors.Wrap(err, errors.CodeSearchError, "count request failed")
	}
	defer resp.Body.Close()

	if resp.IsError() {
		return 0, decodeErrorResponse(resp, "count")
	}

	var countResp struct {
		Count int64 `json:"count"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&countResp); err != nil {
		return 0, errors.Wrap(err, errors.ErrCodeSerialization, "failed to decode count response")
	}
	return countResp.Count, nil
}

// ---------------------------------------------------------------------------
// Query DSL assembly
// ---------------------------------------------------------------------------

func buildQueryDSL(req SearchRequest) map[string]interface{} {
	dsl := map[string]interface{}{}

	var queryMap map[string]interface{}
	if req.Query != nil {
		queryMap = buildQuery(*req.Query)
	}

	if len(req.Filters) > 0 {
		clauses := make([]map[string]interface{}, 0, len(req.Filters))
		for _, f := range req.Filters {
			if clause := buildFilter(f); clause != nil {
				clauses = append(clauses, clause)
			}
		}
		boolQuery := map[string]interface{}{"filter": clauses}
		if queryMap != nil {
			boolQuery["must"] = queryMap
		} else {
			boolQuery["must"] = map[string]interface{}{"match_all": map[string]interface{}{}}
		}
		queryMap = map[string]interface{}{"bool": boolQuery}
	}
	if queryMap != nil {
		dsl["query"] = queryMap
	}

	if req.Page != nil {
		dsl["from"] = req.Page.Offset
		dsl["size"] = req.Page.Limit
	}

	if len(req.Sort) > 0 {
		sortList := make([]map[string]interface{}, len(req.Sort))
		for i, sf := range req.Sort {
			sortList[i] = map[string]interface{}{
				sf.Field: map[string]interface{}{"order": sf.Order},
			}
		}
		dsl["sort"] = sortList
	}

	if len(req.SourceIncludes) > 0 {
		dsl["_source"] = map[string]interface{}{"includes": req.SourceIncludes}
	}
	return dsl
}

func buildQuery(q Query) map[string]interface{} {
	switch q.Kind {
	case QueryMatch:
		return map[string]interface{}{
			"match": map[string]interface{}{
				q.Field: map[string]interface{}{"query": q.Value},
			},
		}
	case QueryMatchPhrase:
		return map[string]interface{}{
			"match_phrase": map[string]interface{}{q.Field: q.Value},
		}
	case QueryMultiMatch:
		return map[string]interface{}{
			"multi_match": map[string]interface{}{
				"query":  q.Value,
				"fields": q.Fields,
			},
		}
	case QueryTerm:
		return map[string]interface{}{
			"term": map[string]interface{}{q.Field: q.Value},
		}
	case QueryBool:
		boolQ := map[string]interface{}{}
		if len(q.Must) > 0 {
			boolQ["must"] = buildClauses(q.Must)
		}
		if len(q.Should) > 0 {
			boolQ["should"] = buildClauses(q.Should)
		}
		if len(q.MustNot) > 0 {
			boolQ["must_not"] = buildClauses(q.MustNot)
		}
		if q.MinimumShouldMatch != "" {
			boolQ["minimum_should_match"] = q.MinimumShouldMatch
		}
		return map[string]interface{}{"bool": boolQ}
	}
	return nil
}

func buildClauses(queries []Query) []map[string]interface{} {
	clauses := make([]map[string]interface{}, 0, len(queries))
	for _, sub := range queries {
		if clause := buildQuery(sub); clause != nil {
			clauses = append(clauses, clause)
		}
	}
	return clauses
}

func buildFilter(f Filter) map[string]interface{} {
	switch f.Kind {
	case FilterTerm:
		return map[string]interface{}{
			"term": map[string]interface{}{f.Field: f.Value},
		}
	case FilterTerms:
		return map[string]interface{}{
			"terms": map[string]interface{}{f.Field: f.Value},
		}
	case FilterRange:
		bounds := map[string]interface{}{}
		if f.RangeFrom != nil {
			bounds["gte"] = f.RangeFrom
		}
		if f.RangeTo != nil {
			bounds["lte"] = f.RangeTo
		}
		return map[string]interface{}{
			"range": map[string]interface{}{f.Field: bounds},
		}
	case FilterExists:
		return map[string]interface{}{
			"exists": map[string]interface{}{"field": f.Field},
		}
	}
	return nil
}

func parseSearchResponse(body io.Reader) (*SearchResult, error) {
	var resp struct {
		Took int64 `json:"took"`
		Hits struct {
			Total struct {
				Value int64 `json:"value"`
			} `json:"total"`
			MaxScore float64 `json:"max_score"`
			Hits     []struct {
				ID     string          `json:"_id"`
				Score  float64         `json:"_score"`
				Source json.RawMessage `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(body).Decode(&resp); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeSerialization, "failed to decode search response")
	}

	result := &SearchResult{
		Total:    resp.Hits.Total.Value,
		MaxScore: resp.Hits.MaxScore,
		TookMs:   resp.Took,
	}
	for _, h := range resp.Hits.Hits {
		result.Hits = append(result.Hits, SearchHit{
			ID:     h.ID,
			Score:  h.Score,
			Source: h.Source,
		})
	}
	return result, nil
}
