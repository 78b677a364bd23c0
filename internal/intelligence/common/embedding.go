package common

import (
	"context"
	"encoding/json"
	"strings"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/turtacn/RxMarket-Intelligence/pkg/errors"
)

// TextEmbedder turns claim text into an embedding vector through the
// serving backend. The claim vector store uses it to index validated deal
// claims and to query for similar ones.
type TextEmbedder struct {
	backend ModelBackend
	model   string
}

// NewTextEmbedder binds the embedder to a backend and model.
func NewTextEmbedder(backend ModelBackend, model string) (*TextEmbedder, error) {
	if backend == nil {
		return nil, errors.New(errors.ErrCodeConfiguration, "embedder needs a model backend")
	}
	if strings.TrimSpace(model) == "" {
		return nil, errors.New(errors.ErrCodeConfiguration, "embedder needs a model name")
	}
	return &TextEmbedder{backend: backend, model: model}, nil
}

// Embed returns the embedding vector for one text.
func (e *TextEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, errors.New(errors.ErrCodeValidation, "text to embed is empty")
	}

	resp, err := e.backend.Invoke(ctx, &InvokeRequest{
		Model: e.model,
		Task:  TaskEmbed,
		Payload: &structpb.Struct{Fields: map[string]*structpb.Value{
			"text": structpb.NewStringValue(text),
		}},
	})
	if err != nil {
		return nil, err
	}

	body, err := resp.Body()
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeSerialization, "embedding reply unreadable")
	}
	vec, err := parseEmbedding(body)
	if err != nil {
		return nil, err
	}
	if len(vec) == 0 {
		return nil, errors.New(errors.ErrCodeSerialization, "embedding reply carries no vector")
	}
	return vec, nil
}

// parseEmbedding accepts either a bare JSON array or an object with an
// "embedding" field, the two shapes serving backends reply with.
func parseEmbedding(body []byte) ([]float32, error) {
	trimmed := strings.TrimSpace(string(body))
	if strings.HasPrefix(trimmed, "[") {
		var vec []float32
		if err := json.Unmarshal([]byte(trimmed), &vec); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeSerialization, "embedding reply is not a numeric array")
		}
		return vec, nil
	}

	var wrapped struct {
		Embedding []float32 `json:"embedding"`
	}
	if err := json.Unmarshal([]byte(trimmed), &wrapped); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeSerialization, "embedding reply is not the expected JSON shape")
	}
	return wrapped.Embedding, nil
}
