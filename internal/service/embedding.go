package service

import (
	"context"
	"fmt"

	"github.com/go-resty/resty/v2"

	"github.com/jchen/finsight/internal/config"
)

const (
	jinaEndpoint = "https://api.jina.ai/v1/embeddings"
)

// EmbeddingService generates text embeddings for document segments and
// retrieval queries.
type EmbeddingService struct {
	client     *resty.Client
	model      string
	dimensions int
}

// NewEmbeddingService creates a new embedding service.
func NewEmbeddingService(cfg *config.EmbeddingConfig) *EmbeddingService {
	client := resty.New()
	client.SetHeader("Authorization", "Bearer "+cfg.APIKey)
	client.SetHeader("Content-Type", "application/json")

	return &EmbeddingService{
		client:     client,
		model:      cfg.Model,
		dimensions: cfg.Dimensions,
	}
}

// Dimensions returns the embedding vector size.
func (s *EmbeddingService) Dimensions() int {
	return s.dimensions
}

// Jina API request/response structures
type jinaRequest struct {
	Model         string   `json:"model"`
	Task          string   `json:"task,omitempty"`
	Dimensions    int      `json:"dimensions,omitempty"`
	Input         []string `json:"input"`
	EmbeddingType string   `json:"embedding_type,omitempty"`
}

type jinaResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
	Detail string `json:"detail,omitempty"`
}

// EmbedBatch generates passage embeddings for multiple texts, in input order.
func (s *EmbeddingService) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	return s.embed(ctx, texts, "retrieval.passage")
}

// EmbedQuery generates an embedding optimized for search queries.
func (s *EmbeddingService) EmbedQuery(ctx context.Context, query string) ([]float32, error) {
	embeddings, err := s.embed(ctx, []string{query}, "retrieval.query")
	if err != nil {
		return nil, err
	}
	if len(embeddings) == 0 {
		return nil, fmt.Errorf("no embedding returned")
	}
	return embeddings[0], nil
}

func (s *EmbeddingService) embed(ctx context.Context, texts []string, task string) ([][]float32, error) {
	req := jinaRequest{
		Model:         s.model,
		Task:          task,
		Dimensions:    s.dimensions,
		Input:         texts,
		EmbeddingType: "float",
	}

	var resp jinaResponse
	httpResp, err := s.client.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&resp).
		Post(jinaEndpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to call Jina API: %w", err)
	}

	if httpResp.StatusCode() != 200 {
		if resp.Detail != "" {
			return nil, fmt.Errorf("Jina API error: %s", resp.Detail)
		}
		return nil, fmt.Errorf("Jina API error: status %d", httpResp.StatusCode())
	}

	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("unexpected number of embeddings: got %d, expected %d", len(resp.Data), len(texts))
	}

	// Sort by index to ensure input order.
	embeddings := make([][]float32, len(texts))
	for _, item := range resp.Data {
		if item.Index < len(embeddings) {
			embeddings[item.Index] = item.Embedding
		}
	}

	return embeddings, nil
}
