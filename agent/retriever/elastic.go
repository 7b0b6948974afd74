package retriever

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/elastic/go-elasticsearch/v8"
	contractx "github.com/polarcommerce/return-agent/agent/contract"
)

type ElasticConfig struct {
	Addresses string `envconfig:"ADDRESSES" split_words:"true"`
	Username  string `envconfig:"USERNAME" split_words:"true"`
	Password  string `envconfig:"PASSWORD" split_words:"true"`
	IndexName string `envconfig:"INDEX_NAME" split_words:"true" default:"polar-return-policy"`
	TopK      int    `envconfig:"TOP_K" split_words:"true" default:"4"`
}

func (c ElasticConfig) Enabled() bool {
	return strings.TrimSpace(c.Addresses) != ""
}

// ElasticRetriever serves policy chunks from an Elasticsearch index. Used
// when the policy corpus outgrows the embedded document.
type ElasticRetriever struct {
	client *elasticsearch.Client
	index  string
	topK   int
}

var _ contractx.Retriever = (*ElasticRetriever)(nil)

func NewElasticRetriever(cfg ElasticConfig) (*ElasticRetriever, error) {
	if !cfg.Enabled() {
		return nil, errors.New("elasticsearch addresses are required")
	}

	client, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: []string{strings.TrimSpace(cfg.Addresses)},
		Username:  cfg.Username,
		Password:  cfg.Password,
	})
	if err != nil {
		return nil, fmt.Errorf("create elasticsearch client: %w", err)
	}

	topK := cfg.TopK
	if topK <= 0 {
		topK = defaultTopK
	}

	return &ElasticRetriever{
		client: client,
		index:  strings.TrimSpace(cfg.IndexName),
		topK:   topK,
	}, nil
}

func (r *ElasticRetriever) Fetch(ctx context.Context, query string) ([]contractx.Chunk, error) {
	esQuery := map[string]any{
		"query": map[string]any{
			"match": map[string]any{
				"text_content": query,
			},
		},
		"size": r.topK,
	}

	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(esQuery); err != nil {
		return nil, fmt.Errorf("encode search query: %w", err)
	}

	res, err := r.client.Search(
		r.client.Search.WithContext(ctx),
		r.client.Search.WithIndex(r.index),
		r.client.Search.WithBody(&buf),
	)
	if err != nil {
		return nil, fmt.Errorf("execute search: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		body, _ := io.ReadAll(res.Body)
		return nil, fmt.Errorf("search status=%s body=%s", res.Status(), string(body))
	}

	var parsed struct {
		Hits struct {
			Hits []struct {
				Source struct {
					Section     string `json:"section"`
					TextContent string `json:"text_content"`
				} `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}

	chunks := make([]contractx.Chunk, 0, len(parsed.Hits.Hits))
	for _, h := range parsed.Hits.Hits {
		if strings.TrimSpace(h.Source.TextContent) == "" {
			continue
		}
		chunks = append(chunks, contractx.Chunk{
			Source: h.Source.Section,
			Text:   h.Source.TextContent,
		})
	}
	return chunks, nil
}
