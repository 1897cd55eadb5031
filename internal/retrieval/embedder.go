package retrieval

import (
	"context"
	"errors"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
)

// NewOpenAIEmbedFunc returns an EmbedFunc backed by an OpenAI-style
// embeddings endpoint. Any server speaking the OpenAI API works; the
// base URL comes from the client configuration.
func NewOpenAIEmbedFunc(client *openai.Client, model string) EmbedFunc {
	return func(ctx context.Context, text string) ([]float32, error) {
		resp, err := client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
			Input: []string{text},
			Model: openai.EmbeddingModel(model),
		})
		if err != nil {
			return nil, fmt.Errorf("create embedding: %w", err)
		}
		if len(resp.Data) == 0 {
			return nil, errors.New("embedding response carried no data")
		}
		return resp.Data[0].Embedding, nil
	}
}
