package embedding

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"
)

// Options configure the OpenAI embedder.
type Options struct {
	Model openai.EmbeddingModel
}

// OpenAI implements Embedder using the OpenAI embeddings endpoint. The
// default model matches the vectors already present in stored memories.
type OpenAI struct {
	client *openai.Client
	opts   Options
}

// NewOpenAI creates an embedder from an existing client.
func NewOpenAI(client *openai.Client, optFns ...func(o *Options)) *OpenAI {
	opts := Options{Model: openai.EmbeddingModelTextEmbedding3Large}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &OpenAI{client: client, opts: opts}
}

// Embed converts text into a vector, wrapping backend failures into *Error.
func (o *OpenAI) Embed(ctx context.Context, text string) ([]float64, error) {
	resp, err := o.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Input: openai.EmbeddingNewParamsInputUnion{OfString: openai.String(text)},
		Model: o.opts.Model,
	})
	if err != nil {
		return nil, &Error{Err: err}
	}
	if len(resp.Data) == 0 {
		return nil, &Error{Err: fmt.Errorf("no embedding returned")}
	}
	return resp.Data[0].Embedding, nil
}
