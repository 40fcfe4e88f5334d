package embedding

import (
	"context"
	"fmt"
	"math"

	"cyborg-chat-be/pkg/apperror"
	"cyborg-chat-be/pkg/rag/chunking"

	"golang.org/x/sync/errgroup"
)

const DefaultBatchSize = 5

// Embedding is a chunk together with its normalized vector.
type Embedding struct {
	chunking.Chunk
	Vector []float32
}

// Client batches calls to an EmbeddingProvider and normalizes every vector.
// Within a batch calls run concurrently; batches run one after another, which
// bounds the load on the backend to batchSize requests.
type Client struct {
	provider  EmbeddingProvider
	batchSize int
	dimension int
}

type ClientOption func(*Client)

func WithBatchSize(n int) ClientOption {
	return func(c *Client) {
		if n > 0 {
			c.batchSize = n
		}
	}
}

// WithDimension makes the client reject vectors of any other length.
func WithDimension(dim int) ClientOption {
	return func(c *Client) {
		c.dimension = dim
	}
}

func NewClient(provider EmbeddingProvider, opts ...ClientOption) *Client {
	c := &Client{
		provider:  provider,
		batchSize: DefaultBatchSize,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) BatchSize() int {
	return c.batchSize
}

// Embed returns one vector per text, in order. A failure anywhere fails the
// whole call with a processing error; no partial result is returned.
func (c *Client) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += c.batchSize {
		end := min(start+c.batchSize, len(texts))

		batch, err := c.embedBatch(ctx, texts[start:end], TaskRetrievalDocument)
		if err != nil {
			return nil, apperror.Processing(
				fmt.Sprintf("failed to generate embeddings (batch %d-%d)", start, end-1), err)
		}
		vectors = append(vectors, batch...)
	}
	return vectors, nil
}

func (c *Client) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vectors, err := c.embedBatch(ctx, []string{text}, TaskRetrievalQuery)
	if err != nil {
		return nil, apperror.Processing("failed to generate query embedding", err)
	}
	return vectors[0], nil
}

// EmbedChunks is Embed for chunks; positional metadata is carried over.
func (c *Client) EmbedChunks(ctx context.Context, chunks []chunking.Chunk) ([]Embedding, error) {
	if len(chunks) == 0 {
		return nil, nil
	}

	texts := make([]string, len(chunks))
	for i, ch := range chunks {
		texts[i] = ch.Content
	}

	vectors, err := c.Embed(ctx, texts)
	if err != nil {
		return nil, err
	}

	embeddings := make([]Embedding, len(chunks))
	for i, ch := range chunks {
		embeddings[i] = Embedding{Chunk: ch, Vector: vectors[i]}
	}
	return embeddings, nil
}

// EmbedStream pulls chunks from in one batch at a time and emits their
// embeddings on the returned channel. It does not read the next batch until
// every embedding of the current one has been received downstream.
//
// Both channels are closed when in is drained, on the first error, or when
// ctx is done. The error channel carries at most one value.
func (c *Client) EmbedStream(ctx context.Context, in <-chan chunking.Chunk) (<-chan Embedding, <-chan error) {
	out := make(chan Embedding)
	errc := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errc)

		batch := make([]chunking.Chunk, 0, c.batchSize)
		flush := func() bool {
			embeddings, err := c.EmbedChunks(ctx, batch)
			if err != nil {
				errc <- err
				return false
			}
			for _, e := range embeddings {
				select {
				case out <- e:
				case <-ctx.Done():
					errc <- ctx.Err()
					return false
				}
			}
			batch = batch[:0]
			return true
		}

		for {
			select {
			case ch, ok := <-in:
				if !ok {
					if len(batch) > 0 {
						flush()
					}
					return
				}
				batch = append(batch, ch)
				if len(batch) == c.batchSize && !flush() {
					return
				}
			case <-ctx.Done():
				errc <- ctx.Err()
				return
			}
		}
	}()

	return out, errc
}

func (c *Client) embedBatch(ctx context.Context, texts []string, taskType string) ([][]float32, error) {
	out := make([][]float32, len(texts))

	g, gctx := errgroup.WithContext(ctx)
	for i, text := range texts {
		g.Go(func() error {
			resp, err := c.provider.Generate(gctx, text, taskType)
			if err != nil {
				return fmt.Errorf("embedding %d: %w", i, err)
			}
			values := resp.Embedding.Values
			if c.dimension > 0 && len(values) != c.dimension {
				return fmt.Errorf("embedding %d: got %d dimensions, want %d", i, len(values), c.dimension)
			}
			out[i] = Normalize(values)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// Normalize scales vec to unit length. A zero vector is returned unchanged.
func Normalize(vec []float32) []float32 {
	var magnitude float64
	for _, v := range vec {
		magnitude += float64(v) * float64(v)
	}
	magnitude = math.Sqrt(magnitude)

	if magnitude == 0 {
		return vec
	}

	normalized := make([]float32, len(vec))
	for i, v := range vec {
		normalized[i] = float32(float64(v) / magnitude)
	}
	return normalized
}
