package embedding

import (
	"context"
	"fmt"
	"math"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/manual-qa/backend/pkg/circuitbreaker"
	"github.com/manual-qa/backend/pkg/logger"
	"github.com/manual-qa/backend/pkg/retry"
	"github.com/manual-qa/backend/pkg/utils"
)

// Cache stores embeddings keyed by content hash. Implementations may be
// lossy; a miss just re-embeds.
type Cache interface {
	GetEmbedding(ctx context.Context, key string) ([]float32, bool)
	SetEmbedding(ctx context.Context, key string, vector []float32)
}

type Client struct {
	client      *openai.Client
	model       string
	timeout     time.Duration
	cache       Cache
	cb          *circuitbreaker.CircuitBreaker
	retryConfig retry.Config
}

// NewClient builds an embedding client. cache may be nil to disable caching.
func NewClient(apiKey, model string, timeoutSec int, cache Cache) *Client {
	cb := circuitbreaker.NewCircuitBreaker("embedding", circuitbreaker.Config{
		MaxRequests:      5,
		Interval:         time.Minute,
		Timeout:          30 * time.Second,
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Logger:           logger.GetLogger(),
	})

	retryConfig := retry.Config{
		MaxAttempts:    3,
		InitialDelay:   500 * time.Millisecond,
		MaxDelay:       5 * time.Second,
		Multiplier:     2.0,
		JitterFraction: 0.1,
		Logger:         logger.GetLogger(),
	}

	logger.Info("Embedding client initialized", zap.String("model", model))

	return &Client{
		client:      openai.NewClient(apiKey),
		model:       model,
		timeout:     time.Duration(timeoutSec) * time.Second,
		cache:       cache,
		cb:          cb,
		retryConfig: retryConfig,
	}
}

// Embed returns the unit-normalized embedding for one text. Normalizing at
// this boundary makes squared L2 distance in the vector store equal to
// 2*(1 - cosine), which the similarity conversion downstream relies on.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	key := c.cacheKey(text)
	if c.cache != nil {
		if vector, ok := c.cache.GetEmbedding(ctx, key); ok {
			return vector, nil
		}
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var embedding []float32

	err := c.cb.Execute(ctx, func() error {
		return retry.Do(ctx, c.retryConfig, func() error {
			resp, err := c.client.CreateEmbeddings(
				ctx,
				openai.EmbeddingRequest{
					Input: []string{text},
					Model: openai.EmbeddingModel(c.model),
				},
			)

			if err != nil {
				return fmt.Errorf("failed to generate embedding: %w", err)
			}

			embedding = normalize(resp.Data[0].Embedding)
			return nil
		})
	})

	if err != nil {
		return nil, err
	}

	if c.cache != nil {
		c.cache.SetEmbedding(ctx, key, embedding)
	}

	return embedding, nil
}

// EmbedBatch embeds many texts for corpus ingestion, batching requests.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	embeddings := make([][]float32, 0, len(texts))

	batchSize := 100
	for i := 0; i < len(texts); i += batchSize {
		end := i + batchSize
		if end > len(texts) {
			end = len(texts)
		}
		batch := texts[i:end]

		batchCtx, cancel := context.WithTimeout(ctx, c.timeout)

		err := c.cb.Execute(batchCtx, func() error {
			return retry.Do(batchCtx, c.retryConfig, func() error {
				resp, err := c.client.CreateEmbeddings(
					batchCtx,
					openai.EmbeddingRequest{
						Input: batch,
						Model: openai.EmbeddingModel(c.model),
					},
				)

				if err != nil {
					return fmt.Errorf("failed to generate batch embeddings: %w", err)
				}

				for _, data := range resp.Data {
					embeddings = append(embeddings, normalize(data.Embedding))
				}

				return nil
			})
		})

		cancel()
		if err != nil {
			return nil, err
		}
	}

	logger.Debug("Batch embeddings generated", zap.Int("count", len(embeddings)))

	return embeddings, nil
}

func (c *Client) cacheKey(text string) string {
	return "emb:" + utils.HashString(c.model+":"+text)
}

func normalize(vector []float32) []float32 {
	var sum float64
	for _, v := range vector {
		sum += float64(v) * float64(v)
	}
	norm := math.Sqrt(sum)

	out := make([]float32, len(vector))
	if norm == 0 {
		copy(out, vector)
		return out
	}
	for i, v := range vector {
		out[i] = float32(float64(v) / norm)
	}
	return out
}
