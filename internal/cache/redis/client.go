package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/manual-qa/backend/internal/storage/models"
	"github.com/manual-qa/backend/pkg/logger"
)

const (
	embeddingTTL    = 7 * 24 * time.Hour
	documentListTTL = 5 * time.Minute
)

type Client struct {
	client *redis.Client
}

func NewClient(host string, port int, password string, db int) (*Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", host, port),
		Password: password,
		DB:       db,
	})

	ctx := context.Background()
	_, err := client.Ping(ctx).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Info("Redis client initialized", zap.String("addr", fmt.Sprintf("%s:%d", host, port)))

	return &Client{client: client}, nil
}

func (c *Client) Close() error {
	return c.client.Close()
}

// GetEmbedding satisfies the embedding cache contract. Redis errors degrade
// to a cache miss so a flaky cache never blocks a run.
func (c *Client) GetEmbedding(ctx context.Context, key string) ([]float32, bool) {
	data, err := c.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, false
	}
	if err != nil {
		logger.Warn("Embedding cache read failed", zap.String("key", key), zap.Error(err))
		return nil, false
	}

	var embedding []float32
	if err := json.Unmarshal(data, &embedding); err != nil {
		logger.Warn("Embedding cache entry malformed", zap.String("key", key), zap.Error(err))
		return nil, false
	}

	return embedding, true
}

func (c *Client) SetEmbedding(ctx context.Context, key string, vector []float32) {
	data, err := json.Marshal(vector)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, key, data, embeddingTTL).Err(); err != nil {
		logger.Warn("Embedding cache write failed", zap.String("key", key), zap.Error(err))
	}
}

func (c *Client) SetDocumentList(ctx context.Context, docs []models.DocumentInfo) error {
	data, err := json.Marshal(docs)
	if err != nil {
		return fmt.Errorf("failed to marshal document list: %w", err)
	}

	err = c.client.Set(ctx, "documents:list", data, documentListTTL).Err()
	if err != nil {
		return fmt.Errorf("failed to set document list cache: %w", err)
	}

	return nil
}

func (c *Client) GetDocumentList(ctx context.Context) ([]models.DocumentInfo, bool, error) {
	data, err := c.client.Get(ctx, "documents:list").Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get document list cache: %w", err)
	}

	var docs []models.DocumentInfo
	if err := json.Unmarshal(data, &docs); err != nil {
		return nil, false, fmt.Errorf("failed to unmarshal document list: %w", err)
	}

	return docs, true, nil
}

func (c *Client) InvalidateDocumentList(ctx context.Context) error {
	if err := c.client.Del(ctx, "documents:list").Err(); err != nil {
		return fmt.Errorf("failed to invalidate document list cache: %w", err)
	}
	return nil
}
