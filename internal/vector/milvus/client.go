package milvus

import (
	"context"
	"fmt"
	"strings"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
	"go.uber.org/zap"

	"github.com/manual-qa/backend/pkg/logger"
)

type Client struct {
	client         client.Client
	collectionName string
	vectorDim      int
}

// ParagraphVector is one corpus paragraph with its embedding, stored so
// vector search can be scoped by the same document and authority filters as
// the lexical corpus.
type ParagraphVector struct {
	ParagraphID    string
	Embedding      []float32
	DocumentID     string
	AuthorityLevel string
}

// Neighbor is one vector search hit. Distance is squared L2 over
// unit-normalized embeddings, so Similarity = clamp(1 - distance/2, 0, 1)
// recovers cosine similarity exactly.
type Neighbor struct {
	ParagraphID string
	Distance    float32
	Similarity  float64
}

func NewClient(endpoint, collectionName string, vectorDim int) (*Client, error) {
	c, err := client.NewGrpcClient(context.Background(), endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to create milvus client: %w", err)
	}

	logger.Info("Milvus client initialized",
		zap.String("endpoint", endpoint),
		zap.String("collection", collectionName),
	)

	return &Client{
		client:         c,
		collectionName: collectionName,
		vectorDim:      vectorDim,
	}, nil
}

func (m *Client) Close() error {
	return m.client.Close()
}

func (m *Client) CreateCollection(ctx context.Context) error {
	has, err := m.client.HasCollection(ctx, m.collectionName)
	if err != nil {
		return fmt.Errorf("failed to check collection: %w", err)
	}

	if has {
		logger.Info("Collection already exists", zap.String("collection", m.collectionName))
		return nil
	}

	schema := &entity.Schema{
		CollectionName: m.collectionName,
		Description:    "Manual paragraph embeddings",
		Fields: []*entity.Field{
			{
				Name:       "paragraph_id",
				DataType:   entity.FieldTypeVarChar,
				PrimaryKey: true,
				AutoID:     false,
				TypeParams: map[string]string{
					"max_length": "128",
				},
			},
			{
				Name:     "embedding",
				DataType: entity.FieldTypeFloatVector,
				TypeParams: map[string]string{
					"dim": fmt.Sprintf("%d", m.vectorDim),
				},
			},
			{
				Name:     "document_id",
				DataType: entity.FieldTypeVarChar,
				TypeParams: map[string]string{
					"max_length": "128",
				},
			},
			{
				Name:     "authority_level",
				DataType: entity.FieldTypeVarChar,
				TypeParams: map[string]string{
					"max_length": "64",
				},
			},
		},
	}

	err = m.client.CreateCollection(ctx, schema, entity.DefaultShardNumber)
	if err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}

	idx, err := entity.NewIndexIvfFlat(entity.L2, 1024)
	if err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}
	err = m.client.CreateIndex(ctx, m.collectionName, "embedding", idx, false)
	if err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}

	err = m.client.LoadCollection(ctx, m.collectionName, false)
	if err != nil {
		return fmt.Errorf("failed to load collection: %w", err)
	}

	logger.Info("Collection created and loaded", zap.String("collection", m.collectionName))

	return nil
}

func (m *Client) Insert(ctx context.Context, vectors []ParagraphVector) error {
	if len(vectors) == 0 {
		return nil
	}

	paragraphIDs := make([]string, len(vectors))
	embeddings := make([][]float32, len(vectors))
	documentIDs := make([]string, len(vectors))
	authorityLevels := make([]string, len(vectors))

	for i, v := range vectors {
		paragraphIDs[i] = v.ParagraphID
		embeddings[i] = v.Embedding
		documentIDs[i] = v.DocumentID
		authorityLevels[i] = v.AuthorityLevel
	}

	_, err := m.client.Insert(
		ctx,
		m.collectionName,
		"",
		entity.NewColumnVarChar("paragraph_id", paragraphIDs),
		entity.NewColumnFloatVector("embedding", m.vectorDim, embeddings),
		entity.NewColumnVarChar("document_id", documentIDs),
		entity.NewColumnVarChar("authority_level", authorityLevels),
	)

	if err != nil {
		return fmt.Errorf("failed to insert vectors: %w", err)
	}

	err = m.client.Flush(ctx, m.collectionName, false)
	if err != nil {
		return fmt.Errorf("failed to flush: %w", err)
	}

	logger.Info("Paragraph vectors inserted", zap.Int("count", len(vectors)))

	return nil
}

func (m *Client) DeleteDocument(ctx context.Context, documentID string) error {
	expr := fmt.Sprintf(`document_id == "%s"`, documentID)
	if err := m.client.Delete(ctx, m.collectionName, "", expr); err != nil {
		return fmt.Errorf("failed to delete document vectors: %w", err)
	}
	return nil
}

// Search returns the topK nearest neighbors within the given scope. Both
// filters empty means the whole collection.
func (m *Client) Search(ctx context.Context, queryEmbedding []float32, topK int, documentIDs []string, authorityLevel string) ([]Neighbor, error) {
	expr := buildScopeExpr(documentIDs, authorityLevel)

	sp, _ := entity.NewIndexIvfFlatSearchParam(16)

	searchResult, err := m.client.Search(
		ctx,
		m.collectionName,
		[]string{},
		expr,
		[]string{"paragraph_id"},
		[]entity.Vector{entity.FloatVector(queryEmbedding)},
		"embedding",
		entity.L2,
		topK,
		sp,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to search: %w", err)
	}

	neighbors := make([]Neighbor, 0)
	for _, sr := range searchResult {
		idCol := sr.Fields.GetColumn("paragraph_id")
		for i := 0; i < sr.ResultCount; i++ {
			id, err := idCol.Get(i)
			if err != nil {
				return nil, fmt.Errorf("failed to read search result: %w", err)
			}

			neighbors = append(neighbors, Neighbor{
				ParagraphID: id.(string),
				Distance:    sr.Scores[i],
				Similarity:  DistanceToSimilarity(float64(sr.Scores[i])),
			})
		}
	}

	logger.Debug("Vector search completed",
		zap.Int("topK", topK),
		zap.Int("results", len(neighbors)),
		zap.String("scope", expr),
	)

	return neighbors, nil
}

// DistanceToSimilarity maps squared L2 distance between unit vectors to
// cosine similarity, clamped to [0, 1].
func DistanceToSimilarity(distance float64) float64 {
	similarity := 1 - distance/2
	if similarity < 0 {
		return 0
	}
	if similarity > 1 {
		return 1
	}
	return similarity
}

func buildScopeExpr(documentIDs []string, authorityLevel string) string {
	var parts []string

	if len(documentIDs) > 0 {
		quoted := make([]string, len(documentIDs))
		for i, id := range documentIDs {
			quoted[i] = fmt.Sprintf("%q", id)
		}
		parts = append(parts, fmt.Sprintf("document_id in [%s]", strings.Join(quoted, ", ")))
	}

	if authorityLevel != "" {
		parts = append(parts, fmt.Sprintf(`authority_level == "%s"`, authorityLevel))
	}

	return strings.Join(parts, " && ")
}
