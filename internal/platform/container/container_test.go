package container

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jinford/textile-rag/internal/core/ingestion"
	"github.com/jinford/textile-rag/internal/core/retrieval"
	"github.com/jinford/textile-rag/internal/platform/config"
)

type stubEmbedder struct{}

func (stubEmbedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	return []float32{1, 0}, nil
}

func (stubEmbedder) EmbedImage(ctx context.Context, image []byte, mimeType string) ([]float32, error) {
	return []float32{0, 1}, nil
}

func (stubEmbedder) ModelName() string { return "stub-clip" }

type stubStore struct {
	upserted  []retrieval.Record
	dimension int
}

func (s *stubStore) Query(ctx context.Context, vector []float32, k int) ([]retrieval.Hit, error) {
	return []retrieval.Hit{{ID: "gond_a.png", Metadata: map[string]any{"craft": "gond"}, Score: 0.9}}, nil
}

func (s *stubStore) Upsert(ctx context.Context, records []retrieval.Record) error {
	s.upserted = append(s.upserted, records...)
	return nil
}

func (s *stubStore) EnsureSchema(ctx context.Context, dimension int) error {
	s.dimension = dimension
	return nil
}

type countingStore struct {
	stubStore
	count int64
	err   error
}

func (s *countingStore) Count(ctx context.Context) (int64, error) {
	return s.count, s.err
}

type dimensionEmbedder struct {
	stubEmbedder
	dimension int
}

func (e dimensionEmbedder) Dimension() int { return e.dimension }

type stubGenerator struct{}

func (stubGenerator) Generate(ctx context.Context, prompt string) ([]byte, error) {
	return []byte("png"), nil
}

type memoryCache struct {
	entries map[string][]float32
}

func (m *memoryCache) Get(ctx context.Context, key string) ([]float32, bool, error) {
	v, ok := m.entries[key]
	return v, ok, nil
}

func (m *memoryCache) Put(ctx context.Context, key string, vector []float32) error {
	m.entries[key] = vector
	return nil
}

type stubSource struct{}

func (stubSource) List(ctx context.Context) ([]ingestion.ImageDocument, error) {
	return []ingestion.ImageDocument{{Craft: "kasuti", Filename: "a.png", Path: "textile_data/kasuti/a.png", MIMEType: "image/png"}}, nil
}

func (stubSource) Read(ctx context.Context, doc ingestion.ImageDocument) ([]byte, error) {
	return []byte("png"), nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func loadConfig(t *testing.T) *config.Config {
	t.Helper()
	t.Setenv("HF_API_KEY", "")
	cfg, err := config.Load("")
	require.NoError(t, err)
	return cfg
}

func TestNewContainer_WithInjectedDependencies(t *testing.T) {
	cfg := loadConfig(t)
	store := &stubStore{}

	c, err := NewContainer(context.Background(), cfg,
		WithContainerLogger(discardLogger()),
		WithContainerEmbedder(stubEmbedder{}),
		WithContainerStore(store),
		WithContainerGenerator(stubGenerator{}),
	)
	require.NoError(t, err)
	t.Cleanup(c.Close)

	require.NotNil(t, c.RetrievalService)
	result, err := c.RetrievalService.Retrieve(context.Background(), "gond art", 0)
	require.NoError(t, err)
	require.Len(t, result.Items, 1)
	assert.Equal(t, "gond", result.Items[0].Craft)

	gen, err := c.Generation()
	require.NoError(t, err)
	image, err := gen.Generate(context.Background(), "a red silk saree")
	require.NoError(t, err)
	assert.Equal(t, []byte("png"), image)

	require.NoError(t, c.EnsureSchema(context.Background()))
	assert.Equal(t, 512, store.dimension)
}

func TestNewContainer_GenerationNotConfigured(t *testing.T) {
	cfg := loadConfig(t)

	c, err := NewContainer(context.Background(), cfg,
		WithContainerLogger(discardLogger()),
		WithContainerEmbedder(stubEmbedder{}),
		WithContainerStore(&stubStore{}),
	)
	require.NoError(t, err)

	_, err = c.Generation()
	assert.ErrorIs(t, err, ErrGenerationNotConfigured)
}

func TestNewContainer_GenerationFromConfig(t *testing.T) {
	cfg := loadConfig(t)
	cfg.Generation.APIKey = "hf_test"

	c, err := NewContainer(context.Background(), cfg,
		WithContainerLogger(discardLogger()),
		WithContainerEmbedder(stubEmbedder{}),
		WithContainerStore(&stubStore{}),
	)
	require.NoError(t, err)
	assert.NotNil(t, c.GenerationService)
}

func TestNewContainer_WrapsEmbedderWithCache(t *testing.T) {
	cfg := loadConfig(t)
	cache := &memoryCache{entries: map[string][]float32{}}

	c, err := NewContainer(context.Background(), cfg,
		WithContainerLogger(discardLogger()),
		WithContainerEmbedder(stubEmbedder{}),
		WithContainerStore(&stubStore{}),
		WithContainerVectorCache(cache),
	)
	require.NoError(t, err)

	_, ok := c.Embedder.(*retrieval.CachingEmbedder)
	require.True(t, ok)

	_, err = c.RetrievalService.Retrieve(context.Background(), "kalamkari", 5)
	require.NoError(t, err)
	assert.Len(t, cache.entries, 1)
}

func TestNewContainer_BuildsCompatEmbedderFromConfig(t *testing.T) {
	cfg := loadConfig(t)

	c, err := NewContainer(context.Background(), cfg,
		WithContainerLogger(discardLogger()),
		WithContainerStore(&stubStore{}),
	)
	require.NoError(t, err)
	assert.Equal(t, "clip-ViT-B-32", c.Embedder.ModelName())
}

func TestNewContainer_UnknownBackendOrProvider(t *testing.T) {
	cfg := loadConfig(t)
	cfg.VectorStore.Backend = "chroma"
	_, err := NewContainer(context.Background(), cfg,
		WithContainerLogger(discardLogger()),
		WithContainerEmbedder(stubEmbedder{}),
	)
	assert.Error(t, err)

	cfg = loadConfig(t)
	cfg.Embedding.Provider = "torch"
	_, err = NewContainer(context.Background(), cfg,
		WithContainerLogger(discardLogger()),
		WithContainerStore(&stubStore{}),
	)
	assert.Error(t, err)
}

func TestServiceContainer_IngestionService(t *testing.T) {
	cfg := loadConfig(t)
	store := &stubStore{}

	c, err := NewContainer(context.Background(), cfg,
		WithContainerLogger(discardLogger()),
		WithContainerEmbedder(stubEmbedder{}),
		WithContainerStore(store),
		WithContainerImageSource(stubSource{}),
	)
	require.NoError(t, err)

	report, err := c.IngestionService("").IndexImages(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Indexed)
	require.Len(t, store.upserted, 1)
	assert.Equal(t, "kasuti_a.png", store.upserted[0].ID)
}

func TestServiceContainer_EnsureSchemaChecksDimension(t *testing.T) {
	tests := []struct {
		name      string
		dimension int
		wantErr   bool
	}{
		{name: "matches config", dimension: 512},
		{name: "not detected yet", dimension: 0},
		{name: "mismatch", dimension: 768, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := loadConfig(t)
			store := &stubStore{}

			c, err := NewContainer(context.Background(), cfg,
				WithContainerLogger(discardLogger()),
				WithContainerEmbedder(dimensionEmbedder{dimension: tt.dimension}),
				WithContainerStore(store),
				WithContainerVectorCache(&memoryCache{entries: map[string][]float32{}}),
			)
			require.NoError(t, err)

			err = c.EnsureSchema(context.Background())
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), "768")
				// 次元が合わない場合はスキーマを作らない
				assert.Zero(t, store.dimension)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, 512, store.dimension)
		})
	}
}

func TestServiceContainer_IndexedCount(t *testing.T) {
	cfg := loadConfig(t)

	c, err := NewContainer(context.Background(), cfg,
		WithContainerLogger(discardLogger()),
		WithContainerEmbedder(stubEmbedder{}),
		WithContainerStore(&countingStore{count: 57}),
	)
	require.NoError(t, err)

	count, ok, err := c.IndexedCount(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(57), count)

	c, err = NewContainer(context.Background(), cfg,
		WithContainerLogger(discardLogger()),
		WithContainerEmbedder(stubEmbedder{}),
		WithContainerStore(&countingStore{err: errors.New("relation does not exist")}),
	)
	require.NoError(t, err)
	_, ok, err = c.IndexedCount(context.Background())
	assert.True(t, ok)
	assert.Error(t, err)

	c, err = NewContainer(context.Background(), cfg,
		WithContainerLogger(discardLogger()),
		WithContainerEmbedder(stubEmbedder{}),
		WithContainerStore(&stubStore{}),
	)
	require.NoError(t, err)
	_, ok, err = c.IndexedCount(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
}
