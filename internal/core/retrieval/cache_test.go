package retrieval

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryCache struct {
	data   map[string][]float32
	getErr error
	putErr error
	puts   int
}

func newMemoryCache() *memoryCache {
	return &memoryCache{data: make(map[string][]float32)}
}

func (c *memoryCache) Get(ctx context.Context, key string) ([]float32, bool, error) {
	if c.getErr != nil {
		return nil, false, c.getErr
	}
	v, ok := c.data[key]
	return v, ok, nil
}

func (c *memoryCache) Put(ctx context.Context, key string, vector []float32) error {
	c.puts++
	if c.putErr != nil {
		return c.putErr
	}
	c.data[key] = vector
	return nil
}

func TestCachingEmbedder_HitSkipsEncoder(t *testing.T) {
	inner := &stubEmbedder{vector: []float32{0.1, 0.2}}
	cache := newMemoryCache()
	embedder := NewCachingEmbedder(inner, cache, discardLogger())

	first, err := embedder.EmbedText(context.Background(), "kasuti embroidery")
	require.NoError(t, err)
	second, err := embedder.EmbedText(context.Background(), "kasuti embroidery")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, inner.textCalls)
	assert.Equal(t, 1, cache.puts)
}

func TestCachingEmbedder_TextAndImageKeysDiffer(t *testing.T) {
	inner := &stubEmbedder{vector: []float32{1}}
	cache := newMemoryCache()
	embedder := NewCachingEmbedder(inner, cache, discardLogger())

	_, err := embedder.EmbedText(context.Background(), "abc")
	require.NoError(t, err)
	_, err = embedder.EmbedImage(context.Background(), []byte("abc"), "image/png")
	require.NoError(t, err)

	assert.Len(t, cache.data, 2)
	assert.Equal(t, 1, inner.textCalls)
	assert.Equal(t, 1, inner.imageCalls)
}

func TestCachingEmbedder_CacheFailuresAreNotFatal(t *testing.T) {
	inner := &stubEmbedder{vector: []float32{1, 2, 3}}
	cache := newMemoryCache()
	cache.getErr = errors.New("redis down")
	cache.putErr = errors.New("redis down")
	embedder := NewCachingEmbedder(inner, cache, discardLogger())

	vector, err := embedder.EmbedText(context.Background(), "gond")
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 2, 3}, vector)
}

func TestCachingEmbedder_EncoderErrorNotCached(t *testing.T) {
	inner := &stubEmbedder{err: errors.New("encoder offline")}
	cache := newMemoryCache()
	embedder := NewCachingEmbedder(inner, cache, discardLogger())

	_, err := embedder.EmbedText(context.Background(), "gond")
	require.Error(t, err)
	assert.Equal(t, 0, cache.puts)
}

func TestCacheKey(t *testing.T) {
	key := CacheKey("clip-ViT-B-32", "text", []byte("gond"))
	assert.True(t, strings.HasPrefix(key, "clip-ViT-B-32:text:"))
	assert.Len(t, strings.TrimPrefix(key, "clip-ViT-B-32:text:"), 64)
	assert.NotEqual(t, key, CacheKey("other", "text", []byte("gond")))
}
