package retrieval

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
)

// VectorCache はコンテンツアドレスで埋め込みをキャッシュするインターフェース
type VectorCache interface {
	// Get はキーに対応する埋め込みを返す。存在しない場合は found=false
	Get(ctx context.Context, key string) (vector []float32, found bool, err error)

	// Put は埋め込みを保存する
	Put(ctx context.Context, key string, vector []float32) error
}

// CachingEmbedder は Embedder の結果を VectorCache に保存するデコレータ。
// キャッシュの失敗はログに記録するだけで、埋め込み生成自体は失敗させない。
type CachingEmbedder struct {
	next   Embedder
	cache  VectorCache
	logger *slog.Logger
}

// NewCachingEmbedder は新しい CachingEmbedder を作成する
func NewCachingEmbedder(next Embedder, cache VectorCache, logger *slog.Logger) *CachingEmbedder {
	if logger == nil {
		logger = slog.Default()
	}
	return &CachingEmbedder{
		next:   next,
		cache:  cache,
		logger: logger,
	}
}

// EmbedText implements Embedder.
func (c *CachingEmbedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	key := CacheKey(c.next.ModelName(), "text", []byte(text))
	return c.cached(ctx, key, func() ([]float32, error) {
		return c.next.EmbedText(ctx, text)
	})
}

// EmbedImage implements Embedder.
func (c *CachingEmbedder) EmbedImage(ctx context.Context, image []byte, mimeType string) ([]float32, error) {
	key := CacheKey(c.next.ModelName(), "image", image)
	return c.cached(ctx, key, func() ([]float32, error) {
		return c.next.EmbedImage(ctx, image, mimeType)
	})
}

// ModelName implements Embedder.
func (c *CachingEmbedder) ModelName() string {
	return c.next.ModelName()
}

func (c *CachingEmbedder) cached(ctx context.Context, key string, embed func() ([]float32, error)) ([]float32, error) {
	if vector, found, err := c.cache.Get(ctx, key); err != nil {
		c.logger.Warn("embedding cache get failed", "key", key, "error", err)
	} else if found {
		return vector, nil
	}

	vector, err := embed()
	if err != nil {
		return nil, err
	}

	if err := c.cache.Put(ctx, key, vector); err != nil {
		c.logger.Warn("embedding cache put failed", "key", key, "error", err)
	}
	return vector, nil
}

// CacheKey はモデル名・入力種別・内容の SHA-256 からキャッシュキーを生成する
func CacheKey(model, kind string, content []byte) string {
	sum := sha256.Sum256(content)
	return model + ":" + kind + ":" + hex.EncodeToString(sum[:])
}

var _ Embedder = (*CachingEmbedder)(nil)
