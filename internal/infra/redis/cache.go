// Package redis は埋め込みベクトルの Redis キャッシュを提供する。
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jinford/textile-rag/internal/core/retrieval"
)

const (
	// DefaultKeyPrefix はキャッシュキーの接頭辞
	DefaultKeyPrefix = "textile-rag:embedding:"

	// DefaultTTL はキャッシュエントリの有効期限
	DefaultTTL = 24 * time.Hour
)

// kv は VectorCache が使用する redis.Client のメソッド
type kv interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
}

// VectorCache は retrieval.VectorCache の Redis 実装
type VectorCache struct {
	client kv
	prefix string
	ttl    time.Duration
}

// Option は VectorCache のオプション
type Option func(*VectorCache)

// WithKeyPrefix はキー接頭辞を上書きする
func WithKeyPrefix(prefix string) Option {
	return func(c *VectorCache) {
		c.prefix = prefix
	}
}

// WithTTL は有効期限を上書きする。0 は無期限
func WithTTL(ttl time.Duration) Option {
	return func(c *VectorCache) {
		c.ttl = ttl
	}
}

// NewClient はアドレスから redis.Client を作成する
func NewClient(addr, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
}

// NewVectorCache は新しい VectorCache を作成する
func NewVectorCache(client *redis.Client, opts ...Option) *VectorCache {
	return newVectorCache(client, opts...)
}

func newVectorCache(client kv, opts ...Option) *VectorCache {
	c := &VectorCache{
		client: client,
		prefix: DefaultKeyPrefix,
		ttl:    DefaultTTL,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

var _ retrieval.VectorCache = (*VectorCache)(nil)

// Get はキャッシュ済みベクトルを返す。存在しなければ found=false
func (c *VectorCache) Get(ctx context.Context, key string) ([]float32, bool, error) {
	data, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get failed: %w", err)
	}

	var vector []float32
	if err := json.Unmarshal(data, &vector); err != nil {
		return nil, false, fmt.Errorf("failed to decode cached vector: %w", err)
	}
	return vector, true, nil
}

// Put はベクトルを保存する
func (c *VectorCache) Put(ctx context.Context, key string, vector []float32) error {
	data, err := json.Marshal(vector)
	if err != nil {
		return fmt.Errorf("failed to encode vector: %w", err)
	}
	if err := c.client.Set(ctx, c.prefix+key, data, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}
