// Package compat は OpenAI 互換のセルフホスト埋め込みサーバ（TEI, LocalAI, Infinity など）向けの Embedder を提供する。
package compat

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/jinford/textile-rag/internal/core/retrieval"
)

// DefaultTimeout は HTTP リクエストのデフォルトタイムアウト
const DefaultTimeout = 30 * time.Second

var (
	// ErrBaseURLRequired は BaseURL 未設定時のエラー
	ErrBaseURLRequired = errors.New("compat embedder: base_url is required")

	// ErrModelRequired は Model 未設定時のエラー
	ErrModelRequired = errors.New("compat embedder: model is required")
)

// Config は Embedder の設定
type Config struct {
	// BaseURL は埋め込みサーバのベースURL（例: http://localhost:7997）
	BaseURL string

	// Model は埋め込みモデル名
	Model string

	// APIKey はローカルサーバでは省略可能
	APIKey string

	Timeout time.Duration
	Logger  *slog.Logger
}

// Embedder は go-openai クライアント経由で埋め込みを生成する
type Embedder struct {
	client    *openai.Client
	model     string
	dimension atomic.Int64
	logger    *slog.Logger
}

// NewEmbedder は新しい Embedder を作成する
func NewEmbedder(cfg Config) (*Embedder, error) {
	if cfg.BaseURL == "" {
		return nil, ErrBaseURLRequired
	}
	if cfg.Model == "" {
		return nil, ErrModelRequired
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = "local"
	}

	config := openai.DefaultConfig(apiKey)
	config.BaseURL = cfg.BaseURL
	config.HTTPClient = &http.Client{Timeout: timeout}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Embedder{
		client: openai.NewClientWithConfig(config),
		model:  cfg.Model,
		logger: logger,
	}, nil
}

// EmbedText implements retrieval.Embedder.
func (e *Embedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedImage は画像を data URI として送信して埋め込む。
// サーバ側が data URI 入力を画像として扱える CLIP モデルであることを前提とする。
func (e *Embedder) EmbedImage(ctx context.Context, image []byte, mimeType string) ([]float32, error) {
	if len(image) == 0 {
		return nil, fmt.Errorf("no image provided")
	}
	if mimeType == "" {
		mimeType = http.DetectContentType(image)
	}
	uri := "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(image)
	return e.EmbedText(ctx, uri)
}

func (e *Embedder) embed(ctx context.Context, inputs []string) ([][]float32, error) {
	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: inputs,
		Model: openai.EmbeddingModel(e.model),
	})
	if err != nil {
		return nil, fmt.Errorf("embedding API call failed: %w", err)
	}

	if len(resp.Data) != len(inputs) {
		return nil, fmt.Errorf("API returned %d embeddings for %d inputs", len(resp.Data), len(inputs))
	}

	vectors := make([][]float32, len(inputs))
	for _, data := range resp.Data {
		if data.Index < 0 || data.Index >= len(inputs) {
			return nil, fmt.Errorf("API returned out-of-range index %d", data.Index)
		}
		normalized, err := retrieval.Normalize(data.Embedding)
		if err != nil {
			return nil, err
		}
		vectors[data.Index] = normalized

		if e.dimension.CompareAndSwap(0, int64(len(data.Embedding))) {
			e.logger.Debug("detected embedding dimension", "model", e.model, "dimension", len(data.Embedding))
		}
	}

	return vectors, nil
}

// ModelName implements retrieval.Embedder.
func (e *Embedder) ModelName() string {
	return e.model
}

// Dimension は最初の呼び出しで検出したベクトル次元を返す。未検出なら 0
func (e *Embedder) Dimension() int {
	return int(e.dimension.Load())
}

var _ retrieval.Embedder = (*Embedder)(nil)
