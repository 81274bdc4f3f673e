package openai

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/jinford/textile-rag/internal/core/retrieval"
)

// Embedder は OpenAI 互換の Embeddings API を使用してテキストと画像をベクトルに変換する。
// 画像は data URI として送り、modality=image を付与する（Infinity 等の CLIP サーバ向け）。
type Embedder struct {
	client    openai.Client
	model     string
	dimension int
}

const (
	// DefaultEmbeddingModel はモデル未指定時のデフォルトモデル
	DefaultEmbeddingModel = "clip-ViT-B-32"
	// DefaultEmbeddingDimension は ViT-B-32 の埋め込み次元
	DefaultEmbeddingDimension = 512
)

type embedderOptions struct {
	model      string
	dimension  int
	baseURL    string
	httpClient *http.Client
}

// EmbedderOption は Embedder のオプション設定
type EmbedderOption func(*embedderOptions)

// WithEmbeddingModel はモデル名を上書きする
func WithEmbeddingModel(model string) EmbedderOption {
	return func(o *embedderOptions) {
		if model != "" {
			o.model = model
		}
	}
}

// WithEmbeddingDimension はベクトル次元を上書きする
func WithEmbeddingDimension(dimension int) EmbedderOption {
	return func(o *embedderOptions) {
		o.dimension = dimension
	}
}

// WithBaseURL は API のベースURLを上書きする
func WithBaseURL(baseURL string) EmbedderOption {
	return func(o *embedderOptions) {
		o.baseURL = baseURL
	}
}

// WithHTTPClient は HTTP クライアントを差し替える
func WithHTTPClient(client *http.Client) EmbedderOption {
	return func(o *embedderOptions) {
		o.httpClient = client
	}
}

// NewEmbedder は新しい Embedder を作成する
func NewEmbedder(apiKey string, opts ...EmbedderOption) *Embedder {
	options := embedderOptions{
		model:     DefaultEmbeddingModel,
		dimension: DefaultEmbeddingDimension,
	}
	for _, opt := range opts {
		opt(&options)
	}

	clientOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if options.baseURL != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(options.baseURL))
	}
	if options.httpClient != nil {
		clientOpts = append(clientOpts, option.WithHTTPClient(options.httpClient))
	}

	return &Embedder{
		client:    openai.NewClient(clientOpts...),
		model:     options.model,
		dimension: options.dimension,
	}
}

// EmbedText は単一テキストの正規化済み Embedding を生成する
func (e *Embedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	return e.embed(ctx, text)
}

// EmbedImage は画像の正規化済み Embedding を生成する
func (e *Embedder) EmbedImage(ctx context.Context, image []byte, mimeType string) ([]float32, error) {
	if len(image) == 0 {
		return nil, fmt.Errorf("no image provided")
	}
	return e.embed(ctx, DataURI(image, mimeType), option.WithJSONSet("modality", "image"))
}

func (e *Embedder) embed(ctx context.Context, input string, opts ...option.RequestOption) ([]float32, error) {
	params := openai.EmbeddingNewParams{
		Model: openai.EmbeddingModel(e.model),
		Input: openai.EmbeddingNewParamsInputUnion{
			OfString: openai.String(input),
		},
	}

	resp, err := e.client.Embeddings.New(ctx, params, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to generate embeddings: %w", err)
	}

	if len(resp.Data) == 0 {
		return nil, retrieval.ErrEmptyEmbedding
	}

	vector := make([]float32, len(resp.Data[0].Embedding))
	for i, v := range resp.Data[0].Embedding {
		vector[i] = float32(v)
	}

	if e.dimension > 0 && len(vector) != e.dimension {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(vector), e.dimension)
	}

	return retrieval.Normalize(vector)
}

// ModelName はモデル名を返す
func (e *Embedder) ModelName() string {
	return e.model
}

// Dimension はベクトル次元数を返す
func (e *Embedder) Dimension() int {
	return e.dimension
}

// DataURI は画像バイト列を data URI 文字列に変換する
func DataURI(image []byte, mimeType string) string {
	if mimeType == "" {
		mimeType = http.DetectContentType(image)
	}
	return "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(image)
}

// インターフェース実装の確認
var _ retrieval.Embedder = (*Embedder)(nil)
