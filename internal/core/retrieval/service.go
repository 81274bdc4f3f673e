package retrieval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jinford/textile-rag/internal/shared/apperror"
)

// Service はテキスト/画像クエリから類似画像を検索する
type Service struct {
	embedder Embedder
	index    Index
	logger   *slog.Logger
	defaultK int
}

type serviceOptions struct {
	logger   *slog.Logger
	defaultK int
}

// ServiceOption は Service のオプション設定
type ServiceOption func(*serviceOptions)

// WithRetrievalLogger はロガーを差し替える
func WithRetrievalLogger(logger *slog.Logger) ServiceOption {
	return func(o *serviceOptions) {
		o.logger = logger
	}
}

// WithDefaultK は k 未指定時の取得件数を上書きする
func WithDefaultK(k int) ServiceOption {
	return func(o *serviceOptions) {
		if k > 0 {
			o.defaultK = k
		}
	}
}

// NewService は新しい Service を作成する
func NewService(embedder Embedder, index Index, opts ...ServiceOption) *Service {
	options := serviceOptions{
		logger:   slog.Default(),
		defaultK: DefaultK,
	}
	for _, opt := range opts {
		opt(&options)
	}
	if options.logger == nil {
		options.logger = slog.Default()
	}
	if options.defaultK > MaxK {
		options.defaultK = MaxK
	}

	return &Service{
		embedder: embedder,
		index:    index,
		logger:   options.logger,
		defaultK: options.defaultK,
	}
}

// Retrieve はテキストクエリに類似した画像を最大 k 件返す。k が 0 の場合は既定値を使用する。
func (s *Service) Retrieve(ctx context.Context, query string, k int) (*Result, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, apperror.InvalidArgument("query must not be empty")
	}

	k, err := s.resolveK(k)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	vector, err := s.embedder.EmbedText(ctx, query)
	if err != nil {
		return nil, s.dependencyError(ctx, "text encoder unavailable", err)
	}

	result, err := s.search(ctx, vector, k)
	if err != nil {
		return nil, err
	}

	s.logger.Debug("retrieved images by text",
		"query_length", len(query),
		"k", k,
		"results", len(result.Items),
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return result, nil
}

// RetrieveByImage は画像に類似した画像を最大 k 件返す
func (s *Service) RetrieveByImage(ctx context.Context, image []byte, mimeType string, k int) (*Result, error) {
	if len(image) == 0 {
		return nil, apperror.InvalidArgument("image must not be empty")
	}

	k, err := s.resolveK(k)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	vector, err := s.embedder.EmbedImage(ctx, image, mimeType)
	if err != nil {
		return nil, s.dependencyError(ctx, "image encoder unavailable", err)
	}

	result, err := s.search(ctx, vector, k)
	if err != nil {
		return nil, err
	}

	s.logger.Debug("retrieved images by image",
		"image_bytes", len(image),
		"k", k,
		"results", len(result.Items),
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return result, nil
}

func (s *Service) search(ctx context.Context, vector []float32, k int) (*Result, error) {
	normalized, err := Normalize(vector)
	if err != nil {
		return nil, apperror.ServiceUnavailable("encoder returned an unusable embedding", err)
	}

	hits, err := s.index.Query(ctx, normalized, k)
	if err != nil {
		return nil, s.dependencyError(ctx, "vector index unavailable", err)
	}

	if len(hits) > k {
		hits = hits[:k]
	}

	items := make([]Item, 0, len(hits))
	for _, hit := range hits {
		if hit.ID == "" {
			s.logger.Warn("vector index returned a hit without id; skipping")
			continue
		}
		items = append(items, itemFromHit(hit))
	}

	return &Result{Items: items}, nil
}

func (s *Service) resolveK(k int) (int, error) {
	switch {
	case k < 0:
		return 0, apperror.InvalidArgument("k must be at least 1")
	case k == 0:
		return s.defaultK, nil
	case k > MaxK:
		return MaxK, nil
	default:
		return k, nil
	}
}

// dependencyError は依存先の失敗を ServiceUnavailable に変換する。
// 呼び出し元のキャンセルはそのまま返す。
func (s *Service) dependencyError(ctx context.Context, msg string, err error) error {
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		return fmt.Errorf("%s: %w", msg, err)
	}
	s.logger.Error(msg, "error", err)
	return apperror.ServiceUnavailable(msg, err)
}
