package generation

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jinford/textile-rag/internal/shared/apperror"
)

// Generator はプロンプトから画像バイト列を生成するリモートモデルのインターフェース。
// 失敗は apperror の ModelLoading / UnexpectedResponseFormat / Upstream で返す。
type Generator interface {
	Generate(ctx context.Context, prompt string) ([]byte, error)
}

// Service は画像生成のビジネスロジックを提供する。
// リトライは行わず、再試行の判断は呼び出し側に委ねる。
type Service struct {
	generator Generator
	logger    *slog.Logger
}

type serviceOptions struct {
	logger *slog.Logger
}

// ServiceOption は Service のオプション設定
type ServiceOption func(*serviceOptions)

// WithGenerationLogger はロガーを差し替える
func WithGenerationLogger(logger *slog.Logger) ServiceOption {
	return func(o *serviceOptions) {
		o.logger = logger
	}
}

// NewService は新しい Service を作成する
func NewService(generator Generator, opts ...ServiceOption) *Service {
	options := serviceOptions{logger: slog.Default()}
	for _, opt := range opts {
		opt(&options)
	}
	if options.logger == nil {
		options.logger = slog.Default()
	}

	return &Service{
		generator: generator,
		logger:    options.logger,
	}
}

// Generate はプロンプトから画像を生成し、生のバイト列を返す
func (s *Service) Generate(ctx context.Context, prompt string) ([]byte, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return nil, apperror.InvalidArgument("prompt must not be empty")
	}

	start := time.Now()
	image, err := s.generator.Generate(ctx, prompt)
	duration := time.Since(start)

	if err != nil {
		if appErr, ok := apperror.As(err); ok {
			s.logger.Warn("image generation failed",
				"kind", appErr.Kind,
				"status", appErr.StatusCode,
				"duration_ms", duration.Milliseconds(),
				"error", err,
			)
			return nil, err
		}
		s.logger.Error("image generation failed", "duration_ms", duration.Milliseconds(), "error", err)
		return nil, fmt.Errorf("failed to generate image: %w", err)
	}

	if len(image) == 0 {
		return nil, apperror.UnexpectedResponseFormat("model returned an empty image", nil)
	}

	s.logger.Info("image generated",
		"prompt_length", len(prompt),
		"image_bytes", len(image),
		"duration_ms", duration.Milliseconds(),
	)

	return image, nil
}
