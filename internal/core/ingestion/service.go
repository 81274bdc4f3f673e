package ingestion

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jinford/textile-rag/internal/core/retrieval"
)

// Report はインデックス化処理の結果を表す
type Report struct {
	Discovered int            // データセットで見つかった画像数
	Indexed    int            // インデックスに書き込んだ画像数
	Failed     int            // 読み込み/Embeddingに失敗してスキップした画像数
	Crafts     map[string]int // 工芸ごとの書き込み件数
	Duration   time.Duration
}

// Service は画像データセットを外部インデックスへ取り込むユースケースを提供する
type Service struct {
	source   ImageSource
	embedder retrieval.Embedder
	writer   retrieval.Writer
	config   *PipelineConfig
	logger   *slog.Logger
}

type serviceOptions struct {
	config *PipelineConfig
	logger *slog.Logger
}

// ServiceOption は Service のオプション設定
type ServiceOption func(*serviceOptions)

// WithIngestionLogger は Service にロガーを設定する
func WithIngestionLogger(logger *slog.Logger) ServiceOption {
	return func(o *serviceOptions) {
		o.logger = logger
	}
}

// WithPipelineConfig はパイプライン設定を上書きする
func WithPipelineConfig(cfg *PipelineConfig) ServiceOption {
	return func(o *serviceOptions) {
		o.config = cfg
	}
}

// NewService は新しい Service を作成する
func NewService(source ImageSource, embedder retrieval.Embedder, writer retrieval.Writer, opts ...ServiceOption) *Service {
	options := serviceOptions{
		config: DefaultPipelineConfig(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(&options)
	}
	if options.logger == nil {
		options.logger = slog.Default()
	}
	if options.config == nil {
		options.config = DefaultPipelineConfig()
	}

	return &Service{
		source:   source,
		embedder: embedder,
		writer:   writer,
		config:   options.config,
		logger:   options.logger,
	}
}

// IndexImages はデータセットの全画像を埋め込み、バッチで Upsert する。
// 個々の画像の失敗はログに記録してスキップし、書き込み失敗とキャンセルは全体を中断する。
func (s *Service) IndexImages(ctx context.Context) (*Report, error) {
	startTime := time.Now()

	docs, err := s.source.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("画像一覧の取得に失敗: %w", err)
	}
	if len(docs) == 0 {
		return nil, ErrNoImages
	}

	s.logger.Info("インデックス化を開始",
		"images", len(docs),
		"model", s.embedder.ModelName(),
		"workers", s.config.workers(),
		"batchSize", s.config.batchSize(),
	)

	report := &Report{Discovered: len(docs), Crafts: make(map[string]int)}
	var failed atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	records := make(chan retrieval.Record, s.config.batchSize())

	// 書き込みステージ（単一 goroutine なので report への書き込みはロック不要）
	g.Go(func() error {
		return s.writeBatches(gctx, records, report)
	})

	// Embedding ステージ
	g.Go(func() error {
		defer close(records)

		workers, wctx := errgroup.WithContext(gctx)
		workers.SetLimit(s.config.workers())
		for _, doc := range docs {
			if wctx.Err() != nil {
				break
			}
			workers.Go(func() error {
				rec, err := s.embedDocument(wctx, doc)
				if err != nil {
					if wctx.Err() != nil || s.config.FailOnEmbeddingError {
						return err
					}
					failed.Add(1)
					s.logger.Warn("画像をスキップ", "path", doc.Path, "error", err)
					return nil
				}
				select {
				case records <- rec:
					return nil
				case <-wctx.Done():
					return wctx.Err()
				}
			})
		}
		return workers.Wait()
	})

	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("インデックス化に失敗: %w", err)
	}

	report.Failed = int(failed.Load())
	report.Duration = time.Since(startTime)

	s.logger.Info("インデックス化が完了",
		"indexed", report.Indexed,
		"failed", report.Failed,
		"crafts", len(report.Crafts),
		"duration", report.Duration,
	)

	return report, nil
}

func (s *Service) embedDocument(ctx context.Context, doc ImageDocument) (retrieval.Record, error) {
	image, err := s.source.Read(ctx, doc)
	if err != nil {
		return retrieval.Record{}, fmt.Errorf("failed to read %s: %w", doc.Path, err)
	}

	vector, err := s.embedder.EmbedImage(ctx, image, doc.MIMEType)
	if err != nil {
		return retrieval.Record{}, fmt.Errorf("failed to embed %s: %w", doc.Path, err)
	}

	normalized, err := retrieval.Normalize(vector)
	if err != nil {
		return retrieval.Record{}, fmt.Errorf("invalid embedding for %s: %w", doc.Path, err)
	}

	return retrieval.Record{
		ID:        doc.ID(),
		Embedding: normalized,
		Metadata:  doc.Metadata(),
	}, nil
}

func (s *Service) writeBatches(ctx context.Context, records <-chan retrieval.Record, report *Report) error {
	batch := make([]retrieval.Record, 0, s.config.batchSize())

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := s.writer.Upsert(ctx, batch); err != nil {
			return fmt.Errorf("upsert failed: %w", err)
		}
		for _, rec := range batch {
			report.Indexed++
			if craft, ok := rec.Metadata[retrieval.MetadataCraft].(string); ok {
				report.Crafts[craft]++
			}
		}
		s.logger.Debug("バッチを書き込み", "records", len(batch), "total", report.Indexed)
		batch = batch[:0]
		return nil
	}

	for rec := range records {
		batch = append(batch, rec)
		if len(batch) >= s.config.batchSize() {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return flush()
}
