package container

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jinford/textile-rag/internal/core/generation"
	"github.com/jinford/textile-rag/internal/core/ingestion"
	"github.com/jinford/textile-rag/internal/core/retrieval"
	"github.com/jinford/textile-rag/internal/infra/compat"
	"github.com/jinford/textile-rag/internal/infra/dataset"
	"github.com/jinford/textile-rag/internal/infra/huggingface"
	"github.com/jinford/textile-rag/internal/infra/openai"
	"github.com/jinford/textile-rag/internal/infra/postgres"
	"github.com/jinford/textile-rag/internal/infra/qdrant"
	"github.com/jinford/textile-rag/internal/infra/redis"
	"github.com/jinford/textile-rag/internal/platform/config"
	"github.com/jinford/textile-rag/internal/platform/database"
)

// ErrGenerationNotConfigured は生成用クライアントが構成されていない場合のエラー
var ErrGenerationNotConfigured = errors.New("image generation is not configured")

// ServiceContainer はアプリケーションの依存関係を保持する。
// 外部クライアントは一度だけ生成し、リクエスト間で共有する。
type ServiceContainer struct {
	RetrievalService  *retrieval.Service
	GenerationService *generation.Service // HF_API_KEY 未設定時は nil
	Embedder          retrieval.Embedder
	Store             retrieval.Store

	cfg          *config.Config
	logger       *slog.Logger
	imageSource  ingestion.ImageSource
	ensureSchema func(ctx context.Context, dimension int) error
	dimensioner  interface{ Dimension() int }
	counter      recordCounter
	closers      []func()
}

// recordCounter は登録件数を返せるストア
type recordCounter interface {
	Count(ctx context.Context) (int64, error)
}

type containerOptions struct {
	logger      *slog.Logger
	embedder    retrieval.Embedder
	store       retrieval.Store
	generator   generation.Generator
	cache       retrieval.VectorCache
	imageSource ingestion.ImageSource
}

// ContainerOption は ServiceContainer 構築時のオプション
type ContainerOption func(*containerOptions)

// WithContainerLogger はロガーを差し替える
func WithContainerLogger(logger *slog.Logger) ContainerOption {
	return func(opts *containerOptions) {
		opts.logger = logger
	}
}

// WithContainerEmbedder はカスタム Embedder を注入する
func WithContainerEmbedder(embedder retrieval.Embedder) ContainerOption {
	return func(opts *containerOptions) {
		opts.embedder = embedder
	}
}

// WithContainerStore はベクトルストアを差し替える
func WithContainerStore(store retrieval.Store) ContainerOption {
	return func(opts *containerOptions) {
		opts.store = store
	}
}

// WithContainerGenerator は画像生成クライアントを差し替える
func WithContainerGenerator(generator generation.Generator) ContainerOption {
	return func(opts *containerOptions) {
		opts.generator = generator
	}
}

// WithContainerVectorCache は埋め込みキャッシュを差し替える
func WithContainerVectorCache(cache retrieval.VectorCache) ContainerOption {
	return func(opts *containerOptions) {
		opts.cache = cache
	}
}

// WithContainerImageSource は取り込み元データセットを差し替える
func WithContainerImageSource(source ingestion.ImageSource) ContainerOption {
	return func(opts *containerOptions) {
		opts.imageSource = source
	}
}

// NewContainer は設定からコンテナを生成する。
// 途中で失敗した場合は生成済みのリソースを解放してからエラーを返す。
func NewContainer(ctx context.Context, cfg *config.Config, opts ...ContainerOption) (*ServiceContainer, error) {
	options := containerOptions{logger: slog.Default()}
	for _, opt := range opts {
		opt(&options)
	}
	if options.logger == nil {
		options.logger = slog.Default()
	}

	c := &ServiceContainer{
		cfg:         cfg,
		logger:      options.logger,
		imageSource: options.imageSource,
	}

	embedder, err := c.buildEmbedder(options)
	if err != nil {
		c.Close()
		return nil, err
	}
	c.Embedder = embedder

	store, err := c.buildStore(ctx, options)
	if err != nil {
		c.Close()
		return nil, err
	}
	c.Store = store

	c.RetrievalService = retrieval.NewService(
		embedder,
		store,
		retrieval.WithRetrievalLogger(options.logger),
		retrieval.WithDefaultK(cfg.Retrieval.DefaultK),
	)

	generator := options.generator
	if generator == nil && cfg.Generation.APIKey != "" {
		client, err := huggingface.NewClient(huggingface.Config{
			APIKey:           cfg.Generation.APIKey,
			ModelURL:         cfg.Generation.ModelURL,
			Timeout:          cfg.Generation.Timeout,
			MaxResponseBytes: cfg.Generation.MaxResponseBytes,
		})
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("画像生成クライアント初期化に失敗しました: %w", err)
		}
		c.logger.Info("画像生成クライアントを初期化", "model_url", client.ModelURL())
		generator = client
	}
	if generator != nil {
		c.GenerationService = generation.NewService(generator, generation.WithGenerationLogger(options.logger))
	}

	return c, nil
}

func (c *ServiceContainer) buildEmbedder(options containerOptions) (retrieval.Embedder, error) {
	embedder := options.embedder
	if embedder == nil {
		cfg := c.cfg.Embedding
		switch cfg.Provider {
		case config.ProviderOpenAI:
			embedderOpts := []openai.EmbedderOption{
				openai.WithEmbeddingModel(cfg.Model),
				openai.WithEmbeddingDimension(cfg.Dimension),
			}
			if cfg.BaseURL != "" {
				embedderOpts = append(embedderOpts, openai.WithBaseURL(cfg.BaseURL))
			}
			embedder = openai.NewEmbedder(cfg.APIKey, embedderOpts...)
		case config.ProviderCompat:
			compatEmbedder, err := compat.NewEmbedder(compat.Config{
				BaseURL: cfg.BaseURL,
				Model:   cfg.Model,
				APIKey:  cfg.APIKey,
				Timeout: cfg.Timeout,
				Logger:  c.logger,
			})
			if err != nil {
				return nil, fmt.Errorf("Embedder 初期化に失敗しました: %w", err)
			}
			embedder = compatEmbedder
		default:
			return nil, fmt.Errorf("unknown embedding provider: %q", cfg.Provider)
		}
	}

	if d, ok := embedder.(interface{ Dimension() int }); ok {
		c.dimensioner = d
	}

	cache := options.cache
	if cache == nil && c.cfg.Cache.Enabled() {
		client := redis.NewClient(c.cfg.Cache.RedisAddr, c.cfg.Cache.RedisPassword, c.cfg.Cache.RedisDB)
		c.closers = append(c.closers, func() { _ = client.Close() })
		cache = redis.NewVectorCache(client, redis.WithTTL(c.cfg.Cache.TTL))
		c.logger.Info("埋め込みキャッシュを有効化", "addr", c.cfg.Cache.RedisAddr)
	}
	if cache != nil {
		embedder = retrieval.NewCachingEmbedder(embedder, cache, c.logger)
	}

	return embedder, nil
}

func (c *ServiceContainer) buildStore(ctx context.Context, options containerOptions) (retrieval.Store, error) {
	if options.store != nil {
		if s, ok := options.store.(interface {
			EnsureSchema(ctx context.Context, dimension int) error
		}); ok {
			c.ensureSchema = s.EnsureSchema
		}
		if s, ok := options.store.(recordCounter); ok {
			c.counter = s
		}
		return options.store, nil
	}

	cfg := c.cfg.VectorStore
	switch cfg.Backend {
	case config.BackendPgvector:
		db, err := database.New(ctx, database.ConnectionParams{
			Host:     c.cfg.Database.Host,
			Port:     c.cfg.Database.Port,
			User:     c.cfg.Database.User,
			Password: c.cfg.Database.Password,
			DBName:   c.cfg.Database.DBName,
			SSLMode:  c.cfg.Database.SSLMode,
			MaxConns: int32(c.cfg.Database.MaxConns),
		})
		if err != nil {
			return nil, fmt.Errorf("データベース初期化に失敗しました: %w", err)
		}
		c.closers = append(c.closers, db.Close)

		repo := postgres.NewImageRepository(db.Pool, cfg.Collection)
		c.ensureSchema = repo.EnsureSchema
		c.counter = repo
		return repo, nil

	case config.BackendQdrant:
		client, err := qdrant.NewClient(cfg.QdrantHost, cfg.QdrantPort, cfg.QdrantAPIKey, cfg.QdrantUseTLS)
		if err != nil {
			return nil, err
		}
		c.closers = append(c.closers, func() { _ = client.Close() })

		index := qdrant.New(client, qdrant.Config{Collection: cfg.Collection})
		c.ensureSchema = index.EnsureCollection
		return index, nil

	default:
		return nil, fmt.Errorf("unknown vector backend: %q", cfg.Backend)
	}
}

// EnsureSchema はベクトルストアのテーブル/コレクションを作成する（存在する場合は何もしない）。
// Embedder が検出済みの次元を報告し、それが EMBEDDING_DIMENSION と異なる場合はエラーを返す。
func (c *ServiceContainer) EnsureSchema(ctx context.Context) error {
	if err := c.checkDimension(); err != nil {
		return err
	}
	if c.ensureSchema == nil {
		return nil
	}
	return c.ensureSchema(ctx, c.cfg.Embedding.Dimension)
}

func (c *ServiceContainer) checkDimension() error {
	if c.dimensioner == nil {
		return nil
	}
	// compat は最初の埋め込みまで 0 を返す
	detected := c.dimensioner.Dimension()
	if detected > 0 && detected != c.cfg.Embedding.Dimension {
		return fmt.Errorf("embedding dimension mismatch: model produces %d, EMBEDDING_DIMENSION is %d",
			detected, c.cfg.Embedding.Dimension)
	}
	return nil
}

// IndexedCount はベクトルストアの登録件数を返す。
// ストアが件数取得に対応していない場合は ok=false
func (c *ServiceContainer) IndexedCount(ctx context.Context) (count int64, ok bool, err error) {
	if c.counter == nil {
		return 0, false, nil
	}
	count, err = c.counter.Count(ctx)
	if err != nil {
		return 0, true, err
	}
	return count, true, nil
}

// IngestionService は設定のデータセットを取り込む Service を返す。
// datasetDir が空でなければ設定値より優先する。
func (c *ServiceContainer) IngestionService(datasetDir string) *ingestion.Service {
	source := c.imageSource
	if source == nil {
		if datasetDir == "" {
			datasetDir = c.cfg.Ingestion.DatasetDir
		}
		dir := dataset.NewDirectory(datasetDir)
		c.logger.Info("データセットを取り込み対象に設定", "root", dir.Root())
		source = dir
	}

	return ingestion.NewService(
		source,
		c.Embedder,
		c.Store,
		ingestion.WithIngestionLogger(c.logger),
		ingestion.WithPipelineConfig(&ingestion.PipelineConfig{
			EmbeddingWorkerCount: c.cfg.Ingestion.Workers,
			UpsertBatchSize:      c.cfg.Ingestion.BatchSize,
			FailOnEmbeddingError: c.cfg.Ingestion.FailFast,
		}),
	)
}

// Generation は画像生成サービスを返す。未構成の場合は ErrGenerationNotConfigured
func (c *ServiceContainer) Generation() (*generation.Service, error) {
	if c == nil || c.GenerationService == nil {
		return nil, ErrGenerationNotConfigured
	}
	return c.GenerationService, nil
}

// Close は内部リソースを生成と逆順に解放する。
func (c *ServiceContainer) Close() {
	if c == nil {
		return
	}
	for i := len(c.closers) - 1; i >= 0; i-- {
		c.closers[i]()
	}
	c.closers = nil
}

// Logger はロガーを返す。
func (c *ServiceContainer) Logger() *slog.Logger {
	if c == nil || c.logger == nil {
		return slog.Default()
	}
	return c.logger
}

// Config は設定を返す。
func (c *ServiceContainer) Config() *config.Config {
	return c.cfg
}
