// Package httpapi は検索と画像生成の HTTP エンドポイントを提供する
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jinford/textile-rag/internal/core/retrieval"
	"github.com/jinford/textile-rag/internal/platform/config"
)

const defaultShutdownTimeout = 10 * time.Second

// Retriever はテキストクエリで画像を検索する
type Retriever interface {
	Retrieve(ctx context.Context, query string, k int) (*retrieval.Result, error)
}

// Generator はプロンプトから画像を生成する
type Generator interface {
	Generate(ctx context.Context, prompt string) ([]byte, error)
}

// Server は echo ベースの HTTP サーバ
type Server struct {
	echo      *echo.Echo
	cfg       config.ServerConfig
	retriever Retriever
	generator Generator
	logger    *slog.Logger
	registry  *prometheus.Registry
	metrics   *metrics
	limiter   *rateLimiter
}

type serverOptions struct {
	logger   *slog.Logger
	registry *prometheus.Registry
}

// ServerOption は Server のオプション設定
type ServerOption func(*serverOptions)

// WithServerLogger はロガーを差し替える
func WithServerLogger(logger *slog.Logger) ServerOption {
	return func(o *serverOptions) {
		o.logger = logger
	}
}

// WithRegistry はメトリクスの登録先を差し替える
func WithRegistry(registry *prometheus.Registry) ServerOption {
	return func(o *serverOptions) {
		o.registry = registry
	}
}

// NewServer は新しい Server を作成する。generator が nil の場合 /generate は 503 を返す。
func NewServer(cfg config.ServerConfig, retriever Retriever, generator Generator, opts ...ServerOption) *Server {
	options := serverOptions{logger: slog.Default()}
	for _, opt := range opts {
		opt(&options)
	}
	if options.logger == nil {
		options.logger = slog.Default()
	}
	if options.registry == nil {
		options.registry = prometheus.NewRegistry()
	}

	s := &Server{
		echo:      echo.New(),
		cfg:       cfg,
		retriever: retriever,
		generator: generator,
		logger:    options.logger,
		registry:  options.registry,
		metrics:   newMetrics(options.registry),
		limiter:   newRateLimiter(cfg.GenerateRateLimit, cfg.GenerateRateBurst),
	}

	s.echo.HideBanner = true
	s.echo.HidePort = true
	s.echo.HTTPErrorHandler = s.handleError
	s.registerMiddleware()
	s.registerRoutes()

	return s
}

func (s *Server) registerMiddleware() {
	s.echo.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		Generator: uuid.NewString,
	}))
	s.echo.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:    true,
		LogURI:       true,
		LogStatus:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogRemoteIP:  true,
		LogError:     true,
		HandleError:  true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			attrs := []any{
				"method", v.Method,
				"uri", v.URI,
				"status", v.Status,
				"latency_ms", v.Latency.Milliseconds(),
				"request_id", v.RequestID,
				"remote_ip", v.RemoteIP,
			}
			if v.Error != nil {
				s.logger.Warn("request failed", append(attrs, "error", v.Error)...)
				return nil
			}
			s.logger.Info("request", attrs...)
			return nil
		},
	}))
	s.echo.Use(middleware.Recover())
	s.echo.Use(s.corsMiddleware())
	s.echo.Use(s.metrics.middleware())
}

// corsAllowMethods はオリジンの制限有無にかかわらずすべてのメソッドを許可する
var corsAllowMethods = []string{
	http.MethodGet,
	http.MethodHead,
	http.MethodPut,
	http.MethodPatch,
	http.MethodPost,
	http.MethodDelete,
	http.MethodOptions,
}

func (s *Server) corsMiddleware() echo.MiddlewareFunc {
	origins := []string{"*"}
	if !s.cfg.AllowAllOrigins() {
		origins = s.cfg.CORSAllowOrigins
	}
	return middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: origins,
		AllowMethods: corsAllowMethods,
	})
}

func (s *Server) registerRoutes() {
	s.echo.GET("/healthz", s.handleHealth)
	s.echo.GET("/retrieve", s.handleRetrieve)
	s.echo.POST("/generate", s.handleGenerate, s.limiter.middleware())
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})))
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}

// Start はサーバを起動し、ctx がキャンセルされるとグレースフルシャットダウンする
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTPサーバを起動しました", "addr", s.cfg.Addr())
		if err := s.echo.Start(s.cfg.Addr()); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("HTTPサーバの起動に失敗しました: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	timeout := s.cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = defaultShutdownTimeout
	}
	s.logger.Info("HTTPサーバを停止しています", "timeout", timeout)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := s.echo.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("HTTPサーバの停止に失敗しました: %w", err)
	}
	return nil
}
