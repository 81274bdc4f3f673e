package huggingface

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/jinford/textile-rag/internal/core/generation"
	"github.com/jinford/textile-rag/internal/shared/apperror"
)

const (
	// DefaultModelURL はモデル未指定時の推論エンドポイント
	DefaultModelURL = "https://api-inference.huggingface.co/models/stabilityai/stable-diffusion-xl-base-1.0"

	// DefaultTimeout はリモート推論呼び出しのデフォルトタイムアウト
	DefaultTimeout = 120 * time.Second

	// DefaultMaxResponseBytes はレスポンスボディの読み込み上限
	DefaultMaxResponseBytes int64 = 32 << 20
)

var (
	// ErrAPIKeyNotSet はAPIキーが設定されていない場合のエラー
	ErrAPIKeyNotSet = errors.New("Hugging Face API key not set: please set HF_API_KEY environment variable")

	// ErrResponseTooLarge はレスポンスが上限を超えた場合のエラー
	ErrResponseTooLarge = errors.New("response body exceeds limit")
)

// Config は Client の設定
type Config struct {
	APIKey           string
	ModelURL         string
	Timeout          time.Duration
	MaxResponseBytes int64
	HTTPClient       *http.Client
}

// Client は Hugging Face Inference API を呼び出す generation.Generator 実装
type Client struct {
	httpClient       *http.Client
	apiKey           string
	modelURL         string
	timeout          time.Duration
	maxResponseBytes int64
}

type inferenceRequest struct {
	Inputs  string           `json:"inputs"`
	Options inferenceOptions `json:"options"`
}

type inferenceOptions struct {
	WaitForModel bool `json:"wait_for_model"`
}

// NewClient は新しい Client を作成する
func NewClient(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, ErrAPIKeyNotSet
	}

	c := &Client{
		httpClient:       cfg.HTTPClient,
		apiKey:           cfg.APIKey,
		modelURL:         cfg.ModelURL,
		timeout:          cfg.Timeout,
		maxResponseBytes: cfg.MaxResponseBytes,
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{}
	}
	if c.modelURL == "" {
		c.modelURL = DefaultModelURL
	}
	if c.timeout <= 0 {
		c.timeout = DefaultTimeout
	}
	if c.maxResponseBytes <= 0 {
		c.maxResponseBytes = DefaultMaxResponseBytes
	}

	return c, nil
}

// ModelURL は推論エンドポイントを返す
func (c *Client) ModelURL() string {
	return c.modelURL
}

// Generate はプロンプトをリモートモデルに送り、画像バイト列を返す。
// 1回の呼び出しにつき1回だけリクエストを送信し、リトライはしない。
func (c *Client) Generate(ctx context.Context, prompt string) ([]byte, error) {
	payload, err := json.Marshal(inferenceRequest{
		Inputs:  prompt,
		Options: inferenceOptions{WaitForModel: true},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.modelURL, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "image/png, application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, c.transportError(ctx, err)
	}
	defer resp.Body.Close()

	body, err := c.readBody(resp.Body)
	if err != nil {
		if errors.Is(err, ErrResponseTooLarge) {
			return nil, apperror.UnexpectedResponseFormat("model response too large", err)
		}
		return nil, c.transportError(ctx, err)
	}

	return classifyResponse(resp.StatusCode, resp.Header.Get("Content-Type"), body)
}

func (c *Client) readBody(r io.Reader) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(r, c.maxResponseBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if int64(len(body)) > c.maxResponseBytes {
		return nil, ErrResponseTooLarge
	}
	return body, nil
}

// transportError はネットワーク層の失敗を Upstream に変換する。
// タイムアウトは 504、それ以外の到達失敗は 502 とする。
func (c *Client) transportError(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return apperror.Upstream(http.StatusGatewayTimeout,
			fmt.Sprintf("image generation timed out after %s", c.timeout)).WithCause(err)
	}
	if errors.Is(err, context.Canceled) {
		return fmt.Errorf("image generation canceled: %w", err)
	}
	return apperror.Upstream(http.StatusBadGateway, "image generation endpoint unreachable").WithCause(err)
}

// インターフェース実装の確認
var _ generation.Generator = (*Client)(nil)
