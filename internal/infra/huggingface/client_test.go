package huggingface

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jinford/textile-rag/internal/shared/apperror"
)

var pngBytes = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n', 0, 0, 0, 13, 'I', 'H', 'D', 'R'}

func newTestClient(t *testing.T, handler http.HandlerFunc, opts ...func(*Config)) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	cfg := Config{APIKey: "hf_test", ModelURL: server.URL, HTTPClient: server.Client()}
	for _, opt := range opts {
		opt(&cfg)
	}
	client, err := NewClient(cfg)
	require.NoError(t, err)
	return client
}

func TestNewClient_RequiresAPIKey(t *testing.T) {
	_, err := NewClient(Config{})
	assert.ErrorIs(t, err, ErrAPIKeyNotSet)
}

func TestNewClient_Defaults(t *testing.T) {
	client, err := NewClient(Config{APIKey: "hf_test"})
	require.NoError(t, err)
	assert.Equal(t, DefaultModelURL, client.ModelURL())
	assert.Equal(t, DefaultTimeout, client.timeout)
	assert.Equal(t, DefaultMaxResponseBytes, client.maxResponseBytes)
}

func TestClient_GenerateSendsExpectedRequest(t *testing.T) {
	var got inferenceRequest
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer hf_test", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(pngBytes)
	})

	image, err := client.Generate(context.Background(), "a red silk saree with gold border")
	require.NoError(t, err)
	assert.Equal(t, pngBytes, image)
	assert.Equal(t, "a red silk saree with gold border", got.Inputs)
	assert.True(t, got.Options.WaitForModel)
}

func TestClient_GenerateJSONImage(t *testing.T) {
	raw := make([]byte, 1234)
	for i := range raw {
		raw[i] = byte(i % 251)
	}

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		_ = json.NewEncoder(w).Encode([]map[string]string{
			{"generated_image": base64.StdEncoding.EncodeToString(raw)},
		})
	})

	image, err := client.Generate(context.Background(), "kalamkari peacock")
	require.NoError(t, err)
	assert.Len(t, image, len(raw))
	assert.Equal(t, raw, image)
}

func TestClient_GenerateLoadingIsModelLoading(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		contentType string
		body        string
		retryAfter  time.Duration
	}{
		{
			name:        "structured error with estimate",
			status:      http.StatusServiceUnavailable,
			contentType: "application/json",
			body:        `{"error":"Model stabilityai/stable-diffusion-xl-base-1.0 is currently loading","estimated_time":19.4}`,
			retryAfter:  20 * time.Second,
		},
		{
			name:        "plain text mixed case",
			status:      http.StatusInternalServerError,
			contentType: "text/plain",
			body:        "Model is LOADING, hold on",
		},
		{
			name:        "json without error field falls back to substring",
			status:      http.StatusBadGateway,
			contentType: "application/json",
			body:        `{"message":"still Loading weights"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", tt.contentType)
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			})

			_, err := client.Generate(context.Background(), "gond")
			require.Error(t, err)
			appErr, ok := apperror.As(err)
			require.True(t, ok)
			assert.Equal(t, apperror.KindModelLoading, appErr.Kind)
			assert.Equal(t, tt.retryAfter, appErr.RetryAfter)
		})
	}
}

func TestClient_GenerateUpstreamError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, `{"error":"Invalid credentials in Authorization header"}`)
	})

	_, err := client.Generate(context.Background(), "kasuti")
	require.Error(t, err)
	appErr, ok := apperror.As(err)
	require.True(t, ok)
	assert.Equal(t, apperror.KindUpstream, appErr.Kind)
	assert.Equal(t, http.StatusUnauthorized, appErr.StatusCode)
	assert.Equal(t, `{"error":"Invalid credentials in Authorization header"}`, appErr.Body)
}

func TestClient_GenerateTimeout(t *testing.T) {
	release := make(chan struct{})
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}, func(cfg *Config) {
		cfg.Timeout = 50 * time.Millisecond
	})
	defer close(release)

	_, err := client.Generate(context.Background(), "gond")
	require.Error(t, err)
	appErr, ok := apperror.As(err)
	require.True(t, ok)
	assert.Equal(t, apperror.KindUpstream, appErr.Kind)
	assert.Equal(t, http.StatusGatewayTimeout, appErr.StatusCode)
}

func TestClient_GenerateUnreachable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	client, err := NewClient(Config{APIKey: "hf_test", ModelURL: url})
	require.NoError(t, err)

	_, err = client.Generate(context.Background(), "gond")
	require.Error(t, err)
	appErr, ok := apperror.As(err)
	require.True(t, ok)
	assert.Equal(t, http.StatusBadGateway, appErr.StatusCode)
}

func TestClient_GenerateResponseTooLarge(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(make([]byte, 64))
	}, func(cfg *Config) {
		cfg.MaxResponseBytes = 16
	})

	_, err := client.Generate(context.Background(), "gond")
	require.Error(t, err)
	assert.True(t, apperror.Is(err, apperror.KindUnexpectedResponseFormat))
	assert.ErrorIs(t, err, ErrResponseTooLarge)
}
