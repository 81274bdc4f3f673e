package huggingface

import (
	"encoding/base64"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jinford/textile-rag/internal/shared/apperror"
)

func TestClassifyResponse_DecisionTable(t *testing.T) {
	encoded := base64.StdEncoding.EncodeToString([]byte("image-bytes"))

	tests := []struct {
		name        string
		status      int
		contentType string
		body        string
		want        []byte
		kind        apperror.Kind
	}{
		{
			name:        "json list with image",
			status:      http.StatusOK,
			contentType: "application/json",
			body:        `[{"generated_image":"` + encoded + `"}]`,
			want:        []byte("image-bytes"),
		},
		{
			name:        "json with vendor suffix",
			status:      http.StatusOK,
			contentType: "application/problem+json",
			body:        `[{"generated_image":"` + encoded + `"}]`,
			want:        []byte("image-bytes"),
		},
		{
			name:        "json object instead of list",
			status:      http.StatusOK,
			contentType: "application/json",
			body:        `{"generated_image":"` + encoded + `"}`,
			kind:        apperror.KindUnexpectedResponseFormat,
		},
		{
			name:        "json empty list",
			status:      http.StatusOK,
			contentType: "application/json",
			body:        `[]`,
			kind:        apperror.KindUnexpectedResponseFormat,
		},
		{
			name:        "json missing field",
			status:      http.StatusOK,
			contentType: "application/json",
			body:        `[{"image":"abc"}]`,
			kind:        apperror.KindUnexpectedResponseFormat,
		},
		{
			name:        "json invalid base64",
			status:      http.StatusOK,
			contentType: "application/json",
			body:        `[{"generated_image":"!!not-base64!!"}]`,
			kind:        apperror.KindUnexpectedResponseFormat,
		},
		{
			name:        "json non-string field",
			status:      http.StatusOK,
			contentType: "application/json",
			body:        `[{"generated_image":42}]`,
			kind:        apperror.KindUnexpectedResponseFormat,
		},
		{
			name:        "raw bytes unmodified",
			status:      http.StatusOK,
			contentType: "image/jpeg",
			body:        "\xff\xd8\xff\xe0raw",
			want:        []byte("\xff\xd8\xff\xe0raw"),
		},
		{
			name:        "missing content type treated as raw",
			status:      http.StatusOK,
			contentType: "",
			body:        "raw",
			want:        []byte("raw"),
		},
		{
			name:        "empty raw body",
			status:      http.StatusOK,
			contentType: "image/png",
			body:        "",
			kind:        apperror.KindUnexpectedResponseFormat,
		},
		{
			name:        "loading",
			status:      http.StatusServiceUnavailable,
			contentType: "application/json",
			body:        `{"error":"Model is currently loading"}`,
			kind:        apperror.KindModelLoading,
		},
		{
			name:        "structured error that is not loading",
			status:      http.StatusServiceUnavailable,
			contentType: "application/json",
			body:        `{"error":"Service overloaded"}`,
			kind:        apperror.KindUpstream,
		},
		{
			name:        "loading mentioned outside the error field",
			status:      http.StatusServiceUnavailable,
			contentType: "application/json",
			body:        `{"error":"Service Unavailable","warnings":["Model stabilityai/stable-diffusion-xl-base-1.0 is currently loading"]}`,
			kind:        apperror.KindModelLoading,
		},
		{
			name:        "loading in a plain text body",
			status:      http.StatusBadGateway,
			contentType: "text/html",
			body:        "<html>Model LOADING</html>",
			kind:        apperror.KindModelLoading,
		},
		{
			name:        "503 with estimated time",
			status:      http.StatusServiceUnavailable,
			contentType: "application/json",
			body:        `{"error":"Service Unavailable","estimated_time":12.0}`,
			kind:        apperror.KindModelLoading,
		},
		{
			name:        "other failure",
			status:      http.StatusBadRequest,
			contentType: "text/plain",
			body:        "bad request",
			kind:        apperror.KindUpstream,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := classifyResponse(tt.status, tt.contentType, []byte(tt.body))
			if tt.kind == "" {
				require.NoError(t, err)
				assert.Equal(t, tt.want, got)
				return
			}
			require.Error(t, err)
			assert.True(t, apperror.Is(err, tt.kind), "got %v", err)
		})
	}
}

func TestClassifyResponse_UpstreamCarriesStatusAndBody(t *testing.T) {
	_, err := classifyResponse(http.StatusTooManyRequests, "text/plain", []byte("rate limited"))
	appErr, ok := apperror.As(err)
	require.True(t, ok)
	assert.Equal(t, http.StatusTooManyRequests, appErr.StatusCode)
	assert.Equal(t, "rate limited", appErr.Detail())
}

func TestClassifyResponse_LoadingRetryAfter(t *testing.T) {
	tests := []struct {
		name string
		body string
		want time.Duration
	}{
		{name: "estimated time rounded up", body: `{"error":"Model is currently loading","estimated_time":19.5}`, want: 20 * time.Second},
		{name: "loading outside error field keeps hint", body: `{"error":"Service Unavailable","note":"loading","estimated_time":3}`, want: 3 * time.Second},
		{name: "no hint", body: `{"error":"Model is currently loading"}`, want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := classifyResponse(http.StatusServiceUnavailable, "application/json", []byte(tt.body))
			appErr, ok := apperror.As(err)
			require.True(t, ok)
			assert.Equal(t, apperror.KindModelLoading, appErr.Kind)
			assert.Equal(t, tt.want, appErr.RetryAfter)
		})
	}
}

func TestIsJSON(t *testing.T) {
	assert.True(t, isJSON("application/json"))
	assert.True(t, isJSON("Application/JSON; charset=utf-8"))
	assert.False(t, isJSON("image/png"))
	assert.False(t, isJSON(""))
}
