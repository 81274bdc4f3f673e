package huggingface

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/jinford/textile-rag/internal/shared/apperror"
)

// generatedImageField は JSON レスポンス中の base64 画像フィールド名
const generatedImageField = "generated_image"

// loadingMarker はモデルのコールドスタートを示すエラーメッセージの部分文字列
const loadingMarker = "loading"

// errorBody は Inference API のエラーレスポンス
type errorBody struct {
	Error         string  `json:"error"`
	EstimatedTime float64 `json:"estimated_time"`
}

// classifyResponse はステータスと Content-Type の組からレスポンスを解釈する。
//
//	2xx + JSON      -> [{"generated_image": "<base64>"}] をデコード
//	2xx + 非JSON    -> ボディをそのまま画像として返す
//	非2xx + loading          -> ModelLoading
//	503 + estimated_time > 0 -> ModelLoading
//	非2xx                    -> Upstream(status, body)
//
// loading の判定はボディ全体の大文字小文字を無視した部分文字列一致（ヒューリスティック）。
// 構造化エラーの estimated_time は再試行までの目安としてのみ使う。
func classifyResponse(status int, contentType string, body []byte) ([]byte, error) {
	if status >= http.StatusOK && status < http.StatusMultipleChoices {
		if isJSON(contentType) {
			return decodeJSONImage(body)
		}
		if len(body) == 0 {
			return nil, apperror.UnexpectedResponseFormat("model returned an empty body", nil)
		}
		return body, nil
	}

	if loading, retryAfter := detectLoading(status, contentType, body); loading {
		return nil, apperror.ModelLoading("Model is loading, please try again shortly.", retryAfter)
	}

	return nil, apperror.Upstream(status, string(body))
}

func isJSON(contentType string) bool {
	if contentType == "" {
		return false
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = strings.ToLower(strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0]))
	}
	return mediaType == "application/json" || strings.HasSuffix(mediaType, "+json")
}

func decodeJSONImage(body []byte) ([]byte, error) {
	var items []map[string]json.RawMessage
	if err := json.Unmarshal(body, &items); err != nil {
		return nil, apperror.UnexpectedResponseFormat("Unexpected JSON response format from model.", err)
	}
	if len(items) == 0 {
		return nil, apperror.UnexpectedResponseFormat("Unexpected JSON response format from model.", fmt.Errorf("empty list"))
	}

	raw, ok := items[0][generatedImageField]
	if !ok {
		return nil, apperror.UnexpectedResponseFormat("Unexpected JSON response format from model.",
			fmt.Errorf("missing %q field", generatedImageField))
	}

	var encoded string
	if err := json.Unmarshal(raw, &encoded); err != nil {
		return nil, apperror.UnexpectedResponseFormat("Unexpected JSON response format from model.", err)
	}

	image, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, apperror.UnexpectedResponseFormat("model returned invalid base64 image data", err)
	}
	if len(image) == 0 {
		return nil, apperror.UnexpectedResponseFormat("model returned an empty image", nil)
	}
	return image, nil
}

func detectLoading(status int, contentType string, body []byte) (bool, time.Duration) {
	var retryAfter time.Duration
	if isJSON(contentType) {
		var eb errorBody
		if err := json.Unmarshal(body, &eb); err == nil {
			retryAfter = estimatedDuration(eb.EstimatedTime)
		}
	}

	if strings.Contains(strings.ToLower(string(body)), loadingMarker) {
		return true, retryAfter
	}
	// 503 + estimated_time はメッセージに loading を含まなくてもコールドスタート
	return status == http.StatusServiceUnavailable && retryAfter > 0, retryAfter
}

func estimatedDuration(seconds float64) time.Duration {
	if seconds <= 0 || math.IsNaN(seconds) || math.IsInf(seconds, 0) {
		return 0
	}
	return time.Duration(math.Ceil(seconds)) * time.Second
}
