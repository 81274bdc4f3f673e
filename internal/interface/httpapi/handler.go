package httpapi

import (
	"encoding/base64"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/jinford/textile-rag/internal/core/retrieval"
	"github.com/jinford/textile-rag/internal/shared/apperror"
)

// GenerateSuccessMessage は画像生成成功時のメッセージ
const GenerateSuccessMessage = "Image generated successfully"

type generateRequest struct {
	Prompt string `json:"prompt"`
}

type generateResponse struct {
	Image   string `json:"image"`
	Message string `json:"message"`
}

type healthResponse struct {
	Status string `json:"status"`
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, healthResponse{Status: "ok"})
}

// handleRetrieve は GET /retrieve?query=<text>[&k=<n>]
func (s *Server) handleRetrieve(c echo.Context) error {
	k := 0
	if raw := strings.TrimSpace(c.QueryParam("k")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			return apperror.InvalidArgument("k must be an integer")
		}
		if parsed < 1 {
			return apperror.InvalidArgument("k must be at least 1")
		}
		k = parsed
	}

	result, err := s.retriever.Retrieve(c.Request().Context(), c.QueryParam("query"), k)
	if err != nil {
		return err
	}
	if result.Items == nil {
		result.Items = []retrieval.Item{}
	}

	s.metrics.retrievalResults.Observe(float64(len(result.Items)))
	return c.JSON(http.StatusOK, result)
}

// handleGenerate は POST /generate {"prompt": "..."}
func (s *Server) handleGenerate(c echo.Context) error {
	if s.generator == nil {
		return apperror.ServiceUnavailable("image generation is not configured", nil)
	}

	var req generateRequest
	if err := c.Bind(&req); err != nil {
		return err
	}

	image, err := s.generator.Generate(c.Request().Context(), req.Prompt)
	if err != nil {
		return err
	}

	s.metrics.generatedBytes.Observe(float64(len(image)))
	return c.JSON(http.StatusOK, generateResponse{
		Image:   base64.StdEncoding.EncodeToString(image),
		Message: GenerateSuccessMessage,
	})
}
