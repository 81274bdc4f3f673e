package httpapi

import (
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/jinford/textile-rag/internal/shared/apperror"
)

type errorResponse struct {
	Detail string `json:"detail"`
}

// handleError はすべての失敗を {"detail": "..."} 形式で返す
func (s *Server) handleError(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	status, detail := s.describeError(err)
	if appErr, ok := apperror.As(err); ok && appErr.Kind == apperror.KindModelLoading && appErr.RetryAfter > 0 {
		seconds := int(math.Ceil(appErr.RetryAfter.Seconds()))
		c.Response().Header().Set("Retry-After", strconv.Itoa(seconds))
	}

	var writeErr error
	if c.Request().Method == http.MethodHead {
		writeErr = c.NoContent(status)
	} else {
		writeErr = c.JSON(status, errorResponse{Detail: detail})
	}
	if writeErr != nil {
		s.logger.Error("failed to write error response", "error", writeErr)
	}
}

func (s *Server) describeError(err error) (int, string) {
	var httpErr *echo.HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.Code, fmt.Sprint(httpErr.Message)
	}

	if appErr, ok := apperror.As(err); ok {
		return apperror.HTTPStatus(err), appErr.Detail()
	}

	s.logger.Error("unhandled error", "error", err)
	return http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError)
}

// statusOf はメトリクス記録用に err のステータスコードを返す
func statusOf(err error) int {
	var httpErr *echo.HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.Code
	}
	return apperror.HTTPStatus(err)
}
