package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/hitoshi/legaldesk/internal/middleware"
	"github.com/hitoshi/legaldesk/internal/model"
)

// handleServiceError はサービス層から返されたエラーを統一フォーマットのJSONレスポンスに変換する。
func handleServiceError(w http.ResponseWriter, err error) {
	apiErr, status := classifyError(err)
	middleware.WriteErrorResponse(w, status, apiErr)
}

// classifyError はエラーをAPIErrorとHTTPステータスコードに分類する。
// APIError以外のエラーは内部エラーとしてログに記録し、詳細は隠蔽する。
func classifyError(err error) (*model.APIError, int) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		return apiErr, mapAPIErrorToHTTPStatus(apiErr)
	}

	slog.Error("internal server error", slog.String("error", err.Error()))
	return model.NewInternalError(), http.StatusInternalServerError
}

// mapAPIErrorToHTTPStatus はAPIErrorコードからHTTPステータスコードにマッピングする。
func mapAPIErrorToHTTPStatus(apiErr *model.APIError) int {
	switch apiErr.Code {
	case model.ErrCodeAgreementNotFound, model.ErrCodeOrganizationNotFound, model.ErrCodeInvalidSlug:
		return http.StatusNotFound
	case model.ErrCodeValidationFailed:
		return http.StatusBadRequest
	case model.ErrCodeUnauthorized:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}
