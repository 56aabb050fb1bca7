package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hitoshi/pitchcheck/internal/middleware"
	"github.com/hitoshi/pitchcheck/internal/model"
)

// writeJSON はJSONレスポンスを書き込む。
func writeJSON(w http.ResponseWriter, statusCode int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(body)
}

// handleServiceError はサービス層から返されたエラーを適切なHTTPステータスコードに変換する。
func handleServiceError(w http.ResponseWriter, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		middleware.WriteErrorResponse(w, mapAPIErrorToHTTPStatus(apiErr), apiErr)
		return
	}

	// APIError以外のエラーは内部サーバーエラーとして扱う
	slog.Error("internal server error", slog.String("error", err.Error()))
	middleware.WriteInternalServerError(w)
}

// mapAPIErrorToHTTPStatus はAPIErrorからHTTPステータスコードにマッピングする。
func mapAPIErrorToHTTPStatus(apiErr *model.APIError) int {
	switch apiErr.Code {
	case model.ErrCodeUnauthorized:
		return http.StatusUnauthorized
	case model.ErrCodeEmailNotConfirmed:
		return http.StatusForbidden
	case model.ErrCodeUserNotFound, model.ErrCodeVideoNotFound, model.ErrCodeEvaluationNotFound:
		return http.StatusNotFound
	case model.ErrCodeVideoTooLarge:
		return http.StatusRequestEntityTooLarge
	case model.ErrCodeResultsNotReady:
		return http.StatusConflict
	case model.ErrCodeUploadFailed:
		return http.StatusBadGateway
	case model.ErrCodeConfiguration:
		return http.StatusServiceUnavailable
	}

	switch apiErr.Category {
	case model.CategoryValidation:
		return http.StatusBadRequest
	case model.CategoryCredential:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

// decodeJSON はリクエストボディをJSONとして読み込む。
// 失敗した場合は400のレスポンスを書き込んでfalseを返す。
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewValidationError(
			model.ErrCodeInvalidInput, "Invalid request body",
		))
		return false
	}
	return true
}
