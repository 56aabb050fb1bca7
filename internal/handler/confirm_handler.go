package handler

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/hitoshi/pitchcheck/internal/model"
)

// EmailConfirmer はメールアドレスの確認を自動化する特権操作。
type EmailConfirmer interface {
	ConfirmByEmail(ctx context.Context, email string) error
	ConfirmByID(ctx context.Context, userID, email string) error
}

// ConfirmHandler はメール確認の特権APIのHTTPハンドラー。
// レスポンスは{success:true}または{error:"..."}の形式。
type ConfirmHandler struct {
	confirmer EmailConfirmer
}

// NewConfirmHandler はConfirmHandlerを生成する。
func NewConfirmHandler(confirmer EmailConfirmer) *ConfirmHandler {
	return &ConfirmHandler{confirmer: confirmer}
}

type confirmEmailRequest struct {
	Email string `json:"email"`
}

type confirmUserRequest struct {
	UserID string `json:"userId"`
	Email  string `json:"email"`
}

// ConfirmEmail はメールアドレスからユーザーを探して確認済みにする。
// POST /api/confirm-email
func (h *ConfirmHandler) ConfirmEmail(w http.ResponseWriter, r *http.Request) {
	var req confirmEmailRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
		writeConfirmError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	h.respond(w, h.confirmer.ConfirmByEmail(r.Context(), req.Email))
}

// ConfirmUser はユーザーIDを指定して確認済みにする。
// POST /api/confirm-user
func (h *ConfirmHandler) ConfirmUser(w http.ResponseWriter, r *http.Request) {
	var req confirmUserRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
		writeConfirmError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	h.respond(w, h.confirmer.ConfirmByID(r.Context(), req.UserID, req.Email))
}

func (h *ConfirmHandler) respond(w http.ResponseWriter, err error) {
	if err == nil {
		writeJSON(w, http.StatusOK, map[string]bool{"success": true})
		return
	}

	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		slog.Error("email confirmation failed", slog.String("error", err.Error()))
		writeConfirmError(w, http.StatusInternalServerError, model.NewUnexpectedError().Message)
		return
	}
	switch {
	case apiErr.Category == model.CategoryValidation:
		writeConfirmError(w, http.StatusBadRequest, apiErr.Message)
	case apiErr.Code == model.ErrCodeUserNotFound:
		writeConfirmError(w, http.StatusNotFound, apiErr.Message)
	default:
		writeConfirmError(w, http.StatusInternalServerError, apiErr.Message)
	}
}

func writeConfirmError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, map[string]string{"error": message})
}

// requireBearerToken はAuthorization: Bearer <token>を検証するミドルウェアを返す。
func requireBearerToken(token string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || token == "" || subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
				slog.Warn("privileged request rejected",
					slog.String("path", r.URL.Path),
				)
				writeConfirmError(w, http.StatusUnauthorized, "Unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
