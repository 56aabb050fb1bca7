// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/hitoshi/pitchcheck/internal/auth"
	"github.com/hitoshi/pitchcheck/internal/model"
	"github.com/hitoshi/pitchcheck/internal/session"
)

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	Configured() bool
	SignUp(ctx context.Context, email, password string) (*auth.SignUpResult, error)
	Login(ctx context.Context, email, password string) (*auth.LoginResult, error)
	Logout(ctx context.Context, accessToken string)
	HandleCallback(ctx context.Context, code, codeVerifier string) (*auth.LoginResult, error)
	ResolveSession(ctx context.Context, accessToken, refreshToken string) (*model.Session, error)
}

// AuthCookies は認証ハンドラーが書き込むCookie操作。
type AuthCookies interface {
	Write(w http.ResponseWriter, s *model.Session)
	Clear(w http.ResponseWriter)
	WriteCodeVerifier(w http.ResponseWriter, verifier string)
	ClearCodeVerifier(w http.ResponseWriter)
	WriteBypass(w http.ResponseWriter, token string, ttl time.Duration)
	ClearBypass(w http.ResponseWriter)
}

// AuthHandlerConfig は認証ハンドラーの設定。
type AuthHandlerConfig struct {
	BypassTTL time.Duration // バイパスマーカーCookieの有効期間
}

// AuthHandler は認証関連のHTTPハンドラー。
type AuthHandler struct {
	service AuthServiceInterface
	cookies AuthCookies
	config  AuthHandlerConfig
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(service AuthServiceInterface, cookies AuthCookies, config AuthHandlerConfig) *AuthHandler {
	return &AuthHandler{
		service: service,
		cookies: cookies,
		config:  config,
	}
}

// credentialsRequest はサインアップ・ログインのリクエストボディ。
type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// flowResponse は認証フローの結果。フロントエンドは表示と遷移にだけ使う。
type flowResponse struct {
	Message         string `json:"message,omitempty"`
	RedirectTo      string `json:"redirect_to,omitempty"`
	RedirectDelayMS int64  `json:"redirect_delay_ms"`
	UserID          string `json:"user_id,omitempty"`
	Email           string `json:"email,omitempty"`
}

// sessionResponse は現在のセッションの問い合わせ結果。
type sessionResponse struct {
	Authenticated bool   `json:"authenticated"`
	UserID        string `json:"user_id,omitempty"`
	Email         string `json:"email,omitempty"`
}

// SignUp はアカウントを作成する。
// POST /api/auth/signup
func (h *AuthHandler) SignUp(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	result, err := h.service.SignUp(r.Context(), req.Email, req.Password)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	// 確認メールのリンクからのコールバックでPKCE verifierを使う
	if result.CodeVerifier != "" {
		h.cookies.WriteCodeVerifier(w, result.CodeVerifier)
	}

	writeJSON(w, http.StatusOK, flowResponse{
		Message:         result.Message,
		RedirectTo:      result.RedirectTo,
		RedirectDelayMS: result.RedirectDelay.Milliseconds(),
	})
}

// Login はパスワードでログインし、セッションCookieとバイパスマーカーを書き込む。
// POST /api/auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	result, err := h.service.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	h.establish(w, result)
	writeJSON(w, http.StatusOK, flowResponse{
		RedirectTo:      result.RedirectTo,
		RedirectDelayMS: result.RedirectDelay.Milliseconds(),
		UserID:          result.Session.UserID,
		Email:           result.Session.Email,
	})
}

// Logout はセッションを破棄する。基盤側の失敗に関わらずCookieは削除する。
// POST /api/auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	accessToken, _ := session.Read(r)
	h.service.Logout(r.Context(), accessToken)

	h.cookies.Clear(w)
	h.cookies.ClearBypass(w)
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// Session は現在のセッションを返す。
// GET /api/auth/session
func (h *AuthHandler) Session(w http.ResponseWriter, r *http.Request) {
	accessToken, refreshToken := session.Read(r)
	s, err := h.service.ResolveSession(r.Context(), accessToken, refreshToken)
	if err != nil {
		slog.Warn("session probe failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusOK, sessionResponse{})
		return
	}
	if s == nil {
		writeJSON(w, http.StatusOK, sessionResponse{})
		return
	}
	if s.Refreshed {
		h.cookies.Write(w, s)
	}
	writeJSON(w, http.StatusOK, sessionResponse{
		Authenticated: true,
		UserID:        s.UserID,
		Email:         s.Email,
	})
}

// Callback は確認メールのリンクから戻った認可コードをセッションに交換する。
// 失敗した場合は/login?error=<理由>にリダイレクトする。
// GET /auth/callback?code=xxx
func (h *AuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("code")
	verifier := session.ReadCodeVerifier(r)
	h.cookies.ClearCodeVerifier(w)

	result, err := h.service.HandleCallback(r.Context(), code, verifier)
	if err != nil {
		reason := auth.CallbackErrorUnexpected
		var cbErr *auth.CallbackError
		if errors.As(err, &cbErr) {
			reason = cbErr.Reason
		}
		http.Redirect(w, r, auth.LoginPath+"?error="+url.QueryEscape(reason), http.StatusTemporaryRedirect)
		return
	}

	h.establish(w, result)
	http.Redirect(w, r, result.RedirectTo, http.StatusTemporaryRedirect)
}

// establish はセッションCookieとバイパスマーカーCookieを書き込む。
func (h *AuthHandler) establish(w http.ResponseWriter, result *auth.LoginResult) {
	h.cookies.Write(w, result.Session)
	if result.BypassToken != "" {
		h.cookies.WriteBypass(w, result.BypassToken, h.config.BypassTTL)
	}
}
