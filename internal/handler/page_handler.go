package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/hitoshi/pitchcheck/internal/auth"
	"github.com/hitoshi/pitchcheck/internal/middleware"
	"github.com/hitoshi/pitchcheck/internal/model"
	"github.com/hitoshi/pitchcheck/internal/web"
)

// PageRenderer は画面をレンダリングする。
type PageRenderer interface {
	Render(w http.ResponseWriter, status int, name string, data any) error
}

// VideoLister はダッシュボードに表示する動画一覧を返す。
type VideoLister interface {
	List(ctx context.Context, userID string) ([]*model.Video, error)
}

// PageHandlerConfig は画面ハンドラーの設定。
type PageHandlerConfig struct {
	AuthConfigured bool
	UploadMaxBytes int64
}

// PageHandler は画面のHTTPハンドラー。
// アクセス制御はセッションゲートが行うため、ここでは表示だけを担う。
type PageHandler struct {
	renderer PageRenderer
	videos   VideoLister
	config   PageHandlerConfig
}

// NewPageHandler はPageHandlerを生成する。
func NewPageHandler(renderer PageRenderer, videos VideoLister, config PageHandlerConfig) *PageHandler {
	return &PageHandler{
		renderer: renderer,
		videos:   videos,
		config:   config,
	}
}

// Landing はトップ画面を表示する。
// GET /
func (h *PageHandler) Landing(w http.ResponseWriter, r *http.Request) {
	_, loggedIn := middleware.SessionFromContext(r.Context())
	h.render(w, web.PageLanding, web.LandingData{LoggedIn: loggedIn})
}

// Login はログイン画面を表示する。
// GET /login?error=xxx
func (h *PageHandler) Login(w http.ResponseWriter, r *http.Request) {
	data := web.LoginData{Error: loginErrorMessage(r.URL.Query().Get("error"))}
	if !h.config.AuthConfigured {
		data.ConfigError = model.ConfigurationMessage
	}
	h.render(w, web.PageLogin, data)
}

// Signup はサインアップ画面を表示する。
// GET /signup
func (h *PageHandler) Signup(w http.ResponseWriter, r *http.Request) {
	data := web.SignupData{}
	if !h.config.AuthConfigured {
		data.ConfigError = model.ConfigurationMessage
	}
	h.render(w, web.PageSignup, data)
}

// Dashboard はアップロードフォームと動画一覧を表示する。
// GET /dashboard
func (h *PageHandler) Dashboard(w http.ResponseWriter, r *http.Request) {
	sess, ok := middleware.SessionFromContext(r.Context())
	if !ok {
		// ゲートが判定できずに通過させた場合
		http.Redirect(w, r, auth.LoginPath, http.StatusTemporaryRedirect)
		return
	}

	data := web.DashboardData{
		Email:       sess.Email,
		MaxUploadMB: h.config.UploadMaxBytes / (1024 * 1024),
	}
	videos, err := h.videos.List(r.Context(), sess.UserID)
	if err != nil {
		slog.Error("failed to list videos for dashboard",
			slog.String("user_id", sess.UserID),
			slog.String("error", err.Error()),
		)
		data.LoadError = "Failed to load your videos. Please reload the page."
	} else {
		data.Videos = videos
	}
	h.render(w, web.PageDashboard, data)
}

// DirectDashboard はログイン済みかどうかを確かめてダッシュボードへ遷移させる。
// 未ログインの場合はセッションゲートがログイン画面へリダイレクトする。
// GET /direct-dashboard
func (h *PageHandler) DirectDashboard(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, auth.LandingPath, http.StatusTemporaryRedirect)
}

func (h *PageHandler) render(w http.ResponseWriter, name string, data any) {
	if err := h.renderer.Render(w, http.StatusOK, name, data); err != nil {
		slog.Error("failed to render page",
			slog.String("page", name),
			slog.String("error", err.Error()),
		)
		http.Error(w, "internal server error", http.StatusInternalServerError)
	}
}

// loginErrorMessage は認可コールバックから渡された?error=の値を表示用メッセージに変換する。
func loginErrorMessage(code string) string {
	switch code {
	case "":
		return ""
	case auth.CallbackErrorNoCode:
		return "Authentication failed. Please try again."
	case auth.CallbackErrorUnexpected:
		return "An unexpected error occurred. Please try again."
	default:
		return "Authentication error: " + code
	}
}
