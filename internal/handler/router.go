package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/hitoshi/pitchcheck/internal/middleware"
	"github.com/hitoshi/pitchcheck/internal/web"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	Logger         *slog.Logger
	StatusRecorder middleware.StatusRecorder // nilならステータスコードを記録しない

	// ミドルウェア依存
	Gate              *middleware.SessionGate
	SessionResolver   middleware.SessionResolver
	Cookies           AuthCookies
	CSRFConfig        middleware.CSRFConfig
	CORSAllowedOrigin string
	MediaOrigin       string // 動画の再生元（ストレージのオリジン）
	RateLimiter       *middleware.RateLimiter

	// 認証
	AuthService AuthServiceInterface
	AuthConfig  AuthHandlerConfig

	// メール確認の特権API。ConfirmerかAdminAPITokenが空ならマウントしない
	Confirmer     EmailConfirmer
	AdminAPIToken string

	// 動画
	VideoService   VideoServiceInterface
	UploadMaxBytes int64

	// 評価結果の通知。EvaluationApplierかEvaluatorWebhookSecretが空ならマウントしない
	EvaluationApplier      EvaluationApplier
	EvaluatorWebhookSecret string

	// 画面
	Pages PageRenderer

	// 運用
	HealthPinger   Pinger
	MetricsHandler http.Handler
}

// NewRouter は全エンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RealIP → Recovery → Logging → SecurityHeaders → CORS → SessionGate
//
// JSON APIはゲートの対象外で、ルートごとに以下を重ねる:
//
//	/api/auth/*  : RateLimit(Auth, IP単位) → CSRF
//	/api/videos/*: RequireSession → RateLimit(General) → CSRF
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(middleware.NewRecoveryMiddleware(logger))
	r.Use(middleware.NewLoggingMiddleware(logger, deps.StatusRecorder))
	r.Use(middleware.NewSecurityHeadersMiddleware(deps.MediaOrigin))
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
	r.Use(deps.Gate.Middleware)

	authHandler := NewAuthHandler(deps.AuthService, deps.Cookies, deps.AuthConfig)
	videoHandler := NewVideoHandler(deps.VideoService, deps.UploadMaxBytes)
	pageHandler := NewPageHandler(deps.Pages, deps.VideoService, PageHandlerConfig{
		AuthConfigured: deps.AuthService.Configured(),
		UploadMaxBytes: deps.UploadMaxBytes,
	})
	csrf := middleware.NewCSRFMiddleware(deps.CSRFConfig)

	// --- 運用 ---
	r.Get("/health", NewHealthHandler(deps.HealthPinger))
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}
	r.Handle("/static/*", web.StaticHandler())
	r.Get("/favicon.ico", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	// --- 画面（セッションゲートで保護） ---
	r.Get("/", pageHandler.Landing)
	r.Get("/login", pageHandler.Login)
	r.Get("/signup", pageHandler.Signup)
	r.Get("/dashboard", pageHandler.Dashboard)
	r.Get("/direct-dashboard", pageHandler.DirectDashboard)
	r.With(deps.RateLimiter.AuthMiddleware()).Get("/auth/callback", authHandler.Callback)

	// --- 認証API ---
	r.Method(http.MethodGet, "/api/csrf-token", middleware.NewCSRFTokenHandler(deps.CSRFConfig))
	r.Get("/api/auth/session", authHandler.Session)
	r.Group(func(r chi.Router) {
		r.Use(deps.RateLimiter.AuthMiddleware())
		r.Use(csrf)

		r.Post("/api/auth/signup", authHandler.SignUp)
		r.Post("/api/auth/login", authHandler.Login)
		r.Post("/api/auth/logout", authHandler.Logout)
	})

	// --- メール確認（特権API） ---
	if deps.Confirmer != nil && deps.AdminAPIToken != "" {
		confirmHandler := NewConfirmHandler(deps.Confirmer)
		r.Group(func(r chi.Router) {
			r.Use(deps.RateLimiter.AuthMiddleware())
			r.Use(requireBearerToken(deps.AdminAPIToken))

			r.Post("/api/confirm-email", confirmHandler.ConfirmEmail)
			r.Post("/api/confirm-user", confirmHandler.ConfirmUser)
		})
	}

	// --- 評価サービスからの通知 ---
	if deps.EvaluationApplier != nil && deps.EvaluatorWebhookSecret != "" {
		evalHandler := NewEvaluationHandler(deps.EvaluationApplier, deps.EvaluatorWebhookSecret)
		r.Post("/api/evaluations/callback", evalHandler.Callback)
	}

	// --- 動画（セッション必須） ---
	r.Route("/api/videos", func(r chi.Router) {
		r.Use(middleware.NewRequireSession(deps.SessionResolver, deps.Cookies))
		r.Use(deps.RateLimiter.GeneralMiddleware())
		r.Use(csrf)

		r.Get("/", videoHandler.ListVideos)
		r.Post("/", videoHandler.Upload)
		r.Get("/{id}", videoHandler.GetVideo)
		r.Get("/{id}/results", videoHandler.GetResults)
	})

	return r
}
