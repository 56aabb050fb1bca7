package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/hitoshi/pitchcheck/internal/bypass"
	"github.com/hitoshi/pitchcheck/internal/model"
	"github.com/hitoshi/pitchcheck/internal/session"
)

// ゲートの判定結果（メトリクスのラベル）
const (
	GateExcluded        = "excluded"
	GateBypass          = "bypass"
	GateBypassRejected  = "bypass_rejected"
	GateAllow           = "allow"
	GateRedirectLogin   = "redirect_login"
	GateRedirectLanding = "redirect_landing"
	GateFailOpen        = "fail_open"
)

// MarkerConsumer はバイパスマーカーを検証して消費する。
type MarkerConsumer interface {
	Consume(ctx context.Context, raw string) (*bypass.Marker, error)
}

// GateCookies はゲートが書き換えるCookie操作。
type GateCookies interface {
	Write(w http.ResponseWriter, s *model.Session)
	ClearBypass(w http.ResponseWriter)
}

// GateRecorder はゲートの判定を記録する。
type GateRecorder interface {
	RecordGateDecision(decision string)
}

// GateConfig はセッションゲートの設定。
type GateConfig struct {
	ExcludedPrefixes []string // セッション判定を行わないパスの接頭辞（"/"で終える）
	ExcludedExact    []string // セッション判定を行わないパス（完全一致）
	PublicRoutes     []string // 未ログインでも表示できるパス
	AuthPages        []string // ログイン済みなら遷移先へ飛ばすパス
	LandingPath      string
	LoginPath        string
}

// DefaultGateConfig はデフォルトのゲート設定を返す。
func DefaultGateConfig() GateConfig {
	return GateConfig{
		ExcludedPrefixes: []string{"/api/", "/static/"},
		ExcludedExact:    []string{"/health", "/metrics", "/favicon.ico"},
		PublicRoutes:     []string{"/", "/login", "/signup", "/auth/callback"},
		AuthPages:        []string{"/login", "/signup"},
		LandingPath:      "/dashboard",
		LoginPath:        "/login",
	}
}

// SessionGate は画面遷移ごとに通過させるかリダイレクトするかを判定する。
type SessionGate struct {
	resolver SessionResolver
	markers  MarkerConsumer
	cookies  GateCookies
	recorder GateRecorder
	config   GateConfig
	logger   *slog.Logger
}

// NewSessionGate はSessionGateを生成する。
func NewSessionGate(
	resolver SessionResolver,
	markers MarkerConsumer,
	cookies GateCookies,
	recorder GateRecorder,
	config GateConfig,
	logger *slog.Logger,
) *SessionGate {
	return &SessionGate{
		resolver: resolver,
		markers:  markers,
		cookies:  cookies,
		recorder: recorder,
		config:   config,
		logger:   logger,
	}
}

// Middleware はセッションゲートのミドルウェアを返す。
func (g *SessionGate) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Path

		// 1. 除外パスはセッションを参照しない
		if g.isExcluded(path) {
			g.decide(GateExcluded, path)
			next.ServeHTTP(w, r)
			return
		}

		// 2. ランディングページへのバイパスマーカー
		if raw, ok := session.ReadBypass(r); ok && path == g.config.LandingPath {
			g.cookies.ClearBypass(w)
			marker, err := g.markers.Consume(r.Context(), raw)
			if err == nil {
				g.decide(GateBypass, path)
				s := &model.Session{UserID: marker.UserID, Email: marker.Email}
				next.ServeHTTP(w, r.WithContext(ContextWithSession(r.Context(), s)))
				return
			}
			g.recorder.RecordGateDecision(GateBypassRejected)
			g.logger.Debug("bypass marker rejected",
				slog.String("path", path),
				slog.String("error", err.Error()),
			)
		}

		// 3. セッションを解決
		accessToken, refreshToken := session.Read(r)
		s, err := g.resolver.ResolveSession(r.Context(), accessToken, refreshToken)
		if err != nil {
			// 7. 判定できない場合は通過させる
			g.recorder.RecordGateDecision(GateFailOpen)
			g.logger.Warn("session gate failed open",
				slog.String("path", path),
				slog.String("error", err.Error()),
			)
			next.ServeHTTP(w, r)
			return
		}

		// 4. 未ログインで保護されたパス
		if s == nil {
			if !g.isPublic(path) {
				g.decide(GateRedirectLogin, path)
				http.Redirect(w, r, g.config.LoginPath, http.StatusTemporaryRedirect)
				return
			}
			g.decide(GateAllow, path)
			next.ServeHTTP(w, r)
			return
		}

		if s.Refreshed {
			g.cookies.Write(w, s)
		}

		// 5. ログイン済みでログイン画面・サインアップ画面
		if g.isAuthPage(path) {
			g.decide(GateRedirectLanding, path)
			http.Redirect(w, r, g.config.LandingPath, http.StatusTemporaryRedirect)
			return
		}

		// 6. 通過
		g.decide(GateAllow, path)
		next.ServeHTTP(w, r.WithContext(ContextWithSession(r.Context(), s)))
	})
}

func (g *SessionGate) decide(decision, path string) {
	g.recorder.RecordGateDecision(decision)
	g.logger.Debug("session gate decision",
		slog.String("decision", decision),
		slog.String("path", path),
	)
}

func (g *SessionGate) isExcluded(path string) bool {
	for _, exact := range g.config.ExcludedExact {
		if path == exact {
			return true
		}
	}
	for _, prefix := range g.config.ExcludedPrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// isPublic は公開パスかどうかを判定する。
// "/"は完全一致のみ、それ以外は完全一致または"<route>/"で始まるパスを公開とする。
func (g *SessionGate) isPublic(path string) bool {
	for _, route := range g.config.PublicRoutes {
		if path == route {
			return true
		}
		if route != "/" && strings.HasPrefix(path, route+"/") {
			return true
		}
	}
	return false
}

func (g *SessionGate) isAuthPage(path string) bool {
	for _, p := range g.config.AuthPages {
		if path == p {
			return true
		}
	}
	return false
}
