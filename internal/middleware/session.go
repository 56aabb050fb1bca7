// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/hitoshi/pitchcheck/internal/model"
	"github.com/hitoshi/pitchcheck/internal/session"
)

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

var (
	// userIDContextKey はリクエストコンテキストにユーザーIDを格納するためのキー。
	userIDContextKey = contextKey("user_id")
	// sessionContextKey はリクエストコンテキストにセッションを格納するためのキー。
	sessionContextKey = contextKey("session")
)

// SessionResolver はCookieのトークンから現在のセッションを求める。
// セッションがない場合は(nil, nil)を返す。
type SessionResolver interface {
	ResolveSession(ctx context.Context, accessToken, refreshToken string) (*model.Session, error)
}

// SessionCookieWriter はリフレッシュされたセッションのCookieを書き直す。
type SessionCookieWriter interface {
	Write(w http.ResponseWriter, s *model.Session)
}

// NewRequireSession はセッションCookieを検証し、
// 認証済みユーザーIDとセッションをリクエストコンテキストに注入するミドルウェアを返す。
// JSON APIに使い、未認証リクエストには401 Unauthorizedを返す。
func NewRequireSession(resolver SessionResolver, cookies SessionCookieWriter) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// 1. Cookieからトークンを取得
			accessToken, refreshToken := session.Read(r)
			if accessToken == "" && refreshToken == "" {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
				return
			}

			// 2. セッションの有効性を検証
			s, err := resolver.ResolveSession(r.Context(), accessToken, refreshToken)
			if err != nil {
				slog.Error("failed to resolve session",
					slog.String("error", err.Error()),
				)
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
				return
			}
			if s == nil {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
				return
			}
			if s.Refreshed {
				cookies.Write(w, s)
			}

			// 3. 認証済みユーザーをコンテキストに注入
			next.ServeHTTP(w, r.WithContext(ContextWithSession(r.Context(), s)))
		})
	}
}

// UserIDFromContext はリクエストコンテキストからユーザーIDを取得する。
// セッションミドルウェアまたはセッションゲートを通過したリクエストでのみ有効。
func UserIDFromContext(ctx context.Context) (string, error) {
	userID, ok := ctx.Value(userIDContextKey).(string)
	if !ok || userID == "" {
		return "", fmt.Errorf("user ID not found in context")
	}
	return userID, nil
}

// SessionFromContext はリクエストコンテキストからセッションを取得する。
// バイパスマーカーで通過したリクエストではトークンを持たないセッションが入る。
func SessionFromContext(ctx context.Context) (*model.Session, bool) {
	s, ok := ctx.Value(sessionContextKey).(*model.Session)
	return s, ok && s != nil
}

// ContextWithUserID はコンテキストにユーザーIDを注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithUserID(ctx context.Context, userID string) context.Context {
	noteUserID(ctx, userID)
	return context.WithValue(ctx, userIDContextKey, userID)
}

// ContextWithSession はコンテキストにセッションとそのユーザーIDを注入する。
func ContextWithSession(ctx context.Context, s *model.Session) context.Context {
	ctx = context.WithValue(ctx, sessionContextKey, s)
	return ContextWithUserID(ctx, s.UserID)
}
