// Package session はブラウザ側のセッションCookieの読み書きを提供する。
// セッション本体（アクセストークンとリフレッシュトークン）は外部の認証基盤が発行し、
// このシステムはHTTP Only Cookieとして保持するだけである。
package session

import (
	"net/http"
	"time"

	"github.com/hitoshi/pitchcheck/internal/model"
)

// Cookie名
const (
	AccessTokenCookie  = "sb-access-token"
	RefreshTokenCookie = "sb-refresh-token"
	CodeVerifierCookie = "sb-code-verifier"
	BypassCookie       = "auth_bypass"
)

// codeVerifierMaxAge は確認メールのリンクからコールバックされるまでの猶予（秒）。
const codeVerifierMaxAge = 3600

// CookieConfig はCookie属性の設定。
type CookieConfig struct {
	Domain string
	Secure bool
	MaxAge int // セッションCookieの有効期間（秒）
}

// Cookies はセッション関連Cookieを書き込む。
type Cookies struct {
	config CookieConfig
}

// NewCookies はCookiesを生成する。
func NewCookies(config CookieConfig) *Cookies {
	return &Cookies{config: config}
}

// Read はリクエストからアクセストークンとリフレッシュトークンを取り出す。
func Read(r *http.Request) (accessToken, refreshToken string) {
	if c, err := r.Cookie(AccessTokenCookie); err == nil {
		accessToken = c.Value
	}
	if c, err := r.Cookie(RefreshTokenCookie); err == nil {
		refreshToken = c.Value
	}
	return accessToken, refreshToken
}

// Write はセッションのトークンをHTTP Only Cookieとして書き込む。
func (c *Cookies) Write(w http.ResponseWriter, s *model.Session) {
	http.SetCookie(w, c.cookie(AccessTokenCookie, s.AccessToken, c.config.MaxAge))
	if s.RefreshToken != "" {
		http.SetCookie(w, c.cookie(RefreshTokenCookie, s.RefreshToken, c.config.MaxAge))
	}
}

// Clear はセッションCookieを削除する。
func (c *Cookies) Clear(w http.ResponseWriter) {
	http.SetCookie(w, c.cookie(AccessTokenCookie, "", -1))
	http.SetCookie(w, c.cookie(RefreshTokenCookie, "", -1))
}

// WriteCodeVerifier はサインアップ時に生成したPKCEのverifierを保存する。
func (c *Cookies) WriteCodeVerifier(w http.ResponseWriter, verifier string) {
	http.SetCookie(w, c.cookie(CodeVerifierCookie, verifier, codeVerifierMaxAge))
}

// ReadCodeVerifier は保存済みのPKCE verifierを返す。
func ReadCodeVerifier(r *http.Request) string {
	if c, err := r.Cookie(CodeVerifierCookie); err == nil {
		return c.Value
	}
	return ""
}

// ClearCodeVerifier はPKCE verifierのCookieを削除する。
func (c *Cookies) ClearCodeVerifier(w http.ResponseWriter) {
	http.SetCookie(w, c.cookie(CodeVerifierCookie, "", -1))
}

// WriteBypass はバイパスマーカーをCookieに書き込む。
// MaxAgeはttlを秒に切り捨てた値で、最低1秒とする。
func (c *Cookies) WriteBypass(w http.ResponseWriter, token string, ttl time.Duration) {
	maxAge := int(ttl / time.Second)
	if maxAge < 1 {
		maxAge = 1
	}
	http.SetCookie(w, c.cookie(BypassCookie, token, maxAge))
}

// ReadBypass はバイパスマーカーのCookie値を返す。
func ReadBypass(r *http.Request) (string, bool) {
	cookie, err := r.Cookie(BypassCookie)
	if err != nil || cookie.Value == "" {
		return "", false
	}
	return cookie.Value, true
}

// ClearBypass はバイパスマーカーのCookieを削除する。
func (c *Cookies) ClearBypass(w http.ResponseWriter) {
	http.SetCookie(w, c.cookie(BypassCookie, "", -1))
}

func (c *Cookies) cookie(name, value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Domain:   c.config.Domain,
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   c.config.Secure,
		SameSite: http.SameSiteLaxMode,
	}
}
