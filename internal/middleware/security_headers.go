package middleware

import "net/http"

// contentSecurityPolicy は画面で許可するリソースの取得元。
// 動画はストレージの公開URLから再生するため、media-srcにその取得元を加える。
const contentSecurityPolicy = "default-src 'self'; script-src 'self' 'unsafe-inline'; style-src 'self' 'unsafe-inline'; img-src 'self' data:; frame-ancestors 'none'"

// NewSecurityHeadersMiddleware はセキュリティ関連のHTTPレスポンスヘッダーを付与するミドルウェアを返す。
// mediaOriginが空でなければ動画の再生元として許可する。
func NewSecurityHeadersMiddleware(mediaOrigin string) func(next http.Handler) http.Handler {
	csp := contentSecurityPolicy + "; media-src 'self'"
	if mediaOrigin != "" {
		csp += " " + mediaOrigin
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			w.Header().Set("X-Frame-Options", "DENY")
			w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
			w.Header().Set("Permissions-Policy", "camera=(), microphone=(), geolocation=()")
			w.Header().Set("Content-Security-Policy", csp)
			next.ServeHTTP(w, r)
		})
	}
}
