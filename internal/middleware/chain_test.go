package middleware

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/pitchcheck/internal/session"
)

// newChainRouter は本番と同じ順序でミドルウェアを組んだルーターを返す。
// Recovery -> Logging -> SessionGate -> (API) RequireSession -> RateLimit -> CSRF
func newChainRouter(t *testing.T, rlConfig RateLimiterConfig) http.Handler {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	rl := NewRateLimiter(rlConfig)
	t.Cleanup(rl.Stop)

	gate := NewSessionGate(validTokenResolver(), &mockMarkerConsumer{}, &mockCookies{}, &mockGateRecorder{}, DefaultGateConfig(), logger)
	csrfConfig := CSRFConfig{}

	r := chi.NewRouter()
	r.Use(NewRecoveryMiddleware(logger))
	r.Use(NewLoggingMiddleware(logger, nil))
	r.Use(gate.Middleware)

	r.Get("/dashboard", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Route("/api", func(r chi.Router) {
		r.Use(NewRequireSession(validTokenResolver(), &mockCookies{}))
		r.Use(rl.GeneralMiddleware())
		r.Use(NewCSRFMiddleware(csrfConfig))
		r.Get("/videos", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		})
		r.Post("/videos", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusCreated)
		})
		r.Get("/panic", func(w http.ResponseWriter, r *http.Request) {
			panic("boom")
		})
	})
	return r
}

func TestMiddlewareChain_PageWithoutSession_RedirectsToLogin(t *testing.T) {
	r := newChainRouter(t, DefaultRateLimiterConfig())

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/dashboard", nil))

	if w.Code != http.StatusTemporaryRedirect {
		t.Errorf("status = %d, want %d", w.Code, http.StatusTemporaryRedirect)
	}
}

func TestMiddlewareChain_APIWithoutSession_Returns401NotRedirect(t *testing.T) {
	r := newChainRouter(t, DefaultRateLimiterConfig())

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/videos", nil))

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
}

func TestMiddlewareChain_APIPostWithSessionAndCSRF_Passes(t *testing.T) {
	r := newChainRouter(t, DefaultRateLimiterConfig())

	req := withAccessToken(httptest.NewRequest(http.MethodPost, "/api/videos", nil), "valid-access")
	req.AddCookie(&http.Cookie{Name: csrfCookieName, Value: "tok"})
	req.Header.Set(csrfHeaderName, "tok")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusCreated {
		t.Errorf("status = %d, want %d", w.Code, http.StatusCreated)
	}
}

func TestMiddlewareChain_RateLimitAppliesAfterSession(t *testing.T) {
	cfg := DefaultRateLimiterConfig()
	cfg.GeneralRate = 0.001
	cfg.GeneralBurst = 1
	r := newChainRouter(t, cfg)

	codes := make([]int, 0, 2)
	for i := 0; i < 2; i++ {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/api/videos", nil)
		req.AddCookie(&http.Cookie{Name: session.AccessTokenCookie, Value: "valid-access"})
		r.ServeHTTP(w, req)
		codes = append(codes, w.Code)
	}

	if codes[0] != http.StatusOK || codes[1] != http.StatusTooManyRequests {
		t.Errorf("codes = %v, want [200 429]", codes)
	}
}

func TestMiddlewareChain_PanicRecoveredAs500(t *testing.T) {
	r := newChainRouter(t, DefaultRateLimiterConfig())

	w := httptest.NewRecorder()
	r.ServeHTTP(w, withAccessToken(httptest.NewRequest(http.MethodGet, "/api/panic", nil), "valid-access"))

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", w.Code, http.StatusInternalServerError)
	}
}
