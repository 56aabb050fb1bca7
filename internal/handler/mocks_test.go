package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/pitchcheck/internal/auth"
	"github.com/hitoshi/pitchcheck/internal/middleware"
	"github.com/hitoshi/pitchcheck/internal/model"
	"github.com/hitoshi/pitchcheck/internal/session"
	"github.com/hitoshi/pitchcheck/internal/video"
)

// --- モック定義 ---

// mockAuthService はAuthServiceInterfaceのモック実装。
type mockAuthService struct {
	configured       bool
	signUpFn         func(ctx context.Context, email, password string) (*auth.SignUpResult, error)
	loginFn          func(ctx context.Context, email, password string) (*auth.LoginResult, error)
	logoutFn         func(ctx context.Context, accessToken string)
	handleCallbackFn func(ctx context.Context, code, codeVerifier string) (*auth.LoginResult, error)
	resolveFn        func(ctx context.Context, accessToken, refreshToken string) (*model.Session, error)
}

func (m *mockAuthService) Configured() bool { return m.configured }

func (m *mockAuthService) SignUp(ctx context.Context, email, password string) (*auth.SignUpResult, error) {
	if m.signUpFn != nil {
		return m.signUpFn(ctx, email, password)
	}
	return &auth.SignUpResult{}, nil
}

func (m *mockAuthService) Login(ctx context.Context, email, password string) (*auth.LoginResult, error) {
	if m.loginFn != nil {
		return m.loginFn(ctx, email, password)
	}
	return nil, model.NewCredentialError("Invalid login credentials")
}

func (m *mockAuthService) Logout(ctx context.Context, accessToken string) {
	if m.logoutFn != nil {
		m.logoutFn(ctx, accessToken)
	}
}

func (m *mockAuthService) HandleCallback(ctx context.Context, code, codeVerifier string) (*auth.LoginResult, error) {
	if m.handleCallbackFn != nil {
		return m.handleCallbackFn(ctx, code, codeVerifier)
	}
	return nil, &auth.CallbackError{Reason: auth.CallbackErrorUnexpected}
}

func (m *mockAuthService) ResolveSession(ctx context.Context, accessToken, refreshToken string) (*model.Session, error) {
	if m.resolveFn != nil {
		return m.resolveFn(ctx, accessToken, refreshToken)
	}
	return nil, nil
}

// mockVideoService はVideoServiceInterfaceのモック実装。
type mockVideoService struct {
	uploadFn       func(ctx context.Context, sess *model.Session, in video.UploadInput) (*model.Video, error)
	listFn         func(ctx context.Context, userID string) ([]*model.Video, error)
	getFn          func(ctx context.Context, userID, videoID string) (*model.Video, error)
	fetchResultsFn func(ctx context.Context, userID, videoID string) ([]byte, string, error)
}

func (m *mockVideoService) Upload(ctx context.Context, sess *model.Session, in video.UploadInput) (*model.Video, error) {
	if m.uploadFn != nil {
		return m.uploadFn(ctx, sess, in)
	}
	return nil, nil
}

func (m *mockVideoService) List(ctx context.Context, userID string) ([]*model.Video, error) {
	if m.listFn != nil {
		return m.listFn(ctx, userID)
	}
	return []*model.Video{}, nil
}

func (m *mockVideoService) Get(ctx context.Context, userID, videoID string) (*model.Video, error) {
	if m.getFn != nil {
		return m.getFn(ctx, userID, videoID)
	}
	return nil, model.NewVideoNotFoundError(videoID)
}

func (m *mockVideoService) FetchResults(ctx context.Context, userID, videoID string) ([]byte, string, error) {
	if m.fetchResultsFn != nil {
		return m.fetchResultsFn(ctx, userID, videoID)
	}
	return nil, "", model.NewResultsNotReadyError(videoID)
}

// mockConfirmer はEmailConfirmerのモック実装。
type mockConfirmer struct {
	byEmailCalls int
	byIDCalls    int
	byEmailFn    func(ctx context.Context, email string) error
	byIDFn       func(ctx context.Context, userID, email string) error
}

func (m *mockConfirmer) ConfirmByEmail(ctx context.Context, email string) error {
	m.byEmailCalls++
	if m.byEmailFn != nil {
		return m.byEmailFn(ctx, email)
	}
	return nil
}

func (m *mockConfirmer) ConfirmByID(ctx context.Context, userID, email string) error {
	m.byIDCalls++
	if m.byIDFn != nil {
		return m.byIDFn(ctx, userID, email)
	}
	return nil
}

// mockApplier はEvaluationApplierのモック実装。
type mockApplier struct {
	calls   int
	applyFn func(ctx context.Context, result *model.EvaluationResult) (*model.Video, error)
}

func (m *mockApplier) ApplyEvaluation(ctx context.Context, result *model.EvaluationResult) (*model.Video, error) {
	m.calls++
	if m.applyFn != nil {
		return m.applyFn(ctx, result)
	}
	return &model.Video{ID: "video-1", Status: model.VideoStatusCompleted}, nil
}

// --- テストヘルパー ---

func testCookies() *session.Cookies {
	return session.NewCookies(session.CookieConfig{MaxAge: 3600})
}

// withSession はテスト用にリクエストコンテキストにセッションを注入するヘルパー。
func withSession(r *http.Request, userID string) *http.Request {
	s := &model.Session{UserID: userID, Email: userID + "@example.com", AccessToken: "access-" + userID}
	return r.WithContext(middleware.ContextWithSession(r.Context(), s))
}

// withChiURLParam はテスト用にchiのURLパラメータを注入するヘルパー。
func withChiURLParam(r *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	ctx := context.WithValue(r.Context(), chi.RouteCtxKey, rctx)
	return r.WithContext(ctx)
}

// parseAPIErrorResponse はレスポンスボディからAPIErrorレスポンスをパースするヘルパー。
func parseAPIErrorResponse(t *testing.T, w *httptest.ResponseRecorder) map[string]string {
	t.Helper()
	var result map[string]string
	if err := json.NewDecoder(w.Body).Decode(&result); err != nil {
		t.Fatalf("failed to decode error response: %v", err)
	}
	return result
}

// findCookie はレスポンスから指定名のCookieを探す。
func findCookie(w *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, c := range w.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}
