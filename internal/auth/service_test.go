package auth

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/hitoshi/pitchcheck/internal/model"
	"github.com/hitoshi/pitchcheck/internal/supabase"
)

// --- モック定義 ---

type mockCredentials struct {
	unconfigured   bool
	signUpFn       func(ctx context.Context, email, password, codeChallenge, redirectTo string) (*model.User, error)
	signInFn       func(ctx context.Context, email, password string) (*model.Session, error)
	refreshFn      func(ctx context.Context, refreshToken string) (*model.Session, error)
	exchangeCodeFn func(ctx context.Context, code, codeVerifier string) (*model.Session, error)
	signOutFn      func(ctx context.Context, accessToken string) error
	getUserFn      func(ctx context.Context, accessToken string) (*model.User, error)
}

func (m *mockCredentials) Configured() bool { return !m.unconfigured }

func (m *mockCredentials) SignUp(ctx context.Context, email, password, codeChallenge, redirectTo string) (*model.User, error) {
	if m.signUpFn != nil {
		return m.signUpFn(ctx, email, password, codeChallenge, redirectTo)
	}
	return &model.User{ID: "user-1", Email: email}, nil
}

func (m *mockCredentials) SignInWithPassword(ctx context.Context, email, password string) (*model.Session, error) {
	if m.signInFn != nil {
		return m.signInFn(ctx, email, password)
	}
	return &model.Session{UserID: "user-1", Email: email, AccessToken: "access", RefreshToken: "refresh"}, nil
}

func (m *mockCredentials) RefreshSession(ctx context.Context, refreshToken string) (*model.Session, error) {
	if m.refreshFn != nil {
		return m.refreshFn(ctx, refreshToken)
	}
	return nil, &supabase.Error{Status: 400, Message: "Invalid Refresh Token"}
}

func (m *mockCredentials) ExchangeCode(ctx context.Context, code, codeVerifier string) (*model.Session, error) {
	if m.exchangeCodeFn != nil {
		return m.exchangeCodeFn(ctx, code, codeVerifier)
	}
	return &model.Session{UserID: "user-1", AccessToken: "access", RefreshToken: "refresh"}, nil
}

func (m *mockCredentials) SignOut(ctx context.Context, accessToken string) error {
	if m.signOutFn != nil {
		return m.signOutFn(ctx, accessToken)
	}
	return nil
}

func (m *mockCredentials) GetUser(ctx context.Context, accessToken string) (*model.User, error) {
	if m.getUserFn != nil {
		return m.getUserFn(ctx, accessToken)
	}
	return &model.User{ID: "user-1", Email: "a@b.com"}, nil
}

type mockAdmin struct {
	unconfigured   bool
	listUsersFn    func(ctx context.Context, page, perPage int) ([]model.Identity, error)
	confirmEmailFn func(ctx context.Context, userID string) error
}

func (m *mockAdmin) AdminConfigured() bool { return !m.unconfigured }

func (m *mockAdmin) ListUsers(ctx context.Context, page, perPage int) ([]model.Identity, error) {
	if m.listUsersFn != nil {
		return m.listUsersFn(ctx, page, perPage)
	}
	return nil, nil
}

func (m *mockAdmin) ConfirmEmail(ctx context.Context, userID string) error {
	if m.confirmEmailFn != nil {
		return m.confirmEmailFn(ctx, userID)
	}
	return nil
}

type mockMarkers struct {
	issueFn func(ctx context.Context, userID, email string) (string, error)
}

func (m *mockMarkers) Issue(ctx context.Context, userID, email string) (string, error) {
	if m.issueFn != nil {
		return m.issueFn(ctx, userID, email)
	}
	return "marker-token", nil
}

func (m *mockMarkers) TTL() time.Duration { return 5 * time.Second }

type mockRecorder struct {
	attempts     []string
	autoConfirms []string
}

func (m *mockRecorder) RecordAuthAttempt(flow, outcome string) {
	m.attempts = append(m.attempts, flow+":"+outcome)
}

func (m *mockRecorder) RecordAutoConfirm(outcome string) {
	m.autoConfirms = append(m.autoConfirms, outcome)
}

func newTestService(creds *mockCredentials, admin *mockAdmin, markers *mockMarkers, recorder *mockRecorder) *Service {
	if creds == nil {
		creds = &mockCredentials{}
	}
	if admin == nil {
		admin = &mockAdmin{}
	}
	if markers == nil {
		markers = &mockMarkers{}
	}
	if recorder == nil {
		recorder = &mockRecorder{}
	}
	return NewService(creds, admin, markers, recorder, ServiceConfig{
		CallbackURL:         "http://localhost:8080/auth/callback",
		SignupRedirectDelay: 2 * time.Second,
		ListUsersPerPage:    2,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func emailNotConfirmed() error {
	return &supabase.Error{Status: 400, Code: "email_not_confirmed", Message: "Email not confirmed"}
}

func assertAPIError(t *testing.T, err error, code string) *model.APIError {
	t.Helper()
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *model.APIError, got %T (%v)", err, err)
	}
	if apiErr.Code != code {
		t.Fatalf("Code = %q, want %q", apiErr.Code, code)
	}
	return apiErr
}

// --- SignUp ---

func TestService_SignUp_CreateAndConfirmSucceed_SchedulesLoginRedirect(t *testing.T) {
	var confirmedID string
	admin := &mockAdmin{confirmEmailFn: func(_ context.Context, userID string) error {
		confirmedID = userID
		return nil
	}}
	svc := newTestService(nil, admin, nil, nil)

	result, err := svc.SignUp(context.Background(), "a@b.com", "secret")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Message != "Account created and confirmed successfully! You can now log in." {
		t.Errorf("Message = %q", result.Message)
	}
	if result.RedirectTo != "/login" || result.RedirectDelay != 2*time.Second {
		t.Errorf("redirect = %q after %v", result.RedirectTo, result.RedirectDelay)
	}
	if confirmedID != "user-1" {
		t.Errorf("confirmed user = %q, want %q", confirmedID, "user-1")
	}
	if result.CodeVerifier == "" {
		t.Error("CodeVerifier should be set")
	}
}

func TestService_SignUp_SendsPKCEChallengeAndCallback(t *testing.T) {
	var gotChallenge, gotRedirect string
	creds := &mockCredentials{signUpFn: func(_ context.Context, email, _, challenge, redirectTo string) (*model.User, error) {
		gotChallenge = challenge
		gotRedirect = redirectTo
		return &model.User{ID: "user-1", Email: email}, nil
	}}
	svc := newTestService(creds, nil, nil, nil)

	result, err := svc.SignUp(context.Background(), "a@b.com", "secret")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotChallenge != supabase.ChallengeOf(result.CodeVerifier) {
		t.Error("challenge does not match the returned verifier")
	}
	if gotRedirect != "http://localhost:8080/auth/callback" {
		t.Errorf("redirectTo = %q", gotRedirect)
	}
}

func TestService_SignUp_ConfirmFails_AsksToCheckEmailWithoutRedirect(t *testing.T) {
	admin := &mockAdmin{confirmEmailFn: func(_ context.Context, _ string) error {
		return &supabase.Error{Status: 500, Message: "database error"}
	}}
	svc := newTestService(nil, admin, nil, nil)

	result, err := svc.SignUp(context.Background(), "a@b.com", "secret")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Message != "Account created! Please check your email to confirm your account before logging in." {
		t.Errorf("Message = %q", result.Message)
	}
	if result.RedirectTo != "" {
		t.Errorf("RedirectTo = %q, want empty", result.RedirectTo)
	}
}

func TestService_SignUp_NoIdentityReturned(t *testing.T) {
	creds := &mockCredentials{signUpFn: func(_ context.Context, _, _, _, _ string) (*model.User, error) {
		return nil, nil
	}}
	var confirmCalled bool
	admin := &mockAdmin{confirmEmailFn: func(_ context.Context, _ string) error {
		confirmCalled = true
		return nil
	}}
	svc := newTestService(creds, admin, nil, nil)

	result, err := svc.SignUp(context.Background(), "a@b.com", "secret")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Message != "Please check your email to confirm your account." {
		t.Errorf("Message = %q", result.Message)
	}
	if confirmCalled {
		t.Error("confirm must not be called without an identity")
	}
}

func TestService_SignUp_PasswordTooShort_NoExternalCall(t *testing.T) {
	var called bool
	creds := &mockCredentials{signUpFn: func(_ context.Context, _, _, _, _ string) (*model.User, error) {
		called = true
		return nil, nil
	}}
	svc := newTestService(creds, nil, nil, nil)

	_, err := svc.SignUp(context.Background(), "a@b.com", "12345")
	apiErr := assertAPIError(t, err, model.ErrCodeWeakPassword)
	if apiErr.Message != "Password must be at least 6 characters long" {
		t.Errorf("Message = %q", apiErr.Message)
	}
	if apiErr.Category != model.CategoryValidation {
		t.Errorf("Category = %q", apiErr.Category)
	}
	if called {
		t.Error("create-account must not be called on validation failure")
	}
}

func TestService_SignUp_PasswordSixChars_Proceeds(t *testing.T) {
	var called bool
	creds := &mockCredentials{signUpFn: func(_ context.Context, email, _, _, _ string) (*model.User, error) {
		called = true
		return &model.User{ID: "user-1", Email: email}, nil
	}}
	svc := newTestService(creds, nil, nil, nil)

	if _, err := svc.SignUp(context.Background(), "a@b.com", "123456"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Error("create-account should be called")
	}
}

func TestService_SignUp_InvalidEmail(t *testing.T) {
	svc := newTestService(nil, nil, nil, nil)

	_, err := svc.SignUp(context.Background(), "not-an-email", "secret")
	apiErr := assertAPIError(t, err, model.ErrCodeInvalidEmail)
	if apiErr.Message != "Please enter a valid email address" {
		t.Errorf("Message = %q", apiErr.Message)
	}
}

func TestService_SignUp_StoreError_PassesMessage(t *testing.T) {
	creds := &mockCredentials{signUpFn: func(_ context.Context, _, _, _, _ string) (*model.User, error) {
		return nil, &supabase.Error{Status: 422, Message: "User already registered"}
	}}
	svc := newTestService(creds, nil, nil, nil)

	_, err := svc.SignUp(context.Background(), "a@b.com", "secret")
	apiErr := assertAPIError(t, err, model.ErrCodeCredential)
	if apiErr.Message != "User already registered" {
		t.Errorf("Message = %q", apiErr.Message)
	}
}

func TestService_SignUp_NotConfigured_ReturnsConfigurationError(t *testing.T) {
	svc := newTestService(&mockCredentials{unconfigured: true}, nil, nil, nil)

	_, err := svc.SignUp(context.Background(), "a@b.com", "secret")
	apiErr := assertAPIError(t, err, model.ErrCodeConfiguration)
	if apiErr.Message != "Authentication service is not properly configured. Please contact support." {
		t.Errorf("Message = %q", apiErr.Message)
	}
}

// --- Login ---

func TestService_Login_Success_IssuesMarkerAndRedirectsImmediately(t *testing.T) {
	var verifiedToken string
	creds := &mockCredentials{getUserFn: func(_ context.Context, accessToken string) (*model.User, error) {
		verifiedToken = accessToken
		return &model.User{ID: "user-1", Email: "a@b.com"}, nil
	}}
	recorder := &mockRecorder{}
	svc := newTestService(creds, nil, nil, recorder)

	result, err := svc.Login(context.Background(), "a@b.com", "secret")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if verifiedToken != "access" {
		t.Errorf("session should be verified with the new access token, got %q", verifiedToken)
	}
	if result.BypassToken != "marker-token" {
		t.Errorf("BypassToken = %q", result.BypassToken)
	}
	if result.RedirectTo != "/dashboard" || result.RedirectDelay != 0 {
		t.Errorf("redirect = %q after %v", result.RedirectTo, result.RedirectDelay)
	}
	if len(recorder.attempts) != 1 || recorder.attempts[0] != "login:success" {
		t.Errorf("attempts = %v", recorder.attempts)
	}
}

func TestService_Login_EmailNotConfirmed_ConfirmsOnceAndRetriesOnce(t *testing.T) {
	signInCalls := 0
	creds := &mockCredentials{signInFn: func(_ context.Context, email, _ string) (*model.Session, error) {
		signInCalls++
		if signInCalls == 1 {
			return nil, emailNotConfirmed()
		}
		return &model.Session{UserID: "user-1", Email: email, AccessToken: "access"}, nil
	}}
	confirmCalls := 0
	admin := &mockAdmin{
		listUsersFn: func(_ context.Context, _, _ int) ([]model.Identity, error) {
			return []model.Identity{{ID: "user-1", Email: "a@b.com"}}, nil
		},
		confirmEmailFn: func(_ context.Context, userID string) error {
			confirmCalls++
			if userID != "user-1" {
				t.Errorf("confirmed user = %q", userID)
			}
			return nil
		},
	}
	svc := newTestService(creds, admin, nil, nil)

	result, err := svc.Login(context.Background(), "a@b.com", "secret")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if confirmCalls != 1 {
		t.Errorf("confirm calls = %d, want 1", confirmCalls)
	}
	if signInCalls != 2 {
		t.Errorf("sign-in calls = %d, want 2", signInCalls)
	}
	if result.RedirectTo != "/dashboard" {
		t.Errorf("RedirectTo = %q", result.RedirectTo)
	}
}

func TestService_Login_EmailNotConfirmed_RetryFails_NoSecondRetry(t *testing.T) {
	signInCalls := 0
	creds := &mockCredentials{signInFn: func(_ context.Context, _, _ string) (*model.Session, error) {
		signInCalls++
		return nil, emailNotConfirmed()
	}}
	admin := &mockAdmin{listUsersFn: func(_ context.Context, _, _ int) ([]model.Identity, error) {
		return []model.Identity{{ID: "user-1", Email: "a@b.com"}}, nil
	}}
	svc := newTestService(creds, admin, nil, nil)

	_, err := svc.Login(context.Background(), "a@b.com", "secret")
	apiErr := assertAPIError(t, err, model.ErrCodeEmailNotConfirmed)
	if apiErr.Message != "Your email is not confirmed. Please check your inbox for a confirmation email." {
		t.Errorf("Message = %q", apiErr.Message)
	}
	if signInCalls != 2 {
		t.Errorf("sign-in calls = %d, want 2", signInCalls)
	}
}

func TestService_Login_EmailNotConfirmed_AutoConfirmFails_NoRetry(t *testing.T) {
	signInCalls := 0
	creds := &mockCredentials{signInFn: func(_ context.Context, _, _ string) (*model.Session, error) {
		signInCalls++
		return nil, emailNotConfirmed()
	}}
	admin := &mockAdmin{
		listUsersFn: func(_ context.Context, _, _ int) ([]model.Identity, error) {
			return []model.Identity{{ID: "user-1", Email: "a@b.com"}}, nil
		},
		confirmEmailFn: func(_ context.Context, _ string) error {
			return &supabase.Error{Status: 500, Message: "boom"}
		},
	}
	markerIssued := false
	markers := &mockMarkers{issueFn: func(_ context.Context, _, _ string) (string, error) {
		markerIssued = true
		return "x", nil
	}}
	svc := newTestService(creds, admin, markers, nil)

	result, err := svc.Login(context.Background(), "a@b.com", "secret")
	assertAPIError(t, err, model.ErrCodeEmailNotConfirmed)
	if result != nil {
		t.Errorf("expected no result (no redirect), got %+v", result)
	}
	if signInCalls != 1 {
		t.Errorf("sign-in calls = %d, want 1", signInCalls)
	}
	if markerIssued {
		t.Error("bypass marker must not be issued")
	}
}

func TestService_Login_EmailNotConfirmed_AdminNotConfigured(t *testing.T) {
	creds := &mockCredentials{signInFn: func(_ context.Context, _, _ string) (*model.Session, error) {
		return nil, emailNotConfirmed()
	}}
	svc := newTestService(creds, &mockAdmin{unconfigured: true}, nil, nil)

	_, err := svc.Login(context.Background(), "a@b.com", "secret")
	assertAPIError(t, err, model.ErrCodeEmailNotConfirmed)
}

func TestService_Login_InvalidCredentials_PassesMessage(t *testing.T) {
	var confirmCalled bool
	creds := &mockCredentials{signInFn: func(_ context.Context, _, _ string) (*model.Session, error) {
		return nil, &supabase.Error{Status: 400, Code: "invalid_credentials", Message: "Invalid login credentials"}
	}}
	admin := &mockAdmin{confirmEmailFn: func(_ context.Context, _ string) error {
		confirmCalled = true
		return nil
	}}
	svc := newTestService(creds, admin, nil, nil)

	_, err := svc.Login(context.Background(), "a@b.com", "wrong")
	apiErr := assertAPIError(t, err, model.ErrCodeCredential)
	if apiErr.Message != "Invalid login credentials" {
		t.Errorf("Message = %q", apiErr.Message)
	}
	if confirmCalled {
		t.Error("auto-confirm must only run for unconfirmed email")
	}
}

func TestService_Login_TransportError_FallsBackToDefaultMessage(t *testing.T) {
	creds := &mockCredentials{signInFn: func(_ context.Context, _, _ string) (*model.Session, error) {
		return nil, errors.New("connection refused")
	}}
	svc := newTestService(creds, nil, nil, nil)

	_, err := svc.Login(context.Background(), "a@b.com", "secret")
	apiErr := assertAPIError(t, err, model.ErrCodeCredential)
	if apiErr.Message != "Invalid login credentials" {
		t.Errorf("Message = %q", apiErr.Message)
	}
}

func TestService_Login_MarkerIssueFails_StillSucceeds(t *testing.T) {
	markers := &mockMarkers{issueFn: func(_ context.Context, _, _ string) (string, error) {
		return "", errors.New("redis down")
	}}
	svc := newTestService(nil, nil, markers, nil)

	result, err := svc.Login(context.Background(), "a@b.com", "secret")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.BypassToken != "" {
		t.Errorf("BypassToken = %q, want empty", result.BypassToken)
	}
	if result.Session == nil || result.Session.AccessToken != "access" {
		t.Errorf("unexpected session: %+v", result.Session)
	}
}

func TestService_Login_SessionVerificationFails(t *testing.T) {
	creds := &mockCredentials{getUserFn: func(_ context.Context, _ string) (*model.User, error) {
		return nil, &supabase.Error{Status: 503, Message: "unavailable"}
	}}
	svc := newTestService(creds, nil, nil, nil)

	_, err := svc.Login(context.Background(), "a@b.com", "secret")
	assertAPIError(t, err, model.ErrCodeInternal)
}

func TestService_Login_NotConfigured(t *testing.T) {
	svc := newTestService(&mockCredentials{unconfigured: true}, nil, nil, nil)

	_, err := svc.Login(context.Background(), "a@b.com", "secret")
	assertAPIError(t, err, model.ErrCodeConfiguration)
}

// --- Logout ---

func TestService_Logout_SignOutError_IsSwallowed(t *testing.T) {
	var called bool
	creds := &mockCredentials{signOutFn: func(_ context.Context, accessToken string) error {
		called = true
		if accessToken != "access" {
			t.Errorf("accessToken = %q", accessToken)
		}
		return errors.New("network error")
	}}
	recorder := &mockRecorder{}
	svc := newTestService(creds, nil, nil, recorder)

	svc.Logout(context.Background(), "access")

	if !called {
		t.Error("sign-out should be called")
	}
	if len(recorder.attempts) != 1 || recorder.attempts[0] != "logout:error" {
		t.Errorf("attempts = %v", recorder.attempts)
	}
}

func TestService_Logout_EmptyToken_NoCall(t *testing.T) {
	creds := &mockCredentials{signOutFn: func(_ context.Context, _ string) error {
		t.Error("sign-out must not be called without a token")
		return nil
	}}
	svc := newTestService(creds, nil, nil, nil)

	svc.Logout(context.Background(), "")
}

// --- HandleCallback ---

func TestService_HandleCallback_NoCode(t *testing.T) {
	svc := newTestService(nil, nil, nil, nil)

	_, err := svc.HandleCallback(context.Background(), "", "")
	var cbErr *CallbackError
	if !errors.As(err, &cbErr) || cbErr.Reason != "no_code" {
		t.Errorf("expected no_code, got %v", err)
	}
}

func TestService_HandleCallback_ExchangeFails_ReturnsMessage(t *testing.T) {
	creds := &mockCredentials{exchangeCodeFn: func(_ context.Context, _, _ string) (*model.Session, error) {
		return nil, &supabase.Error{Status: 400, Message: "invalid flow state, no valid flow state found"}
	}}
	svc := newTestService(creds, nil, nil, nil)

	_, err := svc.HandleCallback(context.Background(), "code", "verifier")
	var cbErr *CallbackError
	if !errors.As(err, &cbErr) || cbErr.Reason != "invalid flow state, no valid flow state found" {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestService_HandleCallback_TransportError_Unexpected(t *testing.T) {
	creds := &mockCredentials{exchangeCodeFn: func(_ context.Context, _, _ string) (*model.Session, error) {
		return nil, errors.New("dial tcp: timeout")
	}}
	svc := newTestService(creds, nil, nil, nil)

	_, err := svc.HandleCallback(context.Background(), "code", "verifier")
	var cbErr *CallbackError
	if !errors.As(err, &cbErr) || cbErr.Reason != "unexpected" {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestService_HandleCallback_Success_IssuesMarker(t *testing.T) {
	var gotVerifier string
	creds := &mockCredentials{exchangeCodeFn: func(_ context.Context, code, verifier string) (*model.Session, error) {
		gotVerifier = verifier
		return &model.Session{AccessToken: "access", RefreshToken: "refresh"}, nil
	}}
	svc := newTestService(creds, nil, nil, nil)

	result, err := svc.HandleCallback(context.Background(), "code", "verifier")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotVerifier != "verifier" {
		t.Errorf("verifier = %q", gotVerifier)
	}
	if result.BypassToken != "marker-token" || result.RedirectTo != "/dashboard" {
		t.Errorf("unexpected result: %+v", result)
	}
	if result.Session.UserID != "user-1" {
		t.Errorf("UserID = %q", result.Session.UserID)
	}
}

// --- ConfirmByEmail / ConfirmByID ---

func TestService_ConfirmByEmail_MissingEmail(t *testing.T) {
	svc := newTestService(nil, nil, nil, nil)

	err := svc.ConfirmByEmail(context.Background(), "")
	apiErr := assertAPIError(t, err, model.ErrCodeInvalidInput)
	if apiErr.Message != "Email is required" {
		t.Errorf("Message = %q", apiErr.Message)
	}
}

func TestService_ConfirmByEmail_UserNotFound(t *testing.T) {
	admin := &mockAdmin{listUsersFn: func(_ context.Context, _, _ int) ([]model.Identity, error) {
		return []model.Identity{{ID: "other", Email: "x@y.com"}}, nil
	}}
	svc := newTestService(nil, admin, nil, nil)

	err := svc.ConfirmByEmail(context.Background(), "a@b.com")
	assertAPIError(t, err, model.ErrCodeUserNotFound)
}

func TestService_ConfirmByEmail_SearchesNextPage(t *testing.T) {
	var pages []int
	admin := &mockAdmin{
		listUsersFn: func(_ context.Context, page, perPage int) ([]model.Identity, error) {
			pages = append(pages, page)
			if page == 1 {
				return []model.Identity{{ID: "u1", Email: "x@y.com"}, {ID: "u2", Email: "z@y.com"}}, nil
			}
			return []model.Identity{{ID: "u3", Email: "a@b.com"}}, nil
		},
		confirmEmailFn: func(_ context.Context, userID string) error {
			if userID != "u3" {
				t.Errorf("confirmed user = %q, want u3", userID)
			}
			return nil
		},
	}
	svc := newTestService(nil, admin, nil, nil)

	if err := svc.ConfirmByEmail(context.Background(), "a@b.com"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(pages) != 2 {
		t.Errorf("pages = %v, want [1 2]", pages)
	}
}

func TestService_ConfirmByEmail_ListFails_PassesMessage(t *testing.T) {
	admin := &mockAdmin{listUsersFn: func(_ context.Context, _, _ int) ([]model.Identity, error) {
		return nil, &supabase.Error{Status: 500, Message: "Database error finding users"}
	}}
	recorder := &mockRecorder{}
	svc := newTestService(nil, admin, nil, recorder)

	err := svc.ConfirmByEmail(context.Background(), "a@b.com")
	apiErr := assertAPIError(t, err, model.ErrCodeInternal)
	if apiErr.Message != "Database error finding users" {
		t.Errorf("Message = %q", apiErr.Message)
	}
	if len(recorder.autoConfirms) != 1 || recorder.autoConfirms[0] != "error" {
		t.Errorf("autoConfirms = %v", recorder.autoConfirms)
	}
}

func TestService_ConfirmByID_MissingFields(t *testing.T) {
	svc := newTestService(nil, nil, nil, nil)

	err := svc.ConfirmByID(context.Background(), "user-1", "")
	apiErr := assertAPIError(t, err, model.ErrCodeInvalidInput)
	if apiErr.Message != "User ID and email are required" {
		t.Errorf("Message = %q", apiErr.Message)
	}
}

func TestService_ConfirmByID_Success(t *testing.T) {
	recorder := &mockRecorder{}
	svc := newTestService(nil, nil, nil, recorder)

	if err := svc.ConfirmByID(context.Background(), "user-1", "a@b.com"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(recorder.autoConfirms) != 1 || recorder.autoConfirms[0] != "success" {
		t.Errorf("autoConfirms = %v", recorder.autoConfirms)
	}
}
