// Package auth はサインアップ、ログイン、ログアウト、認可コールバックの認証フローを提供する。
// 認証情報そのものは外部の認証基盤が保持し、このパッケージはフローの分岐と
// メール確認の自動化、セッション判定を担う。
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/pitchcheck/internal/model"
	"github.com/hitoshi/pitchcheck/internal/supabase"
)

// 画面遷移先
const (
	LandingPath = "/dashboard"
	LoginPath   = "/login"
)

// 利用者に表示するメッセージ
const (
	msgSignUpConfirmed     = "Account created and confirmed successfully! You can now log in."
	msgSignUpNeedsConfirm  = "Account created! Please check your email to confirm your account before logging in."
	msgSignUpCheckEmail    = "Please check your email to confirm your account."
	msgSignUpFailed        = "An error occurred during sign up. Please try again."
	msgInvalidCredentials  = "Invalid login credentials"
	msgCredentialsRequired = "Please enter your email and password"
)

// Credentials は認証基盤のうち、利用者の資格情報で呼び出す操作。
type Credentials interface {
	Configured() bool
	SignUp(ctx context.Context, email, password, codeChallenge, redirectTo string) (*model.User, error)
	SignInWithPassword(ctx context.Context, email, password string) (*model.Session, error)
	RefreshSession(ctx context.Context, refreshToken string) (*model.Session, error)
	ExchangeCode(ctx context.Context, code, codeVerifier string) (*model.Session, error)
	SignOut(ctx context.Context, accessToken string) error
	GetUser(ctx context.Context, accessToken string) (*model.User, error)
}

// Admin は認証基盤の特権操作（service roleキーが必要）。
type Admin interface {
	AdminConfigured() bool
	ListUsers(ctx context.Context, page, perPage int) ([]model.Identity, error)
	ConfirmEmail(ctx context.Context, userID string) error
}

// MarkerIssuer はログイン直後に使うバイパスマーカーを発行する。
type MarkerIssuer interface {
	Issue(ctx context.Context, userID, email string) (string, error)
	TTL() time.Duration
}

// Recorder は認証フローの結果を記録する。
type Recorder interface {
	RecordAuthAttempt(flow, outcome string)
	RecordAutoConfirm(outcome string)
}

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	CallbackURL         string        // 確認メールのリンク先（/auth/callback）
	JWTSecret           string        // アクセストークンのローカル検証に使う鍵。空なら基盤に問い合わせる
	SignupRedirectDelay time.Duration // サインアップ成功後にログイン画面へ遷移するまでの待ち時間
	ListUsersPerPage    int           // メールアドレスからユーザーを探すときの1ページの件数
	ListUsersMaxPages   int
}

// SignUpResult はサインアップの結果。
type SignUpResult struct {
	Message       string
	RedirectTo    string // 空なら遷移しない
	RedirectDelay time.Duration
	CodeVerifier  string // 確認メールのコールバックで使うPKCE verifier
}

// LoginResult はログインおよび認可コールバックの結果。
type LoginResult struct {
	Session       *model.Session
	BypassToken   string // 発行に失敗した場合は空
	RedirectTo    string
	RedirectDelay time.Duration
}

// Service は認証フローのビジネスロジックを提供する。
type Service struct {
	credentials Credentials
	admin       Admin
	markers     MarkerIssuer
	recorder    Recorder
	config      ServiceConfig
	logger      *slog.Logger
}

// NewService はServiceを生成する。
func NewService(
	credentials Credentials,
	admin Admin,
	markers MarkerIssuer,
	recorder Recorder,
	config ServiceConfig,
	logger *slog.Logger,
) *Service {
	if config.ListUsersPerPage <= 0 {
		config.ListUsersPerPage = 200
	}
	if config.ListUsersMaxPages <= 0 {
		config.ListUsersMaxPages = 50
	}
	return &Service{
		credentials: credentials,
		admin:       admin,
		markers:     markers,
		recorder:    recorder,
		config:      config,
		logger:      logger,
	}
}

// Configured は認証基盤の接続設定が揃っているかを返す。
func (s *Service) Configured() bool {
	return s.credentials.Configured()
}

// SignUp はアカウントを作成し、可能であればメールアドレスを自動で確認済みにする。
// 入力検証は外部呼び出しより前に行う。
func (s *Service) SignUp(ctx context.Context, email, password string) (*SignUpResult, error) {
	if !s.credentials.Configured() {
		s.recorder.RecordAuthAttempt("signup", "configuration_error")
		return nil, model.NewConfigurationError()
	}
	if err := ValidateSignUp(email, password); err != nil {
		s.recorder.RecordAuthAttempt("signup", "validation_error")
		return nil, err
	}

	verifier, challenge, err := supabase.NewPKCE()
	if err != nil {
		s.recorder.RecordAuthAttempt("signup", "error")
		return nil, fmt.Errorf("failed to prepare signup: %w", err)
	}

	user, err := s.credentials.SignUp(ctx, email, password, challenge, s.config.CallbackURL)
	if err != nil {
		s.recorder.RecordAuthAttempt("signup", "credential_error")
		s.logger.Info("signup rejected",
			slog.String("error", err.Error()),
		)
		return nil, credentialError(err, msgSignUpFailed)
	}

	result := &SignUpResult{CodeVerifier: verifier}

	if user == nil || user.ID == "" {
		s.recorder.RecordAuthAttempt("signup", "pending_confirmation")
		result.Message = msgSignUpCheckEmail
		return result, nil
	}

	if err := s.ConfirmByID(ctx, user.ID, email); err != nil {
		s.recorder.RecordAuthAttempt("signup", "pending_confirmation")
		s.logger.Warn("could not auto-confirm email, but user was created",
			slog.String("user_id", user.ID),
			slog.String("error", err.Error()),
		)
		result.Message = msgSignUpNeedsConfirm
		return result, nil
	}

	s.recorder.RecordAuthAttempt("signup", "success")
	s.logger.Info("user signed up", slog.String("user_id", user.ID))
	result.Message = msgSignUpConfirmed
	result.RedirectTo = LoginPath
	result.RedirectDelay = s.config.SignupRedirectDelay
	return result, nil
}

// Login はパスワードでサインインする。
// メール未確認で拒否された場合は、メールアドレスを自動確認してから1回だけ再試行する。
func (s *Service) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	if !s.credentials.Configured() {
		s.recorder.RecordAuthAttempt("login", "configuration_error")
		return nil, model.NewConfigurationError()
	}
	if email == "" || password == "" {
		s.recorder.RecordAuthAttempt("login", "validation_error")
		return nil, model.NewValidationError(model.ErrCodeInvalidInput, msgCredentialsRequired)
	}

	session, err := s.credentials.SignInWithPassword(ctx, email, password)
	if errors.Is(err, supabase.ErrEmailNotConfirmed) {
		session, err = s.retryAfterConfirm(ctx, email, password)
		if err != nil {
			s.recorder.RecordAuthAttempt("login", "email_not_confirmed")
			return nil, err
		}
	} else if err != nil {
		s.recorder.RecordAuthAttempt("login", "credential_error")
		return nil, credentialError(err, msgInvalidCredentials)
	}

	result, err := s.establish(ctx, session)
	if err != nil {
		s.recorder.RecordAuthAttempt("login", "error")
		return nil, err
	}
	s.recorder.RecordAuthAttempt("login", "success")
	return result, nil
}

// retryAfterConfirm はメールを自動確認し、サインインを1回だけ再試行する。
// どちらかが失敗した場合はメール未確認の終端エラーを返す。
func (s *Service) retryAfterConfirm(ctx context.Context, email, password string) (*model.Session, error) {
	if err := s.ConfirmByEmail(ctx, email); err != nil {
		s.logger.Warn("auto-confirm on login failed",
			slog.String("error", err.Error()),
		)
		return nil, model.NewEmailNotConfirmedError()
	}

	session, err := s.credentials.SignInWithPassword(ctx, email, password)
	if err != nil {
		s.logger.Warn("sign-in retry after auto-confirm failed",
			slog.String("error", err.Error()),
		)
		return nil, model.NewEmailNotConfirmedError()
	}
	s.logger.Info("user logged in after auto-confirmation", slog.String("user_id", session.UserID))
	return session, nil
}

// establish はセッションが基盤側で有効になったことを確かめ、バイパスマーカーを発行する。
func (s *Service) establish(ctx context.Context, session *model.Session) (*LoginResult, error) {
	user, err := s.credentials.GetUser(ctx, session.AccessToken)
	if err != nil {
		s.logger.Error("session verification after sign-in failed",
			slog.String("error", err.Error()),
		)
		return nil, model.NewUnexpectedError()
	}
	session.UserID = user.ID
	session.Email = user.Email

	result := &LoginResult{
		Session:    session,
		RedirectTo: LandingPath,
	}

	token, err := s.markers.Issue(ctx, user.ID, user.Email)
	if err != nil {
		// マーカーなしでもセッションCookieで通常の判定を通過できる
		s.logger.Warn("failed to issue bypass marker",
			slog.String("user_id", user.ID),
			slog.String("error", err.Error()),
		)
	} else {
		result.BypassToken = token
	}

	s.logger.Info("user logged in", slog.String("user_id", user.ID))
	return result, nil
}

// Logout は基盤側のセッションを無効化する。
// 失敗はログに残すだけで、呼び出し側は常にCookieを削除する。
func (s *Service) Logout(ctx context.Context, accessToken string) {
	if accessToken == "" || !s.credentials.Configured() {
		return
	}
	if err := s.credentials.SignOut(ctx, accessToken); err != nil {
		s.logger.Error("failed to sign out",
			slog.String("error", err.Error()),
		)
		s.recorder.RecordAuthAttempt("logout", "error")
		return
	}
	s.recorder.RecordAuthAttempt("logout", "success")
}

// ログイン画面の?error=に渡す値。
const (
	CallbackErrorNoCode     = "no_code"
	CallbackErrorUnexpected = "unexpected"
)

// CallbackError は認可コールバックの失敗理由を表す。
// Reasonはログイン画面の?error=パラメータにそのまま渡す。
type CallbackError struct {
	Reason string
}

// Error はerrorインターフェースを実装する。
func (e *CallbackError) Error() string {
	return "auth callback failed: " + e.Reason
}

// HandleCallback は認可コードをセッションに交換し、バイパスマーカーを発行する。
func (s *Service) HandleCallback(ctx context.Context, code, codeVerifier string) (*LoginResult, error) {
	if code == "" {
		s.logger.Error("no code found in callback URL")
		s.recorder.RecordAuthAttempt("callback", "no_code")
		return nil, &CallbackError{Reason: CallbackErrorNoCode}
	}
	if !s.credentials.Configured() {
		s.recorder.RecordAuthAttempt("callback", "configuration_error")
		return nil, &CallbackError{Reason: CallbackErrorUnexpected}
	}

	session, err := s.credentials.ExchangeCode(ctx, code, codeVerifier)
	if err != nil {
		s.recorder.RecordAuthAttempt("callback", "exchange_error")
		s.logger.Error("error exchanging code for session", slog.String("error", err.Error()))
		if msg := supabase.MessageOf(err); msg != "" {
			return nil, &CallbackError{Reason: msg}
		}
		return nil, &CallbackError{Reason: CallbackErrorUnexpected}
	}

	result, err := s.establish(ctx, session)
	if err != nil {
		s.recorder.RecordAuthAttempt("callback", "error")
		return nil, &CallbackError{Reason: CallbackErrorUnexpected}
	}
	s.recorder.RecordAuthAttempt("callback", "success")
	return result, nil
}

// credentialError は基盤のエラーメッセージをそのまま利用者に見せるエラーに変換する。
func credentialError(err error, fallback string) *model.APIError {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}
	msg := supabase.MessageOf(err)
	if msg == "" {
		msg = fallback
	}
	return model.NewCredentialError(msg)
}
