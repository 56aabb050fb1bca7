// Package supabase は外部の認証・ストレージ基盤（Supabase GoTrue / Storage API）のRESTクライアントを提供する。
// プロセス全体で共有するグローバルクライアントは持たず、呼び出し側がNewClientで生成して注入する。
package supabase

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hitoshi/pitchcheck/internal/model"
)

// errorCodeEmailNotConfirmed はメール未確認時にGoTrueが返すエラーコード。
const errorCodeEmailNotConfirmed = "email_not_confirmed"

const messageEmailNotConfirmed = "email not confirmed"

// ErrEmailNotConfirmed はパスワードサインインがメール未確認で拒否されたことを示す。
// errors.Is(err, ErrEmailNotConfirmed) で判別する。
var ErrEmailNotConfirmed = errors.New("email not confirmed")

// ErrNotConfigured はURLまたはキーが未設定のまま呼び出されたことを示す。
var ErrNotConfigured = errors.New("supabase is not configured")

// Error はSupabaseがエラーステータスを返した場合のエラー。
type Error struct {
	Status  int
	Code    string
	Message string
}

// Error はerrorインターフェースを実装する。
func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("supabase: status %d (%s): %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("supabase: status %d: %s", e.Status, e.Message)
}

// Is はメール未確認エラーをErrEmailNotConfirmedと同一視する。
// error_codeを返さない旧形式のGoTrueはメッセージで判定する。
func (e *Error) Is(target error) bool {
	if target != ErrEmailNotConfirmed {
		return false
	}
	return e.Code == errorCodeEmailNotConfirmed ||
		strings.Contains(strings.ToLower(e.Message), messageEmailNotConfirmed)
}

// IsRejected はトークンや認証情報が基盤側で拒否された（4xx）かどうかを返す。
// 通信エラーや5xxはfalseになる。
func IsRejected(err error) bool {
	var sbErr *Error
	if !errors.As(err, &sbErr) {
		return false
	}
	return sbErr.Status >= 400 && sbErr.Status < 500
}

// MessageOf はエラーから利用者に見せてよいメッセージを取り出す。
// Supabaseのエラーでなければ空文字を返す。
func MessageOf(err error) string {
	var sbErr *Error
	if errors.As(err, &sbErr) {
		return sbErr.Message
	}
	return ""
}

// Config はクライアントの接続設定。
type Config struct {
	URL            string
	AnonKey        string
	ServiceRoleKey string
}

// Client はSupabaseのREST APIクライアント。
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
	config     Config
}

// NewClient はClientを生成する。
func NewClient(httpClient *http.Client, logger *slog.Logger, config Config) *Client {
	config.URL = strings.TrimRight(config.URL, "/")
	return &Client{
		httpClient: httpClient,
		logger:     logger,
		config:     config,
	}
}

// Configured はURLとanonキーが設定されているかを返す。
func (c *Client) Configured() bool {
	return c.config.URL != "" && c.config.AnonKey != ""
}

// AdminConfigured は特権操作に必要なservice roleキーが設定されているかを返す。
func (c *Client) AdminConfigured() bool {
	return c.Configured() && c.config.ServiceRoleKey != ""
}

// userResponse はGoTrueのユーザーオブジェクト。
type userResponse struct {
	ID               string     `json:"id"`
	Email            string     `json:"email"`
	EmailConfirmedAt *time.Time `json:"email_confirmed_at"`
	ConfirmedAt      *time.Time `json:"confirmed_at"`
	CreatedAt        time.Time  `json:"created_at"`
}

func (u *userResponse) toUser() *model.User {
	return &model.User{
		ID:             u.ID,
		Email:          u.Email,
		EmailConfirmed: u.EmailConfirmedAt != nil || u.ConfirmedAt != nil,
		CreatedAt:      u.CreatedAt,
	}
}

// tokenResponse はトークンエンドポイントのレスポンス。
type tokenResponse struct {
	AccessToken  string        `json:"access_token"`
	RefreshToken string        `json:"refresh_token"`
	ExpiresIn    int64         `json:"expires_in"`
	ExpiresAt    int64         `json:"expires_at"`
	User         *userResponse `json:"user"`
}

func (t *tokenResponse) toSession() (*model.Session, error) {
	if t.AccessToken == "" {
		return nil, fmt.Errorf("empty access token in response")
	}
	s := &model.Session{
		AccessToken:  t.AccessToken,
		RefreshToken: t.RefreshToken,
	}
	switch {
	case t.ExpiresAt > 0:
		s.ExpiresAt = time.Unix(t.ExpiresAt, 0)
	case t.ExpiresIn > 0:
		s.ExpiresAt = time.Now().Add(time.Duration(t.ExpiresIn) * time.Second)
	}
	if t.User != nil {
		s.UserID = t.User.ID
		s.Email = t.User.Email
	}
	return s, nil
}

// signUpResponse はサインアップのレスポンス。
// メール確認が必要な設定ではユーザーオブジェクトがトップレベルに、
// 自動確認の設定ではセッションと一緒にuserフィールドに入る。
type signUpResponse struct {
	userResponse
	User *userResponse `json:"user"`
}

// SignUp はアカウントを作成する。
// codeChallengeを渡すと、確認メールのリンクはredirectToでPKCEの認可コードを受け取る。
// 作成されたユーザーが返らなかった場合はnilを返す。
func (c *Client) SignUp(ctx context.Context, email, password, codeChallenge, redirectTo string) (*model.User, error) {
	payload := map[string]string{
		"email":    email,
		"password": password,
	}
	if codeChallenge != "" {
		payload["code_challenge"] = codeChallenge
		payload["code_challenge_method"] = "s256"
	}

	path := "/auth/v1/signup"
	if redirectTo != "" {
		path += "?" + url.Values{"redirect_to": {redirectTo}}.Encode()
	}

	var resp signUpResponse
	if err := c.doJSON(ctx, http.MethodPost, path, c.config.AnonKey, "", payload, &resp); err != nil {
		return nil, err
	}

	switch {
	case resp.User != nil && resp.User.ID != "":
		return resp.User.toUser(), nil
	case resp.ID != "":
		return resp.userResponse.toUser(), nil
	default:
		return nil, nil
	}
}

// SignInWithPassword はメールアドレスとパスワードでセッションを発行する。
// メール未確認の場合はErrEmailNotConfirmedとして判別できるエラーを返す。
func (c *Client) SignInWithPassword(ctx context.Context, email, password string) (*model.Session, error) {
	return c.token(ctx, "password", map[string]string{
		"email":    email,
		"password": password,
	})
}

// RefreshSession はリフレッシュトークンで新しいセッションを発行する。
func (c *Client) RefreshSession(ctx context.Context, refreshToken string) (*model.Session, error) {
	return c.token(ctx, "refresh_token", map[string]string{
		"refresh_token": refreshToken,
	})
}

// ExchangeCode はPKCEの認可コードをセッションに交換する。
func (c *Client) ExchangeCode(ctx context.Context, code, codeVerifier string) (*model.Session, error) {
	return c.token(ctx, "pkce", map[string]string{
		"auth_code":     code,
		"code_verifier": codeVerifier,
	})
}

func (c *Client) token(ctx context.Context, grantType string, payload map[string]string) (*model.Session, error) {
	path := "/auth/v1/token?" + url.Values{"grant_type": {grantType}}.Encode()

	var resp tokenResponse
	if err := c.doJSON(ctx, http.MethodPost, path, c.config.AnonKey, "", payload, &resp); err != nil {
		return nil, err
	}
	return resp.toSession()
}

// SignOut はアクセストークンに紐づくセッションを基盤側で無効化する。
func (c *Client) SignOut(ctx context.Context, accessToken string) error {
	return c.doJSON(ctx, http.MethodPost, "/auth/v1/logout", c.config.AnonKey, accessToken, nil, nil)
}

// GetUser はアクセストークンの持ち主を取得する。
// トークンが無効な場合はIsRejectedがtrueになるエラーを返す。
func (c *Client) GetUser(ctx context.Context, accessToken string) (*model.User, error) {
	var resp userResponse
	if err := c.doJSON(ctx, http.MethodGet, "/auth/v1/user", c.config.AnonKey, accessToken, nil, &resp); err != nil {
		return nil, err
	}
	if resp.ID == "" {
		return nil, fmt.Errorf("empty user id in response")
	}
	return resp.toUser(), nil
}

// listUsersResponse は管理APIのユーザー一覧レスポンス。
type listUsersResponse struct {
	Users []userResponse `json:"users"`
}

// ListUsers はユーザー一覧の1ページ分を取得する（service roleキーが必要）。
func (c *Client) ListUsers(ctx context.Context, page, perPage int) ([]model.Identity, error) {
	if c.config.ServiceRoleKey == "" {
		return nil, ErrNotConfigured
	}
	path := "/auth/v1/admin/users?" + url.Values{
		"page":     {fmt.Sprint(page)},
		"per_page": {fmt.Sprint(perPage)},
	}.Encode()

	var resp listUsersResponse
	if err := c.doJSON(ctx, http.MethodGet, path, c.config.ServiceRoleKey, c.config.ServiceRoleKey, nil, &resp); err != nil {
		return nil, err
	}

	identities := make([]model.Identity, 0, len(resp.Users))
	for _, u := range resp.Users {
		identities = append(identities, model.Identity{
			ID:             u.ID,
			Email:          u.Email,
			EmailConfirmed: u.EmailConfirmedAt != nil || u.ConfirmedAt != nil,
		})
	}
	return identities, nil
}

// ConfirmEmail は指定ユーザーのメールアドレスを確認済みにする（service roleキーが必要）。
func (c *Client) ConfirmEmail(ctx context.Context, userID string) error {
	if c.config.ServiceRoleKey == "" {
		return ErrNotConfigured
	}
	path := "/auth/v1/admin/users/" + url.PathEscape(userID)
	payload := map[string]bool{"email_confirm": true}
	return c.doJSON(ctx, http.MethodPut, path, c.config.ServiceRoleKey, c.config.ServiceRoleKey, payload, nil)
}

// UploadObject はバケットの指定パスにファイルを保存する。
// ストレージのアクセス制御は利用者のアクセストークンで評価される。
func (c *Client) UploadObject(ctx context.Context, accessToken, bucket, objectPath, contentType string, body io.Reader) error {
	if !c.Configured() {
		return ErrNotConfigured
	}
	endpoint := c.config.URL + "/storage/v1/object/" + url.PathEscape(bucket) + "/" + escapeObjectPath(objectPath)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return fmt.Errorf("failed to create upload request: %w", err)
	}
	req.Header.Set("apikey", c.config.AnonKey)
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("x-upsert", "false")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("storage upload request failed",
			slog.String("bucket", bucket),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("upload request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read upload response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return parseError(resp.StatusCode, respBody)
	}
	return nil
}

// PublicURL は公開バケット上のオブジェクトのURLを組み立てる。
func (c *Client) PublicURL(bucket, objectPath string) string {
	return c.config.URL + "/storage/v1/object/public/" + url.PathEscape(bucket) + "/" + escapeObjectPath(objectPath)
}

func escapeObjectPath(p string) string {
	segments := strings.Split(strings.TrimLeft(p, "/"), "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return strings.Join(segments, "/")
}

// doJSON はJSONリクエストを送信し、成功時はレスポンスをoutにデコードする。
// bearerが空の場合はapiKeyをAuthorizationに使う。
func (c *Client) doJSON(ctx context.Context, method, path, apiKey, bearer string, payload, out any) error {
	if !c.Configured() {
		return ErrNotConfigured
	}

	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.config.URL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if bearer == "" {
		bearer = apiKey
	}
	req.Header.Set("apikey", apiKey)
	req.Header.Set("Authorization", "Bearer "+bearer)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("supabase request failed",
			slog.String("method", method),
			slog.String("path", strings.SplitN(path, "?", 2)[0]),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("supabase request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return parseError(resp.StatusCode, respBody)
	}

	if out == nil || len(bytes.TrimSpace(respBody)) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

// errorResponse はGoTrue / Storageのエラーレスポンスの取りうるフィールドをまとめたもの。
type errorResponse struct {
	ErrorCode        string `json:"error_code"`
	Msg              string `json:"msg"`
	Message          string `json:"message"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

func parseError(status int, body []byte) error {
	var er errorResponse
	_ = json.Unmarshal(body, &er)

	e := &Error{Status: status, Code: er.ErrorCode}
	if e.Code == "" {
		e.Code = er.Error
	}
	for _, m := range []string{er.Msg, er.ErrorDescription, er.Message, er.Error} {
		if m != "" {
			e.Message = m
			break
		}
	}
	if e.Message == "" {
		e.Message = http.StatusText(status)
	}
	return e
}
