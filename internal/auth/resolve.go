package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/hitoshi/pitchcheck/internal/model"
	"github.com/hitoshi/pitchcheck/internal/supabase"
)

// accessClaims はアクセストークンのうち参照するクレーム。
type accessClaims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// ResolveSession はCookieのトークンから現在のセッションを求める。
// セッションがない場合は(nil, nil)を返す。
// アクセストークンが期限切れならリフレッシュし、戻り値のRefreshedをtrueにする。
// 通信エラーや基盤側の5xxはエラーとして返す。
func (s *Service) ResolveSession(ctx context.Context, accessToken, refreshToken string) (*model.Session, error) {
	if accessToken == "" && refreshToken == "" {
		return nil, nil
	}
	if !s.credentials.Configured() {
		return nil, nil
	}

	if accessToken != "" {
		session, err := s.verifyAccessToken(ctx, accessToken)
		if err != nil {
			return nil, err
		}
		if session != nil {
			session.RefreshToken = refreshToken
			return session, nil
		}
	}

	if refreshToken == "" {
		return nil, nil
	}
	return s.refresh(ctx, refreshToken)
}

// verifyAccessToken はアクセストークンを検証する。
// 無効・期限切れの場合は(nil, nil)を返す。
func (s *Service) verifyAccessToken(ctx context.Context, accessToken string) (*model.Session, error) {
	if s.config.JWTSecret != "" {
		return s.verifyLocally(accessToken), nil
	}

	user, err := s.credentials.GetUser(ctx, accessToken)
	if err != nil {
		if supabase.IsRejected(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to verify access token: %w", err)
	}
	return &model.Session{
		UserID:      user.ID,
		Email:       user.Email,
		AccessToken: accessToken,
	}, nil
}

func (s *Service) verifyLocally(accessToken string) *model.Session {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	)
	var claims accessClaims
	token, err := parser.ParseWithClaims(accessToken, &claims, func(t *jwt.Token) (interface{}, error) {
		return []byte(s.config.JWTSecret), nil
	})
	if err != nil || !token.Valid || claims.Subject == "" {
		return nil
	}

	session := &model.Session{
		UserID:      claims.Subject,
		Email:       claims.Email,
		AccessToken: accessToken,
	}
	if claims.ExpiresAt != nil {
		session.ExpiresAt = claims.ExpiresAt.Time
	}
	return session
}

func (s *Service) refresh(ctx context.Context, refreshToken string) (*model.Session, error) {
	session, err := s.credentials.RefreshSession(ctx, refreshToken)
	if err != nil {
		if supabase.IsRejected(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to refresh session: %w", err)
	}

	if session.UserID == "" {
		user, err := s.credentials.GetUser(ctx, session.AccessToken)
		if err != nil {
			if supabase.IsRejected(err) {
				return nil, nil
			}
			return nil, fmt.Errorf("failed to fetch refreshed user: %w", err)
		}
		session.UserID = user.ID
		session.Email = user.Email
	}
	if session.ExpiresAt.IsZero() {
		session.ExpiresAt = time.Now().Add(time.Hour)
	}
	session.Refreshed = true
	return session, nil
}
