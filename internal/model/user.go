// Package model はドメインモデルを定義する。
package model

import "time"

// User は認証基盤上のアカウントを表す。
type User struct {
	ID             string
	Email          string
	EmailConfirmed bool
	CreatedAt      time.Time
}

// Identity は管理APIのユーザー一覧から得られるアカウント情報を表す。
// メールアドレスからユーザーIDを引くために使用する。
type Identity struct {
	ID             string
	Email          string
	EmailConfirmed bool
}

// Session はブラウザコンテキストに紐づくログインセッションを表す。
// アクセストークンとリフレッシュトークンの組はHTTP Only Cookieで保持される。
type Session struct {
	UserID       string
	Email        string
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time

	// Refreshed はリフレッシュトークンで再発行されたセッションであることを示す。
	// trueの場合、呼び出し側はCookieを書き直す必要がある。
	Refreshed bool
}

// Expired はセッションが期限切れかどうかを返す。
func (s *Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}
