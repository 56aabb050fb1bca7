// Package bypass はログイン直後の1回だけセッション判定を省略させるバイパスマーカーを提供する。
// マーカーは短命の署名付きトークンで、jtiを単回使用ストアに登録して二重消費を防ぐ。
package bypass

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// MaxTTL はマーカーの最大有効期間。
const MaxTTL = 5 * time.Second

var (
	// ErrInvalidMarker は署名不正・期限切れ・形式不正のマーカーを示す。
	ErrInvalidMarker = errors.New("invalid bypass marker")
	// ErrMarkerConsumed は既に消費済み（または未登録）のマーカーを示す。
	ErrMarkerConsumed = errors.New("bypass marker already consumed")
)

// Store はマーカーのjtiを単回使用で管理するストア。
type Store interface {
	// Register はjtiをttlの間だけ登録する。
	Register(ctx context.Context, jti string, ttl time.Duration) error
	// Consume はjtiを原子的に削除し、削除できた場合のみtrueを返す。
	Consume(ctx context.Context, jti string) (bool, error)
}

// Marker は消費に成功したマーカーの内容。
type Marker struct {
	UserID string
	Email  string
}

// claims はマーカーのJWTクレーム。
type claims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// Manager はマーカーの発行と消費を行う。
type Manager struct {
	secret []byte
	ttl    time.Duration
	store  Store
	now    func() time.Time
}

// NewManager はManagerを生成する。ttlはMaxTTLを上限とする。
func NewManager(secret []byte, ttl time.Duration, store Store) (*Manager, error) {
	if len(secret) == 0 {
		return nil, errors.New("bypass marker requires a signing secret")
	}
	if ttl <= 0 || ttl > MaxTTL {
		ttl = MaxTTL
	}
	return &Manager{
		secret: secret,
		ttl:    ttl,
		store:  store,
		now:    time.Now,
	}, nil
}

// TTL はマーカーの有効期間を返す。
func (m *Manager) TTL() time.Duration {
	return m.ttl
}

// Issue はユーザーのマーカーを発行し、署名済みトークンを返す。
func (m *Manager) Issue(ctx context.Context, userID, email string) (string, error) {
	jti := uuid.NewString()
	now := m.now()

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		Email: email,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
		},
	})
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign bypass marker: %w", err)
	}

	if err := m.store.Register(ctx, jti, m.ttl); err != nil {
		return "", fmt.Errorf("failed to register bypass marker: %w", err)
	}
	return signed, nil
}

// Consume はマーカーを検証して消費する。
// 同じマーカーを2回消費しようとするとErrMarkerConsumedを返す。
func (m *Manager) Consume(ctx context.Context, raw string) (*Marker, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.now),
	)
	var c claims
	token, err := parser.ParseWithClaims(raw, &c, func(t *jwt.Token) (interface{}, error) {
		return m.secret, nil
	})
	if err != nil || !token.Valid {
		return nil, ErrInvalidMarker
	}
	if c.ID == "" || c.Subject == "" {
		return nil, ErrInvalidMarker
	}

	ok, err := m.store.Consume(ctx, c.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to consume bypass marker: %w", err)
	}
	if !ok {
		return nil, ErrMarkerConsumed
	}
	return &Marker{UserID: c.Subject, Email: c.Email}, nil
}
