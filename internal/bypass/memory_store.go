package bypass

import (
	"context"
	"sync"
	"time"
)

// MemoryStore はプロセス内の単回使用ストア。
// REDIS_URL未設定の単一インスタンス構成で使う。
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]time.Time // jti -> 有効期限
	now     func() time.Time
	stopCh  chan struct{}
}

// NewMemoryStore はMemoryStoreを生成し、期限切れエントリの掃除を開始する。
func NewMemoryStore(cleanupInterval time.Duration) *MemoryStore {
	s := &MemoryStore{
		entries: make(map[string]time.Time),
		now:     time.Now,
		stopCh:  make(chan struct{}),
	}
	if cleanupInterval > 0 {
		go s.cleanupLoop(cleanupInterval)
	}
	return s
}

// Stop は掃除のバックグラウンドゴルーチンを停止する。
func (s *MemoryStore) Stop() {
	close(s.stopCh)
}

// Register はjtiを登録する。
func (s *MemoryStore) Register(_ context.Context, jti string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[jti] = s.now().Add(ttl)
	return nil
}

// Consume は有効期限内のjtiを削除し、削除できた場合のみtrueを返す。
func (s *MemoryStore) Consume(_ context.Context, jti string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	expiresAt, ok := s.entries[jti]
	if !ok {
		return false, nil
	}
	delete(s.entries, jti)
	return s.now().Before(expiresAt), nil
}

// Len は保持しているエントリ数を返す。テスト用。
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *MemoryStore) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.cleanup()
		case <-s.stopCh:
			return
		}
	}
}

func (s *MemoryStore) cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for jti, expiresAt := range s.entries {
		if !now.Before(expiresAt) {
			delete(s.entries, jti)
		}
	}
}

var _ Store = (*MemoryStore)(nil)
