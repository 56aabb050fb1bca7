// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"time"

	"github.com/hitoshi/pitchcheck/internal/model"
)

// VideoRepository は動画メタデータの永続化インターフェース。
// レコードの削除は提供しない。
type VideoRepository interface {
	// Create は動画レコードを作成する。
	Create(ctx context.Context, video *model.Video) error

	// FindByID は指定IDの動画を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Video, error)

	// FindByJobID は評価ジョブIDで動画を検索する。見つからない場合はnilを返す。
	FindByJobID(ctx context.Context, jobID string) (*model.Video, error)

	// ListByUserID はユーザーの動画一覧をcreated_at降順で返す。
	ListByUserID(ctx context.Context, userID string, limit int) ([]*model.Video, error)

	// ListProcessing は評価待ち（status = 'processing' かつ未失敗）の動画を古い順に返す。
	ListProcessing(ctx context.Context, limit int) ([]*model.Video, error)

	// SetJobID は動画に評価ジョブIDを紐づける。
	SetJobID(ctx context.Context, id, jobID string) error

	// Complete は評価結果を保存しstatusをcompletedにする。
	// すでにcompletedの場合は更新せずfalseを返す。
	Complete(ctx context.Context, id string, scores model.Scores, resultsURL string, evaluatedAt time.Time) (bool, error)

	// MarkFailed は評価が失敗したことを記録する。以後ワーカーの対象にならない。
	MarkFailed(ctx context.Context, id string, failedAt time.Time) (bool, error)
}
