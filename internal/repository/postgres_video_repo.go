package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/pitchcheck/internal/model"
)

// PostgresVideoRepo はPostgreSQLを使用した動画リポジトリ。
type PostgresVideoRepo struct {
	db *sql.DB
}

// NewPostgresVideoRepo はPostgresVideoRepoを生成する。
func NewPostgresVideoRepo(db *sql.DB) *PostgresVideoRepo {
	return &PostgresVideoRepo{db: db}
}

const videoColumns = `id, user_id, title, storage_path, video_url, status,
	presentation_score, delivery_score, content_score, overall_score,
	results_url, job_id, created_at, evaluated_at, failed_at`

// rowScanner は*sql.Rowと*sql.Rowsの共通インターフェース。
type rowScanner interface {
	Scan(dest ...any) error
}

func scanVideo(row rowScanner) (*model.Video, error) {
	v := &model.Video{}
	var presentation, delivery, content, overall sql.NullInt64
	var resultsURL, jobID sql.NullString
	var evaluatedAt, failedAt sql.NullTime

	if err := row.Scan(
		&v.ID, &v.UserID, &v.Title, &v.StoragePath, &v.VideoURL, &v.Status,
		&presentation, &delivery, &content, &overall,
		&resultsURL, &jobID, &v.CreatedAt, &evaluatedAt, &failedAt,
	); err != nil {
		return nil, err
	}

	// スコアは4項目が揃っている場合のみ設定する
	if presentation.Valid && delivery.Valid && content.Valid && overall.Valid {
		v.Scores = &model.Scores{
			Presentation: int(presentation.Int64),
			Delivery:     int(delivery.Int64),
			Content:      int(content.Int64),
			Overall:      int(overall.Int64),
		}
	}
	v.ResultsURL = nullStringValue(resultsURL)
	v.JobID = nullStringValue(jobID)
	if evaluatedAt.Valid {
		t := evaluatedAt.Time
		v.EvaluatedAt = &t
	}
	if failedAt.Valid {
		t := failedAt.Time
		v.FailedAt = &t
	}
	return v, nil
}

// Create は動画レコードを作成する。
func (r *PostgresVideoRepo) Create(ctx context.Context, video *model.Video) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO videos (id, user_id, title, storage_path, video_url, status, job_id, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		video.ID, video.UserID, video.Title, video.StoragePath, video.VideoURL,
		video.Status, nullString(video.JobID), video.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("動画レコードの作成に失敗しました: %w", err)
	}
	return nil
}

// FindByID は指定IDの動画を取得する。見つからない場合はnilを返す。
func (r *PostgresVideoRepo) FindByID(ctx context.Context, id string) (*model.Video, error) {
	v, err := scanVideo(r.db.QueryRowContext(ctx,
		`SELECT `+videoColumns+` FROM videos WHERE id = $1`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("動画の取得に失敗しました: %w", err)
	}
	return v, nil
}

// FindByJobID は評価ジョブIDで動画を検索する。見つからない場合はnilを返す。
func (r *PostgresVideoRepo) FindByJobID(ctx context.Context, jobID string) (*model.Video, error) {
	v, err := scanVideo(r.db.QueryRowContext(ctx,
		`SELECT `+videoColumns+` FROM videos WHERE job_id = $1`, jobID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ジョブIDによる動画の検索に失敗しました: %w", err)
	}
	return v, nil
}

// ListByUserID はユーザーの動画一覧をcreated_at降順で返す。
func (r *PostgresVideoRepo) ListByUserID(ctx context.Context, userID string, limit int) ([]*model.Video, error) {
	return r.list(ctx, "ユーザーの動画一覧",
		`SELECT `+videoColumns+` FROM videos
		 WHERE user_id = $1
		 ORDER BY created_at DESC, id DESC
		 LIMIT $2`,
		userID, limit,
	)
}

// ListProcessing は評価待ちの動画を古い順に返す。
// 評価失敗として確定したレコードは含めない。ジョブ未投入のレコードを優先する。
func (r *PostgresVideoRepo) ListProcessing(ctx context.Context, limit int) ([]*model.Video, error) {
	return r.list(ctx, "評価待ち動画一覧",
		`SELECT `+videoColumns+` FROM videos
		 WHERE status = 'processing' AND failed_at IS NULL
		 ORDER BY CASE WHEN job_id IS NULL THEN 0 ELSE 1 END, created_at ASC
		 LIMIT $1`,
		limit,
	)
}

func (r *PostgresVideoRepo) list(ctx context.Context, label, query string, args ...any) ([]*model.Video, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%sの取得に失敗しました: %w", label, err)
	}
	defer rows.Close()

	var videos []*model.Video
	for rows.Next() {
		v, err := scanVideo(rows)
		if err != nil {
			return nil, fmt.Errorf("%sの行読み取りに失敗しました: %w", label, err)
		}
		videos = append(videos, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%sの走査に失敗しました: %w", label, err)
	}
	return videos, nil
}

// SetJobID は動画に評価ジョブIDを紐づける。
func (r *PostgresVideoRepo) SetJobID(ctx context.Context, id, jobID string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE videos SET job_id = $2 WHERE id = $1`,
		id, nullString(jobID),
	)
	if err != nil {
		return fmt.Errorf("評価ジョブIDの更新に失敗しました: %w", err)
	}
	return nil
}

// Complete は評価結果を保存しstatusをcompletedにする。
// status = 'processing' の行のみ更新するため、同じ結果を二重に適用しても上書きされない。
func (r *PostgresVideoRepo) Complete(ctx context.Context, id string, scores model.Scores, resultsURL string, evaluatedAt time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE videos SET
		    status = 'completed',
		    presentation_score = $2, delivery_score = $3,
		    content_score = $4, overall_score = $5,
		    results_url = $6, evaluated_at = $7
		 WHERE id = $1 AND status = 'processing'`,
		id, scores.Presentation, scores.Delivery, scores.Content, scores.Overall,
		nullString(resultsURL), evaluatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("評価結果の保存に失敗しました: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("評価結果の更新件数の取得に失敗しました: %w", err)
	}
	return n > 0, nil
}

// MarkFailed は評価失敗を記録する。ジョブIDはそのまま残す。
// 評価待ちかつ未失敗の行のみ更新し、更新しなかった場合はfalseを返す。
func (r *PostgresVideoRepo) MarkFailed(ctx context.Context, id string, failedAt time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE videos SET failed_at = $2
		 WHERE id = $1 AND status = 'processing' AND failed_at IS NULL`,
		id, failedAt,
	)
	if err != nil {
		return false, fmt.Errorf("評価失敗の記録に失敗しました: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("評価失敗の更新件数の取得に失敗しました: %w", err)
	}
	return n > 0, nil
}

// nullString は空文字列をNULLとして扱うsql.NullStringを返す。
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// nullStringValue はsql.NullStringから文字列を取得する。
func nullStringValue(ns sql.NullString) string {
	if ns.Valid {
		return ns.String
	}
	return ""
}
