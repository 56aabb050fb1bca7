// Package video は動画のアップロード、一覧取得、評価結果の反映を提供する。
package video

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/pitchcheck/internal/evaluator"
	"github.com/hitoshi/pitchcheck/internal/model"
	"github.com/hitoshi/pitchcheck/internal/repository"
	"github.com/hitoshi/pitchcheck/internal/security"
	"github.com/hitoshi/pitchcheck/internal/supabase"
)

// アップロード結果（メトリクスのラベル）
const (
	UploadSuccess      = "success"
	UploadInvalid      = "invalid"
	UploadStorageError = "storage_error"
	UploadDBError      = "db_error"
)

// 評価の状態遷移（メトリクスのラベル）
const (
	EvaluationSubmitted    = "submitted"
	EvaluationSubmitFailed = "submit_failed"
	EvaluationCompleted    = "completed"
	EvaluationFailed       = "failed"
	EvaluationRejected     = "rejected"
)

// Storage は動画ファイルの保存先。
type Storage interface {
	UploadObject(ctx context.Context, accessToken, bucket, objectPath, contentType string, body io.Reader) error
	PublicURL(bucket, objectPath string) string
}

// Evaluator は評価ジョブの投入先。
type Evaluator interface {
	Configured() bool
	Submit(ctx context.Context, req evaluator.SubmitRequest) (string, error)
}

// URLGuard は評価結果URLの検証と取得を行う。
type URLGuard interface {
	ValidateURL(rawURL string) error
	Fetch(req *http.Request) ([]byte, string, error)
}

// Recorder はアップロードと評価の結果を記録する。
type Recorder interface {
	RecordUpload(outcome string)
	RecordEvaluation(outcome string)
}

// Config は動画サービスの設定。
type Config struct {
	Bucket    string
	MaxBytes  int64
	ListLimit int
}

// UploadInput はアップロードフォームの内容。
type UploadInput struct {
	Title       string
	Filename    string
	ContentType string
	Size        int64
	Body        io.Reader
}

// Service は動画の管理を担う。
type Service struct {
	repo      repository.VideoRepository
	storage   Storage
	evaluator Evaluator
	guard     URLGuard
	sanitizer *security.TitleSanitizer
	recorder  Recorder
	config    Config
	logger    *slog.Logger
	now       func() time.Time
}

// NewService はServiceを生成する。
func NewService(
	repo repository.VideoRepository,
	storage Storage,
	eval Evaluator,
	guard URLGuard,
	recorder Recorder,
	config Config,
	logger *slog.Logger,
) *Service {
	if config.ListLimit <= 0 {
		config.ListLimit = 100
	}
	return &Service{
		repo:      repo,
		storage:   storage,
		evaluator: eval,
		guard:     guard,
		sanitizer: security.NewTitleSanitizer(),
		recorder:  recorder,
		config:    config,
		logger:    logger,
		now:       time.Now,
	}
}

// Upload は動画をストレージに保存してprocessingのレコードを作成し、評価ジョブを投入する。
// 評価ジョブの投入に失敗してもアップロードは成功扱いとし、動画は評価失敗として記録される。
// 評価サービスが未設定の場合は未投入のまま残し、設定後にワーカーが1度だけ投入する。
func (s *Service) Upload(ctx context.Context, sess *model.Session, in UploadInput) (*model.Video, error) {
	if sess == nil || sess.AccessToken == "" {
		return nil, model.NewUnauthorizedError()
	}

	title, err := s.validate(in)
	if err != nil {
		s.recorder.RecordUpload(UploadInvalid)
		return nil, err
	}

	id := uuid.New().String()
	objectPath := fmt.Sprintf("%s/%s.%s", sess.UserID, id, extensionOf(in.Filename, in.ContentType))

	if err := s.storage.UploadObject(ctx, sess.AccessToken, s.config.Bucket, objectPath, in.ContentType, in.Body); err != nil {
		s.recorder.RecordUpload(UploadStorageError)
		s.logger.Error("failed to store video",
			slog.String("user_id", sess.UserID),
			slog.String("path", objectPath),
			slog.String("error", err.Error()),
		)
		if supabase.IsRejected(err) {
			return nil, model.NewUploadFailedError(supabase.MessageOf(err))
		}
		return nil, model.NewUploadFailedError("Failed to store the video. Please try again.")
	}

	v := &model.Video{
		ID:          id,
		UserID:      sess.UserID,
		Title:       title,
		StoragePath: objectPath,
		VideoURL:    s.storage.PublicURL(s.config.Bucket, objectPath),
		Status:      model.VideoStatusProcessing,
		CreatedAt:   s.now().UTC(),
	}
	if err := s.repo.Create(ctx, v); err != nil {
		s.recorder.RecordUpload(UploadDBError)
		return nil, fmt.Errorf("failed to record video: %w", err)
	}
	s.recorder.RecordUpload(UploadSuccess)

	s.logger.Info("video uploaded",
		slog.String("user_id", v.UserID),
		slog.String("video_id", v.ID),
		slog.Int64("size", in.Size),
	)

	if err := s.Submit(ctx, v); err != nil {
		s.logger.Warn("evaluation not submitted",
			slog.String("video_id", v.ID),
			slog.String("error", err.Error()),
		)
	}
	return v, nil
}

func (s *Service) validate(in UploadInput) (string, error) {
	title := s.sanitizer.Sanitize(in.Title)
	if title == "" {
		return "", model.NewInvalidVideoError("Please enter a title")
	}
	if security.TitleTooLong(title) {
		return "", model.NewInvalidVideoError(fmt.Sprintf("Title must be at most %d characters", security.MaxTitleLength))
	}
	if in.Body == nil || in.Size <= 0 {
		return "", model.NewInvalidVideoError("Please select a video file")
	}
	if !strings.HasPrefix(strings.ToLower(in.ContentType), "video/") {
		return "", model.NewInvalidVideoError("Only video files can be uploaded")
	}
	if s.config.MaxBytes > 0 && in.Size > s.config.MaxBytes {
		return "", model.NewVideoTooLargeError(s.config.MaxBytes)
	}
	return title, nil
}

// extensionOf はファイル名の拡張子を返す。使えない場合はContent-Typeのサブタイプを使う。
func extensionOf(filename, contentType string) string {
	if ext := strings.ToLower(strings.TrimPrefix(path.Ext(filename), ".")); isSafeExtension(ext) {
		return ext
	}
	if _, sub, ok := strings.Cut(strings.ToLower(contentType), "/"); ok {
		sub, _, _ = strings.Cut(sub, ";")
		if isSafeExtension(sub) {
			return sub
		}
	}
	return "mp4"
}

func isSafeExtension(ext string) bool {
	if ext == "" || len(ext) > 8 {
		return false
	}
	for _, r := range ext {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') {
			return false
		}
	}
	return true
}

// Submit は動画を評価サービスに投入し、ジョブIDを保存する。
// 投入は動画ごとに1度だけ行い、失敗した動画は評価失敗として記録する。
func (s *Service) Submit(ctx context.Context, v *model.Video) error {
	if !s.evaluator.Configured() {
		return evaluator.ErrNotConfigured
	}

	jobID, err := s.evaluator.Submit(ctx, evaluator.SubmitRequest{
		UserID:   v.UserID,
		VideoID:  v.ID,
		VideoURL: v.VideoURL,
		Title:    v.Title,
	})
	if err != nil {
		s.recorder.RecordEvaluation(EvaluationSubmitFailed)
		s.markFailed(ctx, v)
		return fmt.Errorf("failed to submit evaluation: %w", err)
	}
	if err := s.repo.SetJobID(ctx, v.ID, jobID); err != nil {
		s.recorder.RecordEvaluation(EvaluationSubmitFailed)
		s.markFailed(ctx, v)
		return fmt.Errorf("failed to save job id: %w", err)
	}
	v.JobID = jobID
	s.recorder.RecordEvaluation(EvaluationSubmitted)
	return nil
}

// markFailed は投入に失敗した動画を評価失敗として記録する。
// 記録できなかった場合はログのみ残す。
func (s *Service) markFailed(ctx context.Context, v *model.Video) {
	failedAt := s.now().UTC()
	if _, err := s.repo.MarkFailed(ctx, v.ID, failedAt); err != nil {
		s.logger.Error("failed to mark video failed",
			slog.String("video_id", v.ID),
			slog.String("error", err.Error()),
		)
		return
	}
	v.FailedAt = &failedAt
}

// List はユーザーの動画を新しい順に返す。
func (s *Service) List(ctx context.Context, userID string) ([]*model.Video, error) {
	videos, err := s.repo.ListByUserID(ctx, userID, s.config.ListLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to list videos: %w", err)
	}
	if videos == nil {
		videos = []*model.Video{}
	}
	return videos, nil
}

// Get はユーザーが所有する動画を返す。
// 他人の動画は存在しない動画と同じ扱いにする。
func (s *Service) Get(ctx context.Context, userID, videoID string) (*model.Video, error) {
	if _, err := uuid.Parse(videoID); err != nil {
		return nil, model.NewVideoNotFoundError(videoID)
	}
	v, err := s.repo.FindByID(ctx, videoID)
	if err != nil {
		return nil, fmt.Errorf("failed to find video: %w", err)
	}
	if v == nil || v.UserID != userID {
		return nil, model.NewVideoNotFoundError(videoID)
	}
	return v, nil
}

// ApplyEvaluation は評価サービスから受け取ったジョブ結果を動画に反映する。
// completed以外の状態ではスコアを更新しない。
// failedの場合はジョブIDを残したまま評価失敗として記録し、再投入はしない。
func (s *Service) ApplyEvaluation(ctx context.Context, result *model.EvaluationResult) (*model.Video, error) {
	v, err := s.repo.FindByJobID(ctx, result.JobID)
	if err != nil {
		return nil, fmt.Errorf("failed to find video by job: %w", err)
	}
	if v == nil {
		return nil, model.NewEvaluationNotFoundError(result.JobID)
	}

	switch result.State {
	case model.EvaluationPending, model.EvaluationRunning:
		return v, nil
	case model.EvaluationFailed:
		s.recorder.RecordEvaluation(EvaluationFailed)
		s.logger.Warn("evaluation job failed",
			slog.String("video_id", v.ID),
			slog.String("job_id", result.JobID),
		)
		if v.Status == model.VideoStatusProcessing && v.FailedAt == nil {
			failedAt := s.now().UTC()
			if _, err := s.repo.MarkFailed(ctx, v.ID, failedAt); err != nil {
				return nil, fmt.Errorf("failed to mark video failed: %w", err)
			}
			v.FailedAt = &failedAt
		}
		return v, nil
	case model.EvaluationCompleted:
	default:
		return nil, model.NewInvalidEvaluationError(fmt.Sprintf("unknown state %q", result.State))
	}

	if err := s.validateResult(result); err != nil {
		s.recorder.RecordEvaluation(EvaluationRejected)
		return nil, err
	}

	evaluatedAt := s.now().UTC()
	updated, err := s.repo.Complete(ctx, v.ID, *result.Scores, result.ResultsURL, evaluatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to complete video: %w", err)
	}
	if !updated {
		// 結果の二重通知
		return v, nil
	}

	s.recorder.RecordEvaluation(EvaluationCompleted)
	s.logger.Info("evaluation completed",
		slog.String("video_id", v.ID),
		slog.String("job_id", result.JobID),
		slog.Int("overall", result.Scores.Overall),
	)

	v.Status = model.VideoStatusCompleted
	v.Scores = result.Scores
	v.ResultsURL = result.ResultsURL
	v.EvaluatedAt = &evaluatedAt
	return v, nil
}

func (s *Service) validateResult(result *model.EvaluationResult) error {
	if result.Scores == nil {
		return model.NewInvalidEvaluationError("scores are required")
	}
	for name, score := range map[string]int{
		"presentation": result.Scores.Presentation,
		"delivery":     result.Scores.Delivery,
		"content":      result.Scores.Content,
		"overall":      result.Scores.Overall,
	} {
		if score < 0 || score > 100 {
			return model.NewInvalidEvaluationError(fmt.Sprintf("%s score %d is out of range 0-100", name, score))
		}
	}
	if result.ResultsURL != "" {
		if err := s.guard.ValidateURL(result.ResultsURL); err != nil {
			return model.NewInvalidEvaluationError("results_url is not a public http(s) URL")
		}
	}
	return nil
}

// ErrResultsUnavailable は結果URLの取得に失敗した場合に返される。
var ErrResultsUnavailable = errors.New("evaluation results are unavailable")

// FetchResults は評価結果URLの内容を取得して返す。
// 結果URLは評価サービスが指定する外部URLのため、SSRF防止付きのクライアントで取得する。
func (s *Service) FetchResults(ctx context.Context, userID, videoID string) ([]byte, string, error) {
	v, err := s.Get(ctx, userID, videoID)
	if err != nil {
		return nil, "", err
	}
	if v.Status != model.VideoStatusCompleted || v.ResultsURL == "" {
		return nil, "", model.NewResultsNotReadyError(videoID)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.ResultsURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrResultsUnavailable, err)
	}
	req.Header.Set("User-Agent", "PitchCheck/1.0")

	body, contentType, err := s.guard.Fetch(req)
	if err != nil {
		s.logger.Warn("failed to fetch evaluation results",
			slog.String("video_id", videoID),
			slog.String("error", err.Error()),
		)
		return nil, "", fmt.Errorf("%w: %v", ErrResultsUnavailable, err)
	}
	return body, contentType, nil
}
