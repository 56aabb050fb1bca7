// Package evaluator は外部の動画評価サービスとの連携を提供する。
// 評価ジョブの投入、状態の取得、結果ペイロードの変換を含む。
package evaluator

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
	"time"

	"github.com/hitoshi/pitchcheck/internal/model"
)

// ErrNotConfigured は評価サービスのURLが未設定の場合に返される。
var ErrNotConfigured = errors.New("evaluator is not configured")

// ErrJobNotFound は評価サービスがジョブを知らない場合に返される。
var ErrJobNotFound = errors.New("evaluation job not found")

// maxResponseBytes は評価サービスのレスポンスとして読み取る最大サイズ。
const maxResponseBytes = 1 << 20

// LatencyRecorder は評価サービス呼び出しのレイテンシを記録する。
type LatencyRecorder interface {
	RecordEvaluatorLatency(duration time.Duration)
}

// SubmitRequest は評価ジョブ投入時のリクエストボディ。
type SubmitRequest struct {
	UserID   string `json:"user_id"`
	VideoID  string `json:"video_id"`
	VideoURL string `json:"video_url"`
	Title    string `json:"title"`
}

type submitResponse struct {
	JobID string `json:"job_id"`
}

// ScoresPayload は評価サービスが返すスコア。
// overallは省略可能で、省略時は3項目の平均から算出する。
type ScoresPayload struct {
	Presentation *int `json:"presentation"`
	Delivery     *int `json:"delivery"`
	Content      *int `json:"content"`
	Overall      *int `json:"overall,omitempty"`
}

// ToScores はペイロードをドメインのスコアに変換する。
// 必須の3項目が欠けている場合はエラーを返す。値域の検証は呼び出し側で行う。
func (p *ScoresPayload) ToScores() (*model.Scores, error) {
	if p == nil || p.Presentation == nil || p.Delivery == nil || p.Content == nil {
		return nil, fmt.Errorf("scores must include presentation, delivery and content")
	}
	s := &model.Scores{
		Presentation: *p.Presentation,
		Delivery:     *p.Delivery,
		Content:      *p.Content,
	}
	if p.Overall != nil {
		s.Overall = *p.Overall
	} else {
		s.Overall = s.ComputeOverall()
	}
	return s, nil
}

// JobPayload はジョブ状態の取得結果およびWebhookで受け取る結果の共通形式。
type JobPayload struct {
	JobID      string         `json:"job_id"`
	Status     string         `json:"status"`
	Scores     *ScoresPayload `json:"scores,omitempty"`
	ResultsURL string         `json:"results_url,omitempty"`
}

// ToResult はペイロードをドメインの評価結果に変換する。
// completedの場合のみスコアを必須とする。
func (p *JobPayload) ToResult() (*model.EvaluationResult, error) {
	if p.JobID == "" {
		return nil, fmt.Errorf("job_id is required")
	}
	state := model.EvaluationState(p.Status)
	switch state {
	case model.EvaluationPending, model.EvaluationRunning, model.EvaluationFailed:
		return &model.EvaluationResult{JobID: p.JobID, State: state}, nil
	case model.EvaluationCompleted:
		scores, err := p.Scores.ToScores()
		if err != nil {
			return nil, err
		}
		return &model.EvaluationResult{
			JobID:      p.JobID,
			State:      state,
			Scores:     scores,
			ResultsURL: p.ResultsURL,
		}, nil
	default:
		return nil, fmt.Errorf("unknown job status: %q", p.Status)
	}
}

// Client は評価サービスのRESTクライアント。
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
	baseURL    string
	recorder   LatencyRecorder
}

// NewClient はClientの新しいインスタンスを生成する。
// baseURLが空の場合、全ての呼び出しはErrNotConfiguredを返す。
func NewClient(httpClient *http.Client, logger *slog.Logger, baseURL string, recorder LatencyRecorder) *Client {
	return &Client{
		httpClient: httpClient,
		logger:     logger,
		baseURL:    baseURL,
		recorder:   recorder,
	}
}

// Configured は評価サービスのURLが設定されているかを返す。
func (c *Client) Configured() bool {
	return c.baseURL != ""
}

// Submit は動画の評価ジョブを投入し、ジョブIDを返す。
func (c *Client) Submit(ctx context.Context, req SubmitRequest) (string, error) {
	if !c.Configured() {
		return "", ErrNotConfigured
	}

	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("評価リクエストのエンコードに失敗しました: %w", err)
	}

	var resp submitResponse
	if err := c.do(ctx, http.MethodPost, c.baseURL+"/evaluate", bytes.NewReader(body), &resp); err != nil {
		return "", err
	}
	if resp.JobID == "" {
		return "", fmt.Errorf("評価サービスのレスポンスにjob_idが含まれていません")
	}

	c.logger.Info("評価ジョブを投入しました",
		slog.String("video_id", req.VideoID),
		slog.String("job_id", resp.JobID),
	)
	return resp.JobID, nil
}

// Status は評価ジョブの状態を取得する。
func (c *Client) Status(ctx context.Context, jobID string) (*model.EvaluationResult, error) {
	if !c.Configured() {
		return nil, ErrNotConfigured
	}

	var payload JobPayload
	if err := c.do(ctx, http.MethodGet, c.baseURL+"/jobs/"+url.PathEscape(jobID), nil, &payload); err != nil {
		return nil, err
	}
	if payload.JobID == "" {
		payload.JobID = jobID
	}

	result, err := payload.ToResult()
	if err != nil {
		return nil, fmt.Errorf("評価サービスのレスポンスが不正です: %w", err)
	}
	return result, nil
}

func (c *Client) do(ctx context.Context, method, endpoint string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("User-Agent", "PitchCheck/1.0")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if c.recorder != nil {
		c.recorder.RecordEvaluatorLatency(time.Since(start))
	}
	if err != nil {
		c.logger.Error("評価サービスの呼び出しに失敗しました",
			slog.String("method", method),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("評価サービスの呼び出しに失敗しました: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ErrJobNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Error("評価サービスがエラーステータスを返しました",
			slog.String("method", method),
			slog.Int("http_status", resp.StatusCode),
		)
		return fmt.Errorf("評価サービスがステータス %d を返しました", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("レスポンスボディの読み取りに失敗しました: %w", err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("レスポンスJSONのパースに失敗しました: %w", err)
	}
	return nil
}
