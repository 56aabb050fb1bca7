// Package evaluation は評価待ち動画の評価ジョブを追跡するワーカーを提供する。
// 一度も投入されていない動画を投入し、投入済みのジョブの状態を取得して結果を反映する。
// 失敗した投入やジョブは評価失敗として確定し、再投入しない。
package evaluation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/pitchcheck/internal/evaluator"
	"github.com/hitoshi/pitchcheck/internal/model"
)

// VideoStore は評価待ち動画の取得元。
type VideoStore interface {
	ListProcessing(ctx context.Context, limit int) ([]*model.Video, error)
}

// StatusChecker は評価ジョブの状態を取得する。
type StatusChecker interface {
	Status(ctx context.Context, jobID string) (*model.EvaluationResult, error)
}

// ResultApplier は評価ジョブの投入と結果の反映を行う。
type ResultApplier interface {
	Submit(ctx context.Context, v *model.Video) error
	ApplyEvaluation(ctx context.Context, result *model.EvaluationResult) (*model.Video, error)
}

// Config はワーカーの設定パラメータ。
type Config struct {
	// Interval はサイクルの実行間隔（デフォルト: 1分）。
	Interval time.Duration
	// MaxPerCycle は1サイクルで処理する最大件数（デフォルト: 50）。
	MaxPerCycle int
}

// DefaultConfig はデフォルトのワーカー設定を返す。
func DefaultConfig() Config {
	return Config{
		Interval:    time.Minute,
		MaxPerCycle: 50,
	}
}

// CycleStats は1サイクルの処理結果。
type CycleStats struct {
	Submitted int
	Completed int
	Pending   int
	Failed    int
	Errors    int
}

// Poller は評価待ち動画を定期的に処理するワーカー。
type Poller struct {
	store   VideoStore
	checker StatusChecker
	applier ResultApplier
	logger  *slog.Logger
	config  Config
	now     func() time.Time
}

// NewPoller はPollerを生成する。
func NewPoller(store VideoStore, checker StatusChecker, applier ResultApplier, logger *slog.Logger, config Config) *Poller {
	return &Poller{
		store:   store,
		checker: checker,
		applier: applier,
		logger:  logger,
		config:  config,
		now:     time.Now,
	}
}

// Start はティッカーでサイクルを定期実行する。
// コンテキストがキャンセルされるまで実行を継続する。
func (p *Poller) Start(ctx context.Context) {
	ticker := time.NewTicker(p.config.Interval)
	defer ticker.Stop()

	p.logger.Info("evaluation poller started",
		slog.Duration("interval", p.config.Interval),
		slog.Int("max_per_cycle", p.config.MaxPerCycle),
	)

	// 起動直後に1回実行
	p.runAndLog(ctx)

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("evaluation poller stopped")
			return
		case <-ticker.C:
			p.runAndLog(ctx)
		}
	}
}

func (p *Poller) runAndLog(ctx context.Context) {
	if _, err := p.RunOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
		p.logger.Error("evaluation cycle failed",
			slog.String("error", err.Error()),
		)
	}
}

// RunOnce は1回のサイクルを実行する。
func (p *Poller) RunOnce(ctx context.Context) (CycleStats, error) {
	var stats CycleStats
	start := p.now()

	videos, err := p.store.ListProcessing(ctx, p.config.MaxPerCycle)
	if err != nil {
		return stats, fmt.Errorf("failed to list processing videos: %w", err)
	}
	if len(videos) == 0 {
		p.logger.Debug("no videos waiting for evaluation")
		return stats, nil
	}

	for _, v := range videos {
		if ctx.Err() != nil {
			return stats, ctx.Err()
		}
		if err := p.process(ctx, v, &stats); err != nil {
			stats.Errors++
			p.logger.Error("failed to process video evaluation",
				slog.String("video_id", v.ID),
				slog.String("job_id", v.JobID),
				slog.String("error", err.Error()),
			)
			if errors.Is(err, evaluator.ErrNotConfigured) {
				break
			}
		}
	}

	p.logger.Info("evaluation cycle completed",
		slog.Int("target_videos", len(videos)),
		slog.Int("submitted", stats.Submitted),
		slog.Int("completed", stats.Completed),
		slog.Int("pending", stats.Pending),
		slog.Int("failed", stats.Failed),
		slog.Int("errors", stats.Errors),
		slog.Float64("duration_ms", float64(p.now().Sub(start).Milliseconds())),
	)
	return stats, nil
}

func (p *Poller) process(ctx context.Context, v *model.Video, stats *CycleStats) error {
	// アップロード時に評価サービスが未設定だった動画
	if v.JobID == "" {
		if err := p.applier.Submit(ctx, v); err != nil {
			return err
		}
		stats.Submitted++
		return nil
	}

	result, err := p.checker.Status(ctx, v.JobID)
	if errors.Is(err, evaluator.ErrJobNotFound) {
		// 評価サービス側でジョブが失われた場合は失敗として確定する
		result = &model.EvaluationResult{JobID: v.JobID, State: model.EvaluationFailed}
	} else if err != nil {
		return err
	}

	if _, err := p.applier.ApplyEvaluation(ctx, result); err != nil {
		return err
	}

	switch result.State {
	case model.EvaluationCompleted:
		stats.Completed++
	case model.EvaluationFailed:
		stats.Failed++
	default:
		stats.Pending++
	}
	return nil
}
