package handler

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net/http"

	"github.com/hitoshi/pitchcheck/internal/evaluator"
	"github.com/hitoshi/pitchcheck/internal/middleware"
	"github.com/hitoshi/pitchcheck/internal/model"
)

// evaluatorSecretHeader は評価サービスからの通知に付与される共有シークレットのヘッダー名。
const evaluatorSecretHeader = "X-Evaluator-Secret"

// EvaluationApplier は評価結果を動画に反映する。
type EvaluationApplier interface {
	ApplyEvaluation(ctx context.Context, result *model.EvaluationResult) (*model.Video, error)
}

// EvaluationHandler は評価サービスからの結果通知を受け取るHTTPハンドラー。
type EvaluationHandler struct {
	applier EvaluationApplier
	secret  string
}

// NewEvaluationHandler はEvaluationHandlerを生成する。
func NewEvaluationHandler(applier EvaluationApplier, secret string) *EvaluationHandler {
	return &EvaluationHandler{
		applier: applier,
		secret:  secret,
	}
}

type evaluationCallbackResponse struct {
	VideoID string `json:"video_id"`
	Status  string `json:"status"`
}

// Callback は評価ジョブの結果を反映する。
// POST /api/evaluations/callback
func (h *EvaluationHandler) Callback(w http.ResponseWriter, r *http.Request) {
	got := r.Header.Get(evaluatorSecretHeader)
	if h.secret == "" || subtle.ConstantTimeCompare([]byte(got), []byte(h.secret)) != 1 {
		slog.Warn("evaluation callback rejected: invalid secret")
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	var payload evaluator.JobPayload
	if !decodeJSON(w, r, &payload) {
		return
	}
	result, err := payload.ToResult()
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidEvaluationError(err.Error()))
		return
	}

	v, err := h.applier.ApplyEvaluation(r.Context(), result)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, evaluationCallbackResponse{
		VideoID: v.ID,
		Status:  string(v.Status),
	})
}
