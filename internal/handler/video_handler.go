package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/pitchcheck/internal/middleware"
	"github.com/hitoshi/pitchcheck/internal/model"
	"github.com/hitoshi/pitchcheck/internal/video"
)

// multipartMemory はマルチパートのうちメモリに保持する上限。超えた分は一時ファイルに書き出される。
const multipartMemory = 32 << 20

// multipartOverhead はファイル以外のフォーム項目とマルチパートの境界に許容するバイト数。
const multipartOverhead = 1 << 20

// VideoServiceInterface は動画ハンドラーが必要とするサービスインターフェース。
type VideoServiceInterface interface {
	Upload(ctx context.Context, sess *model.Session, in video.UploadInput) (*model.Video, error)
	List(ctx context.Context, userID string) ([]*model.Video, error)
	Get(ctx context.Context, userID, videoID string) (*model.Video, error)
	FetchResults(ctx context.Context, userID, videoID string) ([]byte, string, error)
}

// VideoHandler は動画のアップロードと一覧のHTTPハンドラー。
type VideoHandler struct {
	service  VideoServiceInterface
	maxBytes int64
}

// NewVideoHandler はVideoHandlerを生成する。
func NewVideoHandler(service VideoServiceInterface, maxBytes int64) *VideoHandler {
	return &VideoHandler{
		service:  service,
		maxBytes: maxBytes,
	}
}

// scoresResponse は評価スコアのAPIレスポンス。
type scoresResponse struct {
	Presentation int `json:"presentation"`
	Delivery     int `json:"delivery"`
	Content      int `json:"content"`
	Overall      int `json:"overall"`
}

// videoResponse は動画のAPIレスポンス。
type videoResponse struct {
	ID          string          `json:"id"`
	Title       string          `json:"title"`
	VideoURL    string          `json:"video_url"`
	Status      string          `json:"status"`
	Scores      *scoresResponse `json:"scores"`
	ResultsURL  string          `json:"results_url,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	EvaluatedAt *time.Time      `json:"evaluated_at,omitempty"`

	// Failed は評価が失敗として確定したかを示す。statusはprocessingのまま。
	Failed   bool       `json:"evaluation_failed"`
	FailedAt *time.Time `json:"failed_at,omitempty"`
}

func toVideoResponse(v *model.Video) videoResponse {
	resp := videoResponse{
		ID:          v.ID,
		Title:       v.Title,
		VideoURL:    v.VideoURL,
		Status:      string(v.Status),
		ResultsURL:  v.ResultsURL,
		CreatedAt:   v.CreatedAt,
		EvaluatedAt: v.EvaluatedAt,
		Failed:      v.EvaluationFailed(),
		FailedAt:    v.FailedAt,
	}
	if v.Scores != nil {
		resp.Scores = &scoresResponse{
			Presentation: v.Scores.Presentation,
			Delivery:     v.Scores.Delivery,
			Content:      v.Scores.Content,
			Overall:      v.Scores.Overall,
		}
	}
	return resp
}

// Upload は動画をアップロードする。
// POST /api/videos (multipart/form-data: title, video)
func (h *VideoHandler) Upload(w http.ResponseWriter, r *http.Request) {
	sess, ok := middleware.SessionFromContext(r.Context())
	if !ok {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	if h.maxBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxBytes+multipartOverhead)
	}
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			middleware.WriteErrorResponse(w, http.StatusRequestEntityTooLarge, model.NewVideoTooLargeError(h.maxBytes))
			return
		}
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidVideoError("Please select a video file"))
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("video")
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidVideoError("Please select a video file"))
		return
	}
	defer file.Close()

	v, err := h.service.Upload(r.Context(), sess, video.UploadInput{
		Title:       r.FormValue("title"),
		Filename:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Size:        header.Size,
		Body:        file,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toVideoResponse(v))
}

// ListVideos はログインユーザーの動画を新しい順に返す。
// GET /api/videos
func (h *VideoHandler) ListVideos(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	videos, err := h.service.List(r.Context(), userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := make([]videoResponse, len(videos))
	for i, v := range videos {
		resp[i] = toVideoResponse(v)
	}
	writeJSON(w, http.StatusOK, map[string]any{"videos": resp})
}

// GetVideo は動画の詳細を返す。
// GET /api/videos/{id}
func (h *VideoHandler) GetVideo(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	v, err := h.service.Get(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toVideoResponse(v))
}

// GetResults は評価結果URLの内容を取得して返す。
// GET /api/videos/{id}/results
func (h *VideoHandler) GetResults(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	videoID := chi.URLParam(r, "id")
	body, contentType, err := h.service.FetchResults(r.Context(), userID, videoID)
	if errors.Is(err, video.ErrResultsUnavailable) {
		slog.Warn("evaluation results unavailable",
			slog.String("video_id", videoID),
			slog.String("error", err.Error()),
		)
		middleware.WriteErrorResponse(w, http.StatusBadGateway, &model.APIError{
			Code:     "RESULTS_UNAVAILABLE",
			Message:  "Evaluation results could not be retrieved.",
			Category: model.CategoryVideo,
			Action:   "Wait a moment and try again.",
		})
		return
	}
	if err != nil {
		handleServiceError(w, err)
		return
	}

	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", "inline")
	w.WriteHeader(http.StatusOK)
	w.Write(body)
}
