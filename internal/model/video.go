package model

import "time"

// VideoStatus は動画の評価状態を表す。
type VideoStatus string

const (
	// VideoStatusProcessing はアップロード済みで評価待ちの状態。
	VideoStatusProcessing VideoStatus = "processing"
	// VideoStatusCompleted は評価が完了しスコアが確定した状態。
	VideoStatusCompleted VideoStatus = "completed"
)

// Valid はステータスが既知の値かどうかを返す。
func (s VideoStatus) Valid() bool {
	return s == VideoStatusProcessing || s == VideoStatusCompleted
}

// Scores は動画の評価スコアを表す。各値は0〜100の整数。
type Scores struct {
	Presentation int
	Delivery     int
	Content      int
	Overall      int
}

// ComputeOverall は3項目の平均（切り捨て）を総合スコアとして返す。
func (s Scores) ComputeOverall() int {
	return (s.Presentation + s.Delivery + s.Content) / 3
}

// Video はアップロードされた1本の動画とその評価結果のメタデータを表す。
// このシステムが削除することはない。
type Video struct {
	ID          string
	UserID      string
	Title       string
	StoragePath string
	VideoURL    string
	Status      VideoStatus
	Scores      *Scores
	ResultsURL  string
	JobID       string
	CreatedAt   time.Time
	EvaluatedAt *time.Time
	// FailedAt は評価が失敗として確定した時刻。statusはprocessingのまま残る。
	FailedAt *time.Time
}

// EvaluationFailed は評価が失敗として確定しているかを返す。
func (v *Video) EvaluationFailed() bool {
	return v.Status == VideoStatusProcessing && v.FailedAt != nil
}

// EvaluationState は外部評価サービス上のジョブ状態を表す。
type EvaluationState string

const (
	EvaluationPending   EvaluationState = "pending"
	EvaluationRunning   EvaluationState = "running"
	EvaluationCompleted EvaluationState = "completed"
	EvaluationFailed    EvaluationState = "failed"
)

// EvaluationResult は評価サービスから受け取ったジョブ結果を表す。
type EvaluationResult struct {
	JobID      string
	State      EvaluationState
	Scores     *Scores
	ResultsURL string
}
