package model

import (
	"errors"
	"fmt"
)

// APIError は統一エラーフォーマットを表す。
// UIに表示するメッセージ、原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // ユーザーに表示するメッセージ
	Category string // カテゴリ: validation, credential, configuration, system, auth, video
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// エラーカテゴリ
const (
	CategoryValidation    = "validation"
	CategoryCredential    = "credential"
	CategoryConfiguration = "configuration"
	CategorySystem        = "system"
	CategoryAuth          = "auth"
	CategoryVideo         = "video"
)

// 定義済みエラーコード
const (
	ErrCodeInvalidEmail       = "INVALID_EMAIL"
	ErrCodeWeakPassword       = "WEAK_PASSWORD"
	ErrCodeInvalidInput       = "INVALID_INPUT"
	ErrCodeCredential         = "CREDENTIAL_ERROR"
	ErrCodeEmailNotConfirmed  = "EMAIL_NOT_CONFIRMED"
	ErrCodeConfiguration      = "CONFIGURATION_ERROR"
	ErrCodeInternal           = "INTERNAL_ERROR"
	ErrCodeUnauthorized       = "UNAUTHORIZED"
	ErrCodeCSRF               = "CSRF_INVALID"
	ErrCodeUserNotFound       = "USER_NOT_FOUND"
	ErrCodeVideoNotFound      = "VIDEO_NOT_FOUND"
	ErrCodeInvalidVideo       = "INVALID_VIDEO"
	ErrCodeVideoTooLarge      = "VIDEO_TOO_LARGE"
	ErrCodeUploadFailed       = "UPLOAD_FAILED"
	ErrCodeInvalidEvaluation  = "INVALID_EVALUATION"
	ErrCodeEvaluationNotFound = "EVALUATION_NOT_FOUND"
	ErrCodeResultsNotReady    = "RESULTS_NOT_READY"
)

// ConfigurationMessage は認証基盤の設定不備時にログインフォームへ表示する固定メッセージ。
const ConfigurationMessage = "Authentication service is not properly configured. Please contact support."

// EmailNotConfirmedMessage はメール未確認でログインできなかった場合の終端メッセージ。
const EmailNotConfirmedMessage = "Your email is not confirmed. Please check your inbox for a confirmation email."

// NewValidationError は入力検証エラーを生成する。外部呼び出しの前に検出される。
func NewValidationError(code, message string) *APIError {
	return &APIError{
		Code:     code,
		Message:  message,
		Category: CategoryValidation,
		Action:   "Check the input and try again.",
	}
}

// NewInvalidEmailError はメールアドレス形式エラーを生成する。
func NewInvalidEmailError() *APIError {
	return NewValidationError(ErrCodeInvalidEmail, "Please enter a valid email address")
}

// NewWeakPasswordError はパスワード長不足エラーを生成する。
func NewWeakPasswordError() *APIError {
	return NewValidationError(ErrCodeWeakPassword, "Password must be at least 6 characters long")
}

// NewCredentialError は認証基盤から返されたエラーをそのままのメッセージで包む。
func NewCredentialError(message string) *APIError {
	return &APIError{
		Code:     ErrCodeCredential,
		Message:  message,
		Category: CategoryCredential,
		Action:   "Check your email and password and try again.",
	}
}

// NewEmailNotConfirmedError はメール未確認の終端エラーを生成する。
func NewEmailNotConfirmedError() *APIError {
	return &APIError{
		Code:     ErrCodeEmailNotConfirmed,
		Message:  EmailNotConfirmedMessage,
		Category: CategoryCredential,
		Action:   "Open the confirmation link in your inbox, then log in again.",
	}
}

// NewConfigurationError は必須の外部設定が欠けている場合のエラーを生成する。
func NewConfigurationError() *APIError {
	return &APIError{
		Code:     ErrCodeConfiguration,
		Message:  ConfigurationMessage,
		Category: CategoryConfiguration,
		Action:   "Contact the administrator.",
	}
}

// NewUnexpectedError は想定外のエラーを利用者向けの汎用メッセージに変換する。
// 詳細はログにのみ記録する。
func NewUnexpectedError() *APIError {
	return &APIError{
		Code:     ErrCodeInternal,
		Message:  "An unexpected error occurred. Please try again.",
		Category: CategorySystem,
		Action:   "Wait a moment and try again.",
	}
}

// NewUnauthorizedError は有効なセッションがない場合のエラーを生成する。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "Authentication required.",
		Category: CategoryAuth,
		Action:   "Log in and try again.",
	}
}

// NewCSRFError はCSRFトークンの検証に失敗した場合のエラーを生成する。
func NewCSRFError() *APIError {
	return &APIError{
		Code:     ErrCodeCSRF,
		Message:  "CSRF token validation failed",
		Category: CategoryAuth,
		Action:   "Reload the page and try again.",
	}
}

// NewUserNotFoundError はユーザーが見つからない場合のエラーを生成する。
func NewUserNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeUserNotFound,
		Message:  "User not found",
		Category: CategoryAuth,
		Action:   "Check the email address.",
	}
}

// NewVideoNotFoundError は動画が見つからない場合のエラーを生成する。
func NewVideoNotFoundError(videoID string) *APIError {
	return &APIError{
		Code:     ErrCodeVideoNotFound,
		Message:  fmt.Sprintf("Video not found: %s", videoID),
		Category: CategoryVideo,
		Action:   "Check the video ID.",
	}
}

// NewInvalidVideoError は動画アップロードの入力エラーを生成する。
func NewInvalidVideoError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidVideo,
		Message:  reason,
		Category: CategoryValidation,
		Action:   "Select a video file and enter a title.",
	}
}

// NewVideoTooLargeError はファイルサイズ上限超過エラーを生成する。
func NewVideoTooLargeError(maxBytes int64) *APIError {
	return &APIError{
		Code:     ErrCodeVideoTooLarge,
		Message:  fmt.Sprintf("Video exceeds the maximum size of %d MB", maxBytes/(1024*1024)),
		Category: CategoryValidation,
		Action:   "Upload a smaller video.",
	}
}

// NewUploadFailedError はストレージへの保存失敗エラーを生成する。
func NewUploadFailedError(message string) *APIError {
	return &APIError{
		Code:     ErrCodeUploadFailed,
		Message:  message,
		Category: CategoryVideo,
		Action:   "Wait a moment and try the upload again.",
	}
}

// NewInvalidEvaluationError は評価結果の内容が不正な場合のエラーを生成する。
func NewInvalidEvaluationError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidEvaluation,
		Message:  fmt.Sprintf("Invalid evaluation result: %s", reason),
		Category: CategoryValidation,
		Action:   "Check the evaluation payload.",
	}
}

// NewEvaluationNotFoundError は評価ジョブに対応する動画が見つからない場合のエラーを生成する。
func NewEvaluationNotFoundError(jobID string) *APIError {
	return &APIError{
		Code:     ErrCodeEvaluationNotFound,
		Message:  fmt.Sprintf("No video is waiting for evaluation job: %s", jobID),
		Category: CategoryVideo,
		Action:   "Check the job ID.",
	}
}

// NewResultsNotReadyError は評価結果がまだ取得できない場合のエラーを生成する。
func NewResultsNotReadyError(videoID string) *APIError {
	return &APIError{
		Code:     ErrCodeResultsNotReady,
		Message:  fmt.Sprintf("Evaluation results are not available yet for video: %s", videoID),
		Category: CategoryVideo,
		Action:   "Wait for the evaluation to complete.",
	}
}

// IsCode はエラーが指定コードのAPIErrorかどうかを返す。
func IsCode(err error, code string) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == code
}
