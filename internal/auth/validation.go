package auth

import (
	"regexp"
	"unicode/utf8"

	"github.com/hitoshi/pitchcheck/internal/model"
)

// MinPasswordLength はパスワードの最小文字数。
const MinPasswordLength = 6

var emailPattern = regexp.MustCompile(`\S+@\S+\.\S+`)

// ValidateSignUp はサインアップの入力を検証する。
// 検証は外部呼び出しより前に行い、失敗時はValidationErrorを返す。
func ValidateSignUp(email, password string) error {
	if !emailPattern.MatchString(email) {
		return model.NewInvalidEmailError()
	}
	if utf8.RuneCountInString(password) < MinPasswordLength {
		return model.NewWeakPasswordError()
	}
	return nil
}
