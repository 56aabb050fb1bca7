// Package security はアプリケーションのセキュリティ機能を提供する。
//
// TitleSanitizer はユーザーが入力した動画タイトルからHTMLを取り除き、
// 保存・表示に使うプレーンテキストに正規化する。
package security

import (
	"html"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
)

// MaxTitleLength は動画タイトルの最大文字数（rune数）。
const MaxTitleLength = 200

// TitleSanitizer は動画タイトルをプレーンテキストに正規化する。
// bluemondayのStrictPolicyで全てのタグを除去した後、
// エンティティを戻して連続する空白を1つにまとめる。
type TitleSanitizer struct {
	policy *bluemonday.Policy
}

// NewTitleSanitizer はTitleSanitizerを生成する。
func NewTitleSanitizer() *TitleSanitizer {
	return &TitleSanitizer{policy: bluemonday.StrictPolicy()}
}

// Sanitize はタイトルからタグを取り除いたプレーンテキストを返す。
// 表示時はhtml/templateがエスケープするため、ここではエンティティを元に戻す。
// 同一入力に対して常に同一出力を返す。
func (s *TitleSanitizer) Sanitize(raw string) string {
	stripped := html.UnescapeString(s.policy.Sanitize(raw))
	return strings.Join(strings.Fields(stripped), " ")
}

// TitleTooLong はタイトルが最大文字数を超えているかを返す。
func TitleTooLong(title string) bool {
	return utf8.RuneCountInString(title) > MaxTitleLength
}
