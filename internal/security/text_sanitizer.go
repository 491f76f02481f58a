package security

import (
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// TextSanitizer はチャットのメッセージや表示名からHTMLを取り除く。
// 出力はHTMLエスケープ済みのプレーンテキストで、前後の空白を除去する。
type TextSanitizer struct {
	policy *bluemonday.Policy
}

// NewTextSanitizer はタグを一切許可しないTextSanitizerを生成する。
// script、styleなどの要素は中身ごと除去される。
func NewTextSanitizer() *TextSanitizer {
	return &TextSanitizer{policy: bluemonday.StrictPolicy()}
}

// Sanitize は入力からタグを除去する。同一入力に対して常に同一出力を返す。
func (s *TextSanitizer) Sanitize(raw string) string {
	return strings.TrimSpace(s.policy.Sanitize(raw))
}
