// Package backend はSupabase互換バックエンド（GoTrue認証API、PostgRESTのprofilesテーブル）の
// HTTPクライアントを提供する。Webセッションごとに Client を生成し、
// バックエンドセッションの永続化と認証イベントの通知を担う。
package backend

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrCodeVerifierNotFound はOAuthコード交換時にPKCEのcode_verifierが保存されていない場合のエラー。
var ErrCodeVerifierNotFound = errors.New("PKCE code verifier not found in storage")

// AuthError は認証APIが返したエラー。Messageはバックエンドの文言を加工せずに保持する。
type AuthError struct {
	Status  int
	Code    string
	Message string
}

// Error はバックエンドのメッセージをそのまま返す。
func (e *AuthError) Error() string {
	return e.Message
}

// gotrueErrorBody はGoTrueのエラーレスポンス。
// バージョンによりmsg/error_code形式とerror/error_description形式が混在する。
type gotrueErrorBody struct {
	Code             any    `json:"code"`
	ErrorCode        string `json:"error_code"`
	Msg              string `json:"msg"`
	Message          string `json:"message"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

// parseAuthError はエラーレスポンスのボディからAuthErrorを組み立てる。
func parseAuthError(status int, body []byte) *AuthError {
	authErr := &AuthError{Status: status}

	var b gotrueErrorBody
	if err := json.Unmarshal(body, &b); err == nil {
		authErr.Code = firstNonEmpty(b.ErrorCode, b.Error)
		if authErr.Code == "" {
			if s, ok := b.Code.(string); ok {
				authErr.Code = s
			}
		}
		authErr.Message = firstNonEmpty(b.Msg, b.Message, b.ErrorDescription, b.Error)
	}

	if authErr.Message == "" {
		text := strings.TrimSpace(string(body))
		if text == "" {
			text = http.StatusText(status)
		}
		authErr.Message = text
	}
	return authErr
}

// RestError はPostgRESTが返したエラー。
type RestError struct {
	Status  int
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details"`
	Hint    string `json:"hint"`
}

// Error はerrorインターフェースを実装する。
func (e *RestError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("postgrest error %d (%s): %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("postgrest error %d: %s", e.Status, e.Message)
}

// codeNoRows は単一行取得で該当行が0件（または複数件）だった場合のPostgRESTエラーコード。
const codeNoRows = "PGRST116"

// parseRestError はエラーレスポンスのボディからRestErrorを組み立てる。
func parseRestError(status int, body []byte) *RestError {
	restErr := &RestError{}
	if err := json.Unmarshal(body, restErr); err != nil || restErr.Message == "" {
		restErr.Message = strings.TrimSpace(string(body))
	}
	restErr.Status = status
	return restErr
}

// IsNoRows はerrが単一行取得の0件エラーかを判定する。
func IsNoRows(err error) bool {
	var restErr *RestError
	return errors.As(err, &restErr) && restErr.Code == codeNoRows
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
