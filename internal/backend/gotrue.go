package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/hitoshi/ebridge/internal/model"
)

// AuthAPI はGoTrue互換の認証APIクライアント。
// セッションを保持しないステートレスなクライアントで、全Webセッションで共有される。
type AuthAPI struct {
	baseURL    string
	anonKey    string
	httpClient *http.Client
}

// NewAuthAPI はAuthAPIを生成する。baseURLにはバックエンドのルートURLを指定する。
func NewAuthAPI(baseURL, anonKey string, httpClient *http.Client) *AuthAPI {
	return &AuthAPI{
		baseURL:    baseURL + "/auth/v1",
		anonKey:    anonKey,
		httpClient: httpClient,
	}
}

// gotrueUser はGoTrueのユーザーオブジェクト。
type gotrueUser struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	AppMetadata struct {
		Provider string `json:"provider"`
	} `json:"app_metadata"`
	UserMetadata map[string]any `json:"user_metadata"`
	CreatedAt    time.Time      `json:"created_at"`
}

func (u *gotrueUser) identity() model.Identity {
	return model.Identity{
		ID:           u.ID,
		Email:        u.Email,
		Provider:     u.AppMetadata.Provider,
		UserMetadata: u.UserMetadata,
		CreatedAt:    u.CreatedAt,
	}
}

// TokenResponse はトークンエンドポイントのレスポンス。
// サインアップでメール確認が必要な場合はユーザーオブジェクトのみが返る。
type TokenResponse struct {
	AccessToken  string     `json:"access_token"`
	TokenType    string     `json:"token_type"`
	ExpiresIn    int64      `json:"expires_in"`
	ExpiresAt    int64      `json:"expires_at"`
	RefreshToken string     `json:"refresh_token"`
	User         gotrueUser `json:"user"`

	// サインアップ時、ユーザーオブジェクトがトップレベルで返る場合のフィールド。
	ID           string         `json:"id"`
	Email        string         `json:"email"`
	UserMetadata map[string]any `json:"user_metadata"`
}

// SignUpParams はサインアップの入力値。
type SignUpParams struct {
	Email    string
	Password string
	FullName string
}

// PasswordGrant はメールアドレスとパスワードでトークンを取得する。
func (a *AuthAPI) PasswordGrant(ctx context.Context, email, password string) (*TokenResponse, error) {
	body := map[string]string{"email": email, "password": password}
	return a.token(ctx, "password", body)
}

// RefreshGrant はリフレッシュトークンで新しいトークンを取得する。
func (a *AuthAPI) RefreshGrant(ctx context.Context, refreshToken string) (*TokenResponse, error) {
	body := map[string]string{"refresh_token": refreshToken}
	return a.token(ctx, "refresh_token", body)
}

// PKCEGrant はOAuth認可コードとcode_verifierでトークンを取得する。
func (a *AuthAPI) PKCEGrant(ctx context.Context, authCode, codeVerifier string) (*TokenResponse, error) {
	body := map[string]string{"auth_code": authCode, "code_verifier": codeVerifier}
	return a.token(ctx, "pkce", body)
}

// SignUp はユーザーを登録する。full_nameはユーザーメタデータとして渡す。
func (a *AuthAPI) SignUp(ctx context.Context, params SignUpParams) (*TokenResponse, error) {
	body := map[string]any{
		"email":    params.Email,
		"password": params.Password,
		"data":     map[string]string{"full_name": params.FullName},
	}
	var resp TokenResponse
	if err := a.do(ctx, http.MethodPost, a.baseURL+"/signup", "", body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Logout はアクセストークンに紐づくセッションを無効化する。
func (a *AuthAPI) Logout(ctx context.Context, accessToken string) error {
	return a.do(ctx, http.MethodPost, a.baseURL+"/logout", accessToken, nil, nil)
}

// GetUser はアクセストークンの所有ユーザーを取得する。
func (a *AuthAPI) GetUser(ctx context.Context, accessToken string) (*model.Identity, error) {
	var u gotrueUser
	if err := a.do(ctx, http.MethodGet, a.baseURL+"/user", accessToken, nil, &u); err != nil {
		return nil, err
	}
	identity := u.identity()
	return &identity, nil
}

// Health は認証APIの疎通を確認する。
func (a *AuthAPI) Health(ctx context.Context) error {
	return a.do(ctx, http.MethodGet, a.baseURL+"/health", "", nil, nil)
}

// AuthorizeURL は外部IdPでのログインを開始するURLを生成する。
func (a *AuthAPI) AuthorizeURL(provider, redirectTo, codeChallenge string) string {
	params := url.Values{
		"provider":              {provider},
		"redirect_to":           {redirectTo},
		"code_challenge":        {codeChallenge},
		"code_challenge_method": {"s256"},
	}
	return a.baseURL + "/authorize?" + params.Encode()
}

// token はトークンエンドポイントを呼び出す。
func (a *AuthAPI) token(ctx context.Context, grantType string, body any) (*TokenResponse, error) {
	var resp TokenResponse
	endpoint := a.baseURL + "/token?grant_type=" + url.QueryEscape(grantType)
	if err := a.do(ctx, http.MethodPost, endpoint, "", body, &resp); err != nil {
		return nil, err
	}
	if resp.AccessToken == "" {
		return nil, fmt.Errorf("empty access token in %s grant response", grantType)
	}
	return &resp, nil
}

// do は認証APIへのリクエストを送信する。2xx以外のレスポンスは *AuthError として返す。
func (a *AuthAPI) do(ctx context.Context, method, endpoint, accessToken string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode auth request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("failed to create auth request: %w", err)
	}
	req.Header.Set("apikey", a.anonKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("auth request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read auth response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return parseAuthError(resp.StatusCode, respBody)
	}

	if out == nil || len(bytes.TrimSpace(respBody)) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to parse auth response: %w", err)
	}
	return nil
}
