package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/hitoshi/ebridge/internal/model"
)

// TokenSource はPostgRESTへのリクエストに付与するアクセストークンを提供する。
// 空文字列を返した場合は匿名キーで問い合わせる。
type TokenSource interface {
	AccessToken(ctx context.Context) (string, error)
}

// RestAPI はPostgREST互換のデータAPIの接続情報。
type RestAPI struct {
	baseURL    string
	anonKey    string
	httpClient *http.Client
}

// NewRestAPI はRestAPIを生成する。baseURLにはバックエンドのルートURLを指定する。
func NewRestAPI(baseURL, anonKey string, httpClient *http.Client) *RestAPI {
	return &RestAPI{
		baseURL:    baseURL + "/rest/v1",
		anonKey:    anonKey,
		httpClient: httpClient,
	}
}

// ProfileStore はprofilesテーブルへのアクセスを提供する。
// リクエストはTokenSourceが返すアクセストークンの権限で実行される。
type ProfileStore struct {
	api    *RestAPI
	tokens TokenSource
}

// NewProfileStore はProfileStoreを生成する。
func NewProfileStore(api *RestAPI, tokens TokenSource) *ProfileStore {
	return &ProfileStore{api: api, tokens: tokens}
}

// profileInsert はprofilesテーブルへの挿入行。created_atはデータベース側で採番する。
type profileInsert struct {
	ID        string          `json:"id"`
	FullName  *string         `json:"full_name"`
	AvatarURL *string         `json:"avatar_url"`
	Phone     *string         `json:"phone"`
	KYCStatus model.KYCStatus `json:"kyc_status"`
	Role      model.Role      `json:"role"`
}

// FindByID は指定IDのプロフィールを取得する。見つからない場合はnilを返す。
func (s *ProfileStore) FindByID(ctx context.Context, id string) (*model.Profile, error) {
	params := url.Values{
		"id":     {"eq." + id},
		"select": {"*"},
	}
	header := http.Header{"Accept": {"application/vnd.pgrst.object+json"}}

	var profile model.Profile
	err := s.do(ctx, http.MethodGet, "/profiles?"+params.Encode(), header, nil, &profile)
	if IsNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find profile: %w", err)
	}
	return &profile, nil
}

// Upsert はプロフィールを冪等に作成する。
// 同一IDの行が既に存在する場合は挿入を無視し、既存の行を再取得して返す。
func (s *ProfileStore) Upsert(ctx context.Context, profile *model.Profile) (*model.Profile, error) {
	row := profileInsert{
		ID:        profile.ID,
		FullName:  profile.FullName,
		AvatarURL: profile.AvatarURL,
		Phone:     profile.Phone,
		KYCStatus: profile.KYCStatus,
		Role:      profile.Role,
	}
	header := http.Header{"Prefer": {"resolution=ignore-duplicates,return=representation"}}

	var rows []model.Profile
	if err := s.do(ctx, http.MethodPost, "/profiles?on_conflict=id", header, row, &rows); err != nil {
		return nil, fmt.Errorf("failed to upsert profile: %w", err)
	}
	if len(rows) > 0 {
		return &rows[0], nil
	}

	// 挿入が無視された場合は競合した既存行を採用する
	existing, err := s.FindByID(ctx, profile.ID)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, errors.New("profile upsert returned no row")
	}
	return existing, nil
}

// List は全プロフィールを作成日時の降順で返す。閲覧範囲はバックエンドの行レベル権限に従う。
func (s *ProfileStore) List(ctx context.Context) ([]*model.Profile, error) {
	params := url.Values{
		"select": {"*"},
		"order":  {"created_at.desc"},
	}
	var rows []*model.Profile
	if err := s.do(ctx, http.MethodGet, "/profiles?"+params.Encode(), nil, nil, &rows); err != nil {
		return nil, fmt.Errorf("failed to list profiles: %w", err)
	}
	return rows, nil
}

// do はPostgRESTへのリクエストを送信する。2xx以外のレスポンスは *RestError として返す。
func (s *ProfileStore) do(ctx context.Context, method, path string, header http.Header, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.api.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("apikey", s.api.anonKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range header {
		req.Header[k] = v
	}

	bearer := s.api.anonKey
	if s.tokens != nil {
		token, err := s.tokens.AccessToken(ctx)
		if err != nil {
			return fmt.Errorf("failed to get access token: %w", err)
		}
		if token != "" {
			bearer = token
		}
	}
	req.Header.Set("Authorization", "Bearer "+bearer)

	resp, err := s.api.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return parseRestError(resp.StatusCode, respBody)
	}

	if out == nil || len(bytes.TrimSpace(respBody)) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}
