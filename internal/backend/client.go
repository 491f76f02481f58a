package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/hitoshi/ebridge/internal/model"
)

// デフォルト設定値
const (
	defaultTimeout       = 10 * time.Second
	defaultRefreshLeeway = 30 * time.Second
)

// Config はバックエンド接続設定。
type Config struct {
	URL     string
	AnonKey string
	Timeout time.Duration
	// JWTSecret が設定されている場合、アクセストークンの署名を検証する。
	JWTSecret string
	// RefreshLeeway はアクセストークンの期限切れ前にリフレッシュを行う猶予。
	RefreshLeeway time.Duration
}

// Service は全Webセッションで共有するバックエンド接続。
// Webセッションごとの Client を生成する。
type Service struct {
	auth     *AuthAPI
	rest     *RestAPI
	storage  SessionStorage
	verifier *tokenVerifier
	leeway   time.Duration
	now      func() time.Time
}

// NewService はServiceを生成する。
func NewService(cfg Config, storage SessionStorage) *Service {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	leeway := cfg.RefreshLeeway
	if leeway <= 0 {
		leeway = defaultRefreshLeeway
	}
	httpClient := &http.Client{Timeout: timeout}
	return &Service{
		auth:     NewAuthAPI(cfg.URL, cfg.AnonKey, httpClient),
		rest:     NewRestAPI(cfg.URL, cfg.AnonKey, httpClient),
		storage:  storage,
		verifier: newTokenVerifier(cfg.JWTSecret),
		leeway:   leeway,
		now:      time.Now,
	}
}

// Health はバックエンドの認証APIの疎通を確認する。
func (s *Service) Health(ctx context.Context) error {
	return s.auth.Health(ctx)
}

// NewClient は指定キー（WebセッションID）のセッションを扱うClientを生成する。
func (s *Service) NewClient(key string) *Client {
	c := &Client{
		svc:     s,
		key:     key,
		emitter: newEmitter(),
	}
	c.profiles = NewProfileStore(s.rest, c)
	return c
}

// Client はWebセッション1つ分のバックエンドクライアント。
// バックエンドセッションを所有して永続化し、変化を認証イベントとして通知する。
type Client struct {
	svc      *Service
	key      string
	emitter  *emitter
	profiles *ProfileStore

	mu      sync.Mutex
	loaded  bool
	session *model.AuthSession

	// refreshMu はリフレッシュ処理を直列化する。
	refreshMu sync.Mutex
}

// Key はクライアントが扱うストレージキーを返す。
func (c *Client) Key() string {
	return c.key
}

// Profiles はこのクライアントのセッション権限でprofilesテーブルにアクセスするストアを返す。
func (c *Client) Profiles() *ProfileStore {
	return c.profiles
}

// OnAuthStateChange は認証イベントのリスナーを登録し、登録解除関数を返す。
// リスナーはイベント発生元のゴルーチンで同期的に呼び出される。
func (c *Client) OnAuthStateChange(fn func(model.AuthEvent)) func() {
	return c.emitter.subscribe(fn)
}

// GetSession は現在のセッションを返す。セッションがない場合はnilを返す。
// 初回呼び出し時にストレージから復元し、期限切れ間近であればリフレッシュする。
func (c *Client) GetSession(ctx context.Context) (*model.AuthSession, error) {
	current, err := c.currentSession(ctx)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, nil
	}
	if !current.Expired(c.svc.now(), c.svc.leeway) {
		return current, nil
	}
	return c.refresh(ctx, current)
}

// AccessToken はTokenSourceを実装する。セッションがない場合は空文字列を返す。
func (c *Client) AccessToken(ctx context.Context) (string, error) {
	s, err := c.GetSession(ctx)
	if err != nil {
		return "", err
	}
	if s == nil {
		return "", nil
	}
	return s.AccessToken, nil
}

// SignInWithPassword はメールアドレスとパスワードでサインインする。
// 成功時はセッションを保存してSIGNED_INを通知する。失敗時は *AuthError を返し、状態を変更しない。
func (c *Client) SignInWithPassword(ctx context.Context, email, password string) (*model.AuthSession, error) {
	resp, err := c.svc.auth.PasswordGrant(ctx, email, password)
	if err != nil {
		return nil, err
	}
	return c.establish(ctx, resp, model.AuthEventSignedIn)
}

// SignUp はユーザーを登録する。メール確認が不要な設定の場合はそのままサインインし、
// SIGNED_INを通知する。確認待ちの場合はnilセッションを返す。
func (c *Client) SignUp(ctx context.Context, params SignUpParams) (*model.AuthSession, error) {
	resp, err := c.svc.auth.SignUp(ctx, params)
	if err != nil {
		return nil, err
	}
	if resp.AccessToken == "" {
		return nil, nil
	}
	return c.establish(ctx, resp, model.AuthEventSignedIn)
}

// SignInWithOAuth は外部IdPでのログインを開始するURLを返す。
// PKCEのcode_verifierはストレージに保存し、ExchangeCodeForSessionで使用する。
func (c *Client) SignInWithOAuth(ctx context.Context, provider, redirectTo string) (string, error) {
	verifier, err := newCodeVerifier()
	if err != nil {
		return "", err
	}
	if err := c.svc.storage.SetItem(ctx, c.key+codeVerifierSuffix, []byte(verifier)); err != nil {
		return "", fmt.Errorf("failed to store code verifier: %w", err)
	}
	return c.svc.auth.AuthorizeURL(provider, redirectTo, codeChallenge(verifier)), nil
}

// ExchangeCodeForSession はOAuthの認可コードをセッションに交換する。
// 成功時はセッションを保存してSIGNED_INを通知する。
func (c *Client) ExchangeCodeForSession(ctx context.Context, authCode string) (*model.AuthSession, error) {
	verifierKey := c.key + codeVerifierSuffix
	verifier, err := c.svc.storage.GetItem(ctx, verifierKey)
	if err != nil {
		return nil, fmt.Errorf("failed to load code verifier: %w", err)
	}
	if len(verifier) == 0 {
		return nil, &AuthError{
			Status:  http.StatusBadRequest,
			Code:    "flow_state_not_found",
			Message: ErrCodeVerifierNotFound.Error(),
		}
	}

	resp, err := c.svc.auth.PKCEGrant(ctx, authCode, string(verifier))
	if err != nil {
		return nil, err
	}
	if err := c.svc.storage.RemoveItem(ctx, verifierKey); err != nil {
		slog.Warn("failed to remove code verifier",
			slog.String("error", err.Error()),
		)
	}
	return c.establish(ctx, resp, model.AuthEventSignedIn)
}

// SignOut はサインアウトする。バックエンド側でセッションが既に無効な場合も
// ローカルのセッションを破棄してSIGNED_OUTを通知する。
func (c *Client) SignOut(ctx context.Context) error {
	current, err := c.currentSession(ctx)
	if err != nil {
		return err
	}

	if current != nil {
		if err := c.svc.auth.Logout(ctx, current.AccessToken); err != nil {
			var authErr *AuthError
			if !errors.As(err, &authErr) || !ignorableLogoutStatus(authErr.Status) {
				return err
			}
		}
	}

	if err := c.clear(ctx); err != nil {
		return err
	}
	c.emitter.emit(model.AuthEvent{Type: model.AuthEventSignedOut})
	return nil
}

// ignorableLogoutStatus はログアウト時に無視してよいステータスかを判定する。
// セッションが既に失効している場合に返るステータス。
func ignorableLogoutStatus(status int) bool {
	return status == http.StatusUnauthorized ||
		status == http.StatusForbidden ||
		status == http.StatusNotFound
}

// currentSession はメモリ上のセッションを返す。未読込の場合はストレージから復元する。
func (c *Client) currentSession(ctx context.Context) (*model.AuthSession, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.loaded {
		s, err := c.load(ctx)
		if err != nil {
			return nil, err
		}
		c.session = s
		c.loaded = true
	}
	return c.session.Clone(), nil
}

// load はストレージからセッションを復元する。
// 検証に失敗したセッションは破棄し、セッションなしとして扱う。
func (c *Client) load(ctx context.Context) (*model.AuthSession, error) {
	data, err := c.svc.storage.GetItem(ctx, c.key)
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	if len(data) == 0 {
		return nil, nil
	}

	var s model.AuthSession
	if err := json.Unmarshal(data, &s); err != nil || s.AccessToken == "" {
		slog.Warn("discarding unreadable stored session")
		return nil, c.svc.storage.RemoveItem(ctx, c.key)
	}
	if err := c.svc.verifier.verifySession(&s); err != nil {
		slog.Warn("discarding stored session with invalid access token",
			slog.String("error", err.Error()),
		)
		return nil, c.svc.storage.RemoveItem(ctx, c.key)
	}
	return &s, nil
}

// refresh は期限切れ間近のセッションをリフレッシュする。
// 成功時はTOKEN_REFRESHEDを通知する。バックエンドがリフレッシュを拒否した場合は
// セッションを破棄してSIGNED_OUTを通知する。
func (c *Client) refresh(ctx context.Context, stale *model.AuthSession) (*model.AuthSession, error) {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	// 待機中に他のゴルーチンがリフレッシュ済みであればそれを使う
	c.mu.Lock()
	current := c.session.Clone()
	c.mu.Unlock()
	if current == nil {
		return nil, nil
	}
	if current.RefreshToken != stale.RefreshToken && !current.Expired(c.svc.now(), c.svc.leeway) {
		return current, nil
	}

	resp, err := c.svc.auth.RefreshGrant(ctx, current.RefreshToken)
	if err != nil {
		var authErr *AuthError
		if errors.As(err, &authErr) {
			if clearErr := c.clear(ctx); clearErr != nil {
				slog.Error("failed to clear rejected session",
					slog.String("error", clearErr.Error()),
				)
			}
			c.emitter.emit(model.AuthEvent{Type: model.AuthEventSignedOut})
		}
		return nil, fmt.Errorf("failed to refresh session: %w", err)
	}
	return c.establish(ctx, resp, model.AuthEventTokenRefreshed)
}

// establish はトークンレスポンスからセッションを確立・保存し、イベントを通知する。
func (c *Client) establish(ctx context.Context, resp *TokenResponse, eventType model.AuthEventType) (*model.AuthSession, error) {
	s, err := c.svc.verifier.sessionFromToken(resp, c.svc.now())
	if err != nil {
		return nil, err
	}

	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("failed to encode session: %w", err)
	}
	if err := c.svc.storage.SetItem(ctx, c.key, data); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}

	c.mu.Lock()
	c.session = s.Clone()
	c.loaded = true
	c.mu.Unlock()

	c.emitter.emit(model.AuthEvent{Type: eventType, Session: s})
	return s.Clone(), nil
}

// clear はメモリ上と永続化済みのセッションを破棄する。
func (c *Client) clear(ctx context.Context) error {
	c.mu.Lock()
	c.session = nil
	c.loaded = true
	c.mu.Unlock()

	if err := c.svc.storage.RemoveItem(ctx, c.key); err != nil {
		return fmt.Errorf("failed to remove session: %w", err)
	}
	return nil
}
