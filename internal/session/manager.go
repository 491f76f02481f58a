// Package session はWebセッション（ブラウザコンテキスト）ごとの実行時状態を管理する。
// 実行時状態はバックエンドクライアント、Bootstrap、ナビゲーション状態、
// 表示用ワークスペースからなり、一定時間アクセスがなければ破棄される。
package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/ebridge/internal/backend"
	"github.com/hitoshi/ebridge/internal/bootstrap"
	"github.com/hitoshi/ebridge/internal/demo"
	"github.com/hitoshi/ebridge/internal/navigation"
	"github.com/hitoshi/ebridge/internal/profile"
)

const (
	idBytes            = 32
	defaultIdleTimeout = 30 * time.Minute
	defaultMaxRuntimes = 10000
	minSweepInterval   = time.Second
)

// NewID はWebセッションIDとして256bitのランダム値を16進文字列で返す。
func NewID() (string, error) {
	b := make([]byte, idBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate session id: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// ClientFactory はWebセッションIDに対応するバックエンドクライアントを生成する。
// backend.Serviceが実装する。
type ClientFactory interface {
	NewClient(key string) *backend.Client
}

// Recorder は認証イベントとプロフィール解決の結果、実行時状態の数を記録する。
type Recorder interface {
	RecordAuthEvent(event string)
	RecordProfileResolution(outcome string)
	SetActiveRuntimes(n int)
}

// Runtime はWebセッション1つ分の実行時状態。
type Runtime struct {
	ID         string
	Client     *backend.Client
	Bootstrap  *bootstrap.Bootstrap
	Navigation *navigation.State

	mu             sync.Mutex
	workspace      *demo.Workspace
	workspaceOwner string
}

// Workspace はuserIDの書類と提案の状態を返す。
// 同じブラウザで別の利用者がサインインした場合は初期状態から作り直す。
func (rt *Runtime) Workspace(userID string) *demo.Workspace {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if rt.workspace == nil || rt.workspaceOwner != userID {
		rt.workspace = demo.NewWorkspace()
		rt.workspaceOwner = userID
	}
	return rt.workspace
}

type entry struct {
	runtime  *Runtime
	lastSeen time.Time
}

// Manager はWebセッションIDから実行時状態を引く。
type Manager struct {
	clients     ClientFactory
	defaults    *profile.Defaults
	recorder    Recorder
	logger      *slog.Logger
	idleTimeout time.Duration
	maxRuntimes int

	// baseCtx はBootstrapのバックグラウンド処理に渡す。リクエストのコンテキストとは独立させる。
	baseCtx context.Context
	cancel  context.CancelFunc

	mu       sync.Mutex
	runtimes map[string]*entry
	closed   bool
	now      func() time.Time
}

// Option はManagerの設定を変更する。
type Option func(*Manager)

// WithIdleTimeout は実行時状態を破棄するまでの無操作時間を設定する。
func WithIdleTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.idleTimeout = d
		}
	}
}

// WithMaxRuntimes は同時に保持する実行時状態の上限を設定する。
// 上限に達すると最も長く使われていないものから破棄する。
func WithMaxRuntimes(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.maxRuntimes = n
		}
	}
}

// WithRecorder はメトリクスの記録先を設定する。
func WithRecorder(r Recorder) Option {
	return func(m *Manager) { m.recorder = r }
}

// WithLogger はロガーを設定する。
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// NewManager はManagerを生成する。defaultsがnilの場合は組み込みの予約表を使う。
func NewManager(clients ClientFactory, defaults *profile.Defaults, opts ...Option) *Manager {
	if defaults == nil {
		defaults = profile.BuiltinDefaults()
	}
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		clients:     clients,
		defaults:    defaults,
		logger:      slog.Default(),
		idleTimeout: defaultIdleTimeout,
		maxRuntimes: defaultMaxRuntimes,
		baseCtx:     ctx,
		cancel:      cancel,
		runtimes:    make(map[string]*entry),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Defaults は予約済みIdentity表を返す。
func (m *Manager) Defaults() *profile.Defaults {
	return m.defaults
}

// Lookup は既に存在する実行時状態だけを返す。新しく生成はしない。
func (m *Manager) Lookup(id string) (*Runtime, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.runtimes[id]
	if !ok || m.closed {
		return nil, false
	}
	e.lastSeen = m.now()
	return e.runtime, true
}

// Get はWebセッションIDに対応する実行時状態を返す。存在しない場合は生成して初期化を開始する。
// 生成直後のナビゲーション状態はdashboard。
func (m *Manager) Get(id string) (*Runtime, error) {
	if id == "" {
		return nil, fmt.Errorf("session id is empty")
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, fmt.Errorf("session manager is closed")
	}
	if e, ok := m.runtimes[id]; ok {
		e.lastSeen = m.now()
		m.mu.Unlock()
		return e.runtime, nil
	}

	var evicted *Runtime
	if len(m.runtimes) >= m.maxRuntimes {
		evicted = m.evictOldestLocked()
	}
	rt := m.newRuntime(id)
	m.runtimes[id] = &entry{runtime: rt, lastSeen: m.now()}
	m.reportLocked()
	m.mu.Unlock()

	if evicted != nil {
		evicted.Bootstrap.Stop()
		m.logger.Warn("session runtime limit reached, evicted least recently used",
			slog.String("session_id", shortID(evicted.ID)),
			slog.Int("max_runtimes", m.maxRuntimes),
		)
	}
	m.logger.Debug("session runtime created", slog.String("session_id", shortID(id)))
	return rt, nil
}

// evictOldestLocked はlastSeenが最も古い実行時状態をmapから外して返す。
func (m *Manager) evictOldestLocked() *Runtime {
	var oldestID string
	var oldest *entry
	for id, e := range m.runtimes {
		if oldest == nil || e.lastSeen.Before(oldest.lastSeen) {
			oldestID, oldest = id, e
		}
	}
	if oldest == nil {
		return nil
	}
	delete(m.runtimes, oldestID)
	return oldest.runtime
}

func (m *Manager) newRuntime(id string) *Runtime {
	client := m.clients.NewClient(id)

	var profileRecorder profile.Recorder
	var eventRecorder bootstrap.EventRecorder
	if m.recorder != nil {
		profileRecorder = m.recorder
		eventRecorder = m.recorder
	}

	resolver := profile.NewResolver(client.Profiles(), m.defaults, profileRecorder)
	b := bootstrap.New(client, resolver, eventRecorder, m.logger.With(slog.String("session_id", shortID(id))))
	b.Start(m.baseCtx)

	return &Runtime{
		ID:         id,
		Client:     client,
		Bootstrap:  b,
		Navigation: navigation.New(),
	}
}

// Remove は実行時状態を停止して破棄する。存在しない場合は何もしない。
func (m *Manager) Remove(id string) {
	m.mu.Lock()
	e, ok := m.runtimes[id]
	if ok {
		delete(m.runtimes, id)
		m.reportLocked()
	}
	m.mu.Unlock()

	if ok {
		e.runtime.Bootstrap.Stop()
	}
}

// Len は保持している実行時状態の数を返す。
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.runtimes)
}

// Sweep は無操作時間がidleTimeoutを超えた実行時状態を破棄し、破棄した数を返す。
func (m *Manager) Sweep() int {
	now := m.now()

	m.mu.Lock()
	var expired []*Runtime
	for id, e := range m.runtimes {
		if now.Sub(e.lastSeen) > m.idleTimeout {
			expired = append(expired, e.runtime)
			delete(m.runtimes, id)
		}
	}
	if len(expired) > 0 {
		m.reportLocked()
	}
	m.mu.Unlock()

	for _, rt := range expired {
		rt.Bootstrap.Stop()
	}
	if len(expired) > 0 {
		m.logger.Info("idle session runtimes evicted", slog.Int("count", len(expired)))
	}
	return len(expired)
}

// Run はctxがキャンセルされるまで定期的にSweepを実行し、終了時に全ての実行時状態を停止する。
func (m *Manager) Run(ctx context.Context) {
	interval := m.idleTimeout / 2
	if interval < minSweepInterval {
		interval = minSweepInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.Close()
			return
		case <-ticker.C:
			m.Sweep()
		}
	}
}

// Close は全ての実行時状態を停止する。以降のGetはエラーを返す。
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	runtimes := make([]*Runtime, 0, len(m.runtimes))
	for _, e := range m.runtimes {
		runtimes = append(runtimes, e.runtime)
	}
	m.runtimes = make(map[string]*entry)
	m.reportLocked()
	m.mu.Unlock()

	m.cancel()
	for _, rt := range runtimes {
		rt.Bootstrap.Stop()
	}
}

func (m *Manager) reportLocked() {
	if m.recorder != nil {
		m.recorder.SetActiveRuntimes(len(m.runtimes))
	}
}

// shortID はログ出力用にセッションIDの先頭8文字を返す。
func shortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}
