// Package bootstrap はWebセッションごとの認証状態（セッション、Identity、プロフィール、
// 読み込み中フラグ）を管理する。状態を書き換えるのはこのパッケージのみで、
// 他のコンポーネントはスナップショットを読み取る。
package bootstrap

import (
	"context"
	"log/slog"
	"sync"

	"github.com/hitoshi/ebridge/internal/backend"
	"github.com/hitoshi/ebridge/internal/model"
)

// AuthClient はバックエンドクライアントのうちBootstrapが利用する操作。
type AuthClient interface {
	GetSession(ctx context.Context) (*model.AuthSession, error)
	OnAuthStateChange(fn func(model.AuthEvent)) (unsubscribe func())
	SignInWithPassword(ctx context.Context, email, password string) (*model.AuthSession, error)
	SignUp(ctx context.Context, params backend.SignUpParams) (*model.AuthSession, error)
	SignInWithOAuth(ctx context.Context, provider, redirectTo string) (string, error)
	ExchangeCodeForSession(ctx context.Context, authCode string) (*model.AuthSession, error)
	SignOut(ctx context.Context) error
}

// ProfileResolver はIdentityに対応するプロフィールを取得または作成する。
type ProfileResolver interface {
	Resolve(ctx context.Context, identity *model.Identity) (*model.Profile, error)
}

// EventRecorder は受信した認証イベントを記録する。
type EventRecorder interface {
	RecordAuthEvent(eventType string)
}

// State はBootstrapが公開する状態のスナップショット。
type State struct {
	Session   *model.AuthSession
	Identity  *model.Identity
	Profile   *model.Profile
	IsLoading bool
}

// Authenticated はIdentityが存在するかを返す。
func (s State) Authenticated() bool {
	return s.Identity != nil
}

// job はキューに積まれたプロフィール解決要求。
// genは要求を発生させたイベント時点の世代番号。
type job struct {
	gen      uint64
	identity *model.Identity
}

// Bootstrap はWebセッション1つ分の認証状態を管理する。
//
// 認証イベントは世代番号を進め、プロフィール解決要求を単一消費者のFIFOキューに積む。
// 古い世代の要求は実行前にスキップされ、実行中に世代が進んだ場合は結果を破棄する。
// これにより連続したサインアウト/サインインは最後のイベントの状態に収束する。
type Bootstrap struct {
	client   AuthClient
	resolver ProfileResolver
	recorder EventRecorder
	logger   *slog.Logger

	mu    sync.RWMutex
	state State
	gen   uint64

	qmu     sync.Mutex
	queue   []job
	pending int
	stopped bool
	idle    chan struct{}
	wake    chan struct{}

	loaded chan struct{}

	startOnce   sync.Once
	stopOnce    sync.Once
	cancel      context.CancelFunc
	unsubscribe func()
	wg          sync.WaitGroup
}

// New はBootstrapを生成する。recorder、loggerはnilでもよい。
// 生成直後の状態は読み込み中で、Startで初期化を開始する。
func New(client AuthClient, resolver ProfileResolver, recorder EventRecorder, logger *slog.Logger) *Bootstrap {
	if logger == nil {
		logger = slog.Default()
	}
	idle := make(chan struct{})
	close(idle)
	return &Bootstrap{
		client:   client,
		resolver: resolver,
		recorder: recorder,
		logger:   logger,
		state:    State{IsLoading: true},
		idle:     idle,
		wake:     make(chan struct{}, 1),
		loaded:   make(chan struct{}),
	}
}

// Start は認証イベントを購読し、現在のセッションの確認をバックグラウンドで開始する。
// 2回目以降の呼び出しは何もしない。
func (b *Bootstrap) Start(ctx context.Context) {
	b.startOnce.Do(func() {
		ctx, cancel := context.WithCancel(ctx)
		b.cancel = cancel
		b.unsubscribe = b.client.OnAuthStateChange(b.handleEvent)

		b.wg.Add(2)
		go func() {
			defer b.wg.Done()
			b.consume(ctx)
		}()
		go func() {
			defer b.wg.Done()
			b.initialize(ctx)
		}()
	})
}

// Stop は購読を解除し、バックグラウンド処理の終了を待つ。未処理の解決要求は破棄する。
func (b *Bootstrap) Stop() {
	b.stopOnce.Do(func() {
		if b.unsubscribe != nil {
			b.unsubscribe()
		}
		if b.cancel != nil {
			b.cancel()
		}
		b.wg.Wait()

		b.qmu.Lock()
		b.stopped = true
		b.queue = nil
		if b.pending > 0 {
			b.pending = 0
			close(b.idle)
		}
		b.qmu.Unlock()
	})
}

// Snapshot は現在の状態のコピーを返す。
func (b *Bootstrap) Snapshot() State {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return State{
		Session:   b.state.Session.Clone(),
		Identity:  b.state.Identity.Clone(),
		Profile:   b.state.Profile.Clone(),
		IsLoading: b.state.IsLoading,
	}
}

// Loaded は初回のセッション確認が完了すると閉じられるチャネルを返す。
func (b *Bootstrap) Loaded() <-chan struct{} {
	return b.loaded
}

// WaitSettled は初回のセッション確認が完了し、解決要求キューが空になるまで待つ。
func (b *Bootstrap) WaitSettled(ctx context.Context) error {
	select {
	case <-b.loaded:
	case <-ctx.Done():
		return ctx.Err()
	}

	b.qmu.Lock()
	idle := b.idle
	b.qmu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SignIn はメールアドレスとパスワードでサインインする。
// 状態はバックエンドクライアントが通知する認証イベント経由でのみ更新される。
func (b *Bootstrap) SignIn(ctx context.Context, email, password string) error {
	_, err := b.client.SignInWithPassword(ctx, email, password)
	return err
}

// SignUp はユーザーを登録する。fullNameはユーザーメタデータとして保存される。
func (b *Bootstrap) SignUp(ctx context.Context, email, password, fullName string) error {
	_, err := b.client.SignUp(ctx, backend.SignUpParams{
		Email:    email,
		Password: password,
		FullName: fullName,
	})
	return err
}

// SignInWithOAuth は外部IdPでのログインを開始するURLを返す。
func (b *Bootstrap) SignInWithOAuth(ctx context.Context, provider, redirectTo string) (string, error) {
	return b.client.SignInWithOAuth(ctx, provider, redirectTo)
}

// ExchangeOAuthCode はOAuthのコールバックで受け取った認可コードをセッションに交換する。
func (b *Bootstrap) ExchangeOAuthCode(ctx context.Context, authCode string) error {
	_, err := b.client.ExchangeCodeForSession(ctx, authCode)
	return err
}

// SignOut はサインアウトする。
func (b *Bootstrap) SignOut(ctx context.Context) error {
	return b.client.SignOut(ctx)
}

// initialize は現在のセッションを確認し、読み込み中フラグを解除する。
// 確認中に認証イベントを受信していた場合、イベント側の状態を優先する。
func (b *Bootstrap) initialize(ctx context.Context) {
	b.mu.RLock()
	startGen := b.gen
	b.mu.RUnlock()

	session, err := b.client.GetSession(ctx)
	if err != nil {
		b.logger.Warn("failed to get current session",
			slog.String("error", err.Error()),
		)
		session = nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.gen == startGen {
		b.applySessionLocked(session)
		if session != nil {
			b.enqueueLocked(job{gen: b.gen, identity: session.User.Clone()})
		}
	} else {
		b.logger.Debug("initial session superseded by auth event")
	}

	b.state.IsLoading = false
	close(b.loaded)
}

// handleEvent はバックエンドクライアントからの認証イベントを反映する。
// イベント発生元のゴルーチンで呼ばれるため、キューへの投入のみ行いブロックしない。
func (b *Bootstrap) handleEvent(event model.AuthEvent) {
	if b.recorder != nil {
		b.recorder.RecordAuthEvent(string(event.Type))
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.gen++
	session := event.Session
	if event.Type == model.AuthEventSignedOut {
		session = nil
	}
	b.applySessionLocked(session)

	b.logger.Debug("auth state changed",
		slog.String("event", string(event.Type)),
		slog.Uint64("generation", b.gen),
	)

	if session != nil {
		b.enqueueLocked(job{gen: b.gen, identity: session.User.Clone()})
	}
}

// applySessionLocked はセッションとIdentityを置き換える。
// Identityが変わった場合、またはセッションがない場合はプロフィールを破棄する。
func (b *Bootstrap) applySessionLocked(session *model.AuthSession) {
	if session == nil {
		b.state.Session = nil
		b.state.Identity = nil
		b.state.Profile = nil
		return
	}

	if b.state.Identity == nil || b.state.Identity.ID != session.User.ID {
		b.state.Profile = nil
	}
	b.state.Session = session.Clone()
	b.state.Identity = session.User.Clone()
}

// enqueueLocked は解決要求をキューに積む。b.muを保持した状態で呼ぶ。
func (b *Bootstrap) enqueueLocked(j job) {
	b.qmu.Lock()
	if b.stopped {
		b.qmu.Unlock()
		return
	}
	b.queue = append(b.queue, j)
	if b.pending == 0 {
		b.idle = make(chan struct{})
	}
	b.pending++
	b.qmu.Unlock()

	select {
	case b.wake <- struct{}{}:
	default:
	}
}

// dequeue はキューの先頭の要求を取り出す。
func (b *Bootstrap) dequeue() (job, bool) {
	b.qmu.Lock()
	defer b.qmu.Unlock()
	if len(b.queue) == 0 {
		return job{}, false
	}
	j := b.queue[0]
	b.queue = b.queue[1:]
	return j, true
}

// done は要求1件の処理完了を記録する。
func (b *Bootstrap) done() {
	b.qmu.Lock()
	defer b.qmu.Unlock()
	if b.pending == 0 {
		return
	}
	b.pending--
	if b.pending == 0 {
		close(b.idle)
	}
}

// consume は解決要求を1件ずつ順に処理する。
func (b *Bootstrap) consume(ctx context.Context) {
	for {
		j, ok := b.dequeue()
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-b.wake:
				continue
			}
		}
		b.resolve(ctx, j)
		b.done()
	}
}

// resolve はプロフィールを解決して状態に反映する。
// 失敗はログに記録するのみで再試行しない。
func (b *Bootstrap) resolve(ctx context.Context, j job) {
	b.mu.RLock()
	current := b.gen
	b.mu.RUnlock()
	if j.gen != current {
		b.logger.Debug("skipping stale profile resolution",
			slog.String("user_id", j.identity.ID),
			slog.Uint64("generation", j.gen),
		)
		return
	}

	profile, err := b.resolver.Resolve(ctx, j.identity)
	if err != nil {
		b.logger.Error("profile resolution failed",
			slog.String("user_id", j.identity.ID),
			slog.String("error", err.Error()),
		)
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.gen != j.gen || b.state.Identity == nil || b.state.Identity.ID != j.identity.ID {
		b.logger.Debug("discarding superseded profile",
			slog.String("user_id", j.identity.ID),
		)
		return
	}
	b.state.Profile = profile.Clone()
}
