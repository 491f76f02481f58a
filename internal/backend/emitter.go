package backend

import (
	"sort"
	"sync"

	"github.com/hitoshi/ebridge/internal/model"
)

// emitter は認証イベントの購読者を管理する。
// リスナーは登録順に同期的に呼び出される。
type emitter struct {
	mu        sync.Mutex
	nextID    int
	listeners map[int]func(model.AuthEvent)
}

func newEmitter() *emitter {
	return &emitter{listeners: make(map[int]func(model.AuthEvent))}
}

// subscribe はリスナーを登録し、登録解除関数を返す。登録解除は冪等。
func (e *emitter) subscribe(fn func(model.AuthEvent)) func() {
	e.mu.Lock()
	id := e.nextID
	e.nextID++
	e.listeners[id] = fn
	e.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			e.mu.Lock()
			delete(e.listeners, id)
			e.mu.Unlock()
		})
	}
}

// emit はイベントを全リスナーへ通知する。ロックを保持したままリスナーを呼び出さない。
func (e *emitter) emit(event model.AuthEvent) {
	e.mu.Lock()
	ids := make([]int, 0, len(e.listeners))
	for id := range e.listeners {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	fns := make([]func(model.AuthEvent), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, e.listeners[id])
	}
	e.mu.Unlock()

	for _, fn := range fns {
		ev := event
		ev.Session = event.Session.Clone()
		fn(ev)
	}
}

// count は登録中のリスナー数を返す。
func (e *emitter) count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.listeners)
}
