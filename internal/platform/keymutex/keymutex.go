package keymutex

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// KeyedMutex はキー単位の排他ロック。
// 同一キーの待機者は取得要求順に起床し、異なるキー同士は一切干渉しない。
// エントリは参照カウントで管理し、使われなくなったキーは即座に回収する
// （カード枚数ぶんマップが育ち続けることはない）。
type KeyedMutex struct {
	mu      sync.Mutex
	entries map[string]*entry
}

type entry struct {
	sem  *semaphore.Weighted
	refs int
}

func New() *KeyedMutex {
	return &KeyedMutex{entries: make(map[string]*entry)}
}

// Acquire は key のロックを取得できるまでブロックする。
// ctx のキャンセルで待機を中断した場合は参照カウントを戻してから返る。
// 同一ゴルーチンからの再取得はデッドロックする（再入不可）。
func (m *KeyedMutex) Acquire(ctx context.Context, key string) (*ScopedLock, error) {
	e := m.retain(key)
	if err := e.sem.Acquire(ctx, 1); err != nil {
		m.release(key, e)
		return nil, err
	}
	return &ScopedLock{m: m, key: key, e: e}, nil
}

// TryAcquire はブロックせずに取得を試みる。先約がいれば false。
func (m *KeyedMutex) TryAcquire(key string) (*ScopedLock, bool) {
	e := m.retain(key)
	if !e.sem.TryAcquire(1) {
		m.release(key, e)
		return nil, false
	}
	return &ScopedLock{m: m, key: key, e: e}, true
}

func (m *KeyedMutex) retain(key string) *entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	if !ok {
		e = &entry{sem: semaphore.NewWeighted(1)}
		m.entries[key] = e
	}
	e.refs++
	return e
}

func (m *KeyedMutex) release(key string, e *entry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(m.entries, key)
	}
}

// Len は生存中のキー数を返す（診断・テスト用）。
func (m *KeyedMutex) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// ScopedLock は取得済みのロック。Release は何度呼んでも安全で、
// 2回目以降は何もしない。defer での解放を前提とする。
type ScopedLock struct {
	m    *KeyedMutex
	key  string
	e    *entry
	once sync.Once
}

func (l *ScopedLock) Release() {
	if l == nil {
		return
	}
	l.once.Do(func() {
		l.e.sem.Release(1)
		l.m.release(l.key, l.e)
	})
}
