package reader

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Simulator は開発・試験用の読み取り機。実機ドライバと同じ Driver 契約を
// 満たし、かざしイベントはデバッグAPIやテストコードから注入する。
// カードごとの残高・履歴・読み取り故障を台本として設定できる。
type Simulator struct {
	mu        sync.Mutex
	touches   chan Touch
	balances  map[string]int64
	histories map[string][]UsageEntry
	broken    map[string]bool
	clock     func() time.Time
	closed    bool
}

func NewSimulator() *Simulator {
	return &Simulator{
		touches:   make(chan Touch, 32),
		balances:  make(map[string]int64),
		histories: make(map[string][]UsageEntry),
		broken:    make(map[string]bool),
		clock:     func() time.Time { return time.Now().UTC() },
	}
}

func (s *Simulator) Touches() <-chan Touch { return s.touches }

// Touch は現在時刻のかざしを1回注入する。
// 受け手が追いついていない場合は捨てて false を返す（実機のかざし無視と同じ扱い）。
func (s *Simulator) Touch(idm string) bool {
	s.mu.Lock()
	at := s.clock()
	s.mu.Unlock()
	return s.TouchAt(idm, at)
}

func (s *Simulator) TouchAt(idm string, at time.Time) bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	s.mu.Unlock()

	select {
	case s.touches <- Touch{Idm: idm, At: at}:
		return true
	default:
		return false
	}
}

// Close 以降の注入は無視される。Touches のチャネルは閉じられる。
func (s *Simulator) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.touches)
}

func (s *Simulator) SetClock(clock func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clock = clock
}

func (s *Simulator) SetBalance(idm string, balance int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balances[idm] = balance
}

func (s *Simulator) SetHistory(idm string, entries []UsageEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.histories[idm] = append([]UsageEntry(nil), entries...)
}

func (s *Simulator) AddUsage(idm string, e UsageEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.histories[idm] = append(s.histories[idm], e)
	s.balances[idm] = e.BalanceAfter
}

// SetBroken true のカードは以後の ReadBalance / ReadHistory が失敗する。
func (s *Simulator) SetBroken(idm string, broken bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.broken[idm] = broken
}

func (s *Simulator) ReadBalance(ctx context.Context, idm string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.broken[idm] {
		return 0, fmt.Errorf("%w: idm=%s", ErrReadFailed, idm)
	}
	return s.balances[idm], nil
}

func (s *Simulator) ReadHistory(ctx context.Context, idm string) ([]UsageEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.broken[idm] {
		return nil, fmt.Errorf("%w: idm=%s", ErrReadFailed, idm)
	}
	return append([]UsageEntry(nil), s.histories[idm]...), nil
}
