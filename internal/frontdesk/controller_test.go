package frontdesk

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"iccard-backend/internal/card_mgmt/cards"
	"iccard-backend/internal/card_mgmt/lending"
	"iccard-backend/internal/card_mgmt/staff"
	"iccard-backend/internal/platform/db"
	"iccard-backend/internal/reader"
)

const (
	cardC1  = "0102030405060708"
	staffS1 = "1112131415161718"
	unknown = "FFFFFFFFFFFFFFFF"
)

var touchT0 = time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)

// ===== フェイク =====

type txCall struct {
	cardIdm  string
	staffIdm string
	at       time.Time
}

type fakeTx struct {
	mu        sync.Mutex
	calls     []txCall
	result    *lending.LendingResult
	err       error
	undoStaff map[string]string
	block     chan struct{}
}

func (f *fakeTx) Execute(ctx context.Context, cardIdm, staffIdm string, at time.Time) (*lending.LendingResult, error) {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	f.calls = append(f.calls, txCall{cardIdm: cardIdm, staffIdm: staffIdm, at: at})
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

func (f *fakeTx) InUndoWindow(ctx context.Context, cardIdm string, at time.Time) (string, bool) {
	s, ok := f.undoStaff[cardIdm]
	return s, ok
}

func (f *fakeTx) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeCardLookup struct{ byIdm map[string]*cards.Card }

func (f *fakeCardLookup) GetByIdm(ctx context.Context, idm string) (*cards.Card, error) {
	return f.byIdm[idm], nil
}

type fakeStaffLookup struct{ byIdm map[string]*staff.Staff }

func (f *fakeStaffLookup) GetByIdm(ctx context.Context, idm string) (*staff.Staff, error) {
	return f.byIdm[idm], nil
}

type fakeBalances struct{ m map[string]int64 }

func (f *fakeBalances) BalanceByCard(ctx context.Context, idm string) (int64, error) {
	return f.m[idm], nil
}

// ===== 組み立て =====

type ctrlEnv struct {
	ctrl   *Controller
	sim    *reader.Simulator
	tx     *fakeTx
	notifs <-chan Notification
	tick   chan time.Time
}

func newCtrlEnv(t *testing.T) *ctrlEnv {
	t.Helper()

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	hub := NewHub(log)
	sim := reader.NewSimulator()
	tx := &fakeTx{
		result: &lending.LendingResult{
			Operation:  lending.OpLend,
			NewBalance: 1500,
			CardNumber: "HY-001",
			StaffName:  "山田 太郎",
		},
		undoStaff: map[string]string{},
	}
	cardsL := &fakeCardLookup{byIdm: map[string]*cards.Card{
		cardC1: {Idm: cardC1, CardType: "はやかけん", CardNumber: "HY-001"},
	}}
	staffL := &fakeStaffLookup{byIdm: map[string]*staff.Staff{
		staffS1: {Idm: staffS1, Name: "山田 太郎"},
	}}
	balances := &fakeBalances{m: map[string]int64{cardC1: 1500}}

	ctrl := NewController(sim, hub, tx, cardsL, staffL, balances, log, db.LendingConfig{})
	tick := make(chan time.Time)
	ctrl.tick = tick
	ctrl.now = func() time.Time { return touchT0 }

	notifs, unsubscribe := hub.Subscribe()

	ctx, cancel := context.WithCancel(context.Background())
	go ctrl.Run(ctx)
	t.Cleanup(func() {
		cancel()
		unsubscribe()
		sim.Close()
	})

	return &ctrlEnv{ctrl: ctrl, sim: sim, tx: tx, notifs: notifs, tick: tick}
}

func (e *ctrlEnv) touch(t *testing.T, idm string, at time.Time) {
	t.Helper()
	require.True(t, e.sim.TouchAt(idm, at))
}

func (e *ctrlEnv) expect(t *testing.T, kind string) Notification {
	t.Helper()
	select {
	case n := <-e.notifs:
		require.Equal(t, kind, n.Kind, "予期しない通知: %+v", n)
		return n
	case <-time.After(2 * time.Second):
		t.Fatalf("通知 %q が届きません", kind)
		return Notification{}
	}
}

func (e *ctrlEnv) status(t *testing.T) Status {
	t.Helper()
	st, err := e.ctrl.Status(context.Background())
	require.NoError(t, err)
	return st
}

// ===== シナリオ =====

func TestController_LendFlow(t *testing.T) {
	env := newCtrlEnv(t)

	env.touch(t, staffS1, touchT0)
	n := env.expect(t, KindAwaitingCard)
	assert.Equal(t, StateWaitingForIcCard, n.State)
	assert.Equal(t, staffS1, n.StaffIdm)
	assert.Equal(t, "山田 太郎", n.StaffName)

	env.touch(t, cardC1, touchT0.Add(3*time.Second))
	n = env.expect(t, KindStateChanged)
	assert.Equal(t, StateProcessing, n.State)
	assert.Equal(t, cardC1, n.CardIdm)

	n = env.expect(t, KindLendCompleted)
	assert.Equal(t, StateWaitingForStaffCard, n.State)
	assert.Equal(t, "lend", n.Operation)
	require.NotNil(t, n.Balance)
	assert.Equal(t, int64(1500), *n.Balance)
	assert.Equal(t, "HY-001", n.CardNumber)

	require.Len(t, env.tx.calls, 1)
	assert.Equal(t, txCall{cardIdm: cardC1, staffIdm: staffS1, at: touchT0.Add(3 * time.Second)}, env.tx.calls[0])
	assert.Equal(t, StateWaitingForStaffCard, env.status(t).State)
}

func TestController_ReturnFlowCarriesWarnings(t *testing.T) {
	env := newCtrlEnv(t)
	env.tx.result = &lending.LendingResult{
		Operation:  lending.OpReturn,
		NewBalance: 560,
		CardNumber: "HY-001",
		StaffName:  "山田 太郎",
		Warnings:   []lending.Warning{lending.WarnLowBalance},
	}

	env.touch(t, staffS1, touchT0)
	env.expect(t, KindAwaitingCard)
	env.touch(t, cardC1, touchT0.Add(3*time.Second))
	env.expect(t, KindStateChanged)

	n := env.expect(t, KindReturnCompleted)
	assert.Equal(t, "return", n.Operation)
	require.NotNil(t, n.Balance)
	assert.Equal(t, int64(560), *n.Balance)
	assert.Equal(t, []lending.Warning{lending.WarnLowBalance}, n.Warnings)
}

func TestController_IdleCardTouchIsLookup(t *testing.T) {
	env := newCtrlEnv(t)

	env.touch(t, cardC1, touchT0)

	n := env.expect(t, KindLookup)
	assert.Equal(t, StateWaitingForStaffCard, n.State)
	assert.Equal(t, cardC1, n.CardIdm)
	require.NotNil(t, n.Balance)
	assert.Equal(t, int64(1500), *n.Balance)

	assert.Zero(t, env.tx.callCount())
}

func TestController_IdleCardTouchInsideUndoWindowRuns(t *testing.T) {
	env := newCtrlEnv(t)
	env.tx.undoStaff[cardC1] = staffS1
	env.tx.result = &lending.LendingResult{
		Operation:  lending.OpReturn,
		NewBalance: 1500,
		CardNumber: "HY-001",
		StaffName:  "山田 太郎",
	}

	env.touch(t, cardC1, touchT0.Add(20*time.Second))

	env.expect(t, KindStateChanged)
	env.expect(t, KindReturnCompleted)

	require.Len(t, env.tx.calls, 1)
	assert.Equal(t, staffS1, env.tx.calls[0].staffIdm)
	assert.Equal(t, cardC1, env.tx.calls[0].cardIdm)
}

func TestController_UnknownTouchOffersRegistration(t *testing.T) {
	env := newCtrlEnv(t)

	// 待機中: その場に留まる
	env.touch(t, unknown, touchT0)
	n := env.expect(t, KindRegistrationOffer)
	assert.Equal(t, StateWaitingForStaffCard, n.State)
	assert.Equal(t, unknown, n.CardIdm)

	// カード待ち: 申し出て待機に戻る
	env.touch(t, staffS1, touchT0)
	env.expect(t, KindAwaitingCard)
	env.touch(t, unknown, touchT0.Add(5*time.Second))
	n = env.expect(t, KindRegistrationOffer)
	assert.Equal(t, StateWaitingForStaffCard, n.State)
	assert.Equal(t, StateWaitingForStaffCard, env.status(t).State)
	assert.Zero(t, env.tx.callCount())
}

func TestController_WrongCardTypeDoesNotExtendCountdown(t *testing.T) {
	env := newCtrlEnv(t)

	env.touch(t, staffS1, touchT0)
	env.expect(t, KindAwaitingCard)

	// 2枚目の職員証はエラー通知のみ。締め切りは最初のまま。
	env.touch(t, staffS1, touchT0.Add(30*time.Second))
	n := env.expect(t, KindWrongCardType)
	assert.Equal(t, StateWaitingForIcCard, n.State)

	env.tick <- touchT0.Add(59 * time.Second)
	env.tick <- touchT0.Add(60 * time.Second)

	n = env.expect(t, KindTimeout)
	assert.Equal(t, StateWaitingForStaffCard, n.State)
	assert.Equal(t, staffS1, n.StaffIdm)
	assert.Equal(t, touchT0.Add(60*time.Second), n.At)
}

func TestController_TimeoutFiresExactlyAtDeadline(t *testing.T) {
	env := newCtrlEnv(t)

	env.touch(t, staffS1, touchT0)
	env.expect(t, KindAwaitingCard)

	st := env.status(t)
	require.NotNil(t, st.Deadline)
	assert.Equal(t, touchT0.Add(60*time.Second), *st.Deadline)

	// 締め切り前のtickでは何も起きない（次の照会で状態を確認）
	env.tick <- touchT0.Add(59 * time.Second)
	assert.Equal(t, StateWaitingForIcCard, env.status(t).State)

	env.tick <- touchT0.Add(60 * time.Second)
	env.expect(t, KindTimeout)
	assert.Equal(t, StateWaitingForStaffCard, env.status(t).State)
}

func TestController_CancelDuringIcWait(t *testing.T) {
	env := newCtrlEnv(t)

	env.touch(t, staffS1, touchT0)
	env.expect(t, KindAwaitingCard)

	require.NoError(t, env.ctrl.Cancel(context.Background()))
	n := env.expect(t, KindCanceled)
	assert.Equal(t, StateWaitingForStaffCard, n.State)
	assert.Equal(t, staffS1, n.StaffIdm)

	// 締め切りのtickが残っていても何も起きない
	env.tick <- touchT0.Add(61 * time.Second)
	assert.Equal(t, StateWaitingForStaffCard, env.status(t).State)
}

func TestController_CancelWhileIdleConflicts(t *testing.T) {
	env := newCtrlEnv(t)

	err := env.ctrl.Cancel(context.Background())

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "CONFLICT", apiErr.Code)
}

func TestController_ProcessingIgnoresEverything(t *testing.T) {
	env := newCtrlEnv(t)
	env.tx.block = make(chan struct{})

	env.touch(t, staffS1, touchT0)
	env.expect(t, KindAwaitingCard)
	env.touch(t, cardC1, touchT0.Add(time.Second))
	env.expect(t, KindStateChanged)

	// 処理中のタッチは種類を問わず黙って捨てられる
	env.touch(t, cardC1, touchT0.Add(2*time.Second))
	env.touch(t, staffS1, touchT0.Add(3*time.Second))
	env.touch(t, unknown, touchT0.Add(4*time.Second))

	assert.Equal(t, StateProcessing, env.status(t).State)

	// 処理中のキャンセルは拒否
	err := env.ctrl.Cancel(context.Background())
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "CONFLICT", apiErr.Code)

	close(env.tx.block)

	// 捨てられたタッチの通知は挟まらず、次は完了通知
	n := env.expect(t, KindLendCompleted)
	assert.Equal(t, StateWaitingForStaffCard, n.State)
	assert.Equal(t, 1, env.tx.callCount())
}

func TestController_ExecuteFailurePublishesError(t *testing.T) {
	env := newCtrlEnv(t)
	env.tx.err = &lending.PersistenceError{Err: errors.New("db down")}

	env.touch(t, staffS1, touchT0)
	env.expect(t, KindAwaitingCard)
	env.touch(t, cardC1, touchT0.Add(time.Second))
	env.expect(t, KindStateChanged)

	n := env.expect(t, KindError)
	assert.Equal(t, StateWaitingForStaffCard, n.State)
	assert.Equal(t, cardC1, n.CardIdm)
	assert.Contains(t, n.Message, "db down")
	assert.Equal(t, StateWaitingForStaffCard, env.status(t).State)
}

func TestController_UnregisteredCardFromTransactionOffersRegistration(t *testing.T) {
	// 照会と取引の間にカードが消された競合。登録の申し出として扱う。
	env := newCtrlEnv(t)
	env.tx.err = &lending.UnregisteredCardError{Idm: cardC1}

	env.touch(t, staffS1, touchT0)
	env.expect(t, KindAwaitingCard)
	env.touch(t, cardC1, touchT0.Add(time.Second))
	env.expect(t, KindStateChanged)

	n := env.expect(t, KindRegistrationOffer)
	assert.Equal(t, cardC1, n.CardIdm)
}

// ===== Hub =====

func TestHub_PublishFanOut(t *testing.T) {
	hub := NewHub(slog.New(slog.NewTextHandler(io.Discard, nil)))

	ch1, unsub1 := hub.Subscribe()
	ch2, unsub2 := hub.Subscribe()
	defer unsub2()
	assert.Equal(t, 2, hub.Subscribers())

	hub.Publish(Notification{Kind: KindLookup})
	assert.Equal(t, KindLookup, (<-ch1).Kind)
	assert.Equal(t, KindLookup, (<-ch2).Kind)

	unsub1()
	assert.Equal(t, 1, hub.Subscribers())
	_, open := <-ch1
	assert.False(t, open)

	unsub1() // 二重解除しても落ちない
}

func TestHub_SlowSubscriberDropsInsteadOfBlocking(t *testing.T) {
	hub := NewHub(slog.New(slog.NewTextHandler(io.Discard, nil)))
	ch, unsub := hub.Subscribe()
	defer unsub()

	for i := 0; i < subscriberBuffer+5; i++ {
		hub.Publish(Notification{Kind: KindLookup}) // ブロックしないこと
	}

	received := 0
	for {
		select {
		case <-ch:
			received++
			continue
		default:
		}
		break
	}
	assert.Equal(t, subscriberBuffer, received)
}
