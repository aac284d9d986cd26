package frontdesk

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"iccard-backend/internal/card_mgmt/cards"
	"iccard-backend/internal/card_mgmt/lending"
	"iccard-backend/internal/card_mgmt/staff"
	"iccard-backend/internal/platform/db"
	"iccard-backend/internal/reader"
)

// State はフロントデスクの状態。待機 → 職員確認済み → 処理中 の循環。
type State string

const (
	StateWaitingForStaffCard State = "waiting_for_staff_card"
	StateWaitingForIcCard    State = "waiting_for_ic_card"
	StateProcessing          State = "processing"
)

// ===== 依存 =====

type TransactionRunner interface {
	Execute(ctx context.Context, cardIdm, staffIdm string, touchTime time.Time) (*lending.LendingResult, error)
	InUndoWindow(ctx context.Context, cardIdm string, at time.Time) (string, bool)
}

type CardLookup interface {
	GetByIdm(ctx context.Context, idm string) (*cards.Card, error)
}

type StaffLookup interface {
	GetByIdm(ctx context.Context, idm string) (*staff.Staff, error)
}

type BalanceReader interface {
	BalanceByCard(ctx context.Context, idm string) (int64, error)
}

// ===== コントローラ =====

type controlKind int

const (
	ctrlStatus controlKind = iota
	ctrlCancel
)

type controlMsg struct {
	kind  controlKind
	reply chan controlReply
}

type controlReply struct {
	status Status
	err    error
}

type Status struct {
	State     State      `json:"state"`
	StaffIdm  string     `json:"staff_idm,omitempty"`
	StaffName string     `json:"staff_name,omitempty"`
	Deadline  *time.Time `json:"deadline,omitempty"`
}

type execResult struct {
	cardIdm  string
	staffIdm string
	res      *lending.LendingResult
	err      error
}

// Controller はタッチイベント・1秒tick・外部要求を1本のループに載せて
// 順番に処理する。状態はループ内からしか触らないため取り合いがない。
// 取引そのもの（カード読み取りとDB書き込み）はループの外で走らせ、
// その間は Processing として一切のタッチを無視する。
type Controller struct {
	touches  <-chan reader.Touch
	hub      *Hub
	tx       TransactionRunner
	cards    CardLookup
	staff    StaffLookup
	balances BalanceReader
	log      *slog.Logger

	cardWait time.Duration
	tick     <-chan time.Time
	now      func() time.Time

	control chan controlMsg
	done    chan execResult

	// 以下はループ内専用
	state     State
	staffIdm  string
	staffName string
	deadline  time.Time
}

func NewController(drv reader.Driver, hub *Hub, tx TransactionRunner, cardLookup CardLookup, staffLookup StaffLookup, balances BalanceReader, log *slog.Logger, cfg db.LendingConfig) *Controller {
	return &Controller{
		touches:  drv.Touches(),
		hub:      hub,
		tx:       tx,
		cards:    cardLookup,
		staff:    staffLookup,
		balances: balances,
		log:      log,
		cardWait: cfg.CardWait(),
		now:      func() time.Time { return time.Now().UTC() },
		control:  make(chan controlMsg),
		done:     make(chan execResult, 1),
		state:    StateWaitingForStaffCard,
	}
}

// Run はctxが閉じられるか読み取り機が止まるまでイベントを処理し続ける
func (c *Controller) Run(ctx context.Context) {
	tick := c.tick
	if tick == nil {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		tick = ticker.C
	}

	c.log.Info("フロントデスク開始", slog.Duration("card_wait", c.cardWait))
	for {
		// タッチは到着順で先に片付ける。処理中に溜まったタッチが
		// 完了通知より後に取り出されて完了後の状態で効いてしまうのを防ぐ。
		select {
		case touch, ok := <-c.touches:
			if !ok {
				c.log.Info("読み取り機が停止したためフロントデスクを終了")
				return
			}
			c.onTouch(ctx, touch)
			continue
		default:
		}

		select {
		case <-ctx.Done():
			c.log.Info("フロントデスク停止", slog.String("reason", ctx.Err().Error()))
			return
		case touch, ok := <-c.touches:
			if !ok {
				c.log.Info("読み取り機が停止したためフロントデスクを終了")
				return
			}
			c.onTouch(ctx, touch)
		case t := <-tick:
			c.onTick(t)
		case msg := <-c.control:
			c.onControl(msg)
		case r := <-c.done:
			c.onDone(r)
		}
	}
}

// Status は現在状態のスナップショットを返す
func (c *Controller) Status(ctx context.Context) (Status, error) {
	reply, err := c.send(ctx, ctrlStatus)
	if err != nil {
		return Status{}, err
	}
	return reply.status, nil
}

// Cancel は職員カード確認後のカード待ちを打ち切る。
// 待機中・処理中は打ち切るものがないので CONFLICT。
func (c *Controller) Cancel(ctx context.Context) error {
	reply, err := c.send(ctx, ctrlCancel)
	if err != nil {
		return err
	}
	return reply.err
}

func (c *Controller) send(ctx context.Context, kind controlKind) (controlReply, error) {
	msg := controlMsg{kind: kind, reply: make(chan controlReply, 1)}
	select {
	case c.control <- msg:
	case <-ctx.Done():
		return controlReply{}, ctx.Err()
	}
	select {
	case r := <-msg.reply:
		return r, nil
	case <-ctx.Done():
		return controlReply{}, ctx.Err()
	}
}

// ===== ループ内処理 =====

func (c *Controller) onTouch(ctx context.Context, touch reader.Touch) {
	// 処理中は完了まで全タッチを無視する（二重処理の入口を塞ぐ）
	if c.state == StateProcessing {
		return
	}

	st, err := c.staff.GetByIdm(ctx, touch.Idm)
	if err != nil {
		c.publishError("職員情報の照会に失敗しました", err, touch)
		return
	}
	if st != nil {
		c.onStaffTouch(st, touch)
		return
	}

	card, err := c.cards.GetByIdm(ctx, touch.Idm)
	if err != nil {
		c.publishError("カード情報の照会に失敗しました", err, touch)
		return
	}
	if card != nil {
		c.onCardTouch(ctx, card, touch)
		return
	}

	c.onUnknownTouch(touch)
}

func (c *Controller) onStaffTouch(st *staff.Staff, touch reader.Touch) {
	switch c.state {
	case StateWaitingForStaffCard:
		c.state = StateWaitingForIcCard
		c.staffIdm = st.Idm
		c.staffName = st.Name
		c.deadline = touch.At.Add(c.cardWait)
		c.hub.Publish(Notification{
			Kind:      KindAwaitingCard,
			State:     c.state,
			StaffIdm:  st.Idm,
			StaffName: st.Name,
			Message:   "ICカードをかざしてください",
			At:        touch.At,
		})
	case StateWaitingForIcCard:
		// 締め切りは延長しない
		c.hub.Publish(Notification{
			Kind:      KindWrongCardType,
			State:     c.state,
			StaffIdm:  st.Idm,
			StaffName: st.Name,
			Message:   "職員証ではなく貸出するICカードをかざしてください",
			At:        touch.At,
		})
	}
}

func (c *Controller) onCardTouch(ctx context.Context, card *cards.Card, touch reader.Touch) {
	switch c.state {
	case StateWaitingForStaffCard:
		// 直前操作の取り消しウィンドウ内なら職員カードなしで取引に回す
		if staffIdm, ok := c.tx.InUndoWindow(ctx, card.Idm, touch.At); ok {
			c.beginTransaction(ctx, card, staffIdm, touch.At)
			return
		}
		c.publishLookup(ctx, card, touch)
	case StateWaitingForIcCard:
		c.beginTransaction(ctx, card, c.staffIdm, touch.At)
	}
}

func (c *Controller) onUnknownTouch(touch reader.Touch) {
	n := Notification{
		Kind:    KindRegistrationOffer,
		CardIdm: touch.Idm,
		Message: "未登録のカードです。登録画面から登録してください",
		At:      touch.At,
	}
	switch c.state {
	case StateWaitingForStaffCard:
		n.State = c.state
		c.hub.Publish(n)
	case StateWaitingForIcCard:
		c.toIdle()
		n.State = c.state
		c.hub.Publish(n)
	}
}

// publishLookup は貸出も返却もしない残高照会の通知を流す
func (c *Controller) publishLookup(ctx context.Context, card *cards.Card, touch reader.Touch) {
	bal, err := c.balances.BalanceByCard(ctx, card.Idm)
	if err != nil {
		c.publishError("残高の照会に失敗しました", err, touch)
		return
	}
	c.hub.Publish(Notification{
		Kind:       KindLookup,
		State:      c.state,
		CardIdm:    card.Idm,
		CardNumber: card.CardNumber,
		Balance:    &bal,
		At:         touch.At,
	})
}

func (c *Controller) beginTransaction(ctx context.Context, card *cards.Card, staffIdm string, at time.Time) {
	c.state = StateProcessing
	c.deadline = time.Time{}
	c.hub.Publish(Notification{
		Kind:       KindStateChanged,
		State:      c.state,
		CardIdm:    card.Idm,
		CardNumber: card.CardNumber,
		StaffIdm:   staffIdm,
		At:         at,
	})

	go func() {
		res, err := c.tx.Execute(ctx, card.Idm, staffIdm, at)
		select {
		case c.done <- execResult{cardIdm: card.Idm, staffIdm: staffIdm, res: res, err: err}:
		case <-ctx.Done():
		}
	}()
}

func (c *Controller) onDone(r execResult) {
	c.toIdle()

	if r.err != nil {
		var uce *lending.UnregisteredCardError
		if errors.As(r.err, &uce) {
			c.hub.Publish(Notification{
				Kind:    KindRegistrationOffer,
				State:   c.state,
				CardIdm: uce.Idm,
				Message: "未登録のカードです。登録画面から登録してください",
				At:      c.now(),
			})
			return
		}
		c.log.Error("貸出取引に失敗",
			slog.String("card_idm", r.cardIdm),
			slog.String("staff_idm", r.staffIdm),
			slog.Any("error", r.err),
		)
		c.hub.Publish(Notification{
			Kind:     KindError,
			State:    c.state,
			CardIdm:  r.cardIdm,
			StaffIdm: r.staffIdm,
			Message:  r.err.Error(),
			At:       c.now(),
		})
		return
	}

	kind := KindLendCompleted
	if r.res.Operation == lending.OpReturn {
		kind = KindReturnCompleted
	}
	bal := r.res.NewBalance
	c.hub.Publish(Notification{
		Kind:       kind,
		State:      c.state,
		CardIdm:    r.cardIdm,
		CardNumber: r.res.CardNumber,
		StaffIdm:   r.staffIdm,
		StaffName:  r.res.StaffName,
		Operation:  string(r.res.Operation),
		Balance:    &bal,
		Warnings:   r.res.Warnings,
		At:         c.now(),
	})
}

func (c *Controller) onTick(t time.Time) {
	if c.state != StateWaitingForIcCard || c.deadline.IsZero() {
		return
	}
	if t.Before(c.deadline) {
		return
	}
	staffIdm, staffName := c.staffIdm, c.staffName
	c.toIdle()
	c.hub.Publish(Notification{
		Kind:      KindTimeout,
		State:     c.state,
		StaffIdm:  staffIdm,
		StaffName: staffName,
		Message:   "時間切れのため待機に戻りました",
		At:        t,
	})
}

func (c *Controller) onControl(msg controlMsg) {
	switch msg.kind {
	case ctrlStatus:
		st := Status{State: c.state, StaffIdm: c.staffIdm, StaffName: c.staffName}
		if !c.deadline.IsZero() {
			d := c.deadline
			st.Deadline = &d
		}
		msg.reply <- controlReply{status: st}
	case ctrlCancel:
		if c.state != StateWaitingForIcCard {
			msg.reply <- controlReply{err: ErrConflict("キャンセルできる操作がありません")}
			return
		}
		staffIdm, staffName := c.staffIdm, c.staffName
		c.toIdle()
		c.hub.Publish(Notification{
			Kind:      KindCanceled,
			State:     c.state,
			StaffIdm:  staffIdm,
			StaffName: staffName,
			Message:   "操作を取り消しました",
			At:        c.now(),
		})
		msg.reply <- controlReply{}
	}
}

func (c *Controller) toIdle() {
	c.state = StateWaitingForStaffCard
	c.staffIdm = ""
	c.staffName = ""
	c.deadline = time.Time{}
}

func (c *Controller) publishError(msg string, err error, touch reader.Touch) {
	c.log.Error(msg, slog.String("idm", touch.Idm), slog.Any("error", err))
	c.hub.Publish(Notification{
		Kind:    KindError,
		State:   c.state,
		CardIdm: touch.Idm,
		Message: msg,
		At:      touch.At,
	})
}
