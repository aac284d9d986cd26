package lending

import (
	"context"
	"crypto/rand"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/oklog/ulid/v2"

	"iccard-backend/internal/card_mgmt/cards"
	"iccard-backend/internal/card_mgmt/ledger"
	"iccard-backend/internal/card_mgmt/staff"
	"iccard-backend/internal/platform/db"
	"iccard-backend/internal/platform/keymutex"
	"iccard-backend/internal/reader"
)

type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time {
	return time.Now().UTC()
}

type IDGen interface {
	New() (string, error)
}

type ulidGen struct{}

func (ulidGen) New() (string, error) {
	t := time.Now().UTC()
	entropy := ulid.Monotonic(rand.Reader, 0)
	id, err := ulid.New(ulid.Timestamp(t), entropy)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// ===== 依存ストア =====

type CardStore interface {
	GetByIdm(ctx context.Context, idm string) (*cards.Card, error)
	LockByIdm(ctx context.Context, tx db.DBTX, idm string) (*cards.Card, error)
	MarkLent(ctx context.Context, tx db.DBTX, idm, staffIdm string, at time.Time) error
	MarkReturned(ctx context.Context, tx db.DBTX, idm string) error
}

type StaffStore interface {
	GetByIdm(ctx context.Context, idm string) (*staff.Staff, error)
}

type LedgerStore interface {
	Insert(ctx context.Context, tx db.DBTX, r *ledger.Record) error
	CloseRecord(ctx context.Context, tx db.DBTX, id int64, summary string, returnedAt time.Time, returnerIdm string) error
	OpenForUpdate(ctx context.Context, tx db.DBTX, idm string) (*ledger.Record, error)
	CountOpen(ctx context.Context, tx db.DBTX, idm string) (int, error)
	Balance(ctx context.Context, tx db.DBTX, idm string) (int64, error)
	LatestLending(ctx context.Context, idm string) (*ledger.Record, error)
}

// ===== Service本体 =====

// Service は貸出・返却の取引を1件単位で実行する。
// 同一カードの取引は KeyedMutex で直列化され、DB書き込みは
// 1トランザクションに収まる（失敗時は全て巻き戻る）。
type Service struct {
	runTx      func(ctx context.Context, fn func(ctx context.Context, tx db.DBTX) error) error
	cards      CardStore
	staff      StaffStore
	ledger     LedgerStore
	driver     reader.Driver
	stations   *reader.StationTable
	locks      *keymutex.KeyedMutex
	states     *stateCache
	clock      Clock
	id         IDGen
	undoWindow time.Duration
	lowBalance int64
	log        *slog.Logger
}

func NewService(conn *sql.DB, driver reader.Driver, stations *reader.StationTable, locks *keymutex.KeyedMutex, log *slog.Logger, cfg db.LendingConfig) *Service {
	return &Service{
		runTx: func(ctx context.Context, fn func(ctx context.Context, tx db.DBTX) error) error {
			return db.RunInTx(ctx, conn, nil, fn)
		},
		cards:      cards.NewStore(conn),
		staff:      staff.NewStore(conn),
		ledger:     ledger.NewStore(conn),
		driver:     driver,
		stations:   stations,
		locks:      locks,
		states:     newStateCache(),
		clock:      realClock{},
		id:         ulidGen{},
		undoWindow: cfg.UndoWindow(),
		lowBalance: cfg.LowBalance(),
		log:        log,
	}
}

func (s *Service) Now() time.Time { return s.clock.Now() }

// Execute は1回のタッチを取引として実行する。
// 同一カードの先行取引があれば終わるまで待つ。
func (s *Service) Execute(ctx context.Context, cardIdm, staffIdm string, touchTime time.Time) (*LendingResult, error) {
	lock, err := s.locks.Acquire(ctx, cardIdm)
	if err != nil {
		return nil, err
	}
	defer lock.Release()

	return s.executeLocked(ctx, cardIdm, staffIdm, touchTime)
}

// ExecuteNoWait は待たない版。先行取引があれば ErrLockContention。
// フロントデスク以外の経路（デバッグAPIなど）から使う。
func (s *Service) ExecuteNoWait(ctx context.Context, cardIdm, staffIdm string, touchTime time.Time) (*LendingResult, error) {
	lock, ok := s.locks.TryAcquire(cardIdm)
	if !ok {
		return nil, ErrLockContention
	}
	defer lock.Release()

	return s.executeLocked(ctx, cardIdm, staffIdm, touchTime)
}

func (s *Service) executeLocked(ctx context.Context, cardIdm, staffIdm string, touchTime time.Time) (*LendingResult, error) {
	if cardIdm == "" {
		return nil, ErrInvalid("card_idm is required")
	}
	if staffIdm == "" {
		return nil, ErrInvalid("staff_idm is required")
	}

	card, err := s.cards.GetByIdm(ctx, cardIdm)
	if err != nil {
		return nil, asPersistence(err)
	}
	if card == nil {
		return nil, &UnregisteredCardError{Idm: cardIdm}
	}

	st, err := s.staff.GetByIdm(ctx, staffIdm)
	if err != nil {
		return nil, asPersistence(err)
	}
	if st == nil {
		return nil, &UnregisteredStaffError{Idm: staffIdm}
	}

	state, err := s.lendingState(ctx, cardIdm)
	if err != nil {
		return nil, asPersistence(err)
	}

	op := Decide(card.IsLent, state, touchTime, s.undoWindow)

	var res *LendingResult
	if op == OpLend {
		res, err = s.lend(ctx, card, st, touchTime)
	} else {
		res, err = s.returnCard(ctx, card, st, touchTime)
	}
	if err != nil {
		return nil, err
	}

	// コミット後にだけ直前操作を更新する（失敗した取引は痕跡を残さない）
	s.states.put(cardIdm, LendingState{LastOp: op, At: touchTime})

	s.log.Info("貸出取引を記録",
		slog.String("operation", string(res.Operation)),
		slog.String("card_idm", cardIdm),
		slog.String("staff_idm", staffIdm),
		slog.Int64("balance", res.NewBalance),
		slog.Any("warnings", res.Warnings),
	)
	return res, nil
}

// lendingState はキャッシュ、なければ最新の貸出記録から直前操作を再構築する
func (s *Service) lendingState(ctx context.Context, idm string) (*LendingState, error) {
	if st, ok := s.states.get(idm); ok {
		return &st, nil
	}
	rec, err := s.ledger.LatestLending(ctx, idm)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, nil
	}

	var st LendingState
	switch {
	case rec.ReturnedAt.Valid:
		st = LendingState{LastOp: OpReturn, At: rec.ReturnedAt.Time}
	case rec.LentAt.Valid:
		st = LendingState{LastOp: OpLend, At: rec.LentAt.Time}
	default:
		return nil, nil
	}
	s.states.put(idm, st)
	return &st, nil
}

// InUndoWindow はカードの直前操作が取り消しウィンドウ内かを返す。
// ウィンドウ内なら代行させる職員（最後に借りた職員）の IDm も返す。
// 職員カードなしの再タッチを取引に回すかどうかの事前判定に使う。
func (s *Service) InUndoWindow(ctx context.Context, cardIdm string, at time.Time) (string, bool) {
	card, err := s.cards.GetByIdm(ctx, cardIdm)
	if err != nil || card == nil {
		return "", false
	}
	state, err := s.lendingState(ctx, cardIdm)
	if err != nil || state == nil {
		return "", false
	}
	if at.Sub(state.At) >= s.undoWindow {
		return "", false
	}
	if !card.LastLentStaff.Valid {
		return "", false
	}
	return card.LastLentStaff.String, true
}

// lend は貸出記録を開き、カードを貸出中にする
func (s *Service) lend(ctx context.Context, card *cards.Card, st *staff.Staff, touchTime time.Time) (*LendingResult, error) {
	uid, err := s.id.New()
	if err != nil {
		return nil, ErrInternal("IDの生成に失敗: " + err.Error())
	}

	var prior int64
	err = s.runTx(ctx, func(ctx context.Context, tx db.DBTX) error {
		locked, err := s.cards.LockByIdm(ctx, tx, card.Idm)
		if err != nil {
			return err
		}
		if locked == nil {
			return &UnregisteredCardError{Idm: card.Idm}
		}
		if locked.IsLent {
			return ErrConflict("カードは貸出中です: " + card.CardNumber)
		}
		n, err := s.ledger.CountOpen(ctx, tx, card.Idm)
		if err != nil {
			return err
		}
		if n > 0 {
			return ErrConflict("未返却の貸出記録が残っています: " + card.CardNumber)
		}

		prior, err = s.ledger.Balance(ctx, tx, card.Idm)
		if err != nil {
			return err
		}

		rec := ledger.Record{
			ULID:         uid,
			CardIdm:      card.Idm,
			Date:         touchTime,
			Summary:      ledger.SummaryLending,
			Balance:      prior,
			IsLentRecord: true,
			LenderIdm:    nullStr(st.Idm),
			StaffName:    nullStr(st.Name),
			LentAt:       nullTime(touchTime),
		}
		if err := s.ledger.Insert(ctx, tx, &rec); err != nil {
			return err
		}
		return s.cards.MarkLent(ctx, tx, card.Idm, st.Idm, touchTime)
	})
	if err != nil {
		return nil, asPersistence(err)
	}

	return &LendingResult{
		Operation:  OpLend,
		NewBalance: prior,
		LedgerULID: uid,
		StaffName:  st.Name,
		CardNumber: card.CardNumber,
	}, nil
}

// returnCard は未返却の貸出記録を閉じ、貸出中に積まれた利用履歴を取り込む。
// カードの読み取りに失敗しても返却自体は成立させ、取り込みだけを諦める。
func (s *Service) returnCard(ctx context.Context, card *cards.Card, st *staff.Staff, touchTime time.Time) (*LendingResult, error) {
	// 読み取りはDBトランザクションの外で済ませる（かざし時間は読めないため長い）
	cardBalance, balErr := s.driver.ReadBalance(ctx, card.Idm)
	var entries []reader.UsageEntry
	var histErr error
	if balErr == nil {
		entries, histErr = s.driver.ReadHistory(ctx, card.Idm)
	}
	readOK := balErr == nil && histErr == nil
	if !readOK {
		s.log.Warn("カード読み取りに失敗（履歴の取り込みを省略して返却します）",
			slog.String("card_idm", card.Idm),
			slog.Any("error", errors.Join(balErr, histErr)),
		)
	}

	var warnings []Warning
	var newBalance int64
	var closedULID string

	err := s.runTx(ctx, func(ctx context.Context, tx db.DBTX) error {
		locked, err := s.cards.LockByIdm(ctx, tx, card.Idm)
		if err != nil {
			return err
		}
		if locked == nil {
			return &UnregisteredCardError{Idm: card.Idm}
		}

		open, err := s.ledger.OpenForUpdate(ctx, tx, card.Idm)
		if err != nil {
			return err
		}
		if open == nil {
			return ErrConflict("未返却の貸出記録がありません: " + card.CardNumber)
		}
		closedULID = open.ULID

		prior, err := s.ledger.Balance(ctx, tx, card.Idm)
		if err != nil {
			return err
		}

		if readOK {
			since := open.Date
			if open.LentAt.Valid {
				since = open.LentAt.Time
			}
			prior, err = s.importUsage(ctx, tx, card.Idm, entries, since, prior)
			if err != nil {
				return err
			}
			if cardBalance != prior {
				if err := s.insertAdjustment(ctx, tx, card.Idm, touchTime, prior, cardBalance); err != nil {
					return err
				}
				warnings = append(warnings, WarnBalanceAdjusted)
				prior = cardBalance
			}
		} else {
			warnings = append(warnings, WarnPartialReturn)
		}
		newBalance = prior

		if err := s.ledger.CloseRecord(ctx, tx, open.ID, ledger.SummaryLent, touchTime, st.Idm); err != nil {
			return err
		}
		return s.cards.MarkReturned(ctx, tx, card.Idm)
	})
	if err != nil {
		return nil, asPersistence(err)
	}

	if newBalance < s.lowBalance {
		warnings = append(warnings, WarnLowBalance)
	}

	return &LendingResult{
		Operation:  OpReturn,
		NewBalance: newBalance,
		LedgerULID: closedULID,
		StaffName:  st.Name,
		CardNumber: card.CardNumber,
		Warnings:   warnings,
	}, nil
}

// importUsage は貸出中に積まれた履歴を1件ずつ残高連鎖に載せる
func (s *Service) importUsage(ctx context.Context, tx db.DBTX, cardIdm string, entries []reader.UsageEntry, since time.Time, prior int64) (int64, error) {
	for _, e := range entries {
		if e.Date.Before(since) {
			continue
		}
		next, err := ledger.Append(prior, e.Income, e.Expense)
		if err != nil {
			return 0, err
		}
		uid, err := s.id.New()
		if err != nil {
			return 0, ErrInternal("IDの生成に失敗: " + err.Error())
		}
		rec := ledger.Record{
			ULID:    uid,
			CardIdm: cardIdm,
			Date:    e.Date,
			Summary: s.stations.Summary(e),
			Income:  e.Income,
			Expense: e.Expense,
			Balance: next,
		}
		if err := s.ledger.Insert(ctx, tx, &rec); err != nil {
			return 0, err
		}
		prior = next
	}
	return prior, nil
}

// insertAdjustment は台帳残高をカード実残高に合わせる補正行を入れる
func (s *Service) insertAdjustment(ctx context.Context, tx db.DBTX, cardIdm string, at time.Time, prior, cardBalance int64) error {
	uid, err := s.id.New()
	if err != nil {
		return ErrInternal("IDの生成に失敗: " + err.Error())
	}
	rec := ledger.Record{
		ULID:    uid,
		CardIdm: cardIdm,
		Date:    at,
		Summary: ledger.SummaryAdjustment,
		Balance: cardBalance,
		Note:    nullStr(fmt.Sprintf("台帳残高 %d 円をカード実残高 %d 円に補正", prior, cardBalance)),
	}
	diff := cardBalance - prior
	if diff > 0 {
		rec.Income = diff
	} else {
		rec.Expense = -diff
	}
	return s.ledger.Insert(ctx, tx, &rec)
}

// asPersistence は業務エラーを素通しし、それ以外をDB起因として包む
func asPersistence(err error) error {
	if err == nil {
		return nil
	}
	var (
		apiErr       *APIError
		ledgerAPIErr *ledger.APIError
		nbe          *ledger.NegativeBalanceError
		uce          *UnregisteredCardError
		use          *UnregisteredStaffError
	)
	switch {
	case errors.As(err, &apiErr),
		errors.As(err, &ledgerAPIErr),
		errors.As(err, &nbe),
		errors.As(err, &uce),
		errors.As(err, &use):
		return err
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	}

	var me *mysql.MySQLError
	if errors.As(err, &me) && me.Number == 1062 {
		// 一意制約違反。同じ取引が既に記録済み。
		return ErrConflict("同じ取引が既に記録されています")
	}
	return &PersistenceError{Err: err}
}

func nullStr(s string) sql.NullString {
	return sql.NullString{String: s, Valid: true}
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: true}
}
