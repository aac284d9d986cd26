package ledger

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"iccard-backend/internal/platform/db"
)

type Store struct {
	db *sql.DB
}

func NewStore(conn *sql.DB) *Store { return &Store{db: conn} }

const recordColumns = `id, ledger_ulid, card_idm, date, summary, income, expense, balance, is_lent_record, lender_idm, staff_name, lent_at, returned_at, returner_idm, note`

func scanRecord(scan func(dest ...any) error) (*Record, error) {
	var r Record
	err := scan(
		&r.ID, &r.ULID, &r.CardIdm, &r.Date, &r.Summary,
		&r.Income, &r.Expense, &r.Balance, &r.IsLentRecord,
		&r.LenderIdm, &r.StaffName, &r.LentAt, &r.ReturnedAt,
		&r.ReturnerIdm, &r.Note,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// Insert は1行追加して r.ID を埋める。貸出記録・利用履歴・補正行で共通。
func (s *Store) Insert(ctx context.Context, tx db.DBTX, r *Record) error {
	const q = `
INSERT INTO ledger
(ledger_ulid, card_idm, date, summary, income, expense, balance, is_lent_record, lender_idm, staff_name, lent_at, returned_at, returner_idm, note)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	res, err := tx.ExecContext(ctx, q,
		r.ULID, r.CardIdm, r.Date, r.Summary,
		r.Income, r.Expense, r.Balance, r.IsLentRecord,
		r.LenderIdm, r.StaffName, r.LentAt, r.ReturnedAt,
		r.ReturnerIdm, r.Note,
	)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	r.ID = id
	return nil
}

// CloseRecord は未返却の貸出記録を確定させる
func (s *Store) CloseRecord(ctx context.Context, tx db.DBTX, id int64, summary string, returnedAt time.Time, returnerIdm string) error {
	const q = `
UPDATE ledger
SET summary = ?, returned_at = ?, returner_idm = ?
WHERE id = ? AND is_lent_record = 1 AND returned_at IS NULL`
	res, err := tx.ExecContext(ctx, q, summary, returnedAt, returnerIdm, id)
	if err != nil {
		return err
	}
	aff, _ := res.RowsAffected()
	if aff != 1 {
		return ErrConflict("open ledger record already closed")
	}
	return nil
}

// OpenForUpdate は未返却の貸出記録を行ロック付きで返す。なければ (nil, nil)。
func (s *Store) OpenForUpdate(ctx context.Context, tx db.DBTX, idm string) (*Record, error) {
	q := `SELECT ` + recordColumns + `
FROM ledger
WHERE card_idm = ? AND is_lent_record = 1 AND returned_at IS NULL
ORDER BY date DESC, id DESC
LIMIT 1
FOR UPDATE`
	row := tx.QueryRowContext(ctx, q, idm)
	return scanRecord(row.Scan)
}

func (s *Store) CountOpen(ctx context.Context, tx db.DBTX, idm string) (int, error) {
	const q = `SELECT COUNT(*) FROM ledger WHERE card_idm = ? AND is_lent_record = 1 AND returned_at IS NULL`
	var n int
	if err := tx.QueryRowContext(ctx, q, idm).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// Balance はカードの最新残高を返す。記録がなければ 0。
func (s *Store) Balance(ctx context.Context, tx db.DBTX, idm string) (int64, error) {
	const q = `SELECT balance FROM ledger WHERE card_idm = ? ORDER BY date DESC, id DESC LIMIT 1`
	var bal int64
	err := tx.QueryRowContext(ctx, q, idm).Scan(&bal)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return bal, nil
}

func (s *Store) BalanceByCard(ctx context.Context, idm string) (int64, error) {
	return s.Balance(ctx, s.db, idm)
}

// LatestLending は最新の貸出記録（返却済み含む）を返す。なければ (nil, nil)。
// 30秒ルールの LendingState 再構築に使う。
func (s *Store) LatestLending(ctx context.Context, idm string) (*Record, error) {
	q := `SELECT ` + recordColumns + `
FROM ledger
WHERE card_idm = ? AND is_lent_record = 1
ORDER BY date DESC, id DESC
LIMIT 1`
	row := s.db.QueryRowContext(ctx, q, idm)
	return scanRecord(row.Scan)
}

// ListByCard は表示用に新しい順で返す
func (s *Store) ListByCard(ctx context.Context, idm string, p Page) ([]Record, int64, error) {
	var total int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM ledger WHERE card_idm = ?`, idm).Scan(&total); err != nil {
		return nil, 0, err
	}

	q := `SELECT ` + recordColumns + `
FROM ledger
WHERE card_idm = ?
ORDER BY date DESC, id DESC
LIMIT ? OFFSET ?`
	rows, err := s.db.QueryContext(ctx, q, idm, p.Limit, p.Offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	res := make([]Record, 0, p.Limit)
	for rows.Next() {
		r, err := scanRecord(rows.Scan)
		if err != nil {
			return nil, 0, err
		}
		res = append(res, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return res, total, nil
}

// ListByCardAsc は残高連鎖の検査用に (date, id) 昇順で全件返す
func (s *Store) ListByCardAsc(ctx context.Context, idm string) ([]Record, error) {
	q := `SELECT ` + recordColumns + `
FROM ledger
WHERE card_idm = ?
ORDER BY date ASC, id ASC`
	rows, err := s.db.QueryContext(ctx, q, idm)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []Record
	for rows.Next() {
		r, err := scanRecord(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return res, nil
}

// ListCardFlags は整合性チェック対象のカード一覧（論理削除込み）
func (s *Store) ListCardFlags(ctx context.Context) ([]CardFlag, error) {
	const q = `SELECT card_idm, is_lent FROM ic_card`
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []CardFlag
	for rows.Next() {
		var f CardFlag
		if err := rows.Scan(&f.Idm, &f.IsLent); err != nil {
			return nil, err
		}
		res = append(res, f)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return res, nil
}

// LedgerCardIdms は台帳に登場するカードIDm（未登録カードの記録も拾う）
func (s *Store) LedgerCardIdms(ctx context.Context) ([]string, error) {
	const q = `SELECT DISTINCT card_idm FROM ledger`
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []string
	for rows.Next() {
		var idm string
		if err := rows.Scan(&idm); err != nil {
			return nil, err
		}
		res = append(res, idm)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return res, nil
}
