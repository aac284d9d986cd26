package cards

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"iccard-backend/internal/platform/db"
)

type Store struct {
	db *sql.DB
}

func NewStore(conn *sql.DB) *Store { return &Store{db: conn} }

const cardColumns = `card_idm, card_type, card_number, note, is_lent, lent_at, last_lent_staff, is_deleted, deleted_at, created_at, updated_at`

func scanCard(row *sql.Row) (*Card, error) {
	var c Card
	err := row.Scan(
		&c.Idm, &c.CardType, &c.CardNumber, &c.Note,
		&c.IsLent, &c.LentAt, &c.LastLentStaff,
		&c.IsDeleted, &c.DeletedAt, &c.CreatedAt, &c.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// GetByIdm は論理削除済みを除いて1件返す。見つからなければ (nil, nil)。
func (s *Store) GetByIdm(ctx context.Context, idm string) (*Card, error) {
	q := `SELECT ` + cardColumns + ` FROM ic_card WHERE card_idm = ? AND is_deleted = 0 LIMIT 1`
	return scanCard(s.db.QueryRowContext(ctx, q, idm))
}

// LockByIdm はトランザクション内で行ロックを取って1件返す。
// 貸出・返却の書き込みは必ずこのロック越しに行う。
func (s *Store) LockByIdm(ctx context.Context, tx db.DBTX, idm string) (*Card, error) {
	q := `SELECT ` + cardColumns + ` FROM ic_card WHERE card_idm = ? AND is_deleted = 0 LIMIT 1 FOR UPDATE`
	return scanCard(tx.QueryRowContext(ctx, q, idm))
}

func (s *Store) MarkLent(ctx context.Context, tx db.DBTX, idm, staffIdm string, at time.Time) error {
	const q = `
UPDATE ic_card
SET is_lent = 1, lent_at = ?, last_lent_staff = ?, updated_at = NOW(6)
WHERE card_idm = ? AND is_deleted = 0`
	res, err := tx.ExecContext(ctx, q, at, staffIdm, idm)
	if err != nil {
		return err
	}
	aff, _ := res.RowsAffected()
	if aff != 1 {
		return ErrInternal("failed to update ic_card on lend")
	}
	return nil
}

func (s *Store) MarkReturned(ctx context.Context, tx db.DBTX, idm string) error {
	const q = `
UPDATE ic_card
SET is_lent = 0, lent_at = NULL, updated_at = NOW(6)
WHERE card_idm = ? AND is_deleted = 0`
	res, err := tx.ExecContext(ctx, q, idm)
	if err != nil {
		return err
	}
	aff, _ := res.RowsAffected()
	if aff != 1 {
		return ErrInternal("failed to update ic_card on return")
	}
	return nil
}

func (s *Store) List(ctx context.Context, f CardFilter, p Page) ([]Card, int64, error) {
	where := []string{"is_deleted = 0"}
	args := []any{}

	if f.Lent != nil {
		where = append(where, "is_lent = ?")
		args = append(args, boolToInt(*f.Lent))
	}
	if f.CardType != "" {
		where = append(where, "card_type = ?")
		args = append(args, f.CardType)
	}
	if f.NumberLike != "" {
		where = append(where, "card_number LIKE ?")
		args = append(args, "%"+f.NumberLike+"%")
	}

	cond := strings.Join(where, " AND ")

	var total int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM ic_card WHERE `+cond, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	q := `SELECT ` + cardColumns + ` FROM ic_card WHERE ` + cond + ` ORDER BY card_number, card_idm LIMIT ? OFFSET ?`
	args = append(args, p.Limit, p.Offset)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	res := make([]Card, 0, p.Limit)
	for rows.Next() {
		var c Card
		if err := rows.Scan(
			&c.Idm, &c.CardType, &c.CardNumber, &c.Note,
			&c.IsLent, &c.LentAt, &c.LastLentStaff,
			&c.IsDeleted, &c.DeletedAt, &c.CreatedAt, &c.UpdatedAt,
		); err != nil {
			return nil, 0, err
		}
		res = append(res, c)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return res, total, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
