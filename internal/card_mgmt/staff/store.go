package staff

import (
	"context"
	"database/sql"
	"errors"
)

type Store struct {
	db *sql.DB
}

func NewStore(conn *sql.DB) *Store { return &Store{db: conn} }

// GetByIdm は論理削除済みを除いて1件返す。見つからなければ (nil, nil)。
func (s *Store) GetByIdm(ctx context.Context, idm string) (*Staff, error) {
	const q = `
SELECT staff_idm, name, number, note, is_deleted, deleted_at, created_at
FROM staff
WHERE staff_idm = ? AND is_deleted = 0
LIMIT 1`
	var st Staff
	err := s.db.QueryRowContext(ctx, q, idm).Scan(
		&st.Idm, &st.Name, &st.Number, &st.Note,
		&st.IsDeleted, &st.DeletedAt, &st.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &st, nil
}

func (s *Store) List(ctx context.Context, p Page) ([]Staff, int64, error) {
	var total int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM staff WHERE is_deleted = 0`).Scan(&total); err != nil {
		return nil, 0, err
	}

	const q = `
SELECT staff_idm, name, number, note, is_deleted, deleted_at, created_at
FROM staff
WHERE is_deleted = 0
ORDER BY name, staff_idm
LIMIT ? OFFSET ?`
	rows, err := s.db.QueryContext(ctx, q, p.Limit, p.Offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	res := make([]Staff, 0, p.Limit)
	for rows.Next() {
		var st Staff
		if err := rows.Scan(
			&st.Idm, &st.Name, &st.Number, &st.Note,
			&st.IsDeleted, &st.DeletedAt, &st.CreatedAt,
		); err != nil {
			return nil, 0, err
		}
		res = append(res, st)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return res, total, nil
}
