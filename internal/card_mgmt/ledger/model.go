package ledger

import (
	"database/sql"
	"time"
)

// 摘要の定型文字列
const (
	SummaryLending    = "貸出中"  // 未返却の貸出記録
	SummaryLent       = "貸出"   // 返却時に確定した貸出記録
	SummaryAdjustment = "残高補正" // カード実残高と台帳の突き合わせ行
)

// Record は ledger テーブルの1行を表す。
// カードごとに (date, id) 順で残高連鎖をなす。
type Record struct {
	ID           int64
	ULID         string
	CardIdm      string
	Date         time.Time
	Summary      string
	Income       int64
	Expense      int64
	Balance      int64
	IsLentRecord bool
	LenderIdm    sql.NullString
	StaffName    sql.NullString
	LentAt       sql.NullTime
	ReturnedAt   sql.NullTime
	ReturnerIdm  sql.NullString
	Note         sql.NullString
}

// IsOpen は未返却の貸出記録かどうか
func (r *Record) IsOpen() bool { return r.IsLentRecord && !r.ReturnedAt.Valid }

type Page struct {
	Limit  int
	Offset int
}

// CardFlag は整合性チェックで参照する ic_card 側の貸出フラグ
type CardFlag struct {
	Idm    string
	IsLent bool
}
