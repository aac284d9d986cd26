package cards

import (
	"database/sql"
	"time"
)

// Card は ic_card テーブルの1行を表す
type Card struct {
	Idm           string
	CardType      string
	CardNumber    string
	Note          sql.NullString
	IsLent        bool
	LentAt        sql.NullTime
	LastLentStaff sql.NullString
	IsDeleted     bool
	DeletedAt     sql.NullTime
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// カード一覧取得用の検索条件
type CardFilter struct {
	Lent       *bool
	CardType   string
	NumberLike string
}

type Page struct {
	Limit  int
	Offset int
}
