package staff

import (
	"database/sql"
	"time"
)

// Staff は staff テーブルの1行を表す。この系からは読み取り専用。
type Staff struct {
	Idm       string
	Name      string
	Number    sql.NullString
	Note      sql.NullString
	IsDeleted bool
	DeletedAt sql.NullTime
	CreatedAt time.Time
}

type Page struct {
	Limit  int
	Offset int
}
