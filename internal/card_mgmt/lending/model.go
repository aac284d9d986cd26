package lending

import "time"

// Operation は1回のタッチで確定する操作
type Operation string

const (
	OpLend   Operation = "lend"
	OpReturn Operation = "return"
)

// Inverse は30秒ルールの取り消し先
func (o Operation) Inverse() Operation {
	if o == OpLend {
		return OpReturn
	}
	return OpLend
}

// LendingState はカードごとの直前操作。メモリ上のキャッシュで、
// プロセス再起動後は最新の貸出記録から再構築される。
type LendingState struct {
	LastOp Operation
	At     time.Time
}

// Warning は処理自体は成立したが利用者に伝えるべき事象
type Warning string

const (
	// 読み取り失敗により利用履歴の取り込みを諦めた返却
	WarnPartialReturn Warning = "partial_return"
	// カード実残高と台帳残高がずれていたため補正行を入れた
	WarnBalanceAdjusted Warning = "balance_adjusted"
	// 返却後の残高が閾値を下回っている（チャージ推奨）
	WarnLowBalance Warning = "low_balance"
)

type LendingResult struct {
	Operation  Operation `json:"operation"`
	NewBalance int64     `json:"new_balance"`
	LedgerULID string    `json:"ledger_ulid"`
	StaffName  string    `json:"staff_name"`
	CardNumber string    `json:"card_number"`
	Warnings   []Warning `json:"warnings,omitempty"`
}
