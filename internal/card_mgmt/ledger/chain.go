package ledger

import (
	"errors"
	"fmt"
)

// ErrInvalidAmount は収入・支出に負数が渡された場合
var ErrInvalidAmount = errors.New("金額が負です")

// NegativeBalanceError は残高連鎖が負に落ちる更新。
// 台帳の手直しが必要な整合性違反であり、呼び出し側はトランザクションごと中断する。
type NegativeBalanceError struct {
	Prior   int64
	Income  int64
	Expense int64
	Result  int64
}

func (e *NegativeBalanceError) Error() string {
	return fmt.Sprintf("残高が負になります: %d + %d - %d = %d",
		e.Prior, e.Income, e.Expense, e.Result)
}

// ChainViolation は Validate が見つけた連鎖の破れ
type ChainViolation struct {
	RecordID int64
	Kind     string // balance_mismatch | negative_amount
	Want     int64
	Got      int64
}

func (e *ChainViolation) Error() string {
	return fmt.Sprintf("ledger record %d: %s (want %d, got %d)",
		e.RecordID, e.Kind, e.Want, e.Got)
}

// Append は直前残高に1件ぶんの収支を適用して新残高を返す。純関数。
func Append(prior, income, expense int64) (int64, error) {
	if income < 0 || expense < 0 {
		return 0, ErrInvalidAmount
	}
	next := prior + income - expense
	if next < 0 {
		return 0, &NegativeBalanceError{Prior: prior, Income: income, Expense: expense, Result: next}
	}
	return next, nil
}

// Validate は (date, id) 順に並んだ1枚ぶんの記録の残高連鎖を検査し、
// 最初の破れを返す。先頭行の直前残高は 0。残高補正行は連鎖を
// その行の残高で仕切り直す（繰越や手動補正の開始点）。
func Validate(records []Record) error {
	prior := int64(0)
	for i := range records {
		r := &records[i]

		if r.Income < 0 || r.Expense < 0 {
			return &ChainViolation{RecordID: r.ID, Kind: "negative_amount"}
		}
		if r.Balance < 0 {
			return &ChainViolation{RecordID: r.ID, Kind: "balance_mismatch", Got: r.Balance}
		}

		if r.Summary == SummaryAdjustment {
			prior = r.Balance
			continue
		}

		want := prior + r.Income - r.Expense
		if r.Balance != want {
			return &ChainViolation{RecordID: r.ID, Kind: "balance_mismatch", Want: want, Got: r.Balance}
		}
		prior = r.Balance
	}
	return nil
}
