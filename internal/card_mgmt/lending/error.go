package lending

import (
	"fmt"
	"net/http"
)

// ===== エラーモデル =====

type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string { return e.Message }

func ErrInvalid(msg string) *APIError {
	return &APIError{Code: "INVALID_ARGUMENT", Message: msg}
}

func ErrConflict(msg string) *APIError {
	return &APIError{Code: "CONFLICT", Message: msg}
}

func ErrInternal(msg string) *APIError {
	return &APIError{Code: "INTERNAL", Message: msg}
}

func toHTTPStatus(e *APIError) int {
	switch e.Code {
	case "INVALID_ARGUMENT":
		return http.StatusBadRequest
	case "NOT_FOUND":
		return http.StatusNotFound
	case "CONFLICT":
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// ErrLockContention は同じカードの取引が進行中。
// 待たずに失敗する経路（デバッグAPI等）だけが返す。
var ErrLockContention = ErrConflict("同じカードの処理が進行中です。少し待ってから再試行してください")

// UnregisteredCardError は未登録カードのタッチ。
// エラーというより登録フローへの誘導に使う。
type UnregisteredCardError struct {
	Idm string
}

func (e *UnregisteredCardError) Error() string {
	return fmt.Sprintf("未登録のカードです: idm=%s", e.Idm)
}

// UnregisteredStaffError は未登録職員のタッチ
type UnregisteredStaffError struct {
	Idm string
}

func (e *UnregisteredStaffError) Error() string {
	return fmt.Sprintf("未登録の職員カードです: idm=%s", e.Idm)
}

// PersistenceError はDB起因の失敗。トランザクションは巻き戻り済みで、
// カードと台帳は処理前のまま。再試行可能としてそのまま利用者に見せる。
type PersistenceError struct {
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("保存処理に失敗しました（状態は変更されていません）: %v", e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }
