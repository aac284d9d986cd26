package lending

import "time"

// Decide は貸出か返却かを決める純関数。
//
// 直前操作から undoWindow 未満（厳密に <）の再タッチは誤タッチの
// 取り消しとみなし、直前操作の逆を返す。それ以外はカードの貸出
// フラグに従う（貸出中なら返却、そうでなければ貸出）。
// 直前操作が存在しない初回タッチでは取り消しの分岐は効かない。
func Decide(isLent bool, state *LendingState, touchTime time.Time, undoWindow time.Duration) Operation {
	if state != nil && state.LastOp != "" && touchTime.Sub(state.At) < undoWindow {
		return state.LastOp.Inverse()
	}
	if isLent {
		return OpReturn
	}
	return OpLend
}
