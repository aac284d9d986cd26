package reader

import (
	"context"
	"errors"
	"time"
)

// ErrReadFailed はカードとの通信失敗（タイムアウト・かざし外し等）。
// 返却処理はこのエラーを致命とせず、利用履歴の取り込みだけを諦める。
var ErrReadFailed = errors.New("カードの読み取りに失敗")

// Touch は読み取り機へのかざしイベント。IDm は16進文字列。
type Touch struct {
	Idm string
	At  time.Time
}

type UsageKind int

const (
	KindTrain UsageKind = iota
	KindBus
	KindCharge
	KindPurchase
)

func (k UsageKind) String() string {
	switch k {
	case KindTrain:
		return "train"
	case KindBus:
		return "bus"
	case KindCharge:
		return "charge"
	case KindPurchase:
		return "purchase"
	default:
		return "unknown"
	}
}

// UsageEntry はカードが保持する利用履歴1件。
// 駅コードは IC SFCard Fan の (地区, 線区, 駅順) 3値。バス・チャージ・物販では 0。
type UsageEntry struct {
	Date         time.Time
	Kind         UsageKind
	EntryArea    int
	EntryLine    int
	EntryStation int
	ExitArea     int
	ExitLine     int
	ExitStation  int
	Income       int64
	Expense      int64
	BalanceAfter int64
}

// Driver はカード読み取り機の抽象。実機ドライバとシミュレータが同じ契約を満たす。
// Touches のイベントは到着順に1本のチャネルへ流れ、受け手（フロントデスク）が
// 唯一の消費者になる。
type Driver interface {
	Touches() <-chan Touch
	ReadBalance(ctx context.Context, idm string) (int64, error)
	ReadHistory(ctx context.Context, idm string) ([]UsageEntry, error)
}
