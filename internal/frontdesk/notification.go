package frontdesk

import (
	"log/slog"
	"sync"
	"time"

	"iccard-backend/internal/card_mgmt/lending"
)

// 通知の種別
const (
	KindStateChanged      = "state_changed"
	KindAwaitingCard      = "awaiting_card"
	KindLendCompleted     = "lend_completed"
	KindReturnCompleted   = "return_completed"
	KindLookup            = "lookup"
	KindRegistrationOffer = "registration_offer"
	KindWrongCardType     = "wrong_card_type"
	KindTimeout           = "timeout"
	KindCanceled          = "canceled"
	KindError             = "error"
)

// Notification は表示層へ流すイベント。SSEでそのままJSONになる。
type Notification struct {
	Kind       string            `json:"kind"`
	State      State             `json:"state"`
	CardIdm    string            `json:"card_idm,omitempty"`
	CardNumber string            `json:"card_number,omitempty"`
	StaffIdm   string            `json:"staff_idm,omitempty"`
	StaffName  string            `json:"staff_name,omitempty"`
	Operation  string            `json:"operation,omitempty"`
	Balance    *int64            `json:"balance,omitempty"`
	Message    string            `json:"message,omitempty"`
	Warnings   []lending.Warning `json:"warnings,omitempty"`
	At         time.Time         `json:"at"`
}

const subscriberBuffer = 16

// Hub は通知の配信所。購読者ごとにバッファ付きチャネルを持ち、
// 受信が追いつかない購読者へは配信を捨てる（コントローラを止めない）。
type Hub struct {
	mu     sync.Mutex
	subs   map[int]chan Notification
	nextID int
	log    *slog.Logger
}

func NewHub(log *slog.Logger) *Hub {
	return &Hub{subs: make(map[int]chan Notification), log: log}
}

// Subscribe は購読チャネルと解除関数を返す。解除時にチャネルは閉じる。
func (h *Hub) Subscribe() (<-chan Notification, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.nextID
	h.nextID++
	ch := make(chan Notification, subscriberBuffer)
	h.subs[id] = ch

	unsubscribe := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if c, ok := h.subs[id]; ok {
			delete(h.subs, id)
			close(c)
		}
	}
	return ch, unsubscribe
}

func (h *Hub) Publish(n Notification) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, ch := range h.subs {
		select {
		case ch <- n:
		default:
			h.log.Warn("購読者が追いつかないため通知を破棄",
				slog.Int("subscriber", id),
				slog.String("kind", n.Kind),
			)
		}
	}
}

func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}
