package ledger

import (
	"context"
	"strings"
)

// ===== サービス層（参照系） =====

type Service struct {
	store *Store
}

func NewService(store *Store) *Service {
	return &Service{store: store}
}

const (
	defaultLimit = 50
	maxLimit     = 200
)

// ListByCard はカードの台帳を新しい順で返す
func (s *Service) ListByCard(ctx context.Context, idm string, limit, offset int) (*ListResult, error) {
	idm = strings.TrimSpace(idm)
	if idm == "" {
		return nil, ErrInvalid("card_idm is required")
	}
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	if offset < 0 {
		offset = 0
	}

	records, total, err := s.store.ListByCard(ctx, idm, Page{Limit: limit, Offset: offset})
	if err != nil {
		return nil, ErrInternal("failed to list ledger: " + err.Error())
	}

	items := make([]RecordDTO, 0, len(records))
	for _, r := range records {
		items = append(items, toDTO(r))
	}
	next := offset + len(items)
	if int64(next) >= total {
		next = 0
	}
	return &ListResult{Items: items, Total: total, NextOffset: next}, nil
}

// Balance はカードの最新残高を返す。記録がなければ 0 円。
func (s *Service) Balance(ctx context.Context, idm string) (*BalanceDTO, error) {
	idm = strings.TrimSpace(idm)
	if idm == "" {
		return nil, ErrInvalid("card_idm is required")
	}
	bal, err := s.store.BalanceByCard(ctx, idm)
	if err != nil {
		return nil, ErrInternal("failed to read balance: " + err.Error())
	}
	return &BalanceDTO{CardIdm: idm, Balance: bal}, nil
}
