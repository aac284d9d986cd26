package cards

import (
	"context"
	"database/sql"
	"strings"
)

type Service struct {
	store *Store
}

func NewService(conn *sql.DB) *Service {
	return &Service{store: NewStore(conn)}
}

func (s *Service) Get(ctx context.Context, idm string) (*CardDTO, error) {
	idm = strings.TrimSpace(idm)
	if idm == "" {
		return nil, ErrInvalid("idm is required")
	}
	c, err := s.store.GetByIdm(ctx, idm)
	if err != nil {
		return nil, ErrInternal("failed to get card")
	}
	if c == nil {
		return nil, ErrNotFound("card not found")
	}
	dto := toDTO(c)
	return &dto, nil
}

func (s *Service) List(ctx context.Context, f CardFilter, p Page) (*ListResult, error) {
	if p.Limit <= 0 || p.Limit > 200 {
		p.Limit = 50
	}
	if p.Offset < 0 {
		p.Offset = 0
	}

	rows, total, err := s.store.List(ctx, f, p)
	if err != nil {
		return nil, ErrInternal("failed to list cards")
	}

	items := make([]CardDTO, 0, len(rows))
	for i := range rows {
		items = append(items, toDTO(&rows[i]))
	}

	next := p.Offset + p.Limit
	if next >= int(total) {
		next = 0
	}
	return &ListResult{Items: items, Total: total, NextOffset: next}, nil
}
