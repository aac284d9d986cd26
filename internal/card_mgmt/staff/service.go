package staff

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

func (s *Service) Get(ctx context.Context, idm string) (*StaffDTO, error) {
	idm = strings.TrimSpace(idm)
	if idm == "" {
		return nil, ErrInvalid("idm is required")
	}
	st, err := s.store.GetByIdm(ctx, idm)
	if err != nil {
		return nil, ErrInternal("failed to get staff")
	}
	if st == nil {
		return nil, ErrNotFound("staff not found")
	}
	dto := toDTO(st)
	return &dto, nil
}

func (s *Service) List(ctx context.Context, p Page) (*ListResult, error) {
	if p.Limit <= 0 || p.Limit > 200 {
		p.Limit = 50
	}
	if p.Offset < 0 {
		p.Offset = 0
	}

	rows, total, err := s.store.List(ctx, p)
	if err != nil {
		return nil, ErrInternal("failed to list staff")
	}

	items := make([]StaffDTO, 0, len(rows))
	for i := range rows {
		items = append(items, toDTO(&rows[i]))
	}

	next := p.Offset + p.Limit
	if next >= int(total) {
		next = 0
	}
	return &ListResult{Items: items, Total: total, NextOffset: next}, nil
}
