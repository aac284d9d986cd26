package cards

import "time"

type CardDTO struct {
	Idm           string     `json:"idm"`
	CardType      string     `json:"card_type"`
	CardNumber    string     `json:"card_number"`
	Note          *string    `json:"note,omitempty"`
	IsLent        bool       `json:"is_lent"`
	LentAt        *time.Time `json:"lent_at,omitempty"`
	LastLentStaff *string    `json:"last_lent_staff,omitempty"`
}

type ListResult struct {
	Items      []CardDTO `json:"items"`
	Total      int64     `json:"total"`
	NextOffset int       `json:"next_offset"`
}

func toDTO(c *Card) CardDTO {
	dto := CardDTO{
		Idm:        c.Idm,
		CardType:   c.CardType,
		CardNumber: c.CardNumber,
		IsLent:     c.IsLent,
	}
	if c.Note.Valid {
		v := c.Note.String
		dto.Note = &v
	}
	if c.LentAt.Valid {
		v := c.LentAt.Time
		dto.LentAt = &v
	}
	if c.LastLentStaff.Valid {
		v := c.LastLentStaff.String
		dto.LastLentStaff = &v
	}
	return dto
}
