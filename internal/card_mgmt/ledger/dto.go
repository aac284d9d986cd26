package ledger

import "time"

type RecordDTO struct {
	ID           int64      `json:"id"`
	ULID         string     `json:"ulid"`
	CardIdm      string     `json:"card_idm"`
	Date         time.Time  `json:"date"`
	Summary      string     `json:"summary"`
	Income       int64      `json:"income"`
	Expense      int64      `json:"expense"`
	Balance      int64      `json:"balance"`
	IsLentRecord bool       `json:"is_lent_record"`
	LenderIdm    *string    `json:"lender_idm,omitempty"`
	StaffName    *string    `json:"staff_name,omitempty"`
	LentAt       *time.Time `json:"lent_at,omitempty"`
	ReturnedAt   *time.Time `json:"returned_at,omitempty"`
	ReturnerIdm  *string    `json:"returner_idm,omitempty"`
	Note         *string    `json:"note,omitempty"`
}

type ListResult struct {
	Items      []RecordDTO `json:"items"`
	Total      int64       `json:"total"`
	NextOffset int         `json:"next_offset"`
}

type BalanceDTO struct {
	CardIdm string `json:"card_idm"`
	Balance int64  `json:"balance"`
}

func toDTO(r Record) RecordDTO {
	d := RecordDTO{
		ID:           r.ID,
		ULID:         r.ULID,
		CardIdm:      r.CardIdm,
		Date:         r.Date,
		Summary:      r.Summary,
		Income:       r.Income,
		Expense:      r.Expense,
		Balance:      r.Balance,
		IsLentRecord: r.IsLentRecord,
	}
	if r.LenderIdm.Valid {
		d.LenderIdm = &r.LenderIdm.String
	}
	if r.StaffName.Valid {
		d.StaffName = &r.StaffName.String
	}
	if r.LentAt.Valid {
		d.LentAt = &r.LentAt.Time
	}
	if r.ReturnedAt.Valid {
		d.ReturnedAt = &r.ReturnedAt.Time
	}
	if r.ReturnerIdm.Valid {
		d.ReturnerIdm = &r.ReturnerIdm.String
	}
	if r.Note.Valid {
		d.Note = &r.Note.String
	}
	return d
}
