package staff

type StaffDTO struct {
	Idm    string  `json:"idm"`
	Name   string  `json:"name"`
	Number *string `json:"number,omitempty"`
	Note   *string `json:"note,omitempty"`
}

type ListResult struct {
	Items      []StaffDTO `json:"items"`
	Total      int64      `json:"total"`
	NextOffset int        `json:"next_offset"`
}

func toDTO(s *Staff) StaffDTO {
	dto := StaffDTO{Idm: s.Idm, Name: s.Name}
	if s.Number.Valid {
		v := s.Number.String
		dto.Number = &v
	}
	if s.Note.Valid {
		v := s.Note.String
		dto.Note = &v
	}
	return dto
}
