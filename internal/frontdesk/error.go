package frontdesk

import "net/http"

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
