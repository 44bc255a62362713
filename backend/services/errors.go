package services

import "github.com/gofiber/fiber/v2"

// Machine-readable reasons returned alongside the human detail, so clients can
// tell "no attempts left for this survey" apart from "no turnos left for this
// account".
const (
	ReasonNotFound         = "not_found"
	ReasonQuotaExceeded    = "quota_exceeded"
	ReasonTurnoExhausted   = "turno_exhausted"
	ReasonTurnoNotOpen     = "turno_not_open"
	ReasonAlreadySubmitted = "already_submitted"
	ReasonExpired          = "expired"
	ReasonNotEditable      = "not_editable"
	ReasonConflict         = "conflict"
	ReasonValidation       = "validation"
	ReasonConfiguration    = "configuration_invariant"
	ReasonInternal         = "internal"
)

// Error is the error type every service returns. Controllers map it straight
// onto the HTTP response.
type Error struct {
	Status int
	Reason string
	Detail string
}

func (e *Error) Error() string {
	return e.Detail
}

func NotFound(detail string) *Error {
	return &Error{Status: fiber.StatusNotFound, Reason: ReasonNotFound, Detail: detail}
}

func Forbidden(reason, detail string) *Error {
	return &Error{Status: fiber.StatusForbidden, Reason: reason, Detail: detail}
}

func Conflict(reason, detail string) *Error {
	return &Error{Status: fiber.StatusConflict, Reason: reason, Detail: detail}
}

func Validation(detail string) *Error {
	return &Error{Status: fiber.StatusBadRequest, Reason: ReasonValidation, Detail: detail}
}

func Configuration(detail string) *Error {
	return &Error{Status: fiber.StatusInternalServerError, Reason: ReasonConfiguration, Detail: detail}
}

func Internal(detail string) *Error {
	return &Error{Status: fiber.StatusInternalServerError, Reason: ReasonInternal, Detail: detail}
}
