package errors

import (
	"net/http"
	"strings"
)

type ErrCode string

const (
	ErrCodeNotImplemented ErrCode = "NotImplemented"
	ErrCodeNotFound       ErrCode = "NotFound"
	ErrCodeServiceFailure ErrCode = "ServiceFailure"
	ErrCodeBadRequest     ErrCode = "BadRequest"
	ErrCodeOversized      ErrCode = "Oversized"
	// terminal lifecycle states of a shout - legitimate outcomes, not failures,
	// but carried as error codes so callers can map them to distinct responses
	ErrCodeExpired   ErrCode = "Expired"
	ErrCodeExhausted ErrCode = "Exhausted"
	// chat room past its fixed lifetime
	ErrCodeRoomExpired ErrCode = "RoomExpired"
)

// Err is the error currency across service components. It carries an error code
// for programmatic handling, a human-readable message and an optional cause chain.
type Err struct {
	Code  ErrCode
	msg   string
	cause error
}

func (e *Err) Error() string {
	return e.msg
}

// Trace returns the message of e along with those of its cause chain
func (e *Err) Trace() string {
	b := &strings.Builder{}
	b.WriteString(e.msg)
	err, depth := e.cause, 1
	for err != nil {
		b.WriteString("\n")
		b.WriteString(strings.Repeat("\t", depth))
		b.WriteString("Caused by: ")
		b.WriteString(err.Error())
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
		depth++
	}
	return b.String()
}

func (e *Err) Unwrap() error {
	return e.cause
}

func (e *Err) WithCause(c error) *Err {
	e.cause = c
	return e
}

func (e *Err) WithMsg(m string) *Err {
	e.msg = m
	return e
}

// prefer appSpecificErr(msg) over appSpecificErr(msg, cause) since the latter's method signature has less
// readability - user needs to look up docs to know the 2nd param is for cause, while the first one can use
// WithCause() to be explicit
func NewServiceFailure(m string) *Err {
	return &Err{Code: ErrCodeServiceFailure, msg: m}
}

func NewNotFound(m string) *Err {
	return &Err{Code: ErrCodeNotFound, msg: m}
}

func NewBadInput(m string) *Err {
	return &Err{Code: ErrCodeBadRequest, msg: m}
}

func NewNotImplemented() *Err {
	return &Err{Code: ErrCodeNotImplemented, msg: "Not implemented"}
}

func NewOversized() *Err {
	return &Err{Code: ErrCodeOversized, msg: "Oversized data"}
}

func NewExpired(m string) *Err {
	return &Err{Code: ErrCodeExpired, msg: m}
}

func NewExhausted(m string) *Err {
	return &Err{Code: ErrCodeExhausted, msg: m}
}

func NewRoomExpired(m string) *Err {
	return &Err{Code: ErrCodeRoomExpired, msg: m}
}

// StatusCode returns the http response status code associated with the Err value.
// Expired/exhausted shouts and expired rooms deliberately surface as 404 like
// plain misses; the response body carries the distinct reason code.
func (e *Err) StatusCode() int {
	switch e.Code {
	case ErrCodeNotFound, ErrCodeExpired, ErrCodeExhausted, ErrCodeRoomExpired:
		return http.StatusNotFound
	case ErrCodeBadRequest:
		return http.StatusBadRequest
	case ErrCodeOversized:
		return http.StatusRequestEntityTooLarge
	default:
		return http.StatusInternalServerError
	}
}
