package call

import (
	"errors"
	"fmt"
)

// ErrorCode определяет типизированные коды ошибок жизненного цикла
// вызова. Позволяет обработчикам классифицировать ошибку, не разбирая
// текст.
type ErrorCode int

const (
	// Ошибки команд
	ErrorCodeNoSession ErrorCode = iota + 2000
	ErrorCodeInvalidStatus
	ErrorCodeTransportCommand

	// Ошибки установки вызова
	ErrorCodeSinkAcquisition
	ErrorCodeDialFailed
)

// String возвращает строковое представление кода ошибки
func (code ErrorCode) String() string {
	switch code {
	case ErrorCodeNoSession:
		return "NoSession"
	case ErrorCodeInvalidStatus:
		return "InvalidStatus"
	case ErrorCodeTransportCommand:
		return "TransportCommand"
	case ErrorCodeSinkAcquisition:
		return "SinkAcquisition"
	case ErrorCodeDialFailed:
		return "DialFailed"
	default:
		return fmt.Sprintf("Unknown(%d)", int(code))
	}
}

// Error - структурированная ошибка вызова с кодом и причиной.
type Error struct {
	Code    ErrorCode
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError создает ошибку вызова с указанным кодом.
func NewError(code ErrorCode, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// HasErrorCode проверяет, содержит ли цепочка ошибок ошибку вызова с
// указанным кодом.
func HasErrorCode(err error, code ErrorCode) bool {
	var callErr *Error
	if errors.As(err, &callErr) {
		return callErr.Code == code
	}
	return false
}
