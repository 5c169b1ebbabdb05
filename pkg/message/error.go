package message

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrUnrepresentableHeader is returned by the serializer when a header
// cannot be written as text. It is fatal for the connection being served.
var ErrUnrepresentableHeader = errors.New("message: header not representable as text")

// StatusError is a request failure that maps onto an HTTP status.
type StatusError struct {
	Status int
	Msg    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("message: %d %s: %s", e.Status, StatusText(e.Status), e.Msg)
}

func badRequest(format string, args ...interface{}) error {
	return &StatusError{Status: http.StatusBadRequest, Msg: fmt.Sprintf(format, args...)}
}

// StatusOf returns the status carried by err, or 500 if err carries none.
func StatusOf(err error) int {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Status
	}
	return http.StatusInternalServerError
}
