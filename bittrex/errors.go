package bittrex

import (
	"errors"
	"fmt"
	"net"
)

// TransportError represents a failure of the HTTP exchange itself: the request
// never completed, the body could not be read, or the server answered with a
// non-2xx status. StatusCode is zero when no response was received.
type TransportError struct {
	StatusCode int
	Body       []byte
	Err        error
}

func NewTransportError(statusCode int, body []byte, err error) *TransportError {
	return &TransportError{
		StatusCode: statusCode,
		Body:       body,
		Err:        err,
	}
}

func (e *TransportError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("bittrex transport: %s", e.Err)
	}

	return fmt.Sprintf("bittrex transport: get http response code %d and body %s", e.StatusCode, e.Body)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Timeout reports whether the request was cut off by the client timeout.
func (e *TransportError) Timeout() bool {
	var netErr net.Error
	return errors.As(e.Err, &netErr) && netErr.Timeout()
}

// DecodeError means the exchange answered with a 2xx status but the body was
// not a single valid JSON value.
type DecodeError struct {
	Body []byte
	Err  error
}

func NewDecodeError(body []byte, err error) *DecodeError {
	return &DecodeError{
		Body: body,
		Err:  err,
	}
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("bittrex decode: %s (body %q)", e.Err, e.Body)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}
