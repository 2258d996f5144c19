package client

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrClosed is delivered to tasks started after Close.
var ErrClosed = errors.New("client: closed")

// StatusError is the live failure for responses outside 200-299.
type StatusError struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("client: unexpected status %d %s", e.StatusCode, http.StatusText(e.StatusCode))
}
