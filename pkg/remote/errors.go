package remote

import (
	"errors"
	"fmt"
)

var (
	ErrAborted          = errors.New("stream aborted")
	ErrConnectTimeout   = errors.New("connect timeout exceeded")
	ErrIncompleteStream = errors.New("stream closed before a finished event")
	ErrUnsupportedKind  = errors.New("unsupported execution kind")
)

// ConnectionError reports that a job could not be opened.
type ConnectionError struct {
	Op         string
	StatusCode int
	Err        error
	Message    string
}

func (e *ConnectionError) Error() string {
	msg := "connection to remote backend failed"
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}

	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.StatusCode)
	}

	if e.Message != "" {
		msg += ": " + e.Message
	}

	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}

	return msg
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// StreamError reports a failure after the stream was opened.
type StreamError struct {
	Code    string
	Message string
	Err     error
}

func (e *StreamError) Error() string {
	msg := "remote stream failed"
	if e.Code != "" {
		msg += " [" + e.Code + "]"
	}

	if e.Message != "" {
		msg += ": " + e.Message
	}

	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}

	return msg
}

func (e *StreamError) Unwrap() error {
	return e.Err
}

// IsConnectionError checks if an error is a ConnectionError.
func IsConnectionError(err error) bool {
	var connErr *ConnectionError

	return errors.As(err, &connErr)
}

// IsStreamError checks if an error is a StreamError.
func IsStreamError(err error) bool {
	var streamErr *StreamError

	return errors.As(err, &streamErr)
}
