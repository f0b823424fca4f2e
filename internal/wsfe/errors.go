package wsfe

import (
	"errors"
	"fmt"
	"strings"
)

// NotFoundCode is the WSFEv1 error code for "no results"
const NotFoundCode = 602

var (
	// ErrNotFound means the queried entity does not exist remotely
	ErrNotFound = errors.New("wsfe: not found")

	// ErrTransport matches every *TransportError
	ErrTransport = errors.New("wsfe: transport failure")

	// ErrService matches every *ServiceError
	ErrService = errors.New("wsfe: service error")
)

// TransportError is a failure to obtain a well-formed answer: network
// errors, timeouts, non-200 statuses and undecodable bodies
type TransportError struct {
	Op         string
	StatusCode int
	Fault      string
	Err        error
	retryable  bool
}

func (e *TransportError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "wsfe %s: transport failure", e.Op)
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, ": http status %d", e.StatusCode)
	}
	if e.Fault != "" {
		fmt.Fprintf(&b, ": %s", e.Fault)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *TransportError) Unwrap() error { return e.Err }

func (e *TransportError) Is(target error) bool { return target == ErrTransport }

// Retryable reports whether repeating the call may succeed
func (e *TransportError) Retryable() bool { return e.retryable }

// ServiceMessage is one entry of a WSFEv1 Errors/Err list
type ServiceMessage struct {
	Code int
	Msg  string
}

// ServiceError carries the error codes WSFEv1 returned in a well-formed answer
type ServiceError struct {
	Op     string
	Errors []ServiceMessage
}

func (e *ServiceError) Error() string {
	parts := make([]string, 0, len(e.Errors))
	for _, m := range e.Errors {
		parts = append(parts, fmt.Sprintf("[%d] %s", m.Code, m.Msg))
	}
	return fmt.Sprintf("wsfe %s: %s", e.Op, strings.Join(parts, "; "))
}

func (e *ServiceError) Is(target error) bool {
	if target == ErrService {
		return true
	}
	return target == ErrNotFound && e.HasCode(NotFoundCode)
}

// HasCode reports whether code is among the returned errors
func (e *ServiceError) HasCode(code int) bool {
	for _, m := range e.Errors {
		if m.Code == code {
			return true
		}
	}
	return false
}

// IsNotFound reports whether err means the entity does not exist
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsTransport reports whether err is a transport failure
func IsTransport(err error) bool {
	return errors.Is(err, ErrTransport)
}
