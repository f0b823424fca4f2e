package wsaa

import (
	"errors"
	"fmt"
)

var (
	// ErrSigning means the access ticket could not be signed
	ErrSigning = errors.New("access ticket signing failed")

	// ErrAuthentication means the WSAA handshake did not yield a credential
	ErrAuthentication = errors.New("wsaa authentication failed")
)

// AuthenticationError describes a failed loginCms exchange
type AuthenticationError struct {
	StatusCode int
	Fault      string
	Err        error
}

func (e *AuthenticationError) Error() string {
	msg := "wsaa authentication failed"
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s: http status %d", msg, e.StatusCode)
	}
	if e.Fault != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Fault)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *AuthenticationError) Unwrap() error {
	return e.Err
}

// Is lets errors.Is match any AuthenticationError against ErrAuthentication
func (e *AuthenticationError) Is(target error) bool {
	return target == ErrAuthentication
}

func signingError(err error) error {
	return fmt.Errorf("%w: %v", ErrSigning, err)
}
