package retry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"syscall"
	"time"
)

// FailureKind classifies a failed remote call.
type FailureKind uint8

const (
	KindNone FailureKind = iota
	KindThrottle
	KindTransient
	KindAuth
	KindPermission
	KindInvalid
	KindNotFound
	KindFatal
	KindCanceled
)

func (k FailureKind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindThrottle:
		return "throttle"
	case KindTransient:
		return "transient"
	case KindAuth:
		return "auth"
	case KindPermission:
		return "permission"
	case KindInvalid:
		return "invalid"
	case KindNotFound:
		return "not_found"
	case KindFatal:
		return "fatal"
	case KindCanceled:
		return "canceled"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Retryable reports whether another attempt can change the outcome.
func (k FailureKind) Retryable() bool {
	return k == KindThrottle || k == KindTransient
}

// Error is a classified failure. Adapters wrap their native errors in it so the
// executor can branch on the kind instead of guessing from the message.
type Error struct {
	Kind       FailureKind
	Op         string
	Err        error
	RetryAfter time.Duration
}

func NewError(kind FailureKind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindForStatus maps an HTTP status code onto a failure kind.
func KindForStatus(status int) FailureKind {
	switch {
	case status < 400:
		return KindNone
	case status == http.StatusTooManyRequests:
		return KindThrottle
	case status == http.StatusRequestTimeout, status >= 500:
		return KindTransient
	case status == http.StatusUnauthorized:
		return KindAuth
	case status == http.StatusForbidden:
		return KindPermission
	case status == http.StatusNotFound:
		return KindNotFound
	default:
		return KindInvalid
	}
}

// Classify returns the failure kind of err. Unclassified errors are fatal so
// that unknown failures are never retried blindly.
func Classify(err error) FailureKind {
	if err == nil {
		return KindNone
	}

	var rerr *Error
	if errors.As(err, &rerr) {
		return rerr.Kind
	}

	if errors.Is(err, context.Canceled) {
		return KindCanceled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTransient
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTransient
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return KindTransient
	}
	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, io.ErrUnexpectedEOF) {
		return KindTransient
	}

	return KindFatal
}

// retryAfter extracts a server supplied wait hint, if any.
func retryAfter(err error) time.Duration {
	var rerr *Error
	if errors.As(err, &rerr) {
		return rerr.RetryAfter
	}
	return 0
}
