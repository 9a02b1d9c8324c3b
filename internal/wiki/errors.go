package wiki

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/imroc/req/v3"
	"github.com/openmined/kbsync/internal/retry"
)

var (
	ErrEmptyToken = errors.New("wiki: empty tenant access token")
	ErrEmptyBody  = errors.New("wiki: empty document body")
)

// Open API codes with a known retry behaviour
var codeKinds = map[int]retry.FailureKind{
	99991400: retry.KindThrottle,
	131001:   retry.KindThrottle,
	131007:   retry.KindThrottle,
	99991661: retry.KindAuth,
	99991663: retry.KindAuth,
	99991668: retry.KindAuth,
	10003:    retry.KindAuth,
	10014:    retry.KindAuth,
	131006:   retry.KindPermission,
	99991672: retry.KindPermission,
	131005:   retry.KindNotFound,
}

// APIError is a failed open API call, either a non-2xx status or a zero
// status with a non-zero body code.
type APIError struct {
	Op     string
	Status int
	Code   int
	Msg    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("wiki api error: %s: status=%d code=%d msg=%s", e.Op, e.Status, e.Code, e.Msg)
}

func (e *APIError) Kind() retry.FailureKind {
	if kind, ok := codeKinds[e.Code]; ok {
		return kind
	}
	if kind := retry.KindForStatus(e.Status); kind != retry.KindNone {
		return kind
	}
	return retry.KindInvalid
}

// handleAPIError turns a transport error, an error status or a non-zero body
// code into a classified *retry.Error.
func handleAPIError(resp *req.Response, requestErr error, op string, code int, msg string) error {
	if requestErr != nil {
		kind := retry.Classify(requestErr)
		if kind == retry.KindFatal && (resp == nil || resp.Response == nil) {
			// no response at all: connection level failure
			kind = retry.KindTransient
		}
		if resp != nil && resp.Response != nil && resp.StatusCode >= http.StatusBadRequest {
			kind = retry.KindForStatus(resp.StatusCode)
		}
		return retry.NewError(kind, op, fmt.Errorf("http request: %w", requestErr))
	}

	if !resp.IsErrorState() && code == 0 {
		return nil
	}

	apiErr := &APIError{Op: op, Status: resp.StatusCode, Code: code, Msg: msg}
	rerr := retry.NewError(apiErr.Kind(), op, apiErr)
	rerr.RetryAfter = retryAfter(resp.Header)
	return rerr
}

// retryAfter reads Retry-After or the gateway reset header, in seconds
func retryAfter(h http.Header) time.Duration {
	for _, name := range []string{"Retry-After", "X-Ogw-Ratelimit-Reset"} {
		v := h.Get(name)
		if v == "" {
			continue
		}
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
		if at, err := http.ParseTime(v); err == nil {
			if d := time.Until(at); d > 0 {
				return d
			}
		}
	}
	return 0
}
