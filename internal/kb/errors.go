package kb

import (
	"errors"
	"fmt"

	"github.com/imroc/req/v3"
	"github.com/openmined/kbsync/internal/retry"
)

var (
	ErrNoJobID        = errors.New("kb: upload accepted without a job id")
	ErrDocumentAbsent = errors.New("kb: document not found")
)

// APIError is a rejected indexing service call
type APIError struct {
	Op      string
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("kb api error: %s: status=%d code=%s - %s", e.Op, e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("kb api error: %s: status=%d - %s", e.Op, e.Status, e.Message)
}

func (e *APIError) Kind() retry.FailureKind {
	if kind := retry.KindForStatus(e.Status); kind != retry.KindNone {
		return kind
	}
	// 2xx with a non-success status field
	return retry.KindInvalid
}

func handleAPIError(resp *req.Response, requestErr error, op string, body *apiResponse) error {
	if requestErr != nil {
		kind := retry.Classify(requestErr)
		if resp != nil && resp.Response != nil && resp.StatusCode >= 400 {
			kind = retry.KindForStatus(resp.StatusCode)
		} else if kind == retry.KindFatal && (resp == nil || resp.Response == nil) {
			kind = retry.KindTransient
		}
		return retry.NewError(kind, op, fmt.Errorf("http request: %w", requestErr))
	}

	if !resp.IsErrorState() && (body.Status == "" || body.Status == StatusSuccess) {
		return nil
	}

	apiErr := &APIError{Op: op, Status: resp.StatusCode, Code: body.Code, Message: body.Message}
	if apiErr.Message == "" {
		apiErr.Message = resp.Status
	}
	err := error(apiErr)
	if apiErr.Kind() == retry.KindNotFound {
		err = fmt.Errorf("%w: %w", ErrDocumentAbsent, apiErr)
	}
	return retry.NewError(apiErr.Kind(), op, err)
}
