package blob

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/aws/smithy-go"
	"github.com/openmined/kbsync/internal/retry"
)

var s3ErrorKinds = map[string]retry.FailureKind{
	"SlowDown":                    retry.KindThrottle,
	"Throttling":                  retry.KindThrottle,
	"ThrottlingException":         retry.KindThrottle,
	"RequestLimitExceeded":        retry.KindThrottle,
	"TooManyRequestsException":    retry.KindThrottle,
	"ServiceUnavailable":          retry.KindThrottle,
	"InternalError":               retry.KindTransient,
	"RequestTimeout":              retry.KindTransient,
	"RequestTimeTooSkewed":        retry.KindTransient,
	"InvalidAccessKeyId":          retry.KindAuth,
	"SignatureDoesNotMatch":       retry.KindAuth,
	"ExpiredToken":                retry.KindAuth,
	"InvalidToken":                retry.KindAuth,
	"AccessDenied":                retry.KindPermission,
	"AllAccessDisabled":           retry.KindPermission,
	"NoSuchKey":                   retry.KindNotFound,
	"NotFound":                    retry.KindNotFound,
	"NoSuchBucket":                retry.KindFatal,
	"InvalidArgument":             retry.KindInvalid,
	"InvalidRequest":              retry.KindInvalid,
	"EntityTooLarge":              retry.KindInvalid,
	"InvalidObjectState":          retry.KindInvalid,
	"KeyTooLongError":             retry.KindInvalid,
	"MalformedXML":                retry.KindInvalid,
	"PreconditionFailed":          retry.KindInvalid,
	"BadDigest":                   retry.KindTransient,
	"IncompleteBody":              retry.KindTransient,
	"OperationAborted":            retry.KindTransient,
	"InternalFailure":             retry.KindTransient,
	"ServiceUnavailableException": retry.KindThrottle,
}

type httpStatusError interface {
	HTTPStatusCode() int
}

// classifyS3Error wraps an SDK error into a *retry.Error. Missing objects
// additionally match ErrObjectNotFound.
func classifyS3Error(op string, err error) error {
	if err == nil {
		return nil
	}

	kind := retry.KindNone
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		kind = s3ErrorKinds[apiErr.ErrorCode()]
		if kind == retry.KindNone && strings.HasPrefix(apiErr.ErrorCode(), "Throttling") {
			kind = retry.KindThrottle
		}
	}

	if kind == retry.KindNone {
		var statusErr httpStatusError
		if errors.As(err, &statusErr) {
			if statusErr.HTTPStatusCode() == http.StatusServiceUnavailable {
				kind = retry.KindThrottle
			} else {
				kind = retry.KindForStatus(statusErr.HTTPStatusCode())
			}
		}
	}

	if kind == retry.KindNone {
		kind = retry.Classify(err)
	}

	if kind == retry.KindNotFound {
		err = fmt.Errorf("%w: %w", ErrObjectNotFound, err)
	}
	return retry.NewError(kind, op, err)
}
