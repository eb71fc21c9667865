package s3

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/smithy-go"

	"strata/pkg/strata"
)

// mapError translates SDK failures into the strata error taxonomy. An
// error with no provider response at all means the request never
// completed and is transport trouble by definition.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return &strata.TransportError{Err: err}
	}

	switch apiErr.ErrorCode() {
	case "NoSuchKey", "NoSuchBucket", "NoSuchUpload", "NotFound":
		return fmt.Errorf("%w: %s", strata.ErrNotFound, apiErr.ErrorCode())
	case "BucketAlreadyExists", "BucketAlreadyOwnedByYou":
		return fmt.Errorf("%w: %s", strata.ErrAlreadyExists, apiErr.ErrorCode())
	case "AccessDenied", "InvalidAccessKeyId", "SignatureDoesNotMatch", "ExpiredToken", "TokenRefreshRequired":
		return fmt.Errorf("%w: %s", strata.ErrUnauthorized, apiErr.ErrorCode())
	case "InternalError", "ServiceUnavailable", "SlowDown", "RequestTimeout":
		return &strata.TransportError{Err: err}
	}

	return err
}

// md5FromETag extracts the payload MD5 from an S3 ETag. Multipart ETags
// carry a part-count suffix and are no MD5 of anything useful, so they
// yield "".
func md5FromETag(etag string) string {
	etag = strings.Trim(etag, `"`)
	if strings.Contains(etag, "-") {
		return ""
	}
	return etag
}
