package minio

import (
	"context"
	"errors"
	"fmt"
	"strings"

	miniogo "github.com/minio/minio-go/v7"

	"strata/pkg/strata"
)

// mapError translates SDK failures into the strata error taxonomy. An
// error that carries no S3 error code never got a provider response and
// is transport trouble by definition.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	resp := miniogo.ToErrorResponse(err)
	if resp.Code == "" {
		return &strata.TransportError{Err: err}
	}

	switch resp.Code {
	case "NoSuchKey", "NoSuchBucket", "NoSuchUpload", "NotFound":
		return fmt.Errorf("%w: %s", strata.ErrNotFound, resp.Code)
	case "BucketAlreadyExists", "BucketAlreadyOwnedByYou":
		return fmt.Errorf("%w: %s", strata.ErrAlreadyExists, resp.Code)
	case "AccessDenied", "InvalidAccessKeyId", "SignatureDoesNotMatch", "ExpiredToken", "TokenRefreshRequired":
		return fmt.Errorf("%w: %s", strata.ErrUnauthorized, resp.Code)
	case "InternalError", "ServiceUnavailable", "SlowDown", "RequestTimeout":
		return &strata.TransportError{Err: err}
	}

	return err
}

// md5FromETag extracts the payload MD5 from an S3-style ETag. Multipart
// ETags carry a part-count suffix and are no MD5 of anything useful, so
// they yield "".
func md5FromETag(etag string) string {
	etag = strings.Trim(etag, `"`)
	if strings.Contains(etag, "-") {
		return ""
	}
	return etag
}
