// Package errx defines the typed error taxonomy of the media cache.
//
// Every failure that crosses a component boundary is an *Error carrying a
// Code. The Code decides whether a caller may retry automatically (network
// and transient storage trouble) or should involve the user (permission,
// corrupt local state). Use As/CodeOf/IsRetryable to inspect wrapped errors.
package errx

import (
	stdErrors "errors"
	"fmt"
)

type Code string

const (
	CodeValidation        Code = "VALIDATION_ERROR"
	CodePermissionDenied  Code = "PERMISSION_DENIED"
	CodeRemoteFetchFailed Code = "REMOTE_FETCH_FAILED"
	CodeDownloadFailed    Code = "DOWNLOAD_FAILED"
	CodeLocalStoreFailed  Code = "LOCAL_STORE_FAILED"
	CodeUnknownDownloadID Code = "UNKNOWN_DOWNLOAD_ID"
	CodePaused            Code = "PAUSED"
	CodeCanceled          Code = "CANCELED"
	CodeInternal          Code = "INTERNAL_ERROR"
)

type Metadata struct {
	Retryable     bool
	PublicMessage string
}

var metadataByCode = map[Code]Metadata{
	CodeValidation: {
		Retryable:     false,
		PublicMessage: "invalid request",
	},
	CodePermissionDenied: {
		Retryable:     false,
		PublicMessage: "access to the media library was denied",
	},
	CodeRemoteFetchFailed: {
		Retryable:     true,
		PublicMessage: "media service unavailable",
	},
	CodeDownloadFailed: {
		Retryable:     true,
		PublicMessage: "media download failed",
	},
	CodeLocalStoreFailed: {
		Retryable:     false,
		PublicMessage: "local media library unavailable",
	},
	CodeUnknownDownloadID: {
		Retryable:     false,
		PublicMessage: "download not found",
	},
	CodePaused: {
		Retryable:     true,
		PublicMessage: "download paused",
	},
	CodeCanceled: {
		Retryable:     false,
		PublicMessage: "download canceled",
	},
	CodeInternal: {
		Retryable:     true,
		PublicMessage: "internal error",
	},
}

func MetadataFor(code Code) Metadata {
	if meta, ok := metadataByCode[code]; ok {
		return meta
	}
	return metadataByCode[CodeInternal]
}

type Error struct {
	code      Code
	message   string
	cause     error
	retryable *bool
}

func New(code Code, message string) *Error {
	return &Error{code: code, message: message}
}

func Wrap(code Code, err error, message string) *Error {
	if err == nil {
		return New(code, message)
	}
	return &Error{code: code, message: message, cause: err}
}

// WithRetryable overrides the code default, e.g. a 404 download is a
// DownloadFailed that retrying will not fix.
func (e *Error) WithRetryable(retryable bool) *Error {
	if e == nil {
		return nil
	}
	e.retryable = &retryable
	return e
}

func (e *Error) Code() Code {
	if e == nil {
		return CodeInternal
	}
	return e.code
}

func (e *Error) Message() string {
	if e == nil {
		return ""
	}
	return e.message
}

func (e *Error) Retryable() bool {
	if e == nil {
		return false
	}
	if e.retryable != nil {
		return *e.retryable
	}
	return MetadataFor(e.code).Retryable
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.code, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.code, e.message)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

func As(err error) *Error {
	if err == nil {
		return nil
	}
	var typed *Error
	if stdErrors.As(err, &typed) {
		return typed
	}
	return nil
}

// CodeOf returns the outermost typed code in err's chain, CodeInternal for
// untyped errors and "" for nil.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	if te := As(err); te != nil {
		return te.Code()
	}
	return CodeInternal
}

func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if te := As(err); te != nil {
		return te.Retryable()
	}
	return MetadataFor(CodeInternal).Retryable
}

func Is(err error, code Code) bool {
	return err != nil && CodeOf(err) == code
}
