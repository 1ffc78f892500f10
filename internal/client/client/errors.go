package client

import "errors"

var (
	ErrUnavailable  = errors.New("manifest service unavailable")
	ErrUnauthorized = errors.New("unauthorized")
	ErrBadManifest  = errors.New("malformed manifest")
)
