// Package netx contains the HTTP plumbing for resumable downloads: ranged
// GET requests and Content-Range parsing.
package netx

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
)

var ErrInvalidContentRange = errors.New("invalid content-range")

// StatusError is returned for any unexpected HTTP status.
type StatusError struct {
	StatusCode int
	Status     string
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("download failed: %s", e.Status)
	}
	return fmt.Sprintf("download failed: %s; body: %s", e.Status, e.Body)
}

// Temporary reports whether retrying later can succeed (5xx, 408, 429).
func (e *StatusError) Temporary() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusRequestTimeout || e.StatusCode == http.StatusTooManyRequests
}

// RangeResponse is a body positioned at Start within a resource of Total
// bytes (-1 when the server did not say).
type RangeResponse struct {
	Body  io.ReadCloser
	Start int64
	Total int64
}

// GetRange requests url starting at offset. A server that ignores the Range
// header answers 200 and the response starts at 0; callers must check Start.
// A 416 for an offset equal to the resource size means the file is already
// complete and yields an empty body.
func GetRange(ctx context.Context, client *http.Client, url string, offset int64) (*RangeResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	if offset > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
	}

	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}

	switch resp.StatusCode {
	case http.StatusOK:
		return &RangeResponse{Body: resp.Body, Start: 0, Total: resp.ContentLength}, nil

	case http.StatusPartialContent:
		start, total, err := ParseContentRange(resp.Header.Get("Content-Range"))
		if err != nil {
			resp.Body.Close()
			return nil, err
		}
		return &RangeResponse{Body: resp.Body, Start: start, Total: total}, nil

	case http.StatusRequestedRangeNotSatisfiable:
		defer resp.Body.Close()
		_, total, err := ParseContentRange(resp.Header.Get("Content-Range"))
		if err == nil && total == offset {
			return &RangeResponse{Body: io.NopCloser(strings.NewReader("")), Start: offset, Total: total}, nil
		}
		return nil, &StatusError{StatusCode: resp.StatusCode, Status: resp.Status}

	default:
		defer resp.Body.Close()
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &StatusError{StatusCode: resp.StatusCode, Status: resp.Status, Body: string(b)}
	}
}

// ParseContentRange parses "bytes 100-199/1000", "bytes 100-199/*" and
// "bytes */1000". start is -1 for the unsatisfied form, total is -1 for "*".
func ParseContentRange(v string) (start, total int64, err error) {
	v = strings.TrimSpace(v)
	if !strings.HasPrefix(v, "bytes ") {
		return 0, 0, fmt.Errorf("%w: %q", ErrInvalidContentRange, v)
	}
	rng, size, ok := strings.Cut(strings.TrimPrefix(v, "bytes "), "/")
	if !ok {
		return 0, 0, fmt.Errorf("%w: %q", ErrInvalidContentRange, v)
	}

	total = -1
	if size != "*" {
		total, err = strconv.ParseInt(size, 10, 64)
		if err != nil || total < 0 {
			return 0, 0, fmt.Errorf("%w: %q", ErrInvalidContentRange, v)
		}
	}

	if rng == "*" {
		return -1, total, nil
	}
	first, _, ok := strings.Cut(rng, "-")
	if !ok {
		return 0, 0, fmt.Errorf("%w: %q", ErrInvalidContentRange, v)
	}
	start, err = strconv.ParseInt(first, 10, 64)
	if err != nil || start < 0 {
		return 0, 0, fmt.Errorf("%w: %q", ErrInvalidContentRange, v)
	}
	return start, total, nil
}
