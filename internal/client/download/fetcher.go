package download

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dmitrijs2005/zonemedia/internal/errx"
	"github.com/dmitrijs2005/zonemedia/internal/netx"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Fetcher opens source for reading from offset. Implementations must report
// in the returned RangeResponse where the body actually starts, since a
// server may ignore the requested offset.
type Fetcher interface {
	Fetch(ctx context.Context, source string, offset int64) (*netx.RangeResponse, error)
}

// HTTPFetcher downloads http(s) URLs with ranged GET requests.
type HTTPFetcher struct {
	client *http.Client
}

// NewHTTPFetcher builds a fetcher whose client gives up on a response that
// has not started within timeout. The body read itself is not time-limited.
func NewHTTPFetcher(timeout time.Duration) *HTTPFetcher {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if timeout > 0 {
		transport.ResponseHeaderTimeout = timeout
	}
	return &HTTPFetcher{client: &http.Client{Transport: otelhttp.NewTransport(transport)}}
}

func (f *HTTPFetcher) Fetch(ctx context.Context, source string, offset int64) (*netx.RangeResponse, error) {
	resp, err := netx.GetRange(ctx, f.client, source, offset)
	if err != nil {
		return nil, classify(err, "http fetch")
	}
	return resp, nil
}

// MultiFetcher routes a source to a fetcher by URL scheme.
type MultiFetcher map[string]Fetcher

func (m MultiFetcher) Fetch(ctx context.Context, source string, offset int64) (*netx.RangeResponse, error) {
	u, err := url.Parse(source)
	if err != nil {
		return nil, errx.Wrap(errx.CodeValidation, err, "bad download source")
	}
	f, ok := m[strings.ToLower(u.Scheme)]
	if !ok {
		return nil, errx.New(errx.CodeValidation, "unsupported download scheme "+u.Scheme)
	}
	return f.Fetch(ctx, source, offset)
}

// classify maps a transport error onto CodeDownloadFailed with the retry
// decision: client errors (4xx) are permanent, server and network errors
// are not.
func classify(err error, msg string) error {
	if err == nil {
		return nil
	}
	if errx.As(err) != nil {
		return err
	}
	if errors.Is(err, context.Canceled) {
		return errx.Wrap(errx.CodeCanceled, err, msg)
	}

	var se *netx.StatusError
	if errors.As(err, &se) {
		return errx.Wrap(errx.CodeDownloadFailed, err, msg).WithRetryable(se.Temporary())
	}

	var ne net.Error
	if errors.As(err, &ne) || errors.Is(err, context.DeadlineExceeded) {
		return errx.Wrap(errx.CodeDownloadFailed, err, msg).WithRetryable(true)
	}
	var ue *url.Error
	if errors.As(err, &ue) {
		return errx.Wrap(errx.CodeDownloadFailed, err, msg).WithRetryable(true)
	}
	return errx.Wrap(errx.CodeDownloadFailed, err, msg)
}
