package collyfetcher

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"path"
	"strings"
	"sync/atomic"
	"time"

	"github.com/JakeFAU/page-scraper/internal/scraper"
)

const (
	robotsAttempts  = 3
	robotsBaseDelay = 250 * time.Millisecond
	robotsMaxDelay  = 500 * time.Millisecond
	allowAllRobots  = "User-agent: *\nAllow: /"
)

// robotsTransport is installed for a single fetch when robots.txt is honored. Page requests pass
// straight through. A robots.txt lookup that keeps timing out is answered with allow-all so a
// slow robots endpoint cannot fail the page on its own; any other failure becomes a FetchError.
type robotsTransport struct {
	next    http.RoundTripper
	backoff *scraper.ExponentialRetryPolicy
	sleep   func(context.Context, time.Duration) error
	assumed atomic.Bool
}

func newRobotsTransport(next http.RoundTripper) *robotsTransport {
	return &robotsTransport{
		next:    next,
		backoff: scraper.NewExponentialRetryPolicy(robotsAttempts, robotsBaseDelay, robotsMaxDelay),
		sleep:   scraper.Sleep,
	}
}

// allowedByDefault reports whether the allow-all answer was used.
func (t *robotsTransport) allowedByDefault() bool {
	return t.assumed.Load()
}

func (t *robotsTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if !isRobotsRequest(req) {
		return t.next.RoundTrip(req) //nolint:wrapcheck // page errors are wrapped by the caller
	}
	for attempt := 1; ; attempt++ {
		resp, err := t.next.RoundTrip(req.Clone(req.Context()))
		if err == nil {
			return resp, nil
		}
		if !isTimeout(err) {
			return nil, &scraper.FetchError{URL: req.URL.String(), Attempts: attempt, Err: err}
		}
		if attempt >= t.backoff.MaxAttempts() {
			t.assumed.Store(true)
			return allowAllResponse(req), nil
		}
		if err := t.sleep(req.Context(), t.backoff.Backoff(attempt)); err != nil {
			return nil, &scraper.FetchError{URL: req.URL.String(), Attempts: attempt, Err: err}
		}
	}
}

func isRobotsRequest(req *http.Request) bool {
	return req.URL != nil && strings.EqualFold(path.Clean("/"+req.URL.Path), "/robots.txt")
}

func allowAllResponse(req *http.Request) *http.Response {
	return &http.Response{
		StatusCode:    http.StatusOK,
		Status:        "200 OK",
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Body:          io.NopCloser(strings.NewReader(allowAllRobots)),
		ContentLength: int64(len(allowAllRobots)),
		Header:        http.Header{"Content-Type": {"text/plain"}},
		Request:       req,
	}
}

func isTimeout(err error) bool {
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return true
	case errors.As(err, &netErr) && netErr.Timeout():
		return true
	default:
		return false
	}
}
