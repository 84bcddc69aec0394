package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
)

const reasonHandshakeTimeout = "TLS handshake timeout"

var defaultRobotsDelays = []time.Duration{
	250 * time.Millisecond,
	500 * time.Millisecond,
	time.Second,
}

// robotsTransport retries robots.txt probes that time out. Every other
// request goes straight to base.
type robotsTransport struct {
	base  http.RoundTripper
	probe *robotsProbe
}

func (t *robotsTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req == nil || req.URL == nil {
		return nil, errors.New("robots transport: nil request")
	}
	if t.probe == nil || !strings.EqualFold(req.URL.Path, "/robots.txt") {
		resp, err := t.base.RoundTrip(req)
		if err != nil {
			return nil, fmt.Errorf("round trip %s: %w", req.URL, err)
		}
		return resp, nil
	}
	return t.probe.fetch(req, t.base)
}

// robotsProbe records whether robots.txt stayed unreachable, in which case
// the fetch went ahead as if everything were allowed.
type robotsProbe struct {
	delays      []time.Duration
	unreachable bool
	reason      string
}

func newRobotsProbe() *robotsProbe {
	return &robotsProbe{delays: defaultRobotsDelays}
}

func (p *robotsProbe) fetch(req *http.Request, base http.RoundTripper) (*http.Response, error) {
	var resp *http.Response
	err := retry.Do(
		func() error {
			r, err := base.RoundTrip(req.Clone(req.Context()))
			if err != nil {
				if !handshakeTimeout(err) {
					return retry.Unrecoverable(err)
				}
				return err
			}
			resp = r
			return nil
		},
		retry.Context(req.Context()),
		retry.Attempts(uint(len(p.delays)+1)),
		retry.DelayType(func(n uint, _ error, _ *retry.Config) time.Duration {
			if len(p.delays) == 0 {
				return 0
			}
			return p.delays[min(int(n), len(p.delays)-1)]
		}),
		retry.LastErrorOnly(true),
	)
	switch {
	case err == nil:
		return resp, nil
	case handshakeTimeout(err) && req.Context().Err() == nil:
		p.unreachable = true
		p.reason = reasonHandshakeTimeout
		return allowAllRobots(req), nil
	default:
		return nil, fmt.Errorf("fetch robots.txt: %w", err)
	}
}

func allowAllRobots(req *http.Request) *http.Response {
	const body = "User-agent: *\nAllow: /"
	return &http.Response{
		StatusCode:    http.StatusOK,
		Status:        "200 OK",
		Body:          io.NopCloser(strings.NewReader(body)),
		ContentLength: int64(len(body)),
		Header:        make(http.Header),
		Request:       req,
	}
}

func handshakeTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return strings.Contains(err.Error(), "tls: handshake timeout")
}
