package probe

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
)

const maxDrain = 64 << 10

// HTTP issues a GET and checks the response status.
type HTTP struct {
	URL    string
	Client *http.Client

	// Accept reports whether a status means the target is up. Defaults to
	// any 2xx or 3xx status.
	Accept func(status int) bool
}

var _ Probe = (*HTTP)(nil)

// NewHTTP builds an HTTP probe for u. The query parameter insecure=true
// disables TLS verification and is removed from the request URL.
func NewHTTP(u *url.URL) (*HTTP, error) {
	target := *u
	query := target.Query()

	insecure := false

	if raw := query.Get("insecure"); raw != "" {
		val, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: insecure=%q", ErrInvalidTarget, raw)
		}

		insecure = val

		query.Del("insecure")
		target.RawQuery = query.Encode()
	}

	return &HTTP{
		URL: target.String(),
		Client: &http.Client{
			Transport: newTransport(insecure),
			// Redirects are an answer; the status check decides whether it counts.
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}, nil
}

func (h *HTTP) Kind() string {
	return "http"
}

func (h *HTTP) String() string {
	return redact(h.URL)
}

func (h *HTTP) Check(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.URL, nil)
	if err != nil {
		return annotate(h, err)
	}

	client := h.Client
	if client == nil {
		client = &http.Client{Transport: newTransport(false)}
	}

	rsp, err := client.Do(req)
	if err != nil {
		return annotate(h, err)
	}

	defer rsp.Body.Close()

	_, _ = io.Copy(io.Discard, io.LimitReader(rsp.Body, maxDrain))

	accept := h.Accept
	if accept == nil {
		accept = defaultAccept
	}

	if !accept(rsp.StatusCode) {
		return annotate(h, fmt.Errorf("%w: %s", ErrUnexpectedStatus, rsp.Status))
	}

	return nil
}

func defaultAccept(status int) bool {
	return status >= http.StatusOK && status < http.StatusBadRequest
}
