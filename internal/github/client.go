// Package github opens pull requests for review branches hosted on GitHub.
package github

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/google/go-github/v81/github"
	"golang.org/x/oauth2"
)

type Client struct {
	Client *github.Client
	HTTP   *http.Client
	Budget *RateBudget
}

type options struct {
	trace   io.Writer
	baseURL string
}

type Option func(*options)

// WithVerbose traces every API call to w (stderr when nil) so stdout stays
// free for the status board and --emit streams.
func WithVerbose(enabled bool, w io.Writer) Option {
	return func(o *options) {
		if !enabled {
			o.trace = nil
			return
		}
		if w == nil {
			w = os.Stderr
		}
		o.trace = w
	}
}

// WithBaseURL points the client at another REST API root, such as
// https://ghe.example.com/api/v3/ for GitHub Enterprise Server.
func WithBaseURL(raw string) Option {
	return func(o *options) { o.baseURL = raw }
}

type traceTransport struct {
	base http.RoundTripper
	w    io.Writer
}

func (t *traceTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	fmt.Fprintf(t.w, "[verbose] github api: %s %s\n", req.Method, req.URL.Path)
	start := time.Now()
	resp, err := t.base.RoundTrip(req)
	took := time.Since(start).Truncate(time.Millisecond)
	if err != nil {
		fmt.Fprintf(t.w, "[verbose] github api: %s %s failed after %s: %v\n", req.Method, req.URL.Path, took, err)
		return nil, err
	}
	fmt.Fprintf(t.w, "[verbose] github api: %s %s -> %s (%s)\n", req.Method, req.URL.Path, resp.Status, took)
	return resp, nil
}

// transport layers auth over tracing over the rate budget, so traced
// requests are the ones that actually left the budget gate.
func (o *options) transport(token string, budget *RateBudget) http.RoundTripper {
	var rt http.RoundTripper = &budgetRoundTripper{base: http.DefaultTransport, budget: budget}
	if o.trace != nil {
		rt = &traceTransport{base: rt, w: o.trace}
	}
	if token != "" {
		rt = &oauth2.Transport{Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token}), Base: rt}
	}
	return rt
}

func apiRoot(raw string) (*url.URL, error) {
	if !strings.HasSuffix(raw, "/") {
		raw += "/"
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("github client: base url: %w", err)
	}
	return u, nil
}

// NewClient builds a REST client. An empty token makes unauthenticated
// calls, which only work for public repositories.
func NewClient(ctx context.Context, token string, opts ...Option) (*Client, error) {
	if ctx == nil {
		return nil, errors.New("github client: ctx is nil")
	}
	o := &options{}
	for _, apply := range opts {
		if apply != nil {
			apply(o)
		}
	}

	budget := NewRateBudget()
	hc := &http.Client{Transport: o.transport(token, budget)}
	gh := github.NewClient(hc)
	if o.baseURL != "" {
		u, err := apiRoot(o.baseURL)
		if err != nil {
			return nil, err
		}
		gh.BaseURL, gh.UploadURL = u, u
	}
	return &Client{Client: gh, HTTP: hc, Budget: budget}, nil
}
