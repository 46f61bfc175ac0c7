package github

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/go-github/v81/github"
)

// Describe renders a GitHub API error for users. Unless verbose, request
// URLs are dropped from the message.
func Describe(err error, verbose bool) string {
	if err == nil {
		return "unknown error"
	}
	full := err.Error()
	if verbose {
		return full
	}

	var er *github.ErrorResponse
	if errors.As(err, &er) {
		msg := strings.TrimSpace(er.Message)
		if msg == "" {
			msg = "GitHub API request failed"
		}
		for _, e := range er.Errors {
			if e.Message != "" {
				msg += ": " + e.Message
				break
			}
		}
		if er.Response != nil {
			code := er.Response.StatusCode
			return fmt.Sprintf("GitHub API request failed (%d %s): %s", code, http.StatusText(code), msg)
		}
		return fmt.Sprintf("GitHub API request failed: %s", msg)
	}

	if scrubbed := scrubRequest(strings.TrimSpace(full)); scrubbed != "" {
		return scrubbed
	}
	return "GitHub API request failed"
}

// scrubRequest drops the leading "METHOD https://...: " of go-github errors.
func scrubRequest(s string) string {
	for _, m := range []string{"GET ", "POST ", "PUT ", "PATCH ", "DELETE "} {
		if !strings.HasPrefix(s, m) {
			continue
		}
		rest := s[len(m):]
		if j := strings.Index(rest, ": "); j >= 0 {
			return strings.TrimSpace(rest[j+2:])
		}
		return ""
	}
	return s
}
