package github

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/google/go-github/v81/github"
)

type PullRequest struct {
	Number  int    `json:"number"`
	URL     string `json:"url"`
	Created bool   `json:"created"`
}

// ParseRemote extracts owner and repository from a remote URL on host
// (DefaultHost when empty). Supported forms: https://host/o/r(.git),
// ssh://git@host/o/r.git and git@host:o/r.git.
func ParseRemote(raw, host string) (owner, repo string, ok bool) {
	if host == "" {
		host = DefaultHost
	}
	raw = strings.TrimSpace(raw)
	var path string
	switch {
	case strings.HasPrefix(raw, "git@"+host+":"):
		path = strings.TrimPrefix(raw, "git@"+host+":")
	default:
		u, err := url.Parse(raw)
		if err != nil || u.Hostname() != host {
			return "", "", false
		}
		path = u.Path
	}
	path = strings.TrimSuffix(strings.Trim(path, "/"), ".git")
	parts := strings.Split(path, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}

// EnsurePullRequest returns the open pull request from head into base,
// creating it when there is none.
func (c *Client) EnsurePullRequest(ctx context.Context, owner, repo, head, base, title, body string) (*PullRequest, error) {
	if c == nil || c.Client == nil {
		return nil, errors.New("github client is not initialized")
	}

	open, _, err := c.Client.PullRequests.List(ctx, owner, repo, &github.PullRequestListOptions{
		State: "open",
		Head:  owner + ":" + head,
		Base:  base,
	})
	if err != nil {
		return nil, fmt.Errorf("list pull requests %s/%s: %s", owner, repo, Describe(err, false))
	}
	for _, pr := range open {
		if pr.GetHead().GetRef() == head && pr.GetBase().GetRef() == base {
			return &PullRequest{Number: pr.GetNumber(), URL: pr.GetHTMLURL()}, nil
		}
	}

	pr, _, err := c.Client.PullRequests.Create(ctx, owner, repo, &github.NewPullRequest{
		Title: github.Ptr(title),
		Head:  github.Ptr(head),
		Base:  github.Ptr(base),
		Body:  github.Ptr(body),
	})
	if err != nil {
		return nil, fmt.Errorf("create pull request %s/%s %s -> %s: %s", owner, repo, head, base, Describe(err, false))
	}
	return &PullRequest{Number: pr.GetNumber(), URL: pr.GetHTMLURL(), Created: true}, nil
}
