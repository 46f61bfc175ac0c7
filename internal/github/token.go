package github

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"strings"
	"time"
)

type AuthTokenSource string

const (
	AuthTokenSourceExplicit AuthTokenSource = "explicit"
	AuthTokenSourceEnv      AuthTokenSource = "env:GITHUB_TOKEN"
	AuthTokenSourceGHEnv    AuthTokenSource = "env:GH_TOKEN"
	AuthTokenSourceGitHubCL AuthTokenSource = "gh"
)

// DefaultHost is the host asked for a token when none is given.
const DefaultHost = "github.com"

// ResolveAuthToken resolves a GitHub access token for host.
//
// Precedence:
//  1. provided (if non-empty)
//  2. GITHUB_TOKEN env var
//  3. GH_TOKEN env var
//  4. GitHub CLI: `gh auth token -h <host>`
//
// No token is not an error; review pull requests are then skipped. It never
// prints the token.
func ResolveAuthToken(ctx context.Context, provided, host string) (token string, source AuthTokenSource, err error) {
	if tok := strings.TrimSpace(provided); tok != "" {
		return tok, AuthTokenSourceExplicit, nil
	}
	for _, env := range []struct {
		name   string
		source AuthTokenSource
	}{
		{"GITHUB_TOKEN", AuthTokenSourceEnv},
		{"GH_TOKEN", AuthTokenSourceGHEnv},
	} {
		if v := strings.TrimSpace(os.Getenv(env.name)); v != "" {
			return v, env.source, nil
		}
	}

	if host == "" {
		host = DefaultHost
	}
	tok, ok, err := tokenFromGitHubCLI(ctx, host)
	if err != nil {
		return "", "", err
	}
	if ok {
		return tok, AuthTokenSourceGitHubCL, nil
	}
	return "", "", nil
}

func tokenFromGitHubCLI(ctx context.Context, host string) (token string, ok bool, err error) {
	if _, lookErr := exec.LookPath("gh"); lookErr != nil {
		return "", false, nil
	}

	// Bounded so a broken gh credential helper cannot stall a batch.
	cmdCtx := ctx
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		cmdCtx, cancel = context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
	}

	cmd := exec.CommandContext(cmdCtx, "gh", "auth", "token", "-h", host)
	cmd.Env = ghEnv(os.Environ())
	out, runErr := cmd.Output()
	if runErr != nil {
		if cmdCtx.Err() != nil {
			return "", false, cmdCtx.Err()
		}
		// gh present but logged out: no token. Its output is not surfaced.
		return "", false, nil
	}

	tok := strings.TrimSpace(string(out))
	if tok == "" {
		return "", false, nil
	}
	if strings.ContainsAny(tok, " \t\n\r") {
		return "", false, errors.New("invalid token returned by gh: contains whitespace")
	}
	return tok, true, nil
}

// ghEnv forces a non-interactive pager so gh never waits on a terminal.
func ghEnv(env []string) []string {
	out := make([]string, 0, len(env)+1)
	for _, kv := range env {
		if !strings.HasPrefix(kv, "GH_PAGER=") {
			out = append(out, kv)
		}
	}
	return append(out, "GH_PAGER=cat")
}
