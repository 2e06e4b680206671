package plugins

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strings"

	git "github.com/go-git/go-git/v5"

	platformerrors "github.com/11bztaylor/TaylorDashv1-sub001/internal/errors"
)

// Fetcher materializes a plugin bundle from a repository URL.
type Fetcher interface {
	Fetch(ctx context.Context, repositoryURL, dir string) error
}

// GitFetcher clones bundles with a shallow checkout.
type GitFetcher struct{}

// NewGitFetcher builds the default fetcher.
func NewGitFetcher() *GitFetcher {
	return &GitFetcher{}
}

// Fetch clones repositoryURL into dir, replacing any previous contents.
func (f *GitFetcher) Fetch(ctx context.Context, repositoryURL, dir string) error {
	const op = "plugins.fetch"

	if err := os.RemoveAll(dir); err != nil {
		return platformerrors.Internal(op, err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return platformerrors.Internal(op, err)
	}

	_, err := git.PlainCloneContext(ctx, dir, false, &git.CloneOptions{
		URL:          repositoryURL,
		Depth:        1,
		SingleBranch: true,
	})
	if err != nil {
		return platformerrors.Upstream(op, fmt.Errorf("clone %s: %w", repositoryURL, err))
	}
	return nil
}

// ValidateRepositoryURL enforces the host allow-list. Only https git URLs
// from approved hosts are accepted.
func ValidateRepositoryURL(raw string, allowedHosts []string) error {
	const op = "plugins.repository_url"

	u, err := url.Parse(raw)
	if err != nil {
		return platformerrors.Validation(op, fmt.Errorf("repository_url is not a valid URL"))
	}
	if u.Scheme != "https" {
		return platformerrors.Validation(op, fmt.Errorf("repository_url must use https"))
	}

	host := strings.ToLower(u.Hostname())
	for _, allowed := range allowedHosts {
		if host == strings.ToLower(allowed) {
			return nil
		}
	}
	return platformerrors.Validation(op, fmt.Errorf("repository host %s is not on the allow-list", host))
}
