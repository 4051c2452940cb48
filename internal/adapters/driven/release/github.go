// Package release looks up published nestsync releases on GitHub.
package release

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	gh "github.com/google/go-github/v80/github"
	"golang.org/x/mod/semver"

	"github.com/custodia-labs/nestsync/internal/core/domain"
)

const (
	// DefaultOwner and DefaultRepo locate the release feed.
	DefaultOwner = "custodia-labs"
	DefaultRepo  = "nestsync"

	// DefaultTimeout bounds the release lookup.
	DefaultTimeout = 10 * time.Second
)

// Release describes a published version.
type Release struct {
	Version     string
	URL         string
	PublishedAt time.Time
}

// Checker queries the latest release of a repository.
type Checker struct {
	client *gh.Client
	owner  string
	repo   string
}

// NewChecker creates a checker for the default repository.
// A nil httpClient uses one with DefaultTimeout.
func NewChecker(httpClient *http.Client) *Checker {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultTimeout}
	}
	return NewCheckerWithClient(gh.NewClient(httpClient), DefaultOwner, DefaultRepo)
}

// NewCheckerWithClient creates a checker around an existing go-github client.
func NewCheckerWithClient(client *gh.Client, owner, repo string) *Checker {
	return &Checker{client: client, owner: owner, repo: repo}
}

// Latest returns the newest non-draft release.
func (c *Checker) Latest(ctx context.Context) (*Release, error) {
	rel, resp, err := c.client.Repositories.GetLatestRelease(ctx, c.owner, c.repo)
	if err != nil {
		return nil, wrapError(resp, err)
	}
	return &Release{
		Version:     strings.TrimPrefix(rel.GetTagName(), "v"),
		URL:         rel.GetHTMLURL(),
		PublishedAt: rel.GetPublishedAt().Time,
	}, nil
}

// IsNewer reports whether latest is a newer version than current, with
// semantic version precedence: 1.2.0-rc1 is older than 1.2.0.
// Development builds and unparseable versions never report an update.
func IsNewer(current, latest string) bool {
	cur := canonical(current)
	lat := canonical(latest)
	if cur == "" || lat == "" {
		return false
	}
	return semver.Compare(lat, cur) > 0
}

// canonical adds the "v" semver expects, or returns "" for "dev" and
// other non-versions.
func canonical(v string) string {
	v = "v" + strings.TrimPrefix(strings.TrimSpace(v), "v")
	if !semver.IsValid(v) {
		return ""
	}
	return v
}

func wrapError(resp *gh.Response, err error) error {
	var rateErr *gh.RateLimitError
	if errors.As(err, &rateErr) {
		return fmt.Errorf("%w: %v", domain.ErrRateLimited, err)
	}
	var abuseErr *gh.AbuseRateLimitError
	if errors.As(err, &abuseErr) {
		return fmt.Errorf("%w: %v", domain.ErrRateLimited, err)
	}
	if resp != nil && resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: no published release", domain.ErrNotFound)
	}
	return fmt.Errorf("%w: %v", domain.ErrUnreachable, err)
}
