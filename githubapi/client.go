// Package githubapi lists the repositories of a GitHub user or organization.
//
// Listing follows pagination until the last page and is all-or-nothing: a
// page fetch that keeps failing after retries fails the whole enumeration,
// since acting on a partial repository list risks silently dropping
// repositories from the mirror set. Exhausted rate limit quota is not an
// error, the client suspends until the reset time reported by the provider.
package githubapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"github.com/google/go-github/v82/github"
	"golang.org/x/oauth2"
)

// Access selects which listing endpoint is used for the owner
type Access string

const (
	// AccessAuto tries the organization endpoint first and falls back to
	// the user endpoint if the owner is not an organization
	AccessAuto Access = "auto"
	AccessOrg  Access = "org"
	AccessUser Access = "user"
)

// RepoType is the provider side repository-type filter
type RepoType string

const (
	TypeAll     RepoType = "all"
	TypeOwner   RepoType = "owner"
	TypePublic  RepoType = "public"
	TypePrivate RepoType = "private"
	TypeMember  RepoType = "member"
)

var (
	// ErrTokenRequired is returned when private repositories are requested
	// without an authentication token
	ErrTokenRequired = errors.New("an auth token is required to list private repositories")
)

// ValidAccess returns whether given access value is supported
func ValidAccess(a Access) bool {
	switch a {
	case AccessAuto, AccessOrg, AccessUser:
		return true
	}
	return false
}

// ValidRepoType returns whether given repository-type value is supported
func ValidRepoType(t RepoType) bool {
	switch t {
	case TypeAll, TypeOwner, TypePublic, TypePrivate, TypeMember:
		return true
	}
	return false
}

// RetryConfig bounds retries of transient page fetch failures
type RetryConfig struct {
	MaxRetries        int           // max attempts per page fetch
	InitialBackoff    time.Duration // first backoff duration
	MaxBackoff        time.Duration // backoff cap
	BackoffMultiplier float64       // exponential backoff multiplier
}

// DefaultRetryConfig returns conservative retry defaults
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:        5,
		InitialBackoff:    time.Second,
		MaxBackoff:        2 * time.Minute,
		BackoffMultiplier: 2.0,
	}
}

const perPage = 100

// Config for the listing client
type Config struct {
	// Token is a personal access token, may be empty for public
	// repositories of a public owner
	Token string

	// TokenSource mints tokens when Token is not set, used for GitHub App
	// installations
	TokenSource oauth2.TokenSource

	// BaseURL overrides the API base url, used for GitHub Enterprise and
	// in tests. Must end with a slash.
	BaseURL string

	Retry RetryConfig
}

// Client lists repositories of an owner with pagination, rate-limit
// suspension and bounded retries.
type Client struct {
	gh            *github.Client
	retry         RetryConfig
	authenticated bool
	log           *slog.Logger
}

// NewClient creates the listing client. Token is optional but required for
// private repositories and grants higher rate limits.
func NewClient(conf Config, log *slog.Logger) (*Client, error) {
	if log == nil {
		log = slog.Default()
	}

	if conf.Retry.MaxRetries == 0 {
		conf.Retry = DefaultRetryConfig()
	}

	var httpClient *http.Client
	ts := conf.TokenSource
	if conf.Token != "" {
		ts = oauth2.StaticTokenSource(&oauth2.Token{AccessToken: conf.Token})
	}
	if ts != nil {
		httpClient = oauth2.NewClient(context.Background(), oauth2.ReuseTokenSource(nil, ts))
	}

	gh := github.NewClient(httpClient)
	if conf.BaseURL != "" {
		var err error
		gh, err = gh.WithEnterpriseURLs(conf.BaseURL, conf.BaseURL)
		if err != nil {
			return nil, fmt.Errorf("unable to set api base url err:%w", err)
		}
	}

	return &Client{
		gh:            gh,
		retry:         conf.Retry,
		authenticated: ts != nil,
		log:           log,
	}, nil
}

// Authenticated returns whether the client was configured with a token
func (c *Client) Authenticated() bool {
	return c.authenticated
}

// ListRepositories returns the complete, deduplicated repository list of the
// owner. The provider-side type filter is applied where the endpoint supports
// it, callers are expected to re-apply their predicates locally.
func (c *Client) ListRepositories(ctx context.Context, owner string, access Access, repoType RepoType) ([]Descriptor, error) {
	if owner == "" {
		return nil, fmt.Errorf("owner cannot be empty")
	}
	if !ValidAccess(access) {
		return nil, fmt.Errorf("wrong access value '%s' provided, must be one of %s, %s, %s",
			access, AccessAuto, AccessOrg, AccessUser)
	}
	if !ValidRepoType(repoType) {
		return nil, fmt.Errorf("wrong repository-type value '%s' provided, must be one of %s, %s, %s, %s, %s",
			repoType, TypeAll, TypeOwner, TypePublic, TypePrivate, TypeMember)
	}

	if !c.authenticated && (repoType == TypePrivate || repoType == TypeAll) {
		return nil, ErrTokenRequired
	}

	var repos []*github.Repository
	var err error

	switch access {
	case AccessOrg:
		repos, err = c.listOrgRepos(ctx, owner, repoType)
	case AccessUser:
		repos, err = c.listUserRepos(ctx, owner, repoType)
	case AccessAuto:
		repos, err = c.listOrgRepos(ctx, owner, repoType)
		if isNotFound(err) {
			c.log.Info("owner is not an organization, listing as user", "owner", owner)
			repos, err = c.listUserRepos(ctx, owner, repoType)
		}
	}
	if err != nil {
		return nil, err
	}

	// de-duplicate by name keeping first occurrence order, the
	// authenticated-user endpoint can repeat entries across affiliations
	seen := make(map[string]bool, len(repos))
	descriptors := make([]Descriptor, 0, len(repos))
	for _, repo := range repos {
		d, err := newDescriptor(repo)
		if err != nil {
			return nil, fmt.Errorf("malformed repository object in listing err:%w", err)
		}
		if seen[d.Name] {
			continue
		}
		seen[d.Name] = true
		descriptors = append(descriptors, d)
	}

	c.log.Info("repository enumeration complete", "owner", owner, "count", len(descriptors))
	return descriptors, nil
}

func (c *Client) listOrgRepos(ctx context.Context, owner string, repoType RepoType) ([]*github.Repository, error) {
	opt := &github.RepositoryListByOrgOptions{
		Type:        orgListType(repoType),
		ListOptions: github.ListOptions{PerPage: perPage},
	}
	return c.listPages(ctx, func(page int) ([]*github.Repository, *github.Response, error) {
		opt.Page = page
		return c.gh.Repositories.ListByOrg(ctx, owner, opt)
	})
}

func (c *Client) listUserRepos(ctx context.Context, owner string, repoType RepoType) ([]*github.Repository, error) {
	// when authenticated, the authenticated-user endpoint is the only one
	// which includes the caller's private repositories
	if c.authenticated {
		opt := &github.RepositoryListByAuthenticatedUserOptions{
			Type:        string(repoType),
			ListOptions: github.ListOptions{PerPage: perPage},
		}
		return c.listPages(ctx, func(page int) ([]*github.Repository, *github.Response, error) {
			opt.Page = page
			return c.gh.Repositories.ListByAuthenticatedUser(ctx, opt)
		})
	}

	opt := &github.RepositoryListByUserOptions{
		Type:        userListType(repoType),
		ListOptions: github.ListOptions{PerPage: perPage},
	}
	return c.listPages(ctx, func(page int) ([]*github.Repository, *github.Response, error) {
		opt.Page = page
		return c.gh.Repositories.ListByUser(ctx, owner, opt)
	})
}

// orgListType maps the requested repository-type onto values the org listing
// endpoint accepts. 'owner' has no meaning for an org hence 'all' is
// requested and the caller's local predicate narrows the set.
func orgListType(t RepoType) string {
	switch t {
	case TypePublic, TypePrivate, TypeMember, TypeAll:
		return string(t)
	default:
		return string(TypeAll)
	}
}

// userListType maps the requested repository-type onto values the
// unauthenticated user listing endpoint accepts
func userListType(t RepoType) string {
	switch t {
	case TypeOwner, TypeMember, TypeAll:
		return string(t)
	default:
		return string(TypeAll)
	}
}

// listPages follows pagination until the provider signals no further pages.
// each page fetch is retried on transient failures and suspended on
// exhausted rate limit quota.
func (c *Client) listPages(ctx context.Context, fetch func(page int) ([]*github.Repository, *github.Response, error)) ([]*github.Repository, error) {
	var all []*github.Repository

	page := 0
	for {
		repos, resp, err := c.fetchPageWithRetry(ctx, page, fetch)
		if err != nil {
			return nil, err
		}

		all = append(all, repos...)
		recordListedPage(len(repos))

		if resp == nil || resp.NextPage == 0 {
			return all, nil
		}
		page = resp.NextPage
	}
}

func (c *Client) fetchPageWithRetry(ctx context.Context, page int, fetch func(page int) ([]*github.Repository, *github.Response, error)) ([]*github.Repository, *github.Response, error) {
	var lastErr error

	for attempt := 0; attempt <= c.retry.MaxRetries; attempt++ {
		repos, resp, err := fetch(page)
		if err == nil {
			return repos, resp, nil
		}

		// quota exhausted, suspend until the reported reset time.
		// this is not a failure and doesn't consume retry attempts.
		var rateLimitErr *github.RateLimitError
		if errors.As(err, &rateLimitErr) {
			wait := time.Until(rateLimitErr.Rate.Reset.Time) + time.Second
			if wait < 0 {
				wait = time.Second
			}
			c.log.Warn("rate limit quota exhausted, suspending",
				"page", page, "wait", wait, "reset-at", rateLimitErr.Rate.Reset.Time)
			recordRateLimitWait(wait)
			if err := sleepCtx(ctx, wait); err != nil {
				return nil, nil, err
			}
			attempt--
			continue
		}

		var abuseErr *github.AbuseRateLimitError
		if errors.As(err, &abuseErr) {
			wait := abuseErr.GetRetryAfter()
			if wait == 0 {
				wait = c.retry.InitialBackoff
			}
			c.log.Warn("secondary rate limit hit, suspending", "page", page, "wait", wait)
			recordRateLimitWait(wait)
			if err := sleepCtx(ctx, wait); err != nil {
				return nil, nil, err
			}
			attempt--
			continue
		}

		if !isTransientError(err) {
			return nil, nil, fmt.Errorf("unable to fetch repository list page %d err:%w", page, err)
		}

		lastErr = err
		backoff := c.backoff(attempt)
		c.log.Warn("transient error fetching page, retrying",
			"page", page, "attempt", attempt+1, "backoff", backoff, "err", err)
		if err := sleepCtx(ctx, backoff); err != nil {
			return nil, nil, err
		}
	}

	return nil, nil, fmt.Errorf("retries exhausted fetching repository list page %d err:%w", page, lastErr)
}

// backoff computes exponential backoff with up to 10% jitter
func (c *Client) backoff(attempt int) time.Duration {
	d := float64(c.retry.InitialBackoff) * math.Pow(c.retry.BackoffMultiplier, float64(attempt))
	if d > float64(c.retry.MaxBackoff) {
		d = float64(c.retry.MaxBackoff)
	}
	d += d * 0.1 * (rand.Float64()*2 - 1)
	return time.Duration(d)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func isNotFound(err error) bool {
	var ghErr *github.ErrorResponse
	if errors.As(err, &ghErr) {
		return ghErr.Response != nil && ghErr.Response.StatusCode == http.StatusNotFound
	}
	return false
}

// isTransientError reports whether an error is worth retrying
func isTransientError(err error) bool {
	if err == nil {
		return false
	}

	var ghErr *github.ErrorResponse
	if errors.As(err, &ghErr) && ghErr.Response != nil {
		switch ghErr.Response.StatusCode {
		case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			return true
		default:
			return false
		}
	}

	errStr := strings.ToLower(err.Error())
	for _, indicator := range []string{
		"timeout",
		"connection refused",
		"connection reset",
		"temporary failure",
		"network is unreachable",
		"no such host",
		"unexpected eof",
	} {
		if strings.Contains(errStr, indicator) {
			return true
		}
	}

	return false
}
