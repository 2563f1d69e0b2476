// Package memory provides a static, in-memory follower graph used for tests,
// dry runs and local development.
package memory

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/JakeFAU/influence-crawler/internal/crawler"
)

// Account is one fixture entry.
type Account struct {
	Username       string   `yaml:"username"`
	FullName       string   `yaml:"full_name"`
	FollowerCount  int64    `yaml:"follower_count"`
	FollowingCount int64    `yaml:"following_count"`
	Private        bool     `yaml:"private"`
	Followers      []string `yaml:"followers"`
}

// Fixture is the YAML document layout.
type Fixture struct {
	Accounts []Account `yaml:"accounts"`
}

// Provider serves profiles and paginated follower listings from memory.
type Provider struct {
	mu       sync.RWMutex
	accounts map[string]Account
	pageSize int
	failures map[string][]error
}

// New returns an empty provider. pageSize <= 0 defaults to 50.
func New(pageSize int) *Provider {
	if pageSize <= 0 {
		pageSize = 50
	}
	return &Provider{
		accounts: make(map[string]Account),
		pageSize: pageSize,
		failures: make(map[string][]error),
	}
}

// LoadFile builds a provider from a YAML fixture file.
func LoadFile(path string, pageSize int) (*Provider, error) {
	raw, err := os.ReadFile(path) //nolint:gosec // path comes from operator config
	if err != nil {
		return nil, fmt.Errorf("read fixture: %w", err)
	}
	return Parse(raw, pageSize)
}

// Parse builds a provider from YAML fixture bytes.
func Parse(raw []byte, pageSize int) (*Provider, error) {
	var fx Fixture
	if err := yaml.Unmarshal(raw, &fx); err != nil {
		return nil, fmt.Errorf("decode fixture: %w", err)
	}
	p := New(pageSize)
	for _, acct := range fx.Accounts {
		if acct.Username == "" {
			return nil, fmt.Errorf("fixture account without username: %w", crawler.ErrInvalidInput)
		}
		p.Add(acct)
	}
	return p, nil
}

// Add registers or replaces an account.
func (p *Provider) Add(acct Account) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.accounts[accountKey(acct.Username)] = acct
}

// accountKey folds usernames so lookups match however a fixture spells them.
func accountKey(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}

// FailNext queues errors returned by the next calls touching username, in order.
func (p *Provider) FailNext(username string, errs ...error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	key := accountKey(username)
	p.failures[key] = append(p.failures[key], errs...)
}

func (p *Provider) popFailure(username string) error {
	key := accountKey(username)
	queue := p.failures[key]
	if len(queue) == 0 {
		return nil
	}
	p.failures[key] = queue[1:]
	return queue[0]
}

// FetchProfile implements crawler.Provider.
func (p *Provider) FetchProfile(_ context.Context, username string) (crawler.Profile, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.popFailure(username); err != nil {
		return crawler.Profile{}, err
	}
	acct, ok := p.accounts[accountKey(username)]
	if !ok {
		return crawler.Profile{}, fmt.Errorf("profile %s: %w", username, crawler.ErrAccountNotFound)
	}
	return crawler.Profile{
		UserID:         username,
		Username:       acct.Username,
		FullName:       acct.FullName,
		FollowerCount:  acct.FollowerCount,
		FollowingCount: acct.FollowingCount,
		IsPrivate:      acct.Private,
	}, nil
}

// FetchFollowersPage implements crawler.Provider. Cursors are offsets into the
// fixture's follower list.
func (p *Provider) FetchFollowersPage(_ context.Context, username, cursor string) (crawler.FollowersPage, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.popFailure(username); err != nil {
		return crawler.FollowersPage{}, err
	}
	acct, ok := p.accounts[accountKey(username)]
	if !ok {
		return crawler.FollowersPage{}, fmt.Errorf("followers of %s: %w", username, crawler.ErrAccountNotFound)
	}
	if acct.Private {
		return crawler.FollowersPage{}, fmt.Errorf("followers of %s: %w", username, crawler.ErrPrivateAccount)
	}
	start := 0
	if cursor != "" {
		n, err := strconv.Atoi(cursor)
		if err != nil || n < 0 || n > len(acct.Followers) {
			return crawler.FollowersPage{}, fmt.Errorf("invalid cursor %q: %w", cursor, crawler.ErrInvalidInput)
		}
		start = n
	}
	end := min(start+p.pageSize, len(acct.Followers))
	page := crawler.FollowersPage{Followers: make([]crawler.FollowerSummary, 0, end-start)}
	for _, name := range acct.Followers[start:end] {
		page.Followers = append(page.Followers, crawler.FollowerSummary{Username: name})
	}
	if end < len(acct.Followers) {
		page.NextCursor = strconv.Itoa(end)
	}
	return page, nil
}
