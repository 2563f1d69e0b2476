// Package instagram adapts the Instagram web API to the crawler.Provider
// contract and maps its failures onto the crawler error taxonomy.
package instagram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/influence-crawler/internal/crawler"
)

const (
	defaultBaseURL   = "https://i.instagram.com"
	defaultUserAgent = "Instagram 269.0.0.18.75 Android"
	webAppID         = "936619743392459"
	maxBodyBytes     = 4 << 20
)

// Config holds adapter configuration.
type Config struct {
	BaseURL   string
	UserAgent string
	PageSize  int
	Timeout   time.Duration
	// UserIDCacheSize bounds the username to user id index.
	UserIDCacheSize int
}

const defaultUserIDCacheSize = 10000

// Client talks to the provider using one authenticated session.
type Client struct {
	http    *http.Client
	cfg     Config
	session Session
	logger  *zap.Logger

	userIDs *lru.Cache[string, string]
}

// New constructs a Client. httpClient may be nil.
func New(cfg Config, session Session, httpClient *http.Client, logger *zap.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.UserAgent == "" {
		cfg.UserAgent = session.UserAgent
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 50
	}
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.UserIDCacheSize <= 0 {
		cfg.UserIDCacheSize = defaultUserIDCacheSize
	}
	// lru.New only fails for a non-positive size.
	userIDs, _ := lru.New[string, string](cfg.UserIDCacheSize)
	return &Client{
		http:    httpClient,
		cfg:     cfg,
		session: session,
		logger:  logger,
		userIDs: userIDs,
	}
}

// UserID implements crawler.UserIDIndex.
func (c *Client) UserID(username string) (string, bool) {
	return c.userIDs.Get(strings.ToLower(username))
}

// RememberUserID implements crawler.UserIDIndex.
func (c *Client) RememberUserID(username, userID string) {
	if username == "" || userID == "" {
		return
	}
	c.userIDs.Add(strings.ToLower(username), userID)
}

type profileResponse struct {
	Data struct {
		User *struct {
			ID            string `json:"id"`
			Username      string `json:"username"`
			FullName      string `json:"full_name"`
			IsPrivate     bool   `json:"is_private"`
			EdgeFollowers struct {
				Count int64 `json:"count"`
			} `json:"edge_followed_by"`
			EdgeFollowing struct {
				Count int64 `json:"count"`
			} `json:"edge_follow"`
		} `json:"user"`
	} `json:"data"`
}

type followersResponse struct {
	Users []struct {
		PK        json.Number `json:"pk"`
		Username  string      `json:"username"`
		FullName  string      `json:"full_name"`
		IsPrivate bool        `json:"is_private"`
	} `json:"users"`
	NextMaxID string `json:"next_max_id"`
	Status    string `json:"status"`
}

type errorResponse struct {
	Message       string `json:"message"`
	Status        string `json:"status"`
	ErrorType     string `json:"error_type"`
	Challenge     any    `json:"challenge"`
	RequireLogin  bool   `json:"require_login"`
	Spam          bool   `json:"spam"`
	FeedbackTitle string `json:"feedback_title"`
}

// FetchProfile implements crawler.Provider.
func (c *Client) FetchProfile(ctx context.Context, username string) (crawler.Profile, error) {
	q := url.Values{"username": {username}}
	var resp profileResponse
	if err := c.get(ctx, "/api/v1/users/web_profile_info/?"+q.Encode(), &resp); err != nil {
		return crawler.Profile{}, fmt.Errorf("profile %s: %w", username, err)
	}
	u := resp.Data.User
	if u == nil {
		return crawler.Profile{}, fmt.Errorf("profile %s: %w", username, crawler.ErrAccountNotFound)
	}
	c.RememberUserID(username, u.ID)
	return crawler.Profile{
		UserID:         u.ID,
		Username:       u.Username,
		FullName:       u.FullName,
		FollowerCount:  u.EdgeFollowers.Count,
		FollowingCount: u.EdgeFollowing.Count,
		IsPrivate:      u.IsPrivate,
	}, nil
}

// FetchFollowersPage implements crawler.Provider. The listing endpoint is
// keyed by user id, so an unseen username costs one profile lookup first.
// The rate-limit gate resolves unseen ids with their own gated call before
// reaching here.
func (c *Client) FetchFollowersPage(ctx context.Context, username, cursor string) (crawler.FollowersPage, error) {
	userID, err := c.resolveUserID(ctx, username)
	if err != nil {
		return crawler.FollowersPage{}, err
	}
	q := url.Values{"count": {strconv.Itoa(c.cfg.PageSize)}}
	if cursor != "" {
		q.Set("max_id", cursor)
	}
	var resp followersResponse
	path := "/api/v1/friendships/" + url.PathEscape(userID) + "/followers/?" + q.Encode()
	if err := c.get(ctx, path, &resp); err != nil {
		return crawler.FollowersPage{}, fmt.Errorf("followers of %s: %w", username, err)
	}
	page := crawler.FollowersPage{
		Followers:  make([]crawler.FollowerSummary, 0, len(resp.Users)),
		NextCursor: resp.NextMaxID,
	}
	for _, u := range resp.Users {
		page.Followers = append(page.Followers, crawler.FollowerSummary{
			Username:  u.Username,
			FullName:  u.FullName,
			IsPrivate: u.IsPrivate,
		})
		c.RememberUserID(u.Username, u.PK.String())
	}
	return page, nil
}

func (c *Client) resolveUserID(ctx context.Context, username string) (string, error) {
	if id, ok := c.UserID(username); ok {
		return id, nil
	}
	profile, err := c.FetchProfile(ctx, username)
	if err != nil {
		return "", err
	}
	return profile.UserID, nil
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+path, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", c.cfg.UserAgent)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-IG-App-ID", webAppID)
	req.Header.Set("Cookie", c.session.CookieHeader())
	if token := c.session.Cookies["csrftoken"]; token != "" {
		req.Header.Set("X-CSRFToken", token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return classifyTransportError(ctx, err)
	}
	defer func() {
		if errClose := resp.Body.Close(); errClose != nil {
			c.logger.Debug("close response body", zap.Error(errClose))
		}
	}()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return classifyTransportError(ctx, err)
	}
	if err := classifyResponse(resp.StatusCode, body); err != nil {
		c.logger.Debug("provider request failed",
			zap.String("path", req.URL.Path),
			zap.Int("status", resp.StatusCode),
			zap.Error(err),
		)
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// classifyResponse maps a provider response onto the error taxonomy. A nil
// return means the body is a success payload.
func classifyResponse(status int, body []byte) error {
	var payload errorResponse
	_ = json.Unmarshal(body, &payload)
	msg := strings.ToLower(payload.Message)

	switch {
	case strings.Contains(msg, "challenge_required") || payload.Challenge != nil:
		return fmt.Errorf("%s: %w", payload.Message, crawler.ErrChallengeRequired)
	case strings.Contains(msg, "login_required") || payload.RequireLogin || status == http.StatusUnauthorized:
		return fmt.Errorf("status %d: %w", status, crawler.ErrAuthenticationRequired)
	case status == http.StatusTooManyRequests || strings.Contains(msg, "wait a few minutes") || payload.Spam:
		return fmt.Errorf("status %d: %w", status, crawler.ErrRateLimited)
	case strings.Contains(msg, "not authorized to view user"):
		return fmt.Errorf("status %d: %w", status, crawler.ErrPrivateAccount)
	case status == http.StatusNotFound || strings.Contains(msg, "user not found"):
		return fmt.Errorf("status %d: %w", status, crawler.ErrAccountNotFound)
	case status >= http.StatusInternalServerError:
		return fmt.Errorf("status %d: %w", status, crawler.ErrNetwork)
	case status >= http.StatusBadRequest:
		return fmt.Errorf("unexpected status %d: %s", status, payload.Message)
	case payload.Status == "fail":
		return fmt.Errorf("provider failure: %s", payload.Message)
	default:
		return nil
	}
}

// classifyTransportError separates the caller giving up from the provider
// being slow or unreachable.
func classifyTransportError(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %w", crawler.ErrTimeout, err)
	}
	return fmt.Errorf("%w: %w", crawler.ErrNetwork, err)
}
