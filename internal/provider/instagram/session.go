package instagram

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/JakeFAU/influence-crawler/internal/crawler"
)

// Session is the authenticated session artifact produced by the external
// interactive login. Only the cookie jar and user agent are consumed.
type Session struct {
	Cookies           map[string]string `json:"cookies"`
	UserAgent         string            `json:"user_agent"`
	AuthorizationData struct {
		DSUserID  string `json:"ds_user_id"`
		SessionID string `json:"sessionid"`
	} `json:"authorization_data"`
}

// LoadSession reads and validates the session artifact at path.
func LoadSession(path string) (Session, error) {
	raw, err := os.ReadFile(path) //nolint:gosec // path comes from operator config
	if err != nil {
		return Session{}, fmt.Errorf("read session file: %w", err)
	}
	var s Session
	if err := json.Unmarshal(raw, &s); err != nil {
		return Session{}, fmt.Errorf("decode session file: %w", err)
	}
	if s.Cookies == nil {
		s.Cookies = make(map[string]string)
	}
	if s.Cookies["sessionid"] == "" && s.AuthorizationData.SessionID != "" {
		s.Cookies["sessionid"] = s.AuthorizationData.SessionID
	}
	if s.Cookies["ds_user_id"] == "" && s.AuthorizationData.DSUserID != "" {
		s.Cookies["ds_user_id"] = s.AuthorizationData.DSUserID
	}
	if err := s.Validate(); err != nil {
		return Session{}, err
	}
	return s, nil
}

// Validate checks that the artifact carries a session cookie.
func (s Session) Validate() error {
	if strings.TrimSpace(s.Cookies["sessionid"]) == "" {
		return fmt.Errorf("session has no sessionid cookie: %w", crawler.ErrAuthenticationRequired)
	}
	return nil
}

// CookieHeader renders the jar as a Cookie header value with stable ordering.
func (s Session) CookieHeader() string {
	names := make([]string, 0, len(s.Cookies))
	for name := range s.Cookies {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, name+"="+s.Cookies[name])
	}
	return strings.Join(parts, "; ")
}
