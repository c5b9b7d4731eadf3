// Package source talks to the feed source: the signed-in browser session and
// the Graph API that lists a unit's items.
package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"feedwatcher/internal/watcher"
)

// TokenTTL is how long an authenticated session token is reused.
const TokenTTL = 10 * time.Minute

var (
	// ErrNotSignedIn is returned when the cookie file holds no signed-in session.
	ErrNotSignedIn = errors.New("not logged in")

	// ErrNoData is returned when a source response carries no data field.
	ErrNoData = errors.New("failed to load data from feed source")
)

// Cookie is one entry of an exported browser cookie file.
type Cookie struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// CookieSession is the signed-in browser session, exported to disk.
// The cookie file tells whether the user is signed in; the token file holds
// the bearer token obtained for that session.
type CookieSession struct {
	cookiesPath string
	tokenPath   string
	clock       watcher.Clock

	mu     sync.Mutex
	userID string
	token  *oauth2.Token
}

// NewCookieSession creates a CookieSession reading the given files.
func NewCookieSession(cookiesPath, tokenPath string, clock watcher.Clock) *CookieSession {
	return &CookieSession{
		cookiesPath: cookiesPath,
		tokenPath:   tokenPath,
		clock:       clock,
	}
}

func (s *CookieSession) readCookies() (map[string]string, error) {
	data, err := os.ReadFile(s.cookiesPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading cookies: %w", err)
	}
	var cookies []Cookie
	if err := json.Unmarshal(data, &cookies); err != nil {
		return nil, fmt.Errorf("decoding cookies %s: %w", s.cookiesPath, err)
	}
	values := make(map[string]string, len(cookies))
	for _, c := range cookies {
		values[c.Name] = c.Value
	}
	return values, nil
}

// IsSignedIn reports whether the cookie file holds both session cookies.
// A missing cookie file means signed out.
func (s *CookieSession) IsSignedIn(_ context.Context) (bool, error) {
	cookies, err := s.readCookies()
	if err != nil {
		return false, err
	}
	return cookies["c_user"] != "" && cookies["xs"] != "", nil
}

// HasSession reports whether a token is cached and not yet expired.
func (s *CookieSession) HasSession() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.validLocked()
}

func (s *CookieSession) validLocked() bool {
	return s.token != nil && s.token.AccessToken != "" && s.clock.Now().Before(s.token.Expiry)
}

// UserID returns the signed-in user id of the last authentication.
func (s *CookieSession) UserID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userID
}

// Authenticate reads the session token and caches it for TokenTTL.
func (s *CookieSession) Authenticate(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	cookies, err := s.readCookies()
	if err != nil {
		return err
	}
	userID := cookies["c_user"]
	if userID == "" {
		return ErrNotSignedIn
	}

	data, err := os.ReadFile(s.tokenPath)
	if err != nil {
		return fmt.Errorf("reading session token: %w", err)
	}
	access := strings.TrimSpace(string(data))
	if access == "" {
		return fmt.Errorf("session token file %s is empty", s.tokenPath)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.userID = userID
	s.token = &oauth2.Token{
		AccessToken: access,
		TokenType:   "Bearer",
		Expiry:      s.clock.Now().Add(TokenTTL),
	}
	return nil
}

// Token implements oauth2.TokenSource, authenticating again once the cached token expires.
func (s *CookieSession) Token() (*oauth2.Token, error) {
	s.mu.Lock()
	if s.validLocked() {
		tok := *s.token
		s.mu.Unlock()
		return &tok, nil
	}
	s.mu.Unlock()

	if err := s.Authenticate(context.Background()); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	tok := *s.token
	return &tok, nil
}

var (
	_ watcher.CredentialProvider = (*CookieSession)(nil)
	_ oauth2.TokenSource         = (*CookieSession)(nil)
)
