package testutil

import (
	"context"
	"sync"

	"feedwatcher/internal/watcher"
)

// FakeCredentials is a CredentialProvider with a switchable sign-in state.
// A successful Authenticate establishes the session.
type FakeCredentials struct {
	mu        sync.Mutex
	SignedIn  bool
	Session   bool
	AuthErr   error
	authCalls int
}

// SignedInCredentials returns credentials that are signed in without a cached session.
func SignedInCredentials() *FakeCredentials {
	return &FakeCredentials{SignedIn: true}
}

func (c *FakeCredentials) IsSignedIn(context.Context) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.SignedIn, nil
}

func (c *FakeCredentials) HasSession() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Session
}

func (c *FakeCredentials) Authenticate(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.authCalls++
	if c.AuthErr != nil {
		return c.AuthErr
	}
	c.Session = true
	return nil
}

// AuthCalls returns how many times Authenticate was called.
func (c *FakeCredentials) AuthCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.authCalls
}

var _ watcher.CredentialProvider = (*FakeCredentials)(nil)
