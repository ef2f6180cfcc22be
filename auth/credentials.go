// Package auth holds the local bearer credential and verifies tokens
// presented to the hub.
package auth

import "sync"

// Credentials is the bearer token shared by the API client and the realtime
// connection. Clear is called when the API reports the session as invalid.
type Credentials struct {
	mu        sync.RWMutex
	token     string
	onCleared []func()
}

func NewCredentials(token string) *Credentials {
	return &Credentials{token: token}
}

func (c *Credentials) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

func (c *Credentials) Set(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

// Clear drops the token and runs the OnCleared callbacks once per call that
// actually removed a token.
func (c *Credentials) Clear() {
	c.mu.Lock()
	if c.token == "" {
		c.mu.Unlock()
		return
	}
	c.token = ""
	hooks := make([]func(), len(c.onCleared))
	copy(hooks, c.onCleared)
	c.mu.Unlock()

	for _, fn := range hooks {
		fn()
	}
}

// OnCleared registers fn to run after the credentials are cleared.
func (c *Credentials) OnCleared(fn func()) {
	c.mu.Lock()
	c.onCleared = append(c.onCleared, fn)
	c.mu.Unlock()
}
