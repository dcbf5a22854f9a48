package auth

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/pkg/errors"
)

// SessionState is the binary session state of a gate.
type SessionState int

const (
	Unauthenticated SessionState = iota
	Authenticated
)

func (s SessionState) String() string {
	if s == Authenticated {
		return "authenticated"
	}
	return "unauthenticated"
}

// Persister stores the session token between gate instances.
type Persister interface {
	Load() (string, error)
	Save(token string) error
	Clear() error
}

// Gate is explicit session state. It is authenticated exactly when it holds
// a token; nothing about the token is checked here.
type Gate struct {
	auth    Authenticator
	persist Persister

	mu    sync.RWMutex
	token string
}

// NewGate creates a gate, restoring a token from p when one is stored.
// p may be nil.
func NewGate(a Authenticator, p Persister) *Gate {
	g := &Gate{auth: a, persist: p}
	if p != nil {
		if tok, err := p.Load(); err == nil {
			g.token = strings.TrimSpace(tok)
		}
	}
	return g
}

// Login authenticates creds and records the resulting token.
func (g *Gate) Login(ctx context.Context, creds Credentials) (string, error) {
	token, err := g.auth.Login(ctx, creds)
	if err != nil {
		return "", err
	}
	g.mu.Lock()
	g.token = token
	g.mu.Unlock()
	if g.persist != nil {
		if err := g.persist.Save(token); err != nil {
			return token, errors.Wrap(err, "persist session")
		}
	}
	return token, nil
}

// Logout clears the session unconditionally. An error from the
// authenticator or persister is returned after the state has been cleared.
func (g *Gate) Logout(ctx context.Context) error {
	g.mu.Lock()
	token := g.token
	g.token = ""
	g.mu.Unlock()

	var firstErr error
	if token != "" {
		if err := g.auth.Logout(ctx, token); err != nil {
			firstErr = errors.Wrap(err, "logout")
		}
	}
	if g.persist != nil {
		if err := g.persist.Clear(); err != nil && firstErr == nil {
			firstErr = errors.Wrap(err, "clear session")
		}
	}
	return firstErr
}

// State reports whether the gate holds a session.
func (g *Gate) State() SessionState {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.token == "" {
		return Unauthenticated
	}
	return Authenticated
}

// Authenticated is shorthand for State() == Authenticated.
func (g *Gate) Authenticated() bool { return g.State() == Authenticated }

// Token returns the session token, empty when unauthenticated.
func (g *Gate) Token() string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.token
}

// FileSession persists the token in a file readable only by its owner.
type FileSession struct {
	Path string
}

func (f FileSession) Load() (string, error) {
	b, err := os.ReadFile(f.Path)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (f FileSession) Save(token string) error {
	if err := os.MkdirAll(filepath.Dir(f.Path), 0o700); err != nil {
		return err
	}
	return os.WriteFile(f.Path, []byte(token), 0o600)
}

func (f FileSession) Clear() error {
	if err := os.Remove(f.Path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
