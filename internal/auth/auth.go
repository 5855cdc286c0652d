// Package auth provides the current-user identity consumed by the feed and
// attendance components.
//
// The session is injected at construction rather than read from a global,
// and its lifetime follows sign-in and sign-out.
package auth

import (
	"sync"

	"github.com/cumba2321/classsync/internal/model"
)

// Identity is a signed-in user.
type Identity struct {
	UserID      string     `json:"user_id" yaml:"user_id"`
	DisplayName string     `json:"display_name" yaml:"display_name"`
	Role        model.Role `json:"role" yaml:"role"`
}

// Context reports who is acting. Current returns false when nobody is
// signed in.
type Context interface {
	Current() (Identity, bool)
}

// Session is a Context whose identity changes with SignIn and SignOut.
type Session struct {
	mu       sync.RWMutex
	identity Identity
	signedIn bool
}

// NewSession returns a signed-out session.
func NewSession() *Session {
	return &Session{}
}

// Static returns a session already signed in as id.
func Static(id Identity) *Session {
	return &Session{identity: id, signedIn: true}
}

// SignIn replaces the current identity.
func (s *Session) SignIn(id Identity) error {
	if id.UserID == "" {
		return model.Validation("user id is required")
	}
	if !id.Role.Valid() {
		return model.Validation("invalid role %q", id.Role)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.identity = id
	s.signedIn = true
	return nil
}

// SignOut clears the identity.
func (s *Session) SignOut() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.identity = Identity{}
	s.signedIn = false
}

func (s *Session) Current() (Identity, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.identity, s.signedIn
}

// Require returns the current identity or a permission-denied error.
func Require(c Context) (Identity, error) {
	id, ok := c.Current()
	if !ok {
		return Identity{}, model.PermissionDenied("not signed in")
	}
	return id, nil
}

// RequireInstructor returns the current identity if it has the instructor role.
func RequireInstructor(c Context) (Identity, error) {
	id, err := Require(c)
	if err != nil {
		return Identity{}, err
	}
	if id.Role != model.RoleInstructor {
		return Identity{}, model.PermissionDenied("%s is not an instructor", id.UserID)
	}
	return id, nil
}
