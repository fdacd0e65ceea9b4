// Package auth models the signed-in identity and verifies identity tokens.
package auth

import (
	"errors"
	"sync"
)

var ErrNotAuthenticated = errors.New("not authenticated")

// Identity is the current user as reported by the identity provider.
type Identity struct {
	UID         string
	IsAnonymous bool
	Email       string
	DisplayName string
}

// Authenticated reports whether anyone, anonymous or not, is signed in.
func (i Identity) Authenticated() bool {
	return i.UID != ""
}

// Verified reports whether the identity is durable and may use cloud storage.
func (i Identity) Verified() bool {
	return i.UID != "" && !i.IsAnonymous
}

// Provider exposes the current identity and its transitions.
type Provider interface {
	Current() Identity
	// Subscribe returns a channel that receives every identity change and a
	// function that ends the subscription.
	Subscribe() (<-chan Identity, func())
}

// Session is an in-process Provider.
type Session struct {
	verifier *Verifier

	mu      sync.Mutex
	current Identity
	subs    map[int]chan Identity
	next    int
}

func NewSession(verifier *Verifier) *Session {
	return &Session{verifier: verifier, subs: make(map[int]chan Identity)}
}

func (s *Session) Current() Identity {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

func (s *Session) Subscribe() (<-chan Identity, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch := make(chan Identity, 4)
	id := s.next
	s.next++
	s.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			delete(s.subs, id)
			close(ch)
		})
	}
}

// SignIn replaces the current identity and notifies subscribers.
func (s *Session) SignIn(id Identity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == id {
		return
	}
	s.current = id
	for _, ch := range s.subs {
		select {
		case ch <- id:
		default:
			// drop the stale pending value so the latest identity wins
			select {
			case <-ch:
			default:
			}
			ch <- id
		}
	}
}

// SignInAnonymously signs in a guest identity with the given uid.
func (s *Session) SignInAnonymously(uid string) {
	s.SignIn(Identity{UID: uid, IsAnonymous: true})
}

// SignInWithToken verifies an identity token and signs its identity in.
func (s *Session) SignInWithToken(token string) (Identity, error) {
	if s.verifier == nil {
		return Identity{}, errors.New("no token verifier configured")
	}
	id, err := s.verifier.Verify(token)
	if err != nil {
		return Identity{}, err
	}
	s.SignIn(id)
	return id, nil
}

func (s *Session) SignOut() {
	s.SignIn(Identity{})
}
