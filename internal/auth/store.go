// Package auth owns the visitor's access token and remembered email.
package auth

import (
	"net/http"
	"strings"
	"sync"

	"finitefield.org/storefront/internal/apiclient"
	"finitefield.org/storefront/internal/session"
)

// Tokens is the pair issued by /auth/token/. Refresh is stored but never exchanged.
type Tokens struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh"`
}

// Store is the single source of truth for whether the visitor is signed in.
// It doubles as the API client's credentials for that visitor.
type Store interface {
	apiclient.Credentials
	Access() (string, bool)
	Set(Tokens) error
	Clear() error
	Email() string
	RememberEmail(string) error
}

// SessionStore persists tokens in the visitor's signed session cookie.
// The session is resolved on first use.
type SessionStore struct {
	load func() *session.Session
	once sync.Once
	sess *session.Session
}

// NewSessionStore returns a Store backed by the session load returns.
func NewSessionStore(load func() *session.Session) *SessionStore {
	return &SessionStore{load: load}
}

func (s *SessionStore) session() *session.Session {
	s.once.Do(func() {
		if s.load != nil {
			s.sess = s.load()
		}
	})
	return s.sess
}

func (s *SessionStore) Access() (string, bool) {
	sess := s.session()
	if sess == nil {
		return "", false
	}
	return sess.AccessToken()
}

func (s *SessionStore) AccessToken() (string, bool) { return s.Access() }

func (s *SessionStore) Set(t Tokens) error {
	sess := s.session()
	if sess == nil {
		return ErrNoSession
	}
	sess.SetTokens(t.Access, t.Refresh)
	return nil
}

func (s *SessionStore) Clear() error {
	sess := s.session()
	if sess == nil {
		return nil
	}
	sess.SetTokens("", "")
	return nil
}

func (s *SessionStore) Email() string {
	sess := s.session()
	if sess == nil {
		return ""
	}
	return sess.Email()
}

func (s *SessionStore) RememberEmail(email string) error {
	sess := s.session()
	if sess == nil {
		return ErrNoSession
	}
	sess.SetEmail(strings.TrimSpace(email))
	return nil
}

func (s *SessionStore) Cookies() []*http.Cookie {
	sess := s.session()
	if sess == nil {
		return nil
	}
	return sess.Cookies()
}

func (s *SessionStore) StoreCookies(cookies []*http.Cookie) {
	if sess := s.session(); sess != nil {
		sess.StoreCookies(cookies)
	}
}

// MemoryStore is an in-process Store for tests and tools.
type MemoryStore struct {
	mu      sync.Mutex
	tokens  Tokens
	email   string
	cookies map[string]string
}

// NewMemoryStore returns a MemoryStore, optionally signed in with access.
func NewMemoryStore(access string) *MemoryStore {
	return &MemoryStore{tokens: Tokens{Access: access}}
}

func (m *MemoryStore) Access() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tokens.Access, m.tokens.Access != ""
}

func (m *MemoryStore) AccessToken() (string, bool) { return m.Access() }

func (m *MemoryStore) Set(t Tokens) error {
	m.mu.Lock()
	m.tokens = t
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Clear() error {
	m.mu.Lock()
	m.tokens = Tokens{}
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Email() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.email
}

func (m *MemoryStore) RememberEmail(email string) error {
	m.mu.Lock()
	m.email = strings.TrimSpace(email)
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Cookies() []*http.Cookie {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*http.Cookie, 0, len(m.cookies))
	for name, value := range m.cookies {
		out = append(out, &http.Cookie{Name: name, Value: value})
	}
	return out
}

func (m *MemoryStore) StoreCookies(cookies []*http.Cookie) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cookies == nil {
		m.cookies = make(map[string]string)
	}
	for _, c := range cookies {
		if c.MaxAge < 0 || c.Value == "" {
			delete(m.cookies, c.Name)
			continue
		}
		m.cookies[c.Name] = c.Value
	}
}
