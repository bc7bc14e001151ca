package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/golang-jwt/jwt/v4"

	"finitefield.org/storefront/internal/apiclient"
)

var (
	// ErrNoSession is returned when the visitor has no session to write to.
	ErrNoSession = errors.New("auth: no session")
	// ErrInvalidCredentials is returned for a rejected username/password pair.
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
)

// Doer is the API client surface used by services.
type Doer interface {
	Do(ctx context.Context, req apiclient.Request, out any) error
}

// User mirrors /users/me/.
type User struct {
	ID          int64  `json:"id"`
	Username    string `json:"username"`
	Email       string `json:"email"`
	FirstName   string `json:"first_name"`
	LastName    string `json:"last_name"`
	IsStaff     bool   `json:"is_staff"`
	IsSuperuser bool   `json:"is_superuser"`
}

// DisplayName prefers the full name, then the username.
func (u User) DisplayName() string {
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name != "" {
		return name
	}
	return u.Username
}

// Address mirrors /users/addresses/.
type Address struct {
	ID         int64  `json:"id"`
	FullName   string `json:"full_name"`
	Phone      string `json:"phone"`
	Line1      string `json:"line1"`
	Line2      string `json:"line2"`
	City       string `json:"city"`
	State      string `json:"state"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country"`
	IsDefault  bool   `json:"is_default"`
}

// RegisterInput is the sign-up form.
type RegisterInput struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Service performs sign-in flows against the backend.
type Service struct {
	api Doer
}

// NewService returns a Service using api.
func NewService(api Doer) *Service {
	return &Service{api: api}
}

// Login exchanges credentials for tokens and stores them.
func (s *Service) Login(ctx context.Context, store Store, username, password string) error {
	username = strings.TrimSpace(username)
	var tokens Tokens
	err := s.api.Do(ctx, apiclient.Request{
		Method:  http.MethodPost,
		Path:    "/auth/token/",
		Body:    map[string]string{"username": username, "password": password},
		Public:  true,
		Session: store,
	}, &tokens)
	if err != nil {
		if apiclient.IsUnauthorized(err) {
			return ErrInvalidCredentials
		}
		return fmt.Errorf("auth: login: %w", err)
	}
	if tokens.Access == "" {
		return fmt.Errorf("auth: login: empty access token")
	}
	if err := store.Set(tokens); err != nil {
		return err
	}
	if strings.Contains(username, "@") {
		return store.RememberEmail(username)
	}
	return nil
}

// Register creates the account then signs in with the same credentials.
func (s *Service) Register(ctx context.Context, store Store, in RegisterInput) error {
	in.Username = strings.TrimSpace(in.Username)
	in.Email = strings.TrimSpace(in.Email)
	err := s.api.Do(ctx, apiclient.Request{
		Method:  http.MethodPost,
		Path:    "/users/register/",
		Body:    in,
		Public:  true,
		Session: store,
	}, nil)
	if err != nil {
		return fmt.Errorf("auth: register: %w", err)
	}
	if err := s.Login(ctx, store, in.Username, in.Password); err != nil {
		return err
	}
	if in.Email != "" {
		return store.RememberEmail(in.Email)
	}
	return nil
}

// Me returns the signed-in user. A 401 means the stored token is no longer valid.
func (s *Service) Me(ctx context.Context, store Store) (User, error) {
	var user User
	if err := s.api.Do(ctx, apiclient.Request{Path: "/users/me/", Session: store}, &user); err != nil {
		return User{}, fmt.Errorf("auth: me: %w", err)
	}
	if user.Email != "" && store.Email() == "" {
		_ = store.RememberEmail(user.Email)
	}
	return user, nil
}

// DefaultAddress returns the user's default saved address, if any.
func (s *Service) DefaultAddress(ctx context.Context, store Store) (*Address, error) {
	var addresses []Address
	if err := s.api.Do(ctx, apiclient.Request{Path: "/users/addresses/", Session: store}, &addresses); err != nil {
		return nil, fmt.Errorf("auth: addresses: %w", err)
	}
	if len(addresses) == 0 {
		return nil, nil
	}
	for i := range addresses {
		if addresses[i].IsDefault {
			return &addresses[i], nil
		}
	}
	return &addresses[0], nil
}

// Logout drops the token. The remembered email stays for order lookups.
func (s *Service) Logout(store Store) error {
	return store.Clear()
}

// Subject reads the user_id claim without verifying the signature.
// It is only used for log correlation; the backend verifies every token it receives.
func Subject(token string) string {
	if token == "" {
		return ""
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return ""
	}
	switch v := claims["user_id"].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatInt(int64(v), 10)
	}
	if sub, ok := claims["sub"].(string); ok {
		return sub
	}
	return ""
}
