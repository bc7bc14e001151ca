package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"finitefield.org/storefront/internal/apiclient"
	"finitefield.org/storefront/internal/session"
)

func newService(t *testing.T, handler http.HandlerFunc) *Service {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client, err := apiclient.New(srv.URL+"/api/v1", apiclient.WithHTTPClient(srv.Client()))
	require.NoError(t, err)
	return NewService(client)
}

func TestLoginStoresTokensAndEmail(t *testing.T) {
	t.Parallel()

	svc := newService(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v1/auth/token/", r.URL.Path)
		require.Empty(t, r.Header.Get("Authorization"))
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, "buyer@example.com", body["username"])
		_, _ = w.Write([]byte(`{"access":"acc","refresh":"ref"}`))
	})

	store := NewMemoryStore("stale")
	require.NoError(t, svc.Login(context.Background(), store, " buyer@example.com ", "pw"))

	token, ok := store.Access()
	assert.True(t, ok)
	assert.Equal(t, "acc", token)
	assert.Equal(t, "buyer@example.com", store.Email())
}

func TestLoginRejected(t *testing.T) {
	t.Parallel()

	svc := newService(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"detail":"No active account found with the given credentials"}`))
	})

	store := NewMemoryStore("")
	err := svc.Login(context.Background(), store, "bob", "wrong")
	assert.True(t, errors.Is(err, ErrInvalidCredentials))
	_, ok := store.Access()
	assert.False(t, ok)
}

func TestRegisterThenLogin(t *testing.T) {
	t.Parallel()

	var (
		mu    sync.Mutex
		paths []string
	)
	svc := newService(t, func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		paths = append(paths, r.URL.Path)
		mu.Unlock()
		switch r.URL.Path {
		case "/api/v1/users/register/":
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte(`{"id":5,"username":"bob","email":"bob@example.com"}`))
		case "/api/v1/auth/token/":
			_, _ = w.Write([]byte(`{"access":"a","refresh":"r"}`))
		}
	})

	store := NewMemoryStore("")
	require.NoError(t, svc.Register(context.Background(), store, RegisterInput{Username: "bob", Email: "bob@example.com", Password: "secret123"}))
	mu.Lock()
	assert.Equal(t, []string{"/api/v1/users/register/", "/api/v1/auth/token/"}, paths)
	mu.Unlock()
	assert.Equal(t, "bob@example.com", store.Email())
}

func TestMeUnauthorized(t *testing.T) {
	t.Parallel()

	svc := newService(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer expired", r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusUnauthorized)
	})

	_, err := svc.Me(context.Background(), NewMemoryStore("expired"))
	assert.True(t, apiclient.IsUnauthorized(err))
}

func TestDefaultAddressPrefersDefault(t *testing.T) {
	t.Parallel()

	svc := newService(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[{"id":1,"city":"Pune"},{"id":2,"city":"Mumbai","is_default":true}]`))
	})

	addr, err := svc.DefaultAddress(context.Background(), NewMemoryStore("t"))
	require.NoError(t, err)
	require.NotNil(t, addr)
	assert.Equal(t, "Mumbai", addr.City)
}

func TestSessionStoreLazyLoad(t *testing.T) {
	t.Parallel()

	mgr, err := session.NewManager(session.Config{HashKey: []byte("0123456789abcdef0123456789abcdef")})
	require.NoError(t, err)

	loads := 0
	sess := mgr.New()
	store := NewSessionStore(func() *session.Session {
		loads++
		return sess
	})
	assert.Equal(t, 0, loads)

	require.NoError(t, store.Set(Tokens{Access: "a", Refresh: "r"}))
	require.NoError(t, store.RememberEmail("buyer@example.com"))
	token, ok := store.AccessToken()
	assert.True(t, ok)
	assert.Equal(t, "a", token)
	assert.Equal(t, 1, loads)

	require.NoError(t, store.Clear())
	_, ok = store.Access()
	assert.False(t, ok)
	assert.Equal(t, "buyer@example.com", store.Email())
}

func TestSessionStoreWithoutSession(t *testing.T) {
	t.Parallel()

	store := NewSessionStore(func() *session.Session { return nil })
	_, ok := store.Access()
	assert.False(t, ok)
	assert.ErrorIs(t, store.Set(Tokens{Access: "a"}), ErrNoSession)
	assert.NoError(t, store.Clear())
}

func TestSubject(t *testing.T) {
	t.Parallel()

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": 42,
		"exp":     time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte("any-key"))
	require.NoError(t, err)

	assert.Equal(t, "42", Subject(signed))
	assert.Empty(t, Subject("not-a-jwt"))
	assert.Empty(t, Subject(""))
}
