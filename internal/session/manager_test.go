package session

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

type fixedClock struct {
	current time.Time
}

func (c *fixedClock) Now() time.Time {
	return c.current
}

func newTestManager(t *testing.T) (*Manager, *fixedClock) {
	t.Helper()

	clock := &fixedClock{current: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)}
	mgr, err := NewManager(Config{
		CookieName:  "test_session",
		HashKey:     []byte("12345678901234567890123456789012"),
		BlockKey:    []byte("abcdefghijklmnopqrstuv0123456789"),
		IdleTimeout: 10 * time.Minute,
		Lifetime:    2 * time.Hour,
		Now:         clock.Now,
	})
	if err != nil {
		t.Fatalf("NewManager error: %v", err)
	}
	return mgr, clock
}

func roundTrip(t *testing.T, mgr *Manager, sess *Session) *http.Request {
	t.Helper()
	rec := httptest.NewRecorder()
	if err := mgr.Save(rec, sess); err != nil {
		t.Fatalf("Save error: %v", err)
	}
	cookie := findCookie(rec.Result().Cookies(), "test_session")
	if cookie == nil {
		t.Fatalf("expected session cookie to be set")
	}
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(cookie)
	return req
}

func TestManager_PersistsVisitorState(t *testing.T) {
	mgr, _ := newTestManager(t)

	sess, err := mgr.Load(httptest.NewRequest(http.MethodGet, "/", nil))
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if sess.ID() == "" {
		t.Fatalf("expected session ID")
	}
	if _, ok := sess.AccessToken(); ok {
		t.Fatalf("new session must not carry a token")
	}

	sess.SetTokens("access-1", "refresh-1")
	sess.SetEmail("buyer@example.com")
	sess.StoreCookies([]*http.Cookie{{Name: "sessionid", Value: "django-1"}, {Name: "csrftoken", Value: "c1"}})
	csrf, err := sess.EnsureCSRFToken()
	if err != nil || csrf == "" {
		t.Fatalf("expected csrf token: %v", err)
	}

	loaded, err := mgr.Load(roundTrip(t, mgr, sess))
	if err != nil {
		t.Fatalf("reload error: %v", err)
	}
	if loaded.ID() != sess.ID() {
		t.Fatalf("expected same session id")
	}
	if token, ok := loaded.AccessToken(); !ok || token != "access-1" {
		t.Fatalf("unexpected access token %q", token)
	}
	if loaded.RefreshToken() != "refresh-1" {
		t.Fatalf("refresh token not persisted")
	}
	if loaded.Email() != "buyer@example.com" {
		t.Fatalf("email not persisted")
	}
	if loaded.CSRFToken() != csrf {
		t.Fatalf("csrf token not persisted")
	}
	cookies := loaded.Cookies()
	if len(cookies) != 2 || cookies[0].Name != "csrftoken" || cookies[1].Value != "django-1" {
		t.Fatalf("unexpected backend cookies %+v", cookies)
	}
	if loaded.Dirty() {
		t.Fatalf("freshly loaded session should not be dirty")
	}
}

func TestSession_ClearTokensKeepsEmail(t *testing.T) {
	mgr, _ := newTestManager(t)
	sess := mgr.New()
	sess.SetTokens("a", "r")
	sess.SetEmail("buyer@example.com")

	sess.SetTokens("", "r")
	if _, ok := sess.AccessToken(); ok {
		t.Fatalf("expected token cleared")
	}
	if sess.RefreshToken() != "" {
		t.Fatalf("refresh must be cleared with access")
	}
	if sess.Email() != "buyer@example.com" {
		t.Fatalf("email should survive logout")
	}
}

func TestSession_StoreCookiesDropsDeleted(t *testing.T) {
	mgr, _ := newTestManager(t)
	sess := mgr.New()
	sess.StoreCookies([]*http.Cookie{{Name: "sessionid", Value: "x"}})
	sess.StoreCookies([]*http.Cookie{{Name: "sessionid", MaxAge: -1}})
	if len(sess.Cookies()) != 0 {
		t.Fatalf("expected deleted cookie to be dropped")
	}
}

func TestManager_IdleExpiry(t *testing.T) {
	mgr, clock := newTestManager(t)
	req := roundTrip(t, mgr, mgr.New())

	clock.current = clock.current.Add(11 * time.Minute)
	if _, err := mgr.Load(req); !errors.Is(err, ErrExpired) {
		t.Fatalf("expected ErrExpired, got %v", err)
	}
}

func TestManager_TamperedCookieStartsFresh(t *testing.T) {
	mgr, _ := newTestManager(t)
	original := mgr.New()
	original.SetTokens("secret", "")

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: "test_session", Value: "garbage"})
	sess, err := mgr.Load(req)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if _, ok := sess.AccessToken(); ok {
		t.Fatalf("tampered cookie must not yield a token")
	}
	if sess.ID() == original.ID() {
		t.Fatalf("expected a new session id")
	}
}

func TestManager_DestroyClearsCookie(t *testing.T) {
	mgr, _ := newTestManager(t)
	sess := mgr.New()
	sess.Destroy()

	rec := httptest.NewRecorder()
	if err := mgr.Save(rec, sess); err != nil {
		t.Fatalf("Save error: %v", err)
	}
	cookie := findCookie(rec.Result().Cookies(), "test_session")
	if cookie == nil || cookie.MaxAge >= 0 {
		t.Fatalf("expected expired cookie, got %+v", cookie)
	}
}

func TestSession_FlashIsOneShot(t *testing.T) {
	mgr, _ := newTestManager(t)
	sess := mgr.New()
	sess.SetFlash("Signed out.")
	if got := sess.TakeFlash(); got != "Signed out." {
		t.Fatalf("unexpected flash %q", got)
	}
	if got := sess.TakeFlash(); got != "" {
		t.Fatalf("flash should be cleared, got %q", got)
	}
}

func TestNewManagerValidatesKeys(t *testing.T) {
	if _, err := NewManager(Config{}); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig for missing hash key, got %v", err)
	}
	if _, err := NewManager(Config{HashKey: []byte("k"), BlockKey: []byte("short")}); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig for bad block key, got %v", err)
	}
}

func findCookie(cookies []*http.Cookie, name string) *http.Cookie {
	for _, c := range cookies {
		if c.Name == name {
			return c
		}
	}
	return nil
}
