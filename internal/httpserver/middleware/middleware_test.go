package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"finitefield.org/storefront/internal/apiclient"
	"finitefield.org/storefront/internal/backoffice"
	appsession "finitefield.org/storefront/internal/session"
)

func newManager(t *testing.T) *appsession.Manager {
	t.Helper()
	mgr, err := appsession.NewManager(appsession.Config{
		CookieName: "mw_test",
		HashKey:    []byte("0123456789abcdef0123456789abcdef"),
	})
	if err != nil {
		t.Fatalf("NewManager error: %v", err)
	}
	return mgr
}

func sessionCookie(t *testing.T, rec *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, c := range rec.Result().Cookies() {
		if c.Name == "mw_test" {
			return c
		}
	}
	t.Fatalf("expected session cookie to be set")
	return nil
}

func TestSession_SavesBeforeBodyIsWritten(t *testing.T) {
	mgr := newManager(t)
	handler := Session(mgr)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess, ok := SessionFromContext(r.Context())
		if !ok {
			t.Fatalf("expected session in context")
		}
		sess.SetFlash("saved")
		_, _ = w.Write([]byte("streamed"))
		sess.SetFlash("too late")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(sessionCookie(t, rec))
	sess, err := mgr.Load(req)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if got := sess.TakeFlash(); got != "saved" {
		t.Fatalf("expected flash written before the body, got %q", got)
	}
}

func csrfStack(t *testing.T, mgr *appsession.Manager, reached *bool) http.Handler {
	t.Helper()
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*reached = true
		_, _ = w.Write([]byte(CSRFTokenFromContext(r.Context())))
	})
	return Session(mgr)(CSRF(CSRFConfig{})(inner))
}

func TestCSRF_IssuesTokenAndValidates(t *testing.T) {
	mgr := newManager(t)
	var reached bool
	handler := csrfStack(t, mgr, &reached)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	token := rec.Body.String()
	if token == "" {
		t.Fatalf("expected token on safe request")
	}
	cookie := sessionCookie(t, rec)

	cases := []struct {
		name   string
		build  func() *http.Request
		status int
	}{
		{
			name: "missing token",
			build: func() *http.Request {
				return httptest.NewRequest(http.MethodPost, "/", nil)
			},
			status: http.StatusForbidden,
		},
		{
			name: "wrong header",
			build: func() *http.Request {
				req := httptest.NewRequest(http.MethodPost, "/", nil)
				req.Header.Set("X-CSRF-Token", token+"x")
				return req
			},
			status: http.StatusForbidden,
		},
		{
			name: "header",
			build: func() *http.Request {
				req := httptest.NewRequest(http.MethodPost, "/", nil)
				req.Header.Set("X-CSRF-Token", token)
				return req
			},
			status: http.StatusOK,
		},
		{
			name: "form field",
			build: func() *http.Request {
				req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(url.Values{"csrf_token": {token}}.Encode()))
				req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
				return req
			},
			status: http.StatusOK,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			reached = false
			req := tc.build()
			req.AddCookie(cookie)
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			if rec.Code != tc.status {
				t.Fatalf("expected %d, got %d", tc.status, rec.Code)
			}
			if reached != (tc.status == http.StatusOK) {
				t.Fatalf("handler reached=%v for status %d", reached, tc.status)
			}
		})
	}
}

func TestRequireHTMX(t *testing.T) {
	handler := HTMX()(RequireHTMX()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/fragment", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for full page request, got %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/fragment", nil)
	req.Header.Set("HX-Request", "true")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected htmx request to pass, got %d", rec.Code)
	}
}

func TestWantsFragment(t *testing.T) {
	cases := []struct {
		name    string
		headers map[string]string
		want    bool
	}{
		{name: "full page", want: false},
		{name: "htmx swap", headers: map[string]string{"HX-Request": "true"}, want: true},
		{name: "boosted", headers: map[string]string{"HX-Request": "true", "HX-Boosted": "true"}, want: false},
		{name: "history restore", headers: map[string]string{"HX-Request": "true", "HX-History-Restore-Request": "true"}, want: false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var got bool
			handler := HTMX()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				got = WantsFragment(r.Context())
			}))
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			for k, v := range tc.headers {
				req.Header.Set(k, v)
			}
			handler.ServeHTTP(httptest.NewRecorder(), req)
			if got != tc.want {
				t.Fatalf("expected %v, got %v", tc.want, got)
			}
		})
	}
}

type staffStub struct {
	staff backoffice.Staff
	err   error
}

func (s staffStub) Me(context.Context, apiclient.Credentials) (backoffice.Staff, error) {
	return s.staff, s.err
}

func staffRequest(t *testing.T, mgr *appsession.Manager, token string, htmx bool) *http.Request {
	t.Helper()
	sess := mgr.New()
	if token != "" {
		sess.SetTokens(token, "")
	}
	rec := httptest.NewRecorder()
	if err := mgr.Save(rec, sess); err != nil {
		t.Fatalf("Save error: %v", err)
	}
	req := httptest.NewRequest(http.MethodGet, "/backoffice/coupons?page=2", nil)
	req.AddCookie(sessionCookie(t, rec))
	if htmx {
		req.Header.Set("HX-Request", "true")
	}
	return req
}

func TestStaff_Guard(t *testing.T) {
	mgr := newManager(t)
	unauthorized := &apiclient.Error{Status: http.StatusUnauthorized}

	cases := []struct {
		name     string
		token    string
		htmx     bool
		checker  staffStub
		status   int
		location string
		hxTarget string
	}{
		{name: "anonymous", status: http.StatusFound, location: "/login?next=%2Fbackoffice%2Fcoupons%3Fpage%3D2"},
		{name: "anonymous htmx", htmx: true, status: http.StatusUnauthorized, hxTarget: "/login?next=%2Fbackoffice%2Fcoupons%3Fpage%3D2"},
		{name: "rejected token", token: "stale", checker: staffStub{err: unauthorized}, status: http.StatusFound, location: "/login?next=%2Fbackoffice%2Fcoupons%3Fpage%3D2"},
		{name: "not staff", token: "tok", checker: staffStub{err: backoffice.ErrNotStaff}, status: http.StatusForbidden},
		{name: "backend down", token: "tok", checker: staffStub{err: errors.New("boom")}, status: http.StatusBadGateway},
		{name: "staff", token: "tok", checker: staffStub{staff: backoffice.Staff{Username: "asha", IsStaff: true}}, status: http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var seen backoffice.Staff
			handler := HTMX()(Session(mgr)(Staff(tc.checker, "/login")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				seen, _ = StaffFromContext(r.Context())
			}))))

			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, staffRequest(t, mgr, tc.token, tc.htmx))

			if rec.Code != tc.status {
				t.Fatalf("expected %d, got %d", tc.status, rec.Code)
			}
			if got := rec.Header().Get("Location"); got != tc.location {
				t.Fatalf("expected Location %q, got %q", tc.location, got)
			}
			if got := rec.Header().Get("HX-Redirect"); got != tc.hxTarget {
				t.Fatalf("expected HX-Redirect %q, got %q", tc.hxTarget, got)
			}
			if tc.status == http.StatusOK && seen.Username != "asha" {
				t.Fatalf("expected staff in context, got %+v", seen)
			}
		})
	}
}

func TestNoStore(t *testing.T) {
	handler := NoStore()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if got := rec.Header().Get("Cache-Control"); got != "no-store" {
		t.Fatalf("expected no-store, got %q", got)
	}
}

func TestRedirect(t *testing.T) {
	handler := HTMX()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		Redirect(w, r, "/cart")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/cart/items", nil))
	if rec.Code != http.StatusSeeOther || rec.Header().Get("Location") != "/cart" {
		t.Fatalf("expected 303 to /cart, got %d %q", rec.Code, rec.Header().Get("Location"))
	}

	req := httptest.NewRequest(http.MethodPost, "/cart/items", nil)
	req.Header.Set("HX-Request", "true")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent || rec.Header().Get("HX-Redirect") != "/cart" {
		t.Fatalf("expected HX-Redirect to /cart, got %d %q", rec.Code, rec.Header().Get("HX-Redirect"))
	}
}
