package apiclient

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"finitefield.org/storefront/internal/cache"
)

type fakeCreds struct {
	mu      sync.Mutex
	token   string
	cookies []*http.Cookie
}

func (f *fakeCreds) AccessToken() (string, bool) { return f.token, f.token != "" }

func (f *fakeCreds) Cookies() []*http.Cookie {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*http.Cookie(nil), f.cookies...)
}

func (f *fakeCreds) StoreCookies(cookies []*http.Cookie) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cookies = append(f.cookies, cookies...)
}

func newTestClient(t *testing.T, handler http.HandlerFunc, opts ...Option) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client, err := New(srv.URL+"/api/v1", append([]Option{WithHTTPClient(srv.Client())}, opts...)...)
	require.NoError(t, err)
	return client
}

func TestAuthenticatedRequestAttachesBearer(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v1/users/me/", r.URL.Path)
		require.Equal(t, "Bearer tok-1", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"id":7,"email":"a@example.com"}`))
	})

	var me struct {
		ID    int    `json:"id"`
		Email string `json:"email"`
	}
	err := client.Do(context.Background(), Request{Path: "/users/me/", Session: &fakeCreds{token: "tok-1"}}, &me)
	require.NoError(t, err)
	assert.Equal(t, 7, me.ID)
}

func TestPublicRequestStripsAuthorization(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Empty(t, r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`[]`))
	})

	header := http.Header{}
	header.Set("Authorization", "Bearer stale")
	err := client.Do(context.Background(), Request{
		Path:    "/catalog/products/trending/",
		Public:  true,
		Session: &fakeCreds{token: "stale"},
		Header:  header,
	}, nil)
	require.NoError(t, err)
}

func TestAuthenticatedWithoutTokenSendsNoHeader(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Empty(t, r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"detail":"Authentication credentials were not provided."}`))
	})

	err := client.Do(context.Background(), Request{Path: "/orders/me/", Session: &fakeCreds{}}, nil)
	require.Error(t, err)
	assert.True(t, IsUnauthorized(err))
}

func TestStructuredErrorDecode(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"qty":["Ensure this value is greater than or equal to 1."],"non_field_errors":[]}`))
	})

	err := client.Do(context.Background(), Request{Method: http.MethodPatch, Path: "/cart/items/3/", Body: map[string]int{"qty": 0}, Public: true}, nil)
	apiErr, ok := AsError(err)
	require.True(t, ok)
	assert.Equal(t, http.StatusBadRequest, apiErr.Status)
	assert.Equal(t, "Ensure this value is greater than or equal to 1.", apiErr.FieldError("qty"))
	assert.Equal(t, "Ensure this value is greater than or equal to 1.", apiErr.ServerMessage())
	assert.Contains(t, string(apiErr.Body), "qty")
}

func TestTransportFailure(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()
	client, err := New(srv.URL + "/api/v1")
	require.NoError(t, err)

	err = client.Do(context.Background(), Request{Path: "/cart/", Public: true}, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTransport))
	assert.Equal(t, MsgUnavailable, Describe(err, MsgUnavailable))
}

func TestNoContentSkipsDecode(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodDelete, r.Method)
		w.WriteHeader(http.StatusNoContent)
	})

	var out map[string]any
	require.NoError(t, client.Do(context.Background(), Request{Method: http.MethodDelete, Path: "/wishlist/items/4/", Session: &fakeCreds{token: "t"}}, &out))
	assert.Nil(t, out)
}

func TestCookiesRoundTrip(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch calls.Add(1) {
		case 1:
			_, err := r.Cookie("sessionid")
			require.ErrorIs(t, err, http.ErrNoCookie)
			http.SetCookie(w, &http.Cookie{Name: "sessionid", Value: "abc", Path: "/"})
			http.SetCookie(w, &http.Cookie{Name: "csrftoken", Value: "csrf-1", Path: "/"})
		case 2:
			c, err := r.Cookie("sessionid")
			require.NoError(t, err)
			require.Equal(t, "abc", c.Value)
			require.Equal(t, "csrf-1", r.Header.Get("X-CSRFToken"))
		}
		_, _ = w.Write([]byte(`{}`))
	})

	creds := &fakeCreds{}
	ctx := context.Background()
	require.NoError(t, client.Do(ctx, Request{Path: "/cart/", Public: true, Session: creds}, nil))
	require.Len(t, creds.Cookies(), 2)
	require.NoError(t, client.Do(ctx, Request{Method: http.MethodPost, Path: "/cart/items/", Public: true, Session: creds, Body: map[string]any{"variant_id": 1}}, nil))
	assert.EqualValues(t, 2, calls.Load())
}

func TestQueryAndTrailingSlashPreserved(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v1/orders/", r.URL.Path)
		require.Equal(t, "buyer@example.com", r.URL.Query().Get("email"))
		_, _ = w.Write([]byte(`[]`))
	})

	var out []any
	require.NoError(t, client.Do(context.Background(), Request{
		Path:   "/orders/",
		Query:  map[string][]string{"email": {"buyer@example.com"}},
		Public: true,
	}, &out))
}

func TestMultipartUpload(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.True(t, strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data"))
		require.NoError(t, r.ParseMultipartForm(1<<20))
		require.Equal(t, "Summer sale", r.FormValue("title"))
		file, header, err := r.FormFile("image")
		require.NoError(t, err)
		defer file.Close()
		data, _ := io.ReadAll(file)
		require.Equal(t, "banner.png", header.Filename)
		require.Equal(t, "PNGDATA", string(data))
		require.Equal(t, "image/png", header.Header.Get("Content-Type"))
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":1}`))
	})

	var created struct {
		ID int `json:"id"`
	}
	err := client.Do(context.Background(), Request{
		Method: http.MethodPost,
		Path:   "/backoffice/banners/",
		Multipart: &Multipart{
			Fields: map[string]string{"title": "Summer sale"},
			Files:  []File{{Field: "image", Name: "banner.png", ContentType: "image/png", Reader: strings.NewReader("PNGDATA")}},
		},
		Session: &fakeCreds{token: "staff"},
	}, &created)
	require.NoError(t, err)
	assert.Equal(t, 1, created.ID)
}

func TestCacheHitAndInvalidate(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		n := hits.Add(1)
		_ = json.NewEncoder(w).Encode(map[string]any{"banners": []any{}, "n": n})
	}, WithCache(cache.NewMemoryCache(time.Minute)))

	ctx := context.Background()
	get := func() int {
		var out struct {
			N int `json:"n"`
		}
		require.NoError(t, client.Do(ctx, Request{Path: "/content/home", Public: true, CacheKey: "content/home"}, &out))
		return out.N
	}

	assert.Equal(t, 1, get())
	assert.Equal(t, 1, get())
	assert.EqualValues(t, 1, hits.Load())

	client.Invalidate(ctx, "content/")
	assert.Equal(t, 2, get())
}

func TestCachedFetchSurvivesCancelledCaller(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	arrived := make(chan struct{}, 1)
	release := make(chan struct{})
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		arrived <- struct{}{}
		<-release
		_, _ = w.Write([]byte(`{"title":"Shipping"}`))
	}, WithCache(cache.NewMemoryCache(time.Minute)))
	var once sync.Once
	unblock := func() { once.Do(func() { close(release) }) }
	t.Cleanup(unblock)

	req := Request{Path: "/content/pages/shipping/", Public: true, CacheKey: "content/pages/shipping"}

	first, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() { firstErr <- client.Do(first, req, nil) }()

	<-arrived
	cancel()
	require.ErrorIs(t, <-firstErr, context.Canceled)

	second := make(chan error, 1)
	var out struct {
		Title string `json:"title"`
	}
	go func() { second <- client.Do(context.Background(), req, &out) }()
	unblock()

	require.NoError(t, <-second)
	assert.Equal(t, "Shipping", out.Title)
	assert.EqualValues(t, 1, hits.Load())
}

func TestCacheIgnoredForAuthenticatedCalls(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte(`[]`))
	}, WithCache(cache.NewMemoryCache(time.Minute)))

	for i := 0; i < 2; i++ {
		require.NoError(t, client.Do(context.Background(), Request{Path: "/wishlist/", CacheKey: "wishlist", Session: &fakeCreds{token: "t"}}, nil))
	}
	assert.EqualValues(t, 2, hits.Load())
}

func TestNewRejectsRelativeBase(t *testing.T) {
	t.Parallel()

	_, err := New("/api/v1")
	require.Error(t, err)
	_, err = New("  ")
	require.Error(t, err)
}
