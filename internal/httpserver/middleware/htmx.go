package middleware

import (
	"context"
	"net/http"
	"strings"
)

type htmxKey struct{}

// swap describes how htmx issued the request. Only the bits the handlers
// branch on are kept.
type swap struct {
	htmx           bool
	boosted        bool
	historyRestore bool
}

func headerTrue(r *http.Request, name string) bool {
	return strings.EqualFold(strings.TrimSpace(r.Header.Get(name)), "true")
}

// HTMX records the HX-* request headers on the context.
func HTMX() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			s := swap{
				htmx:           headerTrue(r, "HX-Request"),
				boosted:        headerTrue(r, "HX-Boosted"),
				historyRestore: headerTrue(r, "HX-History-Restore-Request"),
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), htmxKey{}, s)))
		})
	}
}

func swapFromContext(ctx context.Context) swap {
	s, _ := ctx.Value(htmxKey{}).(swap)
	return s
}

// IsHTMXRequest reports whether htmx issued the request.
func IsHTMXRequest(ctx context.Context) bool {
	return swapFromContext(ctx).htmx
}

// WantsFragment reports whether to answer with a partial instead of the full page.
// Boosted navigations and history restores get the whole page.
func WantsFragment(ctx context.Context) bool {
	s := swapFromContext(ctx)
	return s.htmx && !s.boosted && !s.historyRestore
}

// RequireHTMX answers 404 to anything htmx did not issue, keeping fragment
// routes such as /search/suggest off direct navigation.
func RequireHTMX() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !IsHTMXRequest(r.Context()) {
				http.NotFound(w, r)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Redirect sends htmx an HX-Redirect with 204 and plain requests a 303.
// Form posts use it so the browser never replays a POST on refresh.
func Redirect(w http.ResponseWriter, r *http.Request, target string) {
	if IsHTMXRequest(r.Context()) {
		w.Header().Set("HX-Redirect", target)
		w.WriteHeader(http.StatusNoContent)
		return
	}
	http.Redirect(w, r, target, http.StatusSeeOther)
}
