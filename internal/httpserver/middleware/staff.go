package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/url"

	"go.uber.org/zap"

	"finitefield.org/storefront/internal/apiclient"
	"finitefield.org/storefront/internal/backoffice"
	"finitefield.org/storefront/internal/platform/observability"
	"finitefield.org/storefront/internal/platform/requestctx"
)

type staffContextKey string

const staffKey staffContextKey = "backoffice.staff"

// StaffChecker resolves the signed-in visitor into a staff profile.
type StaffChecker interface {
	Me(ctx context.Context, creds apiclient.Credentials) (backoffice.Staff, error)
}

// Staff guards the backoffice. Visitors without a token, or whose token the backend
// rejects, are sent to loginPath; signed-in non-staff get 403.
func Staff(checker StaffChecker, loginPath string) func(http.Handler) http.Handler {
	if checker == nil {
		panic("staff checker is required")
	}
	if loginPath == "" {
		loginPath = "/login"
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			logger := observability.FromContext(r.Context())
			sess, ok := SessionFromContext(r.Context())
			if !ok {
				http.Error(w, "session unavailable", http.StatusInternalServerError)
				return
			}
			if _, ok := sess.AccessToken(); !ok {
				logger.Info("backoffice: no token")
				handleUnauthorized(w, r, loginPath)
				return
			}

			staff, err := checker.Me(r.Context(), sess)
			switch {
			case err == nil:
			case errors.Is(err, backoffice.ErrNotStaff):
				logger.Info("backoffice: staff access denied")
				http.Error(w, "Staff access only.", http.StatusForbidden)
				return
			case apiclient.IsUnauthorized(err):
				logger.Info("backoffice: token rejected")
				sess.SetTokens("", "")
				handleUnauthorized(w, r, loginPath)
				return
			default:
				logger.Warn("backoffice: staff lookup failed", zap.Error(err))
				http.Error(w, apiclient.MsgUnavailable, http.StatusBadGateway)
				return
			}

			requestctx.SetSubject(r.Context(), staff.Username)
			ctx := context.WithValue(r.Context(), staffKey, staff)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// StaffFromContext returns the staff member resolved by Staff.
func StaffFromContext(ctx context.Context) (backoffice.Staff, bool) {
	staff, ok := ctx.Value(staffKey).(backoffice.Staff)
	return staff, ok
}

func handleUnauthorized(w http.ResponseWriter, r *http.Request, loginPath string) {
	target := loginPath
	if u, err := url.Parse(loginPath); err == nil {
		q := u.Query()
		q.Set("next", r.URL.RequestURI())
		u.RawQuery = q.Encode()
		target = u.String()
	}

	if IsHTMXRequest(r.Context()) {
		w.Header().Set("HX-Redirect", target)
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}
	http.Redirect(w, r, target, http.StatusFound)
}
