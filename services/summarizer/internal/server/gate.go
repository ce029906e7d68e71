package server

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"mailguard/internal/util"
	"mailguard/pkg/domain"
	"mailguard/services/summarizer/internal/app"
)

type principalContextKey struct{}

// openPaths pass the gate without a session.
var openPaths = map[string]struct{}{
	"/":             {},
	"/index.html":   {},
	"/favicon.ico":  {},
	"/healthz":      {},
	"/api/login":    {},
	"/api/register": {},
	"/api/me":       {},
}

// adminWrites are the method+path pairs only admins may call.
var adminWrites = map[string]struct{}{
	http.MethodPost + " /api/admin/config":               {},
	http.MethodPost + " /api/admin/models":               {},
	http.MethodPost + " /api/admin/users/reset-password": {},
	http.MethodPost + " /api/admin/users/delete":         {},
	http.MethodPost + " /api/signup-keys":                {},
	http.MethodPost + " /api/signup-keys/revoke":         {},
}

func isOpenPath(path string) bool {
	if _, ok := openPaths[path]; ok {
		return true
	}
	return strings.HasPrefix(path, "/static/")
}

func withPrincipal(ctx context.Context, user domain.User) context.Context {
	return context.WithValue(ctx, principalContextKey{}, user)
}

func principalFromContext(ctx context.Context) (domain.User, bool) {
	user, ok := ctx.Value(principalContextKey{}).(domain.User)
	return user, ok
}

// gate runs before every route. First match wins: open paths, missing
// session, admin-only writes, then the summarize quota reservation. A
// reservation is kept only when the handler answered 200.
func (s *Server) gate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, authenticated := s.sessionUser(r)
		if authenticated {
			r = r.WithContext(withPrincipal(r.Context(), user))
		}

		if isOpenPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}
		if strings.HasPrefix(r.URL.Path, "/api/") && !authenticated {
			s.audit(r, "gate.authorize", "fail", "reason", "missing_session")
			writeError(w, http.StatusUnauthorized, app.ErrAuthRequired.Error())
			return
		}
		if _, adminOnly := adminWrites[r.Method+" "+r.URL.Path]; adminOnly && !user.IsAdmin() {
			s.audit(r, "gate.admin.authorize", "fail", "user_id", user.ID, "reason", "forbidden")
			writeError(w, http.StatusForbidden, app.ErrForbidden.Error())
			return
		}
		if r.Method != http.MethodPost || r.URL.Path != "/api/summarize" {
			next.ServeHTTP(w, r)
			return
		}

		res, err := s.app.ReserveSummarize(user)
		if err != nil {
			var exceeded *app.QuotaExceededError
			if errors.As(err, &exceeded) {
				s.audit(r, "gate.quota", "rejected", "user_id", user.ID, "limit", exceeded.Limit)
			}
			s.writeAppError(w, r, err)
			return
		}
		committed := false
		defer func() {
			if !committed {
				s.app.ReleaseSummarize(res)
			}
		}()
		rec := util.NewStatusRecorder(w)
		next.ServeHTTP(rec, r)
		committed = rec.StatusCode() == http.StatusOK
	})
}
