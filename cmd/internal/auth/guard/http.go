package guard

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
)

// Protect returns middleware that mounts a fresh guard for every request. Browser requests are
// redirected with 303 See Other; JSON requests get 401 or 403.
func Protect(sess Session, tokens TokenSource, opts Options) func(http.Handler) http.Handler {
	opts = opts.withDefaults()
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			d := New(sess, tokens, opts).Run(r.Context())
			if d.Allowed {
				next.ServeHTTP(w, r)
				return
			}
			if d.Reason == ReasonCanceled {
				return
			}

			if wantsJSON(r) {
				status := http.StatusUnauthorized
				if d.Reason == ReasonInsufficientRole {
					status = http.StatusForbidden
				}
				w.Header().Set("Content-Type", "application/json; charset=utf-8")
				w.WriteHeader(status)
				_ = json.NewEncoder(w).Encode(map[string]string{
					"error":    string(d.Reason),
					"message":  d.Notice,
					"redirect": d.Redirect,
				})
				return
			}

			http.Redirect(w, r, RedirectURL(d, r.URL.RequestURI()), http.StatusSeeOther)
		})
	}
}

// RedirectURL renders the redirect target with the notice and, for login redirects, the page to
// return to.
func RedirectURL(d Decision, from string) string {
	q := url.Values{}
	if d.Notice != "" {
		q.Set("notice", d.Notice)
	}
	if d.Reason == ReasonNoSession || d.Reason == ReasonSessionExpired {
		if from != "" {
			q.Set("next", from)
		}
	}
	if len(q) == 0 {
		return d.Redirect
	}
	return d.Redirect + "?" + q.Encode()
}

func wantsJSON(r *http.Request) bool {
	if strings.HasPrefix(r.URL.Path, "/api/") {
		return true
	}
	return strings.Contains(r.Header.Get("Accept"), "application/json")
}
