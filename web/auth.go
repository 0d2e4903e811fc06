package web

import (
	"crypto/subtle"
	"net/http"

	"github.com/goji/httpauth"
	"github.com/gorilla/securecookie"
	"github.com/gorilla/sessions"
	"k8s.io/klog/v2"
)

const (
	sessionName = "smile"
	authKey     = "authenticated"
)

type AuthMiddleware struct {
	store sessions.Store
	opts  httpauth.AuthOptions
}

// Setup new middleware for authenticating requests with the given user name and password.
func NewAuthMiddleware(user, pass string) AuthMiddleware {
	hashKey := securecookie.GenerateRandomKey(32)
	blockKey := securecookie.GenerateRandomKey(32)
	store := sessions.NewCookieStore(hashKey, blockKey)
	store.Options.HttpOnly = true
	return AuthMiddleware{
		store: store,
		opts: httpauth.AuthOptions{
			Realm: "Restricted",
			AuthFunc: func(u, p string, r *http.Request) bool {
				ok := subtle.ConstantTimeCompare([]byte(u), []byte(user)) == 1 &&
					subtle.ConstantTimeCompare([]byte(p), []byte(pass)) == 1
				klog.V(1).Infof("auth %s %v", u, ok)
				return ok
			},
		},
	}
}

// If the session cookie is not present then use basic auth to login and set a cookie.
func (mw AuthMiddleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if sess, err := mw.store.Get(r, sessionName); err == nil {
			if ok, _ := sess.Values[authKey].(bool); ok {
				next.ServeHTTP(w, r)
				return
			}
		}
		httpauth.BasicAuth(mw.opts)(mw.setCookie(next)).ServeHTTP(w, r)
	})
}

func (mw AuthMiddleware) setCookie(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess, _ := mw.store.Get(r, sessionName)
		sess.Values[authKey] = true
		if err := sess.Save(r, w); err != nil {
			klog.Errorf("error saving session: %v", err)
		}
		h.ServeHTTP(w, r)
	})
}
