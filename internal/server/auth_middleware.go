package server

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// TokenAuth checks a shared token on connect. The token is read from the
// "token" query parameter or an "Authorization: Bearer" header. An empty
// token disables the check.
type TokenAuth struct {
	Token string
}

func (a TokenAuth) Enabled() bool { return a.Token != "" }

// OnConnect returns ErrUnauthorized when the request carries no valid token.
func (a TokenAuth) OnConnect(r *http.Request) error {
	if !a.Enabled() {
		return nil
	}
	token := r.URL.Query().Get("token")
	if token == "" {
		token, _ = strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	}
	if subtle.ConstantTimeCompare([]byte(token), []byte(a.Token)) != 1 {
		return ErrUnauthorized
	}
	return nil
}

// Middleware rejects unauthorized requests with 401 before they reach next.
func (a TokenAuth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := a.OnConnect(r); err != nil {
			http.Error(w, err.Error(), http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}
