package api

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// Authenticator decides whether a request may cross the API boundary.
type Authenticator interface {
	Authenticate(r *http.Request) bool
}

// StaticToken admits requests that carry a fixed bearer token. The empty
// token admits everything, so local setups work without configuration.
type StaticToken string

func (t StaticToken) Authenticate(r *http.Request) bool {
	if t == "" {
		return true
	}
	raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	return ok && subtle.ConstantTimeCompare([]byte(raw), []byte(t)) == 1
}
