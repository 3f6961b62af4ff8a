// Package csrf implements a stateless double-submit guard.
//
// The server hands the browser a random secret in an HttpOnly cookie and a
// token derived from that secret and the caller's session. A mutating request
// must carry the token in a header; the guard recomputes it from the cookie.
package csrf

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"net/http"
	"strings"
	"time"
)

const (
	CookieName = "_csrf"
	HeaderName = "X-CSRF-Token"
	TTL        = time.Hour
)

var ErrInvalid = errors.New("csrf: invalid token")

// SessionFunc resolves the session a request belongs to.
type SessionFunc func(r *http.Request) string

type Guard struct {
	secure  bool
	session SessionFunc
}

func New(secureCookie bool, session SessionFunc) *Guard {
	if session == nil {
		session = func(*http.Request) string { return "" }
	}
	return &Guard{secure: secureCookie, session: session}
}

// IssueToken reuses the secret cookie when present so several tabs share it,
// and sets a fresh one otherwise.
func (g *Guard) IssueToken(w http.ResponseWriter, r *http.Request) (string, error) {
	secret := ""
	if c, err := r.Cookie(CookieName); err == nil && validSecret(c.Value) {
		secret = c.Value
	} else {
		s, err := randomString(18)
		if err != nil {
			return "", err
		}
		secret = s
		http.SetCookie(w, &http.Cookie{
			Name:     CookieName,
			Value:    secret,
			Path:     "/",
			MaxAge:   int(TTL / time.Second),
			Expires:  time.Now().Add(TTL),
			Secure:   g.secure,
			HttpOnly: true,
			SameSite: http.SameSiteStrictMode,
		})
	}
	salt, err := randomString(6)
	if err != nil {
		return "", err
	}
	return salt + "." + tokenHash(salt, secret, g.session(r)), nil
}

// Verify returns ErrInvalid for every failure, whichever half is wrong.
func (g *Guard) Verify(r *http.Request) error {
	c, err := r.Cookie(CookieName)
	if err != nil || !validSecret(c.Value) {
		return ErrInvalid
	}
	token := r.Header.Get(HeaderName)
	salt, sum, ok := strings.Cut(token, ".")
	if !ok || salt == "" || sum == "" {
		return ErrInvalid
	}
	want := tokenHash(salt, c.Value, g.session(r))
	if subtle.ConstantTimeCompare([]byte(sum), []byte(want)) != 1 {
		return ErrInvalid
	}
	return nil
}

func tokenHash(salt, secret, session string) string {
	h := sha256.Sum256([]byte(salt + "-" + secret + session))
	return base64.RawURLEncoding.EncodeToString(h[:])
}

func validSecret(s string) bool {
	return len(s) >= 16 && !strings.ContainsAny(s, ". ")
}

func randomString(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
