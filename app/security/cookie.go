package security

import (
	"net/http"
	"time"
)

// CookieManager writes and clears the session cookie. Set and clear use the
// same attributes, otherwise browsers keep the stale cookie.
type CookieManager struct {
	name   string
	domain string
	secure bool
	maxAge time.Duration
}

func NewCookieManager(name, domain string, secure bool, maxAge time.Duration) *CookieManager {
	return &CookieManager{
		name:   name,
		domain: domain,
		secure: secure,
		maxAge: maxAge,
	}
}

func (m *CookieManager) Name() string {
	return m.name
}

func (m *CookieManager) Attach(w http.ResponseWriter, token string) {
	cookie := m.base()
	cookie.Value = token
	cookie.MaxAge = int(m.maxAge.Seconds())
	http.SetCookie(w, cookie)
}

func (m *CookieManager) Clear(w http.ResponseWriter) {
	cookie := m.base()
	cookie.MaxAge = -1
	cookie.Expires = time.Unix(0, 0)
	http.SetCookie(w, cookie)
}

// Read returns the session cookie value, or "" when absent.
func (m *CookieManager) Read(r *http.Request) string {
	cookie, err := r.Cookie(m.name)
	if err != nil {
		return ""
	}
	return cookie.Value
}

func (m *CookieManager) base() *http.Cookie {
	return &http.Cookie{
		Name:     m.name,
		Path:     "/",
		Domain:   m.domain,
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	}
}
