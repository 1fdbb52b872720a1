package auth

import (
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// CookieHash is the one-way remember-me value for name and the credential
// that proved it.
func CookieHash(name, credential string) string {
	sum := sha256.Sum256([]byte(name + credential))
	return hex.EncodeToString(sum[:])
}

// PluginPath returns the path part of the viewer's canonical URL, falling
// back to /plugins/<name>/ when the URL has no usable path.
func PluginPath(canonicalURL, pluginName string) string {
	fallback := "/plugins/" + pluginName + "/"
	if canonicalURL == "" {
		return fallback
	}
	u, err := url.Parse(canonicalURL)
	if err != nil || u.Path == "" || u.Path == "/" {
		return fallback
	}
	if !strings.HasSuffix(u.Path, "/") {
		return u.Path + "/"
	}
	return u.Path
}

// CookieOptions configures the viewer's remember-me cookie.
type CookieOptions struct {
	Name    string
	Path    string
	MaxAge  time.Duration
	Enabled bool
	Secure  bool
}

// CookieManager writes and clears the remember-me cookie.
type CookieManager struct {
	opts CookieOptions
}

// NewCookieManager applies defaults to opts.
func NewCookieManager(opts CookieOptions) *CookieManager {
	if opts.Name == "" {
		opts.Name = "VBVIEWER"
	}
	if opts.Path == "" {
		opts.Path = "/"
	}
	if opts.MaxAge <= 0 {
		opts.MaxAge = 7 * 24 * time.Hour
	}
	return &CookieManager{opts: opts}
}

// Enabled reports whether cookie authentication is allowed.
func (m *CookieManager) Enabled() bool { return m.opts.Enabled }

// Value returns the remember-me cookie of r, or "".
func (m *CookieManager) Value(r *http.Request) string {
	if !m.opts.Enabled {
		return ""
	}
	c, err := r.Cookie(m.opts.Name)
	if err != nil {
		return ""
	}
	return c.Value
}

// Set writes the cookie for id. Identities without a cookie hash get an
// empty session cookie.
func (m *CookieManager) Set(w http.ResponseWriter, id *Identity) {
	if !m.opts.Enabled {
		return
	}
	c := m.cookie()
	if id != nil && id.CookieHash() != "" {
		c.Value = id.CookieHash()
		c.MaxAge = int(m.opts.MaxAge / time.Second)
	}
	http.SetCookie(w, c)
}

// Clear removes the cookie.
func (m *CookieManager) Clear(w http.ResponseWriter) {
	if !m.opts.Enabled {
		return
	}
	c := m.cookie()
	c.MaxAge = -1
	http.SetCookie(w, c)
}

func (m *CookieManager) cookie() *http.Cookie {
	return &http.Cookie{
		Name:     m.opts.Name,
		Path:     m.opts.Path,
		HttpOnly: true,
		Secure:   m.opts.Secure,
		SameSite: http.SameSiteLaxMode,
	}
}
