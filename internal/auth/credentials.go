package auth

import (
	"encoding/base64"
	"fmt"
	"mime"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/terraconstructs/viewbridge/internal/host"
	"golang.org/x/text/encoding/htmlindex"
)

// AnonymousUsername names the anonymous principal on the wire.
const AnonymousUsername = "$anonymous"

// Kind classifies the credentials of a request.
type Kind int

const (
	KindNone Kind = iota
	KindDelegatedToken
	KindBasic
	KindAnonymous
)

func (k Kind) String() string {
	switch k {
	case KindDelegatedToken:
		return "delegated-token"
	case KindBasic:
		return "basic"
	case KindAnonymous:
		return "anonymous"
	default:
		return "none"
	}
}

// Credentials is the request's classified credential. Username and Secret
// are set for KindDelegatedToken (Secret is the host session id) and
// KindBasic (Secret is the password).
type Credentials struct {
	Kind      Kind
	Username  string
	Secret    string
	Malformed bool // KindNone produced by an undecodable Basic header
}

// String never includes the secret.
func (c Credentials) String() string {
	if c.Malformed {
		return "none(malformed)"
	}
	if c.Username != "" {
		return fmt.Sprintf("%s(%s)", c.Kind, c.Username)
	}
	return c.Kind.String()
}

// Classify inspects r and the ambient host session and returns exactly one
// credential kind. Priority: Basic header, signed-in host session, explicit
// anonymous request, nothing.
func Classify(r *http.Request) Credentials {
	if header := r.Header.Get("Authorization"); header != "" {
		if c, ok := parseBasic(header, requestCharset(r)); ok {
			return c
		}
		if isBasicScheme(header) {
			return Credentials{Kind: KindNone, Malformed: true}
		}
	}

	if s := host.SessionFromContext(r.Context()); s.IsSignedIn() {
		return Credentials{
			Kind:     KindDelegatedToken,
			Username: s.CurrentPrincipal().Username,
			Secret:   s.SessionID(),
		}
	}

	if RequestedPrincipal(r.Context()) == AnonymousUsername {
		return Credentials{Kind: KindAnonymous, Username: AnonymousUsername}
	}

	return Credentials{Kind: KindNone}
}

func isBasicScheme(header string) bool {
	return len(header) >= 6 && strings.EqualFold(header[:6], "basic ")
}

// parseBasic decodes "Basic <b64(user:pass)>". ok is false for other schemes
// and for malformed Basic values.
func parseBasic(header, charset string) (Credentials, bool) {
	if !isBasicScheme(header) {
		return Credentials{}, false
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(header[6:]))
	if err != nil {
		return Credentials{}, false
	}

	decoded, ok := decodeCharset(raw, charset)
	if !ok {
		return Credentials{}, false
	}

	user, pass, found := strings.Cut(decoded, ":")
	if !found {
		return Credentials{}, false
	}
	return Credentials{Kind: KindBasic, Username: user, Secret: pass}, true
}

// requestCharset returns the charset parameter of the request Content-Type.
func requestCharset(r *http.Request) string {
	ct := r.Header.Get("Content-Type")
	if ct == "" {
		return ""
	}
	_, params, err := mime.ParseMediaType(ct)
	if err != nil {
		return ""
	}
	return params["charset"]
}

// decodeCharset converts raw to UTF-8. Unknown or absent charsets mean UTF-8.
func decodeCharset(raw []byte, charset string) (string, bool) {
	if charset != "" {
		if enc, err := htmlindex.Get(charset); err == nil {
			if name, _ := htmlindex.Name(enc); name != "utf-8" {
				out, err := enc.NewDecoder().Bytes(raw)
				if err != nil {
					return "", false
				}
				return string(out), true
			}
		}
	}
	if !utf8.Valid(raw) {
		return "", false
	}
	return string(raw), true
}
