package host

import (
	"errors"
	"html/template"
	"net/http"
	"strings"

	log "github.com/sirupsen/logrus"
)

var loginPage = template.Must(template.New("login").Parse(`<!DOCTYPE html>
<html><head><title>Sign in</title></head>
<body>
{{if .Failed}}<p>Invalid username or password.</p>{{end}}
<form method="post" action="login">
<input type="hidden" name="return" value="{{.Return}}">
<label>Username <input name="username" autofocus></label>
<label>Password <input name="password" type="password"></label>
<button type="submit">Sign in</button>
</form>
</body></html>
`))

// Handlers serves the host's own sign-in and sign-out pages.
type Handlers struct {
	verifier Verifier
}

// NewHandlers creates the host login handlers.
func NewHandlers(v Verifier) *Handlers {
	return &Handlers{verifier: v}
}

// LoginForm renders the sign-in form.
func (h *Handlers) LoginForm(w http.ResponseWriter, r *http.Request) {
	h.renderLogin(w, http.StatusOK, safeReturn(r.URL.Query().Get("return")), false)
}

// Login checks form credentials and signs the host session in.
func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "bad form", http.StatusBadRequest)
		return
	}
	username := r.PostFormValue("username")
	password := r.PostFormValue("password")
	ret := safeReturn(r.PostFormValue("return"))

	if username == "" || password == "" {
		h.renderLogin(w, http.StatusUnauthorized, ret, true)
		return
	}

	result, err := h.verifier.Verify(r.Context(), username, password)
	if err != nil {
		if !errors.Is(err, ErrAuthenticationFailed) {
			log.WithError(err).Error("host login backend failure")
		}
		log.WithField("username", username).Warn("host login rejected")
		h.renderLogin(w, http.StatusUnauthorized, ret, true)
		return
	}

	if err := SessionFromContext(r.Context()).Login(r.Context(), result); err != nil {
		log.WithError(err).Error("host login could not create session")
		http.Error(w, "sign-in unavailable", http.StatusServiceUnavailable)
		return
	}
	http.Redirect(w, r, ret, http.StatusSeeOther)
}

// Logout signs the host session out.
func (h *Handlers) Logout(w http.ResponseWriter, r *http.Request) {
	if err := SessionFromContext(r.Context()).Logout(r.Context()); err != nil {
		log.WithError(err).Warn("host logout failed")
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (h *Handlers) renderLogin(w http.ResponseWriter, status int, ret string, failed bool) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_ = loginPage.Execute(w, struct {
		Return string
		Failed bool
	}{ret, failed})
}

// safeReturn only allows local redirect targets.
func safeReturn(ret string) string {
	if ret == "" || !strings.HasPrefix(ret, "/") || strings.HasPrefix(ret, "//") || strings.HasPrefix(ret, "/\\") {
		return "/"
	}
	return ret
}
