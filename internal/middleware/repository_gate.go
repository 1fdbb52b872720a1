package middleware

import (
	"net/http"

	log "github.com/sirupsen/logrus"
	"github.com/terraconstructs/viewbridge/internal/auth"
	"github.com/terraconstructs/viewbridge/internal/repository"
)

// RepositoryGate admits a request for one repository only if the request
// identity may view it. Unknown repositories are 404; an anonymous caller
// is challenged; an authenticated caller is refused with 403.
func RepositoryGate(realm string, projects repository.ProjectRepository, repoName func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			name := repoName(r)

			exists, err := projects.Exists(ctx, name)
			if err != nil {
				log.WithError(err).WithField("repository", name).Warn("repository lookup failed, treating as missing")
			}
			if err != nil || !exists {
				http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
				return
			}

			id := auth.IdentityFromContext(ctx)
			if id != nil && id.CanView(ctx, name) {
				next.ServeHTTP(w, r)
				return
			}

			if id == nil || id.IsAnonymous() {
				Challenge(w, realm)
				return
			}
			log.WithFields(log.Fields{
				"user":       id.Name(),
				"repository": name,
			}).Info("repository access denied")
			http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
		})
	}
}
