package auth

import (
	"context"
	"errors"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/terraconstructs/viewbridge/internal/host"
	"github.com/terraconstructs/viewbridge/internal/telemetry"
)

// Action is a repository-level permission the viewer asks about.
type Action int

const (
	ActionView Action = iota
	ActionClone
	ActionPush
)

func (a Action) String() string {
	switch a {
	case ActionView:
		return "view"
	case ActionClone:
		return "clone"
	case ActionPush:
		return "push"
	default:
		return "unknown"
	}
}

type predicate func(ctx context.Context, authz host.Authorizer, p *host.Principal, repo string) (bool, error)

func projectCheck(action host.Action) predicate {
	return func(ctx context.Context, authz host.Authorizer, p *host.Principal, repo string) (bool, error) {
		return authz.Check(ctx, p, host.Resource{Kind: host.KindProject, Project: repo}, action)
	}
}

// predicates maps each viewer action to its host check.
var predicates = map[Action]predicate{
	ActionView:  projectCheck(host.ActionRead),
	ActionClone: projectCheck(host.ActionUploadPack),
	ActionPush:  projectCheck(host.ActionReceivePack),
}

// PermissionDelegate forwards permission questions to the host authorizer.
// Any error is a denial.
type PermissionDelegate struct {
	authz   host.Authorizer
	metrics *telemetry.Metrics
}

// NewPermissionDelegate creates a delegate over authz.
func NewPermissionDelegate(authz host.Authorizer, metrics *telemetry.Metrics) *PermissionDelegate {
	if metrics == nil {
		metrics = telemetry.Discard()
	}
	return &PermissionDelegate{authz: authz, metrics: metrics}
}

// Can answers action on repo for the principal ref currently resolves to.
func (d *PermissionDelegate) Can(ctx context.Context, ref host.PrincipalRef, action Action, repo string) bool {
	pred, ok := predicates[action]
	if !ok {
		log.WithField("action", action).Warn("no permission predicate for action")
		return false
	}
	p := ref.Principal()
	allowed, err := pred(ctx, d.authz, p, StripDotGit(repo))
	return d.result(action.String(), p, repo, allowed, err)
}

// CanViewRef requires view access to repo before asking about ref.
func (d *PermissionDelegate) CanViewRef(ctx context.Context, ref host.PrincipalRef, repo, refName string) bool {
	if !d.Can(ctx, ref, ActionView, repo) {
		return false
	}
	p := ref.Principal()
	allowed, err := d.authz.Check(ctx, p, host.Resource{
		Kind:    host.KindRef,
		Project: StripDotGit(repo),
		Ref:     refName,
	}, host.ActionRead)
	return d.result("view-ref", p, repo+":"+refName, allowed, err)
}

func (d *PermissionDelegate) result(action string, p *host.Principal, target string, allowed bool, err error) bool {
	if err != nil {
		entry := log.WithFields(log.Fields{
			"subject": p.Subject(),
			"action":  action,
			"target":  target,
		}).WithError(err)
		if errors.Is(err, host.ErrNoSuchProject) {
			entry.Debug("permission denied: no such project")
		} else {
			entry.Warn("permission backend failure treated as denial")
		}
		d.metrics.PermissionChecks.WithLabelValues(action, "error").Inc()
		return false
	}
	if allowed {
		d.metrics.PermissionChecks.WithLabelValues(action, "allow").Inc()
	} else {
		d.metrics.PermissionChecks.WithLabelValues(action, "deny").Inc()
	}
	return allowed
}

// StripDotGit removes a trailing ".git" from a repository name.
func StripDotGit(name string) string {
	return strings.TrimSuffix(name, ".git")
}
