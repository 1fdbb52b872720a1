package host

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	log "github.com/sirupsen/logrus"
	"github.com/terraconstructs/viewbridge/internal/host/bunadapter"
	"github.com/terraconstructs/viewbridge/internal/repository"
	"github.com/terraconstructs/viewbridge/internal/telemetry"
	"github.com/uptrace/bun"
	"go.opentelemetry.io/otel/attribute"
)

//go:embed model.conf
var accessModel string

// Implicit groups every principal belongs to.
const (
	GroupAnonymousUsers  = "group:anonymous-users"
	GroupRegisteredUsers = "group:registered-users"
)

const attrSubjects = "subjects"

// Action is a host permission name.
type Action string

const (
	ActionRead        Action = "read"
	ActionUploadPack  Action = "upload-pack"  // clone and fetch
	ActionReceivePack Action = "receive-pack" // push
)

// ResourceKind selects what a Resource names.
type ResourceKind string

const (
	KindProject ResourceKind = "project"
	KindRef     ResourceKind = "ref"
)

// Resource identifies a project or a ref inside a project.
type Resource struct {
	Kind    ResourceKind
	Project string
	Ref     string // KindRef only
}

// Object is the casbin object string for r.
func (r Resource) Object() string {
	if r.Kind == KindRef {
		return "ref:" + r.Project + ":" + r.Ref
	}
	return "project:" + r.Project
}

// Authorizer is the host's access-control backend.
type Authorizer interface {
	// Check evaluates current policy; it returns ErrNoSuchProject for
	// unregistered projects.
	Check(ctx context.Context, p *Principal, res Resource, action Action) (bool, error)
}

// CasbinAuthorizer evaluates access rules stored in the host database.
type CasbinAuthorizer struct {
	enforcer *casbin.SyncedEnforcer
	adapter  *bunadapter.Adapter
	projects repository.ProjectRepository
}

// NewCasbinAuthorizer loads the access rules from db.
func NewCasbinAuthorizer(db *bun.DB, projects repository.ProjectRepository) (*CasbinAuthorizer, error) {
	adapter := bunadapter.NewAdapter(db)

	m, err := model.NewModelFromString(accessModel)
	if err != nil {
		return nil, fmt.Errorf("parse access model: %w", err)
	}

	enforcer, err := casbin.NewSyncedEnforcer(m, adapter)
	if err != nil {
		return nil, fmt.Errorf("create access enforcer: %w", err)
	}
	enforcer.AddFunction("bexprMatch", bexprMatch)
	enforcer.AddFunction("subjectMatch", subjectMatch)

	if err := enforcer.LoadPolicy(); err != nil {
		return nil, fmt.Errorf("load access rules: %w", err)
	}

	return &CasbinAuthorizer{enforcer: enforcer, adapter: adapter, projects: projects}, nil
}

// Check implements Authorizer.
func (a *CasbinAuthorizer) Check(ctx context.Context, p *Principal, res Resource, action Action) (bool, error) {
	ctx, span := telemetry.StartSpan(ctx, "viewbridge/host", "host.Check",
		attribute.String(telemetry.AttrPolicyResource, res.Object()),
		attribute.String(telemetry.AttrPolicyAction, string(action)),
	)
	defer span.End()

	exists, err := a.projects.Exists(ctx, res.Project)
	if err != nil {
		telemetry.RecordError(span, err)
		return false, err
	}
	if !exists {
		return false, fmt.Errorf("%s: %w", res.Project, ErrNoSuchProject)
	}

	subjects := []string{GroupAnonymousUsers}
	if !p.IsAnonymous() {
		subjects = append(subjects, GroupRegisteredUsers)
	}
	attrs := map[string]any{
		attrSubjects: subjects,
		"project":    res.Project,
		"ref":        res.Ref,
		"kind":       string(res.Kind),
		"action":     string(action),
	}

	allowed, err := a.enforcer.Enforce(p.Subject(), res.Object(), string(action), attrs)
	if err != nil {
		telemetry.RecordError(span, err)
		return false, fmt.Errorf("enforce %s on %s: %w", action, res.Object(), err)
	}
	span.SetAttributes(attribute.Bool(telemetry.AttrPolicyAllowed, allowed))

	log.WithFields(log.Fields{
		"subject": p.Subject(),
		"object":  res.Object(),
		"action":  action,
		"allowed": allowed,
	}).Debug("access check")

	return allowed, nil
}

// Grant adds an allow rule. cond is an optional go-bexpr expression over
// project, ref, kind and action.
func (a *CasbinAuthorizer) Grant(subject, object string, action Action, cond string) (bool, error) {
	return a.enforcer.AddPolicy(subject, object, string(action), cond, "allow")
}

// Deny adds a deny rule, which wins over any allow.
func (a *CasbinAuthorizer) Deny(subject, object string, action Action, cond string) (bool, error) {
	return a.enforcer.AddPolicy(subject, object, string(action), cond, "deny")
}

// Revoke removes every rule of subject on object.
func (a *CasbinAuthorizer) Revoke(subject, object string) (bool, error) {
	return a.enforcer.RemoveFilteredPolicy(0, subject, object)
}

// AddMember puts an account subject into a group.
func (a *CasbinAuthorizer) AddMember(member, group string) (bool, error) {
	return a.enforcer.AddGroupingPolicy(member, group)
}

// RemoveMember takes an account subject out of a group.
func (a *CasbinAuthorizer) RemoveMember(member, group string) (bool, error) {
	return a.enforcer.RemoveGroupingPolicy(member, group)
}

// Rules lists the stored rules.
func (a *CasbinAuthorizer) Rules(ctx context.Context) ([]bunadapter.AccessRule, error) {
	return a.adapter.Rules(ctx)
}

// Reload re-reads the rules from the database.
func (a *CasbinAuthorizer) Reload() error {
	if err := a.enforcer.LoadPolicy(); err != nil {
		return fmt.Errorf("reload access rules: %w", err)
	}
	return nil
}

// StartAutoReload picks up rule changes made by other processes.
func (a *CasbinAuthorizer) StartAutoReload(interval time.Duration) {
	if interval > 0 {
		a.enforcer.StartAutoLoadPolicy(interval)
	}
}

// StopAutoReload stops StartAutoReload.
func (a *CasbinAuthorizer) StopAutoReload() {
	a.enforcer.StopAutoLoadPolicy()
}
