// Package bunadapter persists host access rules for casbin in the host's own
// bun database, so rules share the connection pool and migrations of the
// account store.
package bunadapter

import (
	"context"
	"fmt"

	"github.com/casbin/casbin/v2/model"
	"github.com/uptrace/bun"
)

// AccessRule is one stored casbin line. All columns form the primary key so
// duplicate rules collapse on insert.
type AccessRule struct {
	bun.BaseModel `bun:"table:access_rules,alias:ar"`

	Ptype string `bun:"ptype,pk,type:varchar(16),notnull"` // p (permission) or g (membership)
	V0    string `bun:"v0,pk,type:varchar(255)"`           // subject
	V1    string `bun:"v1,pk,type:varchar(255)"`           // object pattern, or group for g
	V2    string `bun:"v2,pk,type:varchar(255)"`           // action
	V3    string `bun:"v3,pk,type:varchar(255)"`           // go-bexpr condition
	V4    string `bun:"v4,pk,type:varchar(255)"`           // effect
	V5    string `bun:"v5,pk,type:varchar(255)"`
}

// NewAccessRule builds a row from a casbin rule slice.
func NewAccessRule(ptype string, rule []string) *AccessRule {
	r := &AccessRule{Ptype: ptype}
	fields := []*string{&r.V0, &r.V1, &r.V2, &r.V3, &r.V4, &r.V5}
	for i := 0; i < len(rule) && i < len(fields); i++ {
		*fields[i] = rule[i]
	}
	return r
}

// Values returns the rule without trailing empty columns. Empty columns in
// the middle are kept so positional fields stay aligned.
func (r *AccessRule) Values() []string {
	values := []string{r.V0, r.V1, r.V2, r.V3, r.V4, r.V5}
	last := -1
	for i := len(values) - 1; i >= 0; i-- {
		if values[i] != "" {
			last = i
			break
		}
	}
	return values[:last+1]
}

func (r *AccessRule) where(q bun.QueryBuilder) bun.QueryBuilder {
	return q.WhereGroup(" OR ", func(q bun.QueryBuilder) bun.QueryBuilder {
		q = q.Where("ptype = ?", r.Ptype)
		for i, v := range []string{r.V0, r.V1, r.V2, r.V3, r.V4, r.V5} {
			if v != "" {
				q = q.Where("? = ?", bun.Ident(fmt.Sprintf("v%d", i)), v)
			}
		}
		return q
	})
}

// Adapter implements casbin's persist.Adapter and persist.BatchAdapter.
type Adapter struct {
	db *bun.DB
}

// NewAdapter expects the access_rules table to exist.
func NewAdapter(db *bun.DB) *Adapter {
	return &Adapter{db: db}
}

// Rules lists every stored rule, for inspection tooling.
func (a *Adapter) Rules(ctx context.Context) ([]AccessRule, error) {
	var rules []AccessRule
	if err := a.db.NewSelect().Model(&rules).Order("ptype", "v0", "v1", "v2").Scan(ctx); err != nil {
		return nil, fmt.Errorf("list access rules: %w", err)
	}
	return rules, nil
}

// LoadPolicy loads all rules into m.
func (a *Adapter) LoadPolicy(m model.Model) error {
	rules, err := a.Rules(context.Background())
	if err != nil {
		return err
	}
	for i := range rules {
		values := rules[i].Values()
		if len(values) == 0 {
			continue
		}
		if err := m.AddPolicy(rules[i].Ptype[:1], rules[i].Ptype, values); err != nil {
			return fmt.Errorf("load access rule %v: %w", values, err)
		}
	}
	return nil
}

// SavePolicy replaces the stored rules with the contents of m.
func (a *Adapter) SavePolicy(m model.Model) error {
	var rules []*AccessRule
	for _, sec := range []string{"p", "g"} {
		for ptype, assertion := range m[sec] {
			for _, rule := range assertion.Policy {
				rules = append(rules, NewAccessRule(ptype, rule))
			}
		}
	}
	if err := a.insert(context.Background(), true, rules...); err != nil {
		return fmt.Errorf("save access rules: %w", err)
	}
	return nil
}

// AddPolicy stores one rule.
func (a *Adapter) AddPolicy(_ string, ptype string, rule []string) error {
	if err := a.insert(context.Background(), false, NewAccessRule(ptype, rule)); err != nil {
		return fmt.Errorf("add access rule: %w", err)
	}
	return nil
}

// AddPolicies stores several rules in one transaction.
func (a *Adapter) AddPolicies(_ string, ptype string, rules [][]string) error {
	rows := make([]*AccessRule, 0, len(rules))
	for _, rule := range rules {
		rows = append(rows, NewAccessRule(ptype, rule))
	}
	if err := a.insert(context.Background(), false, rows...); err != nil {
		return fmt.Errorf("add access rules: %w", err)
	}
	return nil
}

// RemovePolicy deletes one rule.
func (a *Adapter) RemovePolicy(_ string, ptype string, rule []string) error {
	if err := a.delete(context.Background(), NewAccessRule(ptype, rule)); err != nil {
		return fmt.Errorf("remove access rule: %w", err)
	}
	return nil
}

// RemovePolicies deletes several rules.
func (a *Adapter) RemovePolicies(_ string, ptype string, rules [][]string) error {
	rows := make([]*AccessRule, 0, len(rules))
	for _, rule := range rules {
		rows = append(rows, NewAccessRule(ptype, rule))
	}
	if err := a.delete(context.Background(), rows...); err != nil {
		return fmt.Errorf("remove access rules: %w", err)
	}
	return nil
}

// RemoveFilteredPolicy deletes rules whose columns starting at fieldIndex
// match the non-empty fieldValues.
func (a *Adapter) RemoveFilteredPolicy(_ string, ptype string, fieldIndex int, fieldValues ...string) error {
	q := a.db.NewDelete().Model((*AccessRule)(nil)).Where("ptype = ?", ptype)
	for i, v := range fieldValues {
		col := fieldIndex + i
		if v == "" || col < 0 || col > 5 {
			continue
		}
		q = q.Where("? = ?", bun.Ident(fmt.Sprintf("v%d", col)), v)
	}
	if _, err := q.Exec(context.Background()); err != nil {
		return fmt.Errorf("remove filtered access rules: %w", err)
	}
	return nil
}

func (a *Adapter) insert(ctx context.Context, truncate bool, rows ...*AccessRule) error {
	return a.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if truncate {
			if _, err := tx.NewDelete().Model((*AccessRule)(nil)).Where("1 = 1").Exec(ctx); err != nil {
				return err
			}
		}
		for _, row := range rows {
			if _, err := tx.NewInsert().Model(row).On("CONFLICT DO NOTHING").Exec(ctx); err != nil {
				return err
			}
		}
		return nil
	})
}

func (a *Adapter) delete(ctx context.Context, rows ...*AccessRule) error {
	if len(rows) == 0 {
		return nil
	}
	q := a.db.NewDelete().Model((*AccessRule)(nil))
	q.QueryBuilder().WhereGroup(" AND ", func(qb bun.QueryBuilder) bun.QueryBuilder {
		for _, row := range rows {
			qb = row.where(qb)
		}
		return qb
	})
	_, err := q.Exec(ctx)
	return err
}
