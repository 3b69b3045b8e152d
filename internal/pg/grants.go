package pg

import (
	"context"
	"database/sql"
	"strings"

	"inventory/internal/access"
)

// GrantsDDL creates the permission table. It is applied with the entity DDL.
const GrantsDDL = `create schema if not exists "access";
create table if not exists "access"."grants" (
  "role" text not null,
  "module" text not null,
  "actions" text not null,
  primary key ("role", "module")
);
`

// GrantStore keeps role grants in access.grants; actions are stored as a
// comma separated list.
type GrantStore struct {
	db *sql.DB
}

var _ access.GrantStore = (*GrantStore)(nil)

func NewGrantStore(db *sql.DB) *GrantStore { return &GrantStore{db: db} }

func (g *GrantStore) All(ctx context.Context) (map[string]access.Grants, error) {
	rows, err := g.db.QueryContext(ctx, `select "role", "module", "actions" from "access"."grants" order by "role", "module"`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[string]access.Grants)
	for rows.Next() {
		var role, module, actions string
		if err := rows.Scan(&role, &module, &actions); err != nil {
			return nil, err
		}
		if out[role] == nil {
			out[role] = access.Grants{}
		}
		out[role][module] = splitActions(actions)
	}
	return out, rows.Err()
}

func (g *GrantStore) Role(ctx context.Context, role string) (access.Grants, error) {
	rows, err := g.db.QueryContext(ctx, `select "module", "actions" from "access"."grants" where "role" = $1`, role)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := access.Grants{}
	for rows.Next() {
		var module, actions string
		if err := rows.Scan(&module, &actions); err != nil {
			return nil, err
		}
		out[module] = splitActions(actions)
	}
	return out, rows.Err()
}

func (g *GrantStore) Set(ctx context.Context, role, module string, actions []string) error {
	_, err := g.db.ExecContext(ctx, `insert into "access"."grants" ("role", "module", "actions") values ($1, $2, $3)
on conflict ("role", "module") do update set "actions" = excluded."actions"`, role, module, strings.Join(actions, ","))
	return err
}

func (g *GrantStore) Revoke(ctx context.Context, role, module string) error {
	_, err := g.db.ExecContext(ctx, `delete from "access"."grants" where "role" = $1 and "module" = $2`, role, module)
	return err
}

func splitActions(s string) []string {
	var out []string
	for _, a := range strings.Split(s, ",") {
		if a = strings.TrimSpace(a); a != "" {
			out = append(out, a)
		}
	}
	return out
}
