package pg

import (
	"fmt"
	"sort"
	"strings"

	"inventory/internal/dsl"
)

var reserved = map[string]struct{}{
	"user": {}, "select": {}, "table": {}, "insert": {}, "update": {}, "delete": {},
	"where": {}, "join": {}, "group": {}, "order": {}, "limit": {}, "offset": {},
	"primary": {}, "foreign": {}, "key": {}, "constraint": {}, "default": {},
	"from": {}, "into": {}, "values": {}, "unique": {}, "index": {}, "create": {},
	"drop": {}, "alter": {}, "schema": {}, "grant": {}, "revoke": {},
}

func isReserved(s string) bool { _, ok := reserved[strings.ToLower(s)]; return ok }

// snake turns CamelCase entity names into snake_case.
func snake(s string) string {
	var b strings.Builder
	for i, r := range s {
		if r >= 'A' && r <= 'Z' {
			if i > 0 {
				b.WriteByte('_')
			}
			r += 'a' - 'A'
		}
		b.WriteRune(r)
	}
	return b.String()
}

// plural is naive on purpose: lines, measures, warehouses, sublines, ...
func plural(s string) string {
	switch {
	case strings.HasSuffix(s, "s"):
		return s
	case strings.HasSuffix(s, "y") && !strings.HasSuffix(s, "ey"):
		return s[:len(s)-1] + "ies"
	default:
		return s + "s"
	}
}

func schemaName(e *dsl.Entity) string { return strings.ToLower(e.Module) }

func tableName(e *dsl.Entity) string {
	t := plural(snake(e.Name))
	if isReserved(t) {
		t = "e_" + t
	}
	return t
}

func ident(s string) string { return `"` + strings.ToLower(s) + `"` }

// qualified returns "schema"."table".
func qualified(e *dsl.Entity) string { return ident(schemaName(e)) + "." + ident(tableName(e)) }

func columnType(f dsl.Field) (string, error) {
	switch f.Type {
	case dsl.TypeString, dsl.TypeRef:
		return "text", nil
	case dsl.TypeInt:
		return "bigint", nil
	case dsl.TypeDecimal:
		return fmt.Sprintf("numeric(%d,%d)", dsl.DecimalPrecision, dsl.DecimalScale), nil
	case dsl.TypeBool:
		return "boolean", nil
	case dsl.TypeDate:
		return "date", nil
	default:
		return "", fmt.Errorf("unknown type: %s", f.Type)
	}
}

// uniqueIndexName is shared with the error mapper so a 23505 can be turned
// back into the offending field set.
func uniqueIndexName(e *dsl.Entity, set []string) string {
	return strings.ToLower(snake(e.Name) + "_" + strings.Join(set, "_") + "_uq")
}

func uniqueExpr(set []string) string {
	parts := make([]string, len(set))
	for i, name := range set {
		parts[i] = fmt.Sprintf("lower((%s)::text)", ident(name))
	}
	return strings.Join(parts, ", ")
}

// GenerateDDL returns ordered DDL phases: schemas, tables and unique indexes
// first, foreign keys after every table exists, then the grants table.
func GenerateDDL(catalog *dsl.Catalog) (map[string]string, error) {
	out := make(map[string]string, 3)

	var tables strings.Builder
	seenSchemas := map[string]struct{}{}

	type fkStmt struct {
		table, name, col, ref, onDelete string
	}
	var fks []fkStmt

	for _, e := range catalog.Entities() {
		if _, ok := seenSchemas[schemaName(e)]; !ok {
			fmt.Fprintf(&tables, "create schema if not exists %s;\n", ident(schemaName(e)))
			seenSchemas[schemaName(e)] = struct{}{}
		}

		cols := []string{
			`"id" text primary key`,
			`"version" bigint not null`,
			`"active" boolean not null default true`,
			`"deleted" boolean not null default false`,
			`"created_at" timestamp with time zone not null`,
			`"updated_at" timestamp with time zone not null`,
		}
		for _, f := range e.Fields {
			typ, err := columnType(f)
			if err != nil {
				return nil, fmt.Errorf("%s.%s: %w", e.FQN(), f.Name, err)
			}
			null := "null"
			if f.Required() {
				null = "not null"
			}
			cols = append(cols, fmt.Sprintf("%s %s %s", ident(f.Name), typ, null))
		}
		fmt.Fprintf(&tables, "create table if not exists %s (\n  %s\n);\n", qualified(e), strings.Join(cols, ",\n  "))

		// live rows only: a deleted record frees its code
		for _, set := range e.UniqueSets() {
			fmt.Fprintf(&tables, "create unique index if not exists %s on %s (%s) where not deleted;\n",
				ident(uniqueIndexName(e, set)), qualified(e), uniqueExpr(set))
		}

		for _, f := range e.Fields {
			target, ok := catalog.RefTarget(e, f)
			if !ok {
				continue
			}
			onDelete := "restrict"
			if f.OnDelete() == dsl.OnDeleteSetNull {
				onDelete = "set null"
			}
			fks = append(fks, fkStmt{
				table:    qualified(e),
				name:     strings.ToLower(snake(e.Name) + "_" + f.Name + "_fk"),
				col:      ident(f.Name),
				ref:      qualified(target),
				onDelete: onDelete,
			})
		}
	}
	out["100_schemas_and_tables"] = tables.String()

	sort.Slice(fks, func(i, j int) bool { return fks[i].name < fks[j].name })
	var fk strings.Builder
	for _, s := range fks {
		fmt.Fprintf(&fk, "alter table %s add constraint %s foreign key (%s) references %s(\"id\") on delete %s;\n",
			s.table, ident(s.name), s.col, s.ref, s.onDelete)
	}
	if fk.Len() > 0 {
		out["200_foreign_keys"] = fk.String()
	}
	out["300_access"] = GrantsDDL
	return out, nil
}
