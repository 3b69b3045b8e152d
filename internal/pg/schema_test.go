package pg

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"inventory/internal/assets"
	"inventory/internal/dsl"
	"inventory/internal/store"
)

func loadCatalog(t *testing.T) *dsl.Catalog {
	t.Helper()
	cat, err := dsl.LoadFS(assets.Schema, "schema")
	require.NoError(t, err)
	return cat
}

func TestNames(t *testing.T) {
	tests := map[string]string{
		"Warehouse":           "warehouses",
		"MeasurePresentation": "measure_presentations",
		"ProductType":         "product_types",
		"Category":            "categories",
		"Key":                 "keys",
		"Status":              "status",
	}
	for in, want := range tests {
		assert.Equal(t, want, plural(snake(in)), in)
	}
	assert.Equal(t, `"inventory"."sublines"`, qualified(&dsl.Entity{Module: "Inventory", Name: "Subline"}))
}

func TestGenerateDDL(t *testing.T) {
	ddl, err := GenerateDDL(loadCatalog(t))
	require.NoError(t, err)
	require.Contains(t, ddl, "100_schemas_and_tables")
	require.Contains(t, ddl, "200_foreign_keys")
	require.Contains(t, ddl, "300_access")

	tables := ddl["100_schemas_and_tables"]
	assert.Equal(t, 1, strings.Count(tables, `create schema if not exists "inventory"`))
	assert.Contains(t, tables, `create table if not exists "inventory"."warehouses"`)
	assert.Contains(t, tables, `"factor" numeric(18,6) not null`)
	assert.Contains(t, tables, `"recipe" boolean null`)
	assert.Contains(t, tables,
		`create unique index if not exists "subline_line_name_uq" on "inventory"."sublines" (lower(("line")::text), lower(("name")::text)) where not deleted;`)

	fks := ddl["200_foreign_keys"]
	assert.Contains(t, fks, `alter table "inventory"."sublines" add constraint "subline_line_fk" foreign key ("line") references "inventory"."lines"("id") on delete restrict;`)
	assert.Contains(t, fks, `"measure_presentation_measure_fk"`)
}

func TestWhereSQL(t *testing.T) {
	cat := loadCatalog(t)
	e, ok := cat.Lookup("inventory", "MeasurePresentation")
	require.True(t, ok)

	active := true
	q := store.Query{
		Q:            "50%",
		SearchFields: []string{"code", "name"},
		Active:       &active,
		Conds: []store.Cond{
			{Field: "factor", Type: dsl.TypeDecimal, Op: store.OpGte, Values: []string{"10"}},
			{Field: "code", Type: dsl.TypeString, Op: store.OpIn, Values: []string{"PRE001", "PRE002"}},
			{Field: "name", Type: dsl.TypeString, Op: store.OpNe, Values: []string{"x"}},
		},
	}
	var a args
	got := whereSQL(e, q, &a)

	assert.Equal(t, `not "deleted" and "active" = $1`+
		` and "factor" >= ($2::text)::numeric`+
		` and lower("code"::text) in (lower($3::text), lower($4::text))`+
		` and ("name" is null or lower("name"::text) <> lower($5::text))`+
		` and (coalesce("code"::text, '') ilike $6 or coalesce("name"::text, '') ilike $6)`, got)
	assert.Equal(t, []any{true, "10", "PRE001", "PRE002", "x", `%50\%%`}, a.vals)
}

func TestOrderSQL(t *testing.T) {
	cat := loadCatalog(t)
	e, _ := cat.Lookup("inventory", "MeasurePresentation")

	q := store.Query{Sort: []store.SortKey{{Field: "name", Desc: true}, {Field: "factor"}}, NullsFirst: true}
	assert.Equal(t, `lower("name"::text) desc nulls first, "factor" asc nulls first, "id" asc`, orderSQL(e, q))
}

func TestParamCasts(t *testing.T) {
	var a args
	f := dsl.Field{Name: "factor", Type: dsl.TypeDecimal}
	assert.Equal(t, "($1::text)::numeric", param(&a, f, "1.5"))
	assert.Equal(t, "$2", param(&a, f, nil))
	assert.Equal(t, "$3", param(&a, dsl.Field{Name: "n", Type: dsl.TypeInt}, int64(4)))
	assert.Equal(t, []any{"1.5", nil, int64(4)}, a.vals)
}
