package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"inventory/internal/access"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestLintEmbedded(t *testing.T) {
	out, err := execute(t, "lint", "--dsl", "")
	require.NoError(t, err)
	assert.Contains(t, out, "ok: 6 entities")
}

func TestLintReportsIssues(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.dsl"), []byte(`module inventory

entity Thing:
  name: string required
  owner: ref[Ghost] required on_delete=set_null
`), 0o600))

	out, err := execute(t, "lint", "--dsl", dir)
	require.Error(t, err)
	assert.Contains(t, out, "ref_target_unknown")
	assert.Contains(t, out, "required_conflicts_on_delete")
}

func TestDDL(t *testing.T) {
	out, err := execute(t, "ddl", "--dsl", "")
	require.NoError(t, err)
	assert.True(t, strings.Index(out, "-- 100_schemas_and_tables") < strings.Index(out, "-- 200_foreign_keys"))
	assert.Contains(t, out, `create table if not exists "inventory"."warehouses"`)
	assert.Contains(t, out, `"access"."grants"`)
}

func TestMigrateNeedsURL(t *testing.T) {
	_, err := execute(t, "migrate", "--db", "")
	assert.ErrorContains(t, err, "required")
}

func TestToken(t *testing.T) {
	out, err := execute(t, "token", "--secret", "s3cret", "--subject", "ana", "--role", "supervisor")
	require.NoError(t, err)

	p, err := access.NewAuthenticator("s3cret", "viewer").Verify(strings.TrimSpace(out))
	require.NoError(t, err)
	assert.Equal(t, access.Principal{Subject: "ana", Role: "supervisor"}, p)

	_, err = execute(t, "token", "--secret", "", "--subject", "ana", "--role", "supervisor")
	assert.Error(t, err)
}
