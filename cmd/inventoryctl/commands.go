package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"inventory/internal/access"
	"inventory/internal/assets"
	"inventory/internal/dsl"
	"inventory/internal/logging"
	"inventory/internal/pg"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "inventoryctl",
		Short: "Operator tool for the inventory back-office service",
		Long: `inventoryctl checks and applies the entity schema and mints tokens.

Flags fall back to the service's environment variables:
- INVENTORY_DSL_DIR
- INVENTORY_DB_URL
- INVENTORY_JWT_SECRET`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().String("dsl", os.Getenv("INVENTORY_DSL_DIR"), "DSL directory (empty = embedded schema)")

	root.AddCommand(newLintCmd(), newDDLCmd(), newMigrateCmd(), newTokenCmd())
	return root
}

func loadCatalog(cmd *cobra.Command) (*dsl.Catalog, error) {
	dir, err := cmd.Flags().GetString("dsl")
	if err != nil {
		return nil, err
	}
	fsys, root := assets.SchemaSource(dir)
	return dsl.LoadFS(fsys, root)
}

func newLintCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "lint",
		Short: "Parse the DSL and report blocking issues",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cat, err := loadCatalog(cmd)
			if err != nil {
				return err
			}
			issues := cat.Lint()
			for _, it := range issues {
				fmt.Fprintln(cmd.OutOrStdout(), it.String())
			}
			if len(issues) > 0 {
				return fmt.Errorf("%d blocking issues", len(issues))
			}
			fmt.Fprintf(cmd.OutOrStdout(), "ok: %d entities\n", cat.Len())
			return nil
		},
	}
}

func generate(cmd *cobra.Command) (map[string]string, error) {
	cat, err := loadCatalog(cmd)
	if err != nil {
		return nil, err
	}
	if issues := cat.Lint(); len(issues) > 0 {
		return nil, fmt.Errorf("schema has %d blocking issues, run lint", len(issues))
	}
	return pg.GenerateDDL(cat)
}

func newDDLCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ddl",
		Short: "Print the PostgreSQL DDL generated from the DSL",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ddl, err := generate(cmd)
			if err != nil {
				return err
			}
			phases := make([]string, 0, len(ddl))
			for k := range ddl {
				phases = append(phases, k)
			}
			sort.Strings(phases)
			for _, k := range phases {
				fmt.Fprintf(cmd.OutOrStdout(), "-- %s\n%s\n", k, strings.TrimSpace(ddl[k]))
			}
			return nil
		},
	}
}

func newMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply the generated DDL to a database (idempotent)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			url, err := cmd.Flags().GetString("db")
			if err != nil {
				return err
			}
			if url == "" {
				return fmt.Errorf("--db or INVENTORY_DB_URL is required")
			}
			ddl, err := generate(cmd)
			if err != nil {
				return err
			}
			logger, err := logging.New("info", "console")
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			ctx, cancel := context.WithTimeout(cmd.Context(), 2*time.Minute)
			defer cancel()
			db, err := pg.Open(ctx, url)
			if err != nil {
				return fmt.Errorf("connect postgres: %w", err)
			}
			defer db.Close()
			if err := pg.ApplyDDL(ctx, db, ddl, logger); err != nil {
				return err
			}
			logger.Info("schema migrated", zap.Int("phases", len(ddl)))
			return nil
		},
	}
	cmd.Flags().String("db", os.Getenv("INVENTORY_DB_URL"), "Postgres URL")
	return cmd
}

func newTokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint an HS256 token for a subject and role",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			secret, _ := cmd.Flags().GetString("secret")
			subject, _ := cmd.Flags().GetString("subject")
			role, _ := cmd.Flags().GetString("role")
			ttl, _ := cmd.Flags().GetDuration("ttl")
			if strings.TrimSpace(role) == "" || strings.TrimSpace(subject) == "" {
				return fmt.Errorf("--subject and --role are required")
			}
			tok, err := access.NewAuthenticator(secret, "").Mint(subject, role, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().String("secret", os.Getenv("INVENTORY_JWT_SECRET"), "HS256 secret")
	cmd.Flags().String("subject", "", "Token subject (user name)")
	cmd.Flags().String("role", "", "Role carried by the token")
	cmd.Flags().Duration("ttl", 12*time.Hour, "Token lifetime")
	return cmd
}
