package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
)

// duplicate_object, duplicate_table, duplicate_schema
var alreadyExists = map[string]bool{"42710": true, "42P07": true, "42P06": true}

// ApplyDDL runs the phases of ddl in key order, one statement at a time, so a
// constraint that already exists does not hide the ones after it.
func ApplyDDL(ctx context.Context, db *sql.DB, ddl map[string]string, log *zap.Logger) error {
	keys := make([]string, 0, len(ddl))
	for k := range ddl {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		for _, stmt := range strings.Split(ddl[k], ";\n") {
			stmt = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(stmt), ";"))
			if stmt == "" {
				continue
			}
			if _, err := db.ExecContext(ctx, stmt); err != nil {
				var pgErr *pgconn.PgError
				if errors.As(err, &pgErr) && alreadyExists[pgErr.Code] {
					log.Debug("DDL skipped, object exists",
						zap.String("phase", k),
						zap.String("object", pgErr.ConstraintName),
						zap.String("detail", pgErr.Message))
					continue
				}
				return fmt.Errorf("DDL %s failed: %w", k, err)
			}
		}
	}
	return nil
}
