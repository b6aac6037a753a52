package sqlite

import (
	"context"
	"crypto/rand"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/myrjola/groupworkout/internal/errors"
)

// migrateTo makes the live schema match schemaDefinition.
//
// The migration is declarative. The target schema is created in an attached in-memory database and compared with
// the live one, after which the migration:
//
//  1. drops tables missing from the target,
//  2. creates new tables,
//  3. rebuilds changed tables with the 12-step procedure of https://www.sqlite.org/lang_altertable.html#otheralter,
//  4. synchronises triggers and indexes.
//
// Inspired by https://david.rothlis.net/declarative-schema-migration-for-sqlite/
func (db *Database) migrateTo(ctx context.Context, schemaDefinition string) (err error) {
	start := time.Now()

	detach, err := db.attachSchemaTarget(ctx, schemaDefinition)
	if err != nil {
		return err
	}
	defer detach()

	// Foreign keys cannot be toggled inside a transaction.
	if _, err = db.ReadWrite.ExecContext(ctx, "PRAGMA foreign_keys = OFF"); err != nil {
		return errors.Wrap(err, "disable foreign keys")
	}
	defer func() {
		if _, fkErr := db.ReadWrite.ExecContext(ctx, "PRAGMA foreign_keys = ON"); fkErr != nil {
			err = errors.Join(err, errors.Wrap(fkErr, "re-enable foreign keys"))
		}
	}()

	tx, err := db.ReadWrite.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin migration")
	}
	defer db.rollback(ctx, tx)

	if err = db.migrateTables(ctx, tx); err != nil {
		return errors.Wrap(err, "migrate tables")
	}
	for _, typ := range []schemaType{schemaTypeTrigger, schemaTypeIndex} {
		if err = db.migrateObjects(ctx, tx, typ); err != nil {
			return errors.Wrap(err, "migrate schema objects", slog.String("type", string(typ)))
		}
	}

	violations, err := queryColumn[string](ctx, tx, "SELECT DISTINCT \"table\" FROM pragma_foreign_key_check")
	if err != nil {
		return errors.Wrap(err, "foreign key check")
	}
	if len(violations) > 0 {
		return errors.New("foreign key violations", slog.String("tables", strings.Join(violations, ",")))
	}

	if err = tx.Commit(); err != nil {
		return errors.Wrap(err, "commit migration")
	}
	db.logger.LogAttrs(ctx, slog.LevelDebug, "migrated database", slog.Duration("duration", time.Since(start)))
	return nil
}

// attachSchemaTarget attaches an in-memory database initialised with schemaDefinition as schemaTarget. The
// returned function detaches it.
func (db *Database) attachSchemaTarget(ctx context.Context, schemaDefinition string) (func(), error) {
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", rand.Text())
	target, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "open schema target")
	}
	// The attached database keeps the shared cache alive after target is closed.
	defer func() {
		if closeErr := target.Close(); closeErr != nil {
			db.logger.LogAttrs(ctx, slog.LevelError, "failed to close schema target",
				errors.SlogError(errors.Wrap(closeErr, "close schema target")))
		}
	}()
	if _, err = target.ExecContext(ctx, schemaDefinition); err != nil {
		return nil, errors.Wrap(err, "create schema target")
	}
	if _, err = db.ReadWrite.ExecContext(ctx, "ATTACH DATABASE ? AS schemaTarget", dsn); err != nil {
		return nil, errors.Wrap(err, "attach schema target")
	}
	return func() {
		if _, detachErr := db.ReadWrite.ExecContext(ctx, "DETACH DATABASE schemaTarget"); detachErr != nil {
			db.logger.LogAttrs(ctx, slog.LevelError, "failed to detach schema target",
				errors.SlogError(errors.Wrap(detachErr, "detach schema target")))
		}
	}, nil
}

func (db *Database) rollback(ctx context.Context, tx *sql.Tx) {
	if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		db.logger.LogAttrs(ctx, slog.LevelError, "failed to roll back migration",
			errors.SlogError(errors.Wrap(err, "rollback")))
	}
}

// Tables managed outside the schema definition.
const skipInternalTables = `AND %[1]s.name NOT LIKE 'sqlite_%%' AND %[1]s.name NOT LIKE '_litestream_%%'`

func (db *Database) migrateTables(ctx context.Context, tx *sql.Tx) error {
	deleted, err := queryColumn[string](ctx, tx, `SELECT live.name
FROM sqlite_schema AS live
         LEFT JOIN schemaTarget.sqlite_schema AS target ON live.name = target.name AND live.type = target.type
WHERE live.type = 'table' AND target.type IS NULL `+fmt.Sprintf(skipInternalTables, "live"))
	if err != nil {
		return errors.Wrap(err, "query deleted tables")
	}
	for _, table := range deleted {
		db.logger.LogAttrs(ctx, slog.LevelInfo, "dropping table", slog.String("table", table))
		if _, err = tx.ExecContext(ctx, fmt.Sprintf("DROP TABLE %q", table)); err != nil {
			return errors.Wrap(err, "drop table", slog.String("table", table))
		}
	}

	created, err := queryColumn[string](ctx, tx, `SELECT target.sql
FROM schemaTarget.sqlite_schema AS target
         LEFT JOIN sqlite_schema AS live ON live.name = target.name AND live.type = target.type
WHERE target.type = 'table' AND live.type IS NULL `+fmt.Sprintf(skipInternalTables, "target"))
	if err != nil {
		return errors.Wrap(err, "query new tables")
	}
	for _, createSQL := range created {
		db.logger.LogAttrs(ctx, slog.LevelInfo, "creating table", slog.String("query", createSQL))
		if _, err = tx.ExecContext(ctx, createSQL); err != nil {
			return errors.Wrap(err, "create table", slog.String("query", createSQL))
		}
	}

	// Renaming a table quotes its name in sqlite_schema, so quotes are ignored in the comparison.
	changed, err := queryChanged(ctx, tx, `SELECT live.name, live.sql, target.sql
FROM sqlite_schema AS live
         JOIN schemaTarget.sqlite_schema AS target ON live.name = target.name AND live.type = target.type
WHERE live.type = 'table'
  AND REPLACE(live.sql, '"', '') <> REPLACE(target.sql, '"', '') `+fmt.Sprintf(skipInternalTables, "live"))
	if err != nil {
		return errors.Wrap(err, "query changed tables")
	}
	for _, table := range changed {
		if err = db.rebuildTable(ctx, tx, table); err != nil {
			return errors.Wrap(err, "rebuild table", slog.String("table", table.name))
		}
	}
	return nil
}

// rebuildTable creates the new table under a temporary name, copies the common columns, and swaps it in.
func (db *Database) rebuildTable(ctx context.Context, tx *sql.Tx, table changedSchema) error {
	db.logger.LogAttrs(ctx, slog.LevelInfo, "rebuilding table",
		slog.String("table", table.name),
		slog.String("live_sql", table.liveSQL),
		slog.String("new_sql", table.newSQL))

	tempName := table.name + "_migration_temp"
	if _, err := tx.ExecContext(ctx, strings.Replace(table.newSQL, table.name, tempName, 1)); err != nil {
		return errors.Wrap(err, "create temporary table")
	}

	// Quoted so that columns named after keywords work.
	columns, err := queryColumn[string](ctx, tx, `SELECT '"' || target.name || '"'
FROM pragma_table_info(:table) AS live
         JOIN pragma_table_info(:table, 'schemaTarget') AS target ON target.name = live.name`,
		sql.Named("table", table.name))
	if err != nil {
		return errors.Wrap(err, "query common columns")
	}
	common := strings.Join(columns, ", ")

	statements := []string{
		fmt.Sprintf("INSERT INTO %s (%s) SELECT %s FROM %s", tempName, common, common, table.name),
		fmt.Sprintf("DROP TABLE %s", table.name),
		fmt.Sprintf("ALTER TABLE %s RENAME TO %s", tempName, table.name),
	}
	for _, stmt := range statements {
		if _, err = tx.ExecContext(ctx, stmt); err != nil {
			return errors.Wrap(err, "exec", slog.String("query", stmt))
		}
	}
	return nil
}

type schemaType string

const (
	schemaTypeTrigger schemaType = "trigger"
	schemaTypeIndex   schemaType = "index"
)

// migrateObjects synchronises the triggers or indexes with the target schema. Changed objects are dropped and
// recreated.
func (db *Database) migrateObjects(ctx context.Context, tx *sql.Tx, typ schemaType) error {
	logger := db.logger.With(slog.String("schema_type", string(typ)))

	// Automatic indexes have no SQL and are skipped with the sqlite_ prefix.
	deleted, err := queryColumn[string](ctx, tx, `SELECT live.name
FROM sqlite_schema AS live
         LEFT JOIN schemaTarget.sqlite_schema AS target ON live.name = target.name AND live.type = target.type
WHERE live.type = ? AND target.type IS NULL AND live.name NOT LIKE 'sqlite_%'`, typ)
	if err != nil {
		return errors.Wrap(err, "query deleted")
	}
	for _, name := range deleted {
		logger.LogAttrs(ctx, slog.LevelInfo, "dropping", slog.String("name", name))
		if _, err = tx.ExecContext(ctx, fmt.Sprintf("DROP %s %q", strings.ToUpper(string(typ)), name)); err != nil {
			return errors.Wrap(err, "drop", slog.String("name", name))
		}
	}

	created, err := queryColumn[string](ctx, tx, `SELECT target.sql
FROM schemaTarget.sqlite_schema AS target
         LEFT JOIN sqlite_schema AS live ON live.name = target.name AND live.type = target.type
WHERE target.type = ? AND live.type IS NULL AND target.name NOT LIKE 'sqlite_%'`, typ)
	if err != nil {
		return errors.Wrap(err, "query created")
	}
	for _, createSQL := range created {
		logger.LogAttrs(ctx, slog.LevelInfo, "creating", slog.String("query", createSQL))
		if _, err = tx.ExecContext(ctx, createSQL); err != nil {
			return errors.Wrap(err, "create", slog.String("query", createSQL))
		}
	}

	changed, err := queryChanged(ctx, tx, `SELECT live.name, live.sql, target.sql
FROM sqlite_schema AS live
         JOIN schemaTarget.sqlite_schema AS target ON live.name = target.name AND live.type = target.type
WHERE live.type = ? AND live.name NOT LIKE 'sqlite_%' AND live.sql <> target.sql`, typ)
	if err != nil {
		return errors.Wrap(err, "query changed")
	}
	for _, c := range changed {
		logger.LogAttrs(ctx, slog.LevelInfo, "recreating",
			slog.String("name", c.name), slog.String("live_sql", c.liveSQL), slog.String("new_sql", c.newSQL))
		dropSQL := fmt.Sprintf("DROP %s %q", strings.ToUpper(string(typ)), c.name)
		if _, err = tx.ExecContext(ctx, dropSQL); err != nil {
			return errors.Wrap(err, "drop changed", slog.String("name", c.name))
		}
		if _, err = tx.ExecContext(ctx, c.newSQL); err != nil {
			return errors.Wrap(err, "create changed", slog.String("name", c.name))
		}
	}
	return nil
}

type changedSchema struct {
	name    string
	liveSQL string
	newSQL  string
}

func queryChanged(ctx context.Context, tx *sql.Tx, query string, args ...any) ([]changedSchema, error) {
	return queryRows(ctx, tx, func(rows *sql.Rows) (changedSchema, error) {
		var c changedSchema
		err := rows.Scan(&c.name, &c.liveSQL, &c.newSQL)
		return c, err //nolint:wrapcheck // wrapped by queryRows.
	}, query, args...)
}

// queryColumn returns the single column of every row of query.
func queryColumn[T any](ctx context.Context, tx *sql.Tx, query string, args ...any) ([]T, error) {
	return queryRows(ctx, tx, func(rows *sql.Rows) (T, error) {
		var v T
		err := rows.Scan(&v)
		return v, err //nolint:wrapcheck // wrapped by queryRows.
	}, query, args...)
}

func queryRows[T any](
	ctx context.Context,
	tx *sql.Tx,
	scan func(*sql.Rows) (T, error),
	query string,
	args ...any,
) (_ []T, err error) {
	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "query")
	}
	defer func() {
		err = errors.Join(err, rows.Close())
	}()
	var out []T
	for rows.Next() {
		v, scanErr := scan(rows)
		if scanErr != nil {
			return nil, errors.Wrap(scanErr, "scan")
		}
		out = append(out, v)
	}
	if err = rows.Err(); err != nil {
		return nil, errors.Wrap(err, "rows")
	}
	return out, nil
}
