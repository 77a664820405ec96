// Package dbexec runs read-only queries and materializes rows as
// column-name maps with driver-neutral values.
package dbexec

import (
	"context"
	"database/sql"
	"strings"

	mssql "github.com/denisenkom/go-mssqldb"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
)

// Row is one result row keyed by column name. Rows may be shared through the
// response cache and must not be modified.
type Row map[string]any

// QueryExecutor abstracts SQL execution so callers can swap in fakes.
type QueryExecutor interface {
	QueryRows(ctx context.Context, query string, args ...any) ([]Row, error)
}

// StandardExecutor executes queries directly against a database handle.
type StandardExecutor struct {
	db *sqlx.DB
}

// NewStandardExecutor creates an executor for db. driverName selects sqlx
// bind behavior and may be empty.
func NewStandardExecutor(db *sql.DB, driverName string) *StandardExecutor {
	if db == nil {
		return &StandardExecutor{}
	}
	return &StandardExecutor{db: sqlx.NewDb(db, driverName)}
}

// QueryRows runs query and reads every row. The connection is released
// before returning on all paths.
func (e *StandardExecutor) QueryRows(ctx context.Context, query string, args ...any) ([]Row, error) {
	if e.db == nil {
		return nil, sql.ErrConnDone
	}
	rows, err := e.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	types, err := rows.ColumnTypes()
	if err != nil {
		return nil, err
	}
	dbTypes := make(map[string]string, len(types))
	for _, ct := range types {
		dbTypes[ct.Name()] = strings.ToUpper(ct.DatabaseTypeName())
	}

	var out []Row
	for rows.Next() {
		raw := make(map[string]any, len(types))
		if err := rows.MapScan(raw); err != nil {
			return nil, err
		}
		row := make(Row, len(raw))
		for col, v := range raw {
			row[col] = Normalize(dbTypes[col], v)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// Normalize converts driver values into the small set of types the rest of
// the pipeline handles: nil, string, int64, float64, bool, time.Time and
// decimal.Decimal.
func Normalize(dbType string, v any) any {
	switch val := v.(type) {
	case []byte:
		switch dbType {
		case "DECIMAL", "NUMERIC", "MONEY", "SMALLMONEY":
			if d, err := decimal.NewFromString(string(val)); err == nil {
				return d
			}
		case "UNIQUEIDENTIFIER":
			var id mssql.UniqueIdentifier
			if err := id.Scan(val); err == nil {
				return id.String()
			}
		}
		return string(val)
	case string:
		switch dbType {
		case "DECIMAL", "NUMERIC":
			if d, err := decimal.NewFromString(val); err == nil {
				return d
			}
		}
		return val
	case int:
		return int64(val)
	case int8:
		return int64(val)
	case int16:
		return int64(val)
	case int32:
		return int64(val)
	case uint8:
		return int64(val)
	case uint16:
		return int64(val)
	case uint32:
		return int64(val)
	case float32:
		return float64(val)
	default:
		return v
	}
}
