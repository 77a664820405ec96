package sqltemplate

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddFiltersWithoutWhere(t *testing.T) {
	stmt := Parse("SELECT id, name FROM students ORDER BY name")
	require.NoError(t, stmt.AddFilters([]string{"group_id = %s", "year > %s"}))

	assert.Equal(t, "SELECT id, name FROM students WHERE group_id = %s AND year > %s ORDER BY name", stmt.String())
	assert.Equal(t, 1, strings.Count(strings.ToUpper(stmt.String()), "WHERE"))
	assert.Equal(t, 2, stmt.ArgCount())
}

func TestAddFiltersAppendsToExistingWhere(t *testing.T) {
	stmt := Parse("SELECT id FROM students WHERE active = 1")
	require.NoError(t, stmt.AddFilters([]string{"f1 = %s", "f2 = %s"}))
	assert.Equal(t, "SELECT id FROM students WHERE active = 1 AND f1 = %s AND f2 = %s", stmt.String())
}

func TestAddFiltersEmptyIsNoop(t *testing.T) {
	const text = "SELECT id FROM students WHERE active = 1"
	stmt := Parse(text)
	require.NoError(t, stmt.AddFilters(nil))
	require.NoError(t, stmt.AddFilters([]string{}))
	assert.Equal(t, text, stmt.String())
}

func TestAddFiltersIgnoresNestedWhere(t *testing.T) {
	stmt := Parse("SELECT * FROM (SELECT a FROM t WHERE x = 1) s")
	require.NoError(t, stmt.AddFilters([]string{"s.a = %s"}))
	assert.Equal(t, "SELECT * FROM (SELECT a FROM t WHERE x = 1) s WHERE s.a = %s", stmt.String())
}

func TestAddFiltersParenthesisesOrConditions(t *testing.T) {
	stmt := Parse("SELECT id FROM t WHERE a = 1")
	require.NoError(t, stmt.AddFilters([]string{"b = %s OR c = %s"}))
	assert.Equal(t, "SELECT id FROM t WHERE a = 1 AND (b = %s OR c = %s)", stmt.String())
}

func TestAddFiltersKeepsTrailingComment(t *testing.T) {
	stmt := Parse("SELECT id FROM t -- all rows\n;")
	require.NoError(t, stmt.AddFilters([]string{"id = %s"}))
	assert.Equal(t, "SELECT id FROM t WHERE id = %s", stmt.String())

	stmt = Parse("SELECT id FROM t WHERE a = 1 -- active\nORDER BY id")
	require.NoError(t, stmt.AddFilters([]string{"id = %s"}))
	assert.Equal(t, "SELECT id FROM t WHERE a = 1 AND id = %s -- active\nORDER BY id", stmt.String())
}

func TestAddFiltersUnsupported(t *testing.T) {
	tests := []struct {
		name string
		sql  string
	}{
		{name: "cte", sql: "WITH x AS (SELECT 1 AS a) SELECT a FROM x"},
		{name: "union", sql: "SELECT a FROM t UNION SELECT a FROM u"},
		{name: "update", sql: "UPDATE t SET a = 1"},
		{name: "multiple statements", sql: "SELECT 1; SELECT 2"},
		{name: "unterminated string", sql: "SELECT 'abc FROM t"},
		{name: "unbalanced", sql: "SELECT (a FROM t"},
		{name: "empty", sql: "  ;"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stmt := Parse(tt.sql)
			assert.False(t, stmt.FiltersSupported())
			err := stmt.AddFilters([]string{"a = %s"})
			assert.True(t, errors.Is(err, ErrFiltersUnsupported), "got %v", err)
			assert.NotEmpty(t, stmt.UnsupportedReason())
		})
	}
}

func TestAddFiltersRejectsInvalidFragment(t *testing.T) {
	stmt := Parse("SELECT id FROM t")
	err := stmt.AddFilters([]string{"a = 1; DROP TABLE t"})
	assert.ErrorIs(t, err, ErrInvalidFragment)
	assert.Equal(t, "SELECT id FROM t", stmt.String())
}

func TestValidateFragment(t *testing.T) {
	assert.NoError(t, ValidateFragment("name LIKE '%' + %s + '%'"))
	assert.NoError(t, ValidateFragment("(a = %s OR b = %s)"))
	assert.Error(t, ValidateFragment(""))
	assert.Error(t, ValidateFragment("a = 'x"))
	assert.Error(t, ValidateFragment("(a = 1"))
	assert.Error(t, ValidateFragment("a = 1)"))
	assert.Error(t, ValidateFragment("a = 1 -- rest"))
}

func TestCountPlaceholders(t *testing.T) {
	assert.Equal(t, 1, CountPlaceholders("a = '%s' AND b = %s -- %s"))
	assert.Equal(t, 2, CountPlaceholders("x BETWEEN %s AND %s /* %s */"))
	assert.Equal(t, 0, CountPlaceholders("name LIKE '%abc%'"))
}

func TestParseNumbersStaticPlaceholders(t *testing.T) {
	stmt := Parse("SELECT * FROM t WHERE a = %s AND b = %s;")
	assert.Equal(t, 2, stmt.StaticPlaceholders())
	assert.Equal(t, "SELECT * FROM t WHERE a = %s AND b = %s", stmt.String())
}

func TestPaginateOffsets(t *testing.T) {
	stmt := Parse("SELECT id FROM t")
	paged, err := stmt.Paginate(SQLServer, "id", 10, 3)
	require.NoError(t, err)
	assert.Equal(t, "SELECT * FROM (SELECT id FROM t) q ORDER BY id OFFSET 30 ROWS FETCH NEXT 10 ROWS ONLY", paged.String())
	assert.Equal(t, "SELECT id FROM t", stmt.String(), "paginate must not modify the receiver")

	_, err = stmt.Paginate(SQLServer, "id", 0, 0)
	assert.Error(t, err)
	_, err = stmt.Paginate(SQLServer, "id", 10, -1)
	assert.Error(t, err)
}

func TestRenderDialects(t *testing.T) {
	stmt := Parse("SELECT id FROM t WHERE a = %s AND b = %s")
	tests := []struct {
		dialect Dialect
		want    string
	}{
		{dialect: SQLServer, want: "SELECT id FROM t WHERE a = @p1 AND b = @p2"},
		{dialect: Postgres, want: "SELECT id FROM t WHERE a = $1 AND b = $2"},
		{dialect: MySQL, want: "SELECT id FROM t WHERE a = ? AND b = ?"},
		{dialect: SQLite, want: "SELECT id FROM t WHERE a = ? AND b = ?"},
	}
	for _, tt := range tests {
		t.Run(tt.dialect.Name, func(t *testing.T) {
			sql, order, err := stmt.Render(tt.dialect)
			require.NoError(t, err)
			assert.Equal(t, tt.want, sql)
			assert.Equal(t, []int{0, 1}, order)
		})
	}
}

func TestDialectFor(t *testing.T) {
	d, err := DialectFor("pgx")
	require.NoError(t, err)
	assert.Equal(t, Postgres, d)

	d, err = DialectFor("SQLServer")
	require.NoError(t, err)
	assert.Equal(t, SQLServer, d)

	_, err = DialectFor("oracle")
	assert.Error(t, err)
}

func TestBindArgs(t *testing.T) {
	args, err := BindArgs([]int{0, 2, 1}, []any{"a", "b", "c"})
	require.NoError(t, err)
	assert.Equal(t, []any{"a", "c", "b"}, args)

	_, err = BindArgs([]int{3}, []any{"a"})
	assert.Error(t, err)
}

func TestGoldenRewrites(t *testing.T) {
	tests := []struct {
		name    string
		sql     string
		filters []string
		dialect Dialect
		key     string
		size    int
		page    int
	}{
		{
			name:    "filters_or_where_paginated_sqlserver",
			sql:     "SELECT s.id, s.name\nFROM students s\nWHERE s.faculty_id = %s OR s.name LIKE '%abc?%'\nORDER BY s.name;\n",
			filters: []string{"s.year = %s"},
			dialect: SQLServer,
			key:     "id",
			size:    10,
			page:    3,
		},
		{
			name:    "limit_offset_mysql",
			sql:     "select id from t",
			dialect: MySQL,
			key:     "id",
			size:    20,
			page:    0,
		},
		{
			name:    "static_and_filter_args_postgres",
			sql:     "SELECT id, title -- %s not a placeholder\nFROM courses\nWHERE term = %s\nGROUP BY id, title\nHAVING count(*) > %s",
			filters: []string{"(starts_at >= %s AND starts_at < %s)"},
			dialect: Postgres,
		},
	}

	g := goldie.New(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stmt := Parse(tt.sql)
			require.NoError(t, stmt.AddFilters(tt.filters))
			if tt.key != "" {
				var err error
				stmt, err = stmt.Paginate(tt.dialect, tt.key, tt.size, tt.page)
				require.NoError(t, err)
			}
			sql, order, err := stmt.Render(tt.dialect)
			require.NoError(t, err)
			g.Assert(t, tt.name, []byte(fmt.Sprintf("-- sql --\n%s\n-- args --\n%v\n", sql, order)))
		})
	}
}

func FuzzLexRoundTrip(f *testing.F) {
	f.Add("SELECT a FROM t WHERE b = %s")
	f.Add("SELECT 'it''s' AS x, [col]] name], \"q\" FROM t /* c */ -- d")
	f.Add("SELECT N'unterminated")
	f.Fuzz(func(t *testing.T, text string) {
		if join(Lex(text)) != text {
			t.Fatalf("lex round trip changed %q", text)
		}
		stmt := Parse(text)
		_ = stmt.AddFilters([]string{"x = %s"})
		if _, _, err := stmt.Render(SQLServer); err != nil {
			t.Fatalf("render failed: %v", err)
		}
	})
}
